package services

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// Notifier fans plan lifecycle events out to the user's registered devices.
// All deliveries are best-effort: failures are logged and never propagate to
// the flow that triggered them.
type Notifier struct {
	db  *sqlx.DB
	fcm *FCMService
}

// NewNotifier wires a notifier. fcm may be nil, which turns every push into
// a no-op.
func NewNotifier(db *sqlx.DB, fcm *FCMService) *Notifier {
	return &Notifier{db: db, fcm: fcm}
}

// PlanAssigned pushes a "new plan ready" notification.
func (n *Notifier) PlanAssigned(userID, planID string, totalVisits int) {
	for _, token := range n.tokens(userID) {
		if err := n.fcm.SendPlanAssignedNotification(token, planID, totalVisits); err != nil {
			log.Printf("⚠️ Failed to push plan-assigned notification: %v", err)
		}
	}
}

// PlanCompleted pushes a completion notification.
func (n *Notifier) PlanCompleted(userID, planID string, totalVisits int) {
	for _, token := range n.tokens(userID) {
		if err := n.fcm.SendPlanCompletedNotification(token, planID, totalVisits); err != nil {
			log.Printf("⚠️ Failed to push plan-completed notification: %v", err)
		}
	}
}

func (n *Notifier) tokens(userID string) []string {
	if n.fcm == nil || n.db == nil {
		return nil
	}
	var tokens []string
	if err := n.db.Select(&tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1`, userID); err != nil {
		log.Printf("⚠️ Failed to load FCM tokens for %s: %v", userID, err)
		return nil
	}
	return tokens
}
