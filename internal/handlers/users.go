package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"kunjungan-backend/internal/middleware"
	"kunjungan-backend/internal/models"
	"kunjungan-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "field" or "admin"
}

// CreateUser creates a new user account. Admin only.
func CreateUser(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			utils.Error(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}
		if req.Role != "field" && req.Role != "admin" {
			utils.Error(w, http.StatusBadRequest, "Role must be 'field' or 'admin'")
			return
		}

		var existingID string
		if err := db.Get(&existingID, "SELECT id FROM users WHERE email = $1", req.Email); err == nil {
			utils.Error(w, http.StatusConflict, "User with this email already exists")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hashedPassword),
			Name:      req.Name,
			Role:      req.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}

		insertQuery := `
			INSERT INTO users (id, email, password, name, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := db.Exec(insertQuery, user.ID, user.Email, user.Password, user.Name, user.Role, user.CreatedAt, user.UpdatedAt); err != nil {
			log.Printf("❌ Failed to create user: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)
		resp := user.ToUserResponse()
		utils.JSON(w, http.StatusCreated, map[string]interface{}{
			"ok":   true,
			"user": resp,
		})
	}
}

type RegisterFCMTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"` // "ios" or "android"
}

// RegisterFCMToken stores or refreshes a device push token for the
// authenticated user.
func RegisterFCMToken(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterFCMTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			utils.Error(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType == "" {
			req.DeviceType = "android"
		}

		now := time.Now().Unix()
		query := `
			INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (token) DO UPDATE SET user_id = $1, device_type = $3, updated_at = $4
		`
		if _, err := db.Exec(query, claims.UserID, req.Token, req.DeviceType, now); err != nil {
			log.Printf("❌ Failed to register FCM token: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to register token")
			return
		}

		utils.Success(w, map[string]interface{}{"registered": true})
	}
}
