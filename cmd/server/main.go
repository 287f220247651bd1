package main

import (
	"log"
	"net/http"
	"os"

	"kunjungan-backend/internal/config"
	"kunjungan-backend/internal/database"
	"kunjungan-backend/internal/handlers"
	"kunjungan-backend/internal/middleware"
	"kunjungan-backend/internal/services"
	"kunjungan-backend/internal/services/routing"
	"kunjungan-backend/internal/session"
	"kunjungan-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 KUNJUNGAN BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: %v", err)
	}
	log.Printf("✅ Configuration loaded (max %d locations per plan, %.0fm geofence)", cfg.Optimizer.MaxLocations, cfg.Execution.GeofenceRadiusMeters)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("❌ FATAL ERROR: DATABASE_URL environment variable is required")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("   This is usually caused by:")
		log.Println("   1. Wrong DATABASE_URL format")
		log.Println("   2. PostgreSQL service is down")
		log.Println("   3. Network connectivity issue")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: Database migrations failed: %v", err)
	}
	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: User seeding failed: %v", err)
	}

	// Firebase Cloud Messaging. Supports both a file path and base64-encoded
	// credentials (for cloud deployments). Missing credentials disable push
	// notifications but never block startup.
	var fcmService *services.FCMService
	if fcmCredsBase64 := os.Getenv("FIREBASE_CREDENTIALS_BASE64"); fcmCredsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(fcmCredsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcmCredentialsFile := os.Getenv("FIREBASE_CREDENTIALS_FILE")
		if fcmCredentialsFile == "" {
			fcmCredentialsFile = "./firebase-service-account.json"
		}
		fcmService, err = services.NewFCMService(fcmCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}
	notifier := services.NewNotifier(db, fcmService)

	// Routing stack: OSRM client behind the one-way filter, brute-force
	// optimizer on top.
	oneWayFilter := routing.NewOneWayFilter(cfg.OneWay.Keywords)
	osrmClient := routing.NewClient(routing.ClientConfig{
		BaseURL:           cfg.Routing.OSRMBaseURL,
		RequestTimeout:    cfg.Routing.RequestTimeout,
		RetryAttempts:     cfg.Routing.RetryAttempts,
		RetryBaseDelay:    cfg.Routing.RetryBaseDelay,
		ReferenceSpeedMPS: cfg.Routing.ReferenceSpeedMPS,
	}, oneWayFilter)
	optimizer := routing.NewOptimizer(osrmClient, oneWayFilter, cfg.Optimizer.MaxLocations, cfg.Optimizer.PrefetchWorkers)
	geocoder := services.NewGeocodingService(cfg.Routing.NominatimBaseURL, cfg.Routing.RequestTimeout)

	// Visit-execution sessions and the state machine driving them.
	sessionStore := session.NewStore(cfg.Execution.SessionTTL, cfg.Execution.SweepInterval)
	defer sessionStore.Stop()

	planRepo := database.NewPlanRepo(db)
	executionRepo := database.NewExecutionRepo(db)
	machine := session.NewMachine(sessionStore, planRepo, executionRepo, osrmClient, optimizer, notifier, cfg.Execution.GeofenceRadiusMeters)

	wsHub := websocket.NewHub()
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Post("/api/auth/login", handlers.Login(db))

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", websocket.HandleWebSocket(wsHub, machine))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			r.Get("/auth/status", handlers.AuthStatus())

			r.Post("/plans", handlers.CreatePlan(planRepo, optimizer, geocoder, notifier))
			r.Get("/plans/today", handlers.TodayPlans(planRepo))
			r.Get("/plans/{planID}", handlers.PlanDetail(planRepo, executionRepo))

			r.Post("/executions/begin", handlers.BeginExecution(machine, wsHub))
			r.Post("/executions/select-plan", handlers.SelectExecutionPlan(machine, wsHub))
			r.Post("/executions/select-start", handlers.SelectExecutionStart(machine, wsHub))
			r.Post("/executions/location", handlers.SubmitExecutionLocation(machine, wsHub))
			r.Post("/executions/evidence", handlers.SubmitExecutionEvidence(machine, wsHub))
			r.Get("/executions/current", handlers.CurrentExecution(machine))

			r.Post("/geocoding/reverse", handlers.ReverseGeocode(geocoder))

			r.Post("/driver/fcm-token", handlers.RegisterFCMToken(db))
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole("admin"))

			r.Post("/users", handlers.CreateUser(db))
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Printf("✅ SERVER READY - Listening on port %s", port)
	log.Println("═══════════════════════════════════════════════════════════════════")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}
