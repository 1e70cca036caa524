package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/unitlease/backend/docs"
	"github.com/unitlease/backend/internal/config"
	"github.com/unitlease/backend/internal/database"
	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/journal"
	mW "github.com/unitlease/backend/internal/middleware"
	"github.com/unitlease/backend/internal/services"
)

// @title Unit Lease Backend API
// @version 1.0
// @description API for escrow-custodied unit rental: listings, sessions, and the unit ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Unit Lease Backend API"
	docs.SwaggerInfo.Description = "API for escrow-custodied unit rental"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize backing stores
	db := database.MustConnect()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migrations failed: %v", err)
	}

	redisClient := database.ConnectRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize the rental engine
	engineCfg := config.LoadEngineConfig()
	policy := engine.PolicyFullTerm
	if engineCfg.ProrationEnabled {
		policy = engine.PolicyProrated
	}

	journalStore := journal.NewStore(db)

	eng, err := engine.New(engine.Config{
		Admin:             engineCfg.AdminAccount,
		Treasury:          engineCfg.TreasuryAccount,
		EscrowAccount:     engineCfg.EscrowAccount,
		FeeBasisPoints:    engineCfg.FeeBasisPoints,
		MinRentalDuration: engineCfg.MinRentalDuration,
		MaxRentalDuration: engineCfg.MaxRentalDuration,
		Policy:            policy,
	}, nil, engine.WithEventSink(journalStore))
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	authService := services.NewAuthService(db, redisClient)
	listingService := services.NewListingService(eng)
	sessionService := services.NewSessionService(eng, redisClient, engineCfg.IdempotencyTTL)
	ledgerService := services.NewLedgerService(eng)
	adminService := services.NewAdminService(eng)
	qrService := services.NewQRService(eng, redisClient, engineCfg.QRCodeTTL)
	eventsService := services.NewEventsService(journalStore)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/listings", listingService.ListListings)
		r.Get("/listings/{listingId}", listingService.GetListing)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Listing lifecycle
			r.Post("/listings", listingService.CreateListing)
			r.Put("/listings/{listingId}", listingService.UpdateListing)
			r.Delete("/listings/{listingId}", listingService.CancelListing)
			r.Get("/listings/mine", listingService.MyListings)
			r.Get("/listings/{listingId}/qr", qrService.ShareListing)
			r.Post("/listings/qr/resolve", qrService.ResolveShareCode)
			r.Get("/listings/{listingId}/events", eventsService.ListingEvents)

			// Session lifecycle
			r.Post("/sessions", sessionService.StartSession)
			r.Get("/sessions", sessionService.MySessions)
			r.Get("/sessions/{sessionId}", sessionService.GetSession)
			r.Put("/sessions/{sessionId}/end", sessionService.EndSession)

			// Unit ledger and funds
			r.Get("/ledger/balance-enquiry", ledgerService.BalanceEnquiry)
			r.Post("/ledger/transfer", ledgerService.Transfer)
			r.Post("/ledger/transfer-batch", ledgerService.TransferBatch)
			r.Post("/ledger/approve", ledgerService.Approve)
			r.Post("/funds/deposit", ledgerService.DepositFunds)
			r.Get("/funds/balance-enquiry", ledgerService.FundsBalanceEnquiry)

			// Event journal
			r.Get("/events/recent", eventsService.RecentEvents)

			// Administration
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminOnly)

				r.Get("/admin/status", adminService.Status)
				r.Put("/admin/fee", adminService.SetFee)
				r.Put("/admin/treasury", adminService.SetTreasury)
				r.Put("/admin/duration-bounds", adminService.SetDurationBounds)
				r.Put("/admin/pause", adminService.SetPause)
				r.Put("/admin/transfer", adminService.TransferAdmin)
				r.Put("/admin/batch-trust", adminService.SetBatchTrust)
				r.Post("/admin/mint", adminService.Mint)
				r.Post("/admin/recover", adminService.Recover)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
