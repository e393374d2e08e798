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

	"github.com/ShodmonX/english-vocabulary-learning-sub000/docs"
	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/database"
	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/handlers"
	mW "github.com/ShodmonX/english-vocabulary-learning-sub000/internal/middleware"
	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/services"
)

// @title Vocabulary Credits API
// @version 1.0
// @description Metering and settlement backend for speech-recognition seconds
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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
	viper.BindEnv("app.timezone", "APP_TIMEZONE")
	viper.BindEnv("credits.monthly_basic_seconds", "MONTHLY_BASIC_SECONDS")
	viper.BindEnv("credits.seconds_per_attempt", "SECONDS_PER_ATTEMPT")
	viper.BindEnv("payments.bot_username", "PAYMENTS_BOT_USERNAME")
	viper.BindEnv("payments.reprocess_interval", "PAYMENTS_REPROCESS_INTERVAL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Vocabulary Credits API"
	docs.SwaggerInfo.Description = "Metering and settlement backend for speech-recognition seconds"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledger := services.NewLedgerStore(db)
	settings := services.NewSettingsService(db, redisClient)
	balances := services.NewBalanceService(db, ledger, settings)
	credits := services.NewCreditService(db, ledger, balances)
	packages := services.NewPackageService(db)
	payments := services.NewPaymentService(db, redisClient, ledger, credits, packages)
	recognition := services.NewRecognitionService(credits)
	defer recognition.Close()

	creditHandler := handlers.NewCreditHandler(credits, balances, ledger)
	paymentHandler := handlers.NewPaymentHandler(payments)
	packageHandler := handlers.NewPackageHandler(packages, settings)

	// Periodic sweep for payments stuck in "paid"
	viper.SetDefault("payments.reprocess_interval", 5*time.Minute)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(viper.GetDuration("payments.reprocess_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := payments.ReprocessPaid(sweepCtx); err != nil {
					log.Printf("[PAYMENT] Periodic reprocess failed: %v", err)
				}
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
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
		// Payment provider webhook (authenticated by payload token)
		r.Post("/payments/webhook", paymentHandler.Webhook)

		// User endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/credits/reserve", creditHandler.Reserve)
			r.Post("/credits/refund", creditHandler.Refund)
			r.Get("/credits/profile", creditHandler.Profile)
			r.Get("/credits/history", creditHandler.History)

			r.Post("/recognize", recognition.TranscribeAttempt)

			r.Get("/packages", packageHandler.ListPackages)
			r.Get("/packages/{key}", packageHandler.GetPackage)

			r.Post("/payments", paymentHandler.CreatePayment)
			r.Get("/payments/{payload}", paymentHandler.GetPayment)
			r.Get("/payments/{payload}/qr", paymentHandler.PaymentQR)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminMiddleware)

			r.Post("/admin/topup", creditHandler.AddTopup)
			r.Put("/admin/packages/{key}", packageHandler.UpdatePackage)
			r.Get("/admin/settings/monthly-limit", packageHandler.GetMonthlyLimit)
			r.Put("/admin/settings/monthly-limit", packageHandler.SetMonthlyLimit)
			r.Post("/admin/payments/reprocess", paymentHandler.ReprocessPaid)
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
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
