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
	"github.com/metropass/backend/internal/database"
	mW "github.com/metropass/backend/internal/middleware"
	"github.com/metropass/backend/internal/services"
	"github.com/spf13/viper"
)

// @title Metro Fare Card API
// @version 1.0
// @description Fare ledger backend for RFID metro cards
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	stations, err := services.NewStationTable(db)
	if err != nil {
		log.Fatalf("Failed to load station table: %v", err)
	}

	fareStore := services.NewFarePolicyStore(db, redisClient)
	if err := fareStore.EnsureDefault(context.Background()); err != nil {
		log.Fatalf("Failed to initialize fare policy: %v", err)
	}

	cardLedger := services.NewCardLedger(db)
	tripEngine := services.NewTripEngine(db, stations, fareStore, cardLedger)
	tripHistory := services.NewTripHistory(db, cardLedger)
	qrService := services.NewQRTopUpService(db, redisClient, cardLedger)

	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Tap endpoints are called by station gates with device credentials,
		// not rider tokens.
		r.Post("/taps/entry", tripEngine.RecordEntry)
		r.Post("/taps/exit", tripEngine.RecordExit)

		// Kiosks redeem QR top-up codes without a rider session.
		r.Post("/topups/redeem", qrService.RedeemQR)

		r.Get("/stations", stations.ListStations)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/cards", cardLedger.IssueCard)
			r.Get("/cards/{cardId}", tripHistory.GetCard)
			r.Get("/cards/{cardId}/trips", tripHistory.GetTripHistory)
			r.Get("/cards/{cardId}/balance", cardLedger.GetBalance)
			r.Post("/cards/{cardId}/topup", cardLedger.TopUpCard)
			r.Put("/cards/{cardId}/status", cardLedger.UpdateCardStatus)
			r.Get("/cards/{cardId}/qr", qrService.GenerateQR)

			r.Put("/admin/fare", fareStore.UpdateFareRate)
			r.Get("/admin/fare", fareStore.GetFareRate)
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
