package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"
)

type App struct {
	db   *CompatDB
	toss *TossClient
	cfg  Config
}

type Config struct {
	Port          string
	DBDriver      string
	DBPath        string
	DatabaseURL   string
	JWTSecret     string
	TossSecretKey string
	TossBaseURL   string
	AppBaseURL    string
	AdminEmail    string
}

func loadConfig() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DBPath:        getEnv("DB_PATH", "/data/speranza.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", "supersecretkey"),
		TossSecretKey: getEnv("TOSS_SECRET_KEY", "test_sk_zXLkKEypNArWmo50nX3lmeaxYG5R"),
		TossBaseURL:   getEnv("TOSS_BASE_URL", ""),
		AppBaseURL:    getEnv("APP_BASE_URL", "http://localhost:3000"),
		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
	}
}

func openDatabase(cfg Config) (*CompatDB, error) {
	if cfg.DBDriver == "postgres" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		if err := runMigrations(db, DialectPostgres); err != nil {
			db.Close()
			return nil, err
		}
		return NewCompatDB(db, DialectPostgres), nil
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Single connection: prevents concurrent write conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := runMigrations(db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return NewCompatDB(db, DialectSQLite), nil
}

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	cfg := loadConfig()

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	app := &App{
		db:   db,
		toss: NewTossClient(cfg.TossBaseURL, cfg.TossSecretKey),
		cfg:  cfg,
	}
	app.ensureAdminUser(context.Background())

	// YouTube data and trend analysis are quota-bound upstream; keep a
	// conservative per-IP ceiling in front of them.
	apiLimiter := newRateLimiter(60, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", app.handleRegister)
	r.Post("/api/auth/login", app.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(apiLimiter))
		r.Get("/api/youtube/trending", app.optionalAuth(app.handleTrendingVideos))
		r.Get("/api/youtube/search", app.optionalAuth(app.handleSearchVideos))
		r.Get("/api/youtube/videos/{id}", app.optionalAuth(app.handleVideoDetails))
		r.Get("/api/trends/top", app.optionalAuth(app.handleTopTrends))
	})

	r.Post("/api/ideas/generate", app.handleGenerateIdeas)
	r.Post("/api/ideas/predict", app.handlePredictPerformance)
	r.Get("/api/ideas/schedule", app.handleContentSchedule)

	r.Get("/api/plans", app.handleListPlans)

	r.Group(func(r chi.Router) {
		r.Use(app.authMiddleware)
		r.Get("/api/me", app.handleGetProfile)
		r.Get("/api/me/youtube-key", app.handleGetYouTubeKey)
		r.Put("/api/me/youtube-key", app.handleSetYouTubeKey)
		r.Delete("/api/me/youtube-key", app.handleDeleteYouTubeKey)

		r.Post("/api/payments/create", app.handleCreatePayment)
		r.Post("/api/payments/confirm", app.handleConfirmPayment)
		r.Post("/api/payments/cancel", app.handleCancelPayment)
		r.Get("/api/payments", app.handleListPayments)
		r.Get("/api/payments/order/{orderId}", app.handleGetPaymentByOrder)

		r.Post("/api/billing/issue", app.handleIssueBillingKey)
		r.Get("/api/billing/keys", app.handleListBillingKeys)
		r.Delete("/api/billing/key", app.handleDeleteBillingKey)
		r.Post("/api/billing/pay", app.handleBillingPay)

		r.Post("/api/subscriptions", app.handleSubscribe)
		r.Get("/api/me/subscription", app.handleGetSubscription)
		r.Delete("/api/me/subscription", app.handleCancelSubscription)
	})

	r.Group(func(r chi.Router) {
		r.Use(app.authMiddleware)
		r.Use(app.adminMiddleware)
		r.Get("/api/admin/users", app.handleAdminListUsers)
		r.Patch("/api/admin/users/{id}/role", app.handleAdminSetRole)
		r.Delete("/api/admin/users/{id}", app.handleAdminDeleteUser)
		r.Get("/api/admin/status", app.handleAdminStatus)
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Printf("Speranza API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Println("server shut down")
}
