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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"clinicore.org/internal/account"
	"clinicore.org/internal/auth"
	"clinicore.org/internal/cache"
	"clinicore.org/internal/httpapi"
	"clinicore.org/internal/notify"
	"clinicore.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("CLINICORE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("CLINICORE_AUTH_SECRET is required")
	}

	var db *sql.DB
	var store account.Store
	var tokenStore auth.TokenStore
	var otpStore auth.OTPStore
	if dsn := os.Getenv("CLINICORE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = account.NewPGStore(db)
		tokenStore = auth.NewPGTokenStore(db)
		otpStore = auth.NewPGOTPStore(db)
	} else {
		log.Print("CLINICORE_PG_DSN not set, using in-memory stores")
		store = account.NewInMemory()
		tokenStore = auth.NewMemoryTokenStore()
		otpStore = auth.NewMemoryOTPStore()
	}

	var notifier auth.Notifier
	if mailURL := os.Getenv("CLINICORE_MAIL_URL"); mailURL != "" {
		notifier = notify.NewEmailSender(mailURL, os.Getenv("CLINICORE_MAIL_KEY"), os.Getenv("CLINICORE_MAIL_FROM"))
	} else {
		notifier = notify.LogSender{}
	}

	caches := cache.NewService(store)

	opts := []auth.ServiceOption{
		auth.WithNotifier(notifier),
		auth.WithCaches(caches),
	}
	if ttl := durationEnv("CLINICORE_ACCESS_TTL"); ttl > 0 {
		opts = append(opts, auth.WithAccessTTL(ttl))
	}
	if ttl := durationEnv("CLINICORE_REFRESH_TTL"); ttl > 0 {
		opts = append(opts, auth.WithRefreshTTL(ttl))
	}
	if ttl := durationEnv("CLINICORE_OTP_TTL"); ttl > 0 {
		opts = append(opts, auth.WithOTPTTL(ttl))
	}

	svc, err := auth.NewService(store, tokenStore, otpStore, secret, "clinicore-api", opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.EnsureDefaultRoles(startCtx); err != nil {
		log.Fatalf("seed roles: %v", err)
	}
	// Warm-up is explicit: it runs once here, after every dependency exists,
	// never as a hidden side effect of construction.
	if err := caches.WarmUp(startCtx); err != nil {
		log.Printf("cache warm up: %v", err)
	}
	cancelStart()

	api := httpapi.New(svc, caches, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("CLINICORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting clinicore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func durationEnv(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
