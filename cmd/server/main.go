package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	_ "github.com/lib/pq"

	"nksdk/internal/api/middleware"
	"nksdk/internal/api/routes"
	"nksdk/internal/config"
	"nksdk/pkg/session"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.NK.ValidateKey(); err != nil {
		return err
	}

	displayAppname("NK Connect")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := sessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	loginLimiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	defer loginLimiter.Stop()

	connect := middleware.NewConnectMiddleware(cfg.NK, store, session.DefaultName)
	routes.RegisterConnectRoutes(r, connect, loginLimiter, cfg.AllowedOrigins)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("NK Connect demo listening", "addr", server.Addr, "callback", cfg.NK.CallbackURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server.ListenAndServe: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// sessionStore keeps sessions in Postgres when DATABASE_URL is set and in
// signed cookies otherwise.
func sessionStore(ctx context.Context, cfg config.Config) (sessions.Store, func(), error) {
	secret := []byte(cfg.SessionSecret)
	if cfg.DatabaseURL == "" {
		slog.Info("storing sessions in cookies")
		store, err := session.NewCookieStore(secret)
		return store, func() {}, err
	}
	if len(secret) < session.MinSecretLength {
		return nil, nil, session.ErrWeakSecret
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := session.Migrate(db); err != nil {
		closeDB()
		return nil, nil, err
	}
	slog.Info("storing sessions in Postgres")

	store := session.NewPGStore(db, secret)
	go sweepSessions(ctx, store)
	return store, closeDB, nil
}

// sweepSessions deletes expired sessions until ctx is done
func sweepSessions(ctx context.Context, store *session.PGStore) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.DeleteExpired(ctx); err != nil {
				slog.Warn("failed to delete expired sessions", "error", err)
			}
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
