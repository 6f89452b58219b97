package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/api"
	"github.com/queuesync/queuesync/internal/auth"
	"github.com/queuesync/queuesync/internal/config"
	"github.com/queuesync/queuesync/internal/core"
	"github.com/queuesync/queuesync/internal/jobs"
	"github.com/queuesync/queuesync/internal/logging"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	loader.Watch(func(c *config.Config) {
		lvl := logging.SetLevel(c.Log.Level)
		log.Info().Str("level", lvl.String()).Msg("log level applied")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the core application components
	app, err := core.New(ctx, cfg, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Fatal error during application setup")
	}
	defer app.Close()
	app.Start(ctx)

	if err := provisionAdmin(app.Jobs.Store()); err != nil {
		log.Fatal().Err(err).Msg("Could not provision default admin")
	}
	if cfg.Worker.Token == "" {
		log.Warn().Msg("worker.token is not set; the worker API will reject every request")
	}

	scheduler := jobs.StartScheduler(app.Jobs, jobs.PruneSettings{
		Retention:       time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
		IntervalMinutes: cfg.Jobs.PruneIntervalMinutes,
	})
	defer scheduler.Stop()

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		log.Printf("Starting web server on %s (version %s)", httpServer.Addr, version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Could not start server")
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down server...")

	// Stop the hub first so open streams end and Shutdown does not wait on them.
	app.Hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Print("Server exiting.")
}

// provisionAdmin creates an admin account with a random password when the
// database has no users yet.
func provisionAdmin(st *store.Store) error {
	userCount, err := st.CountUsers()
	if err != nil {
		return fmt.Errorf("could not check user count: %w", err)
	}
	if userCount > 0 {
		return nil
	}

	log.Print("No users found. Creating default admin account.")
	password, err := auth.RandomPassword(16)
	if err != nil {
		return err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := st.CreateUser("admin", passwordHash, models.RoleAdmin); err != nil {
		return fmt.Errorf("could not create default admin user: %w", err)
	}
	log.Print("==================================================")
	log.Print("Default admin user created.")
	log.Printf("Username: admin")
	log.Printf("Password: %s", password)
	log.Print("Please change this password immediately.")
	log.Print("==================================================")
	return nil
}
