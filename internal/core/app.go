package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/config"
	"github.com/queuesync/queuesync/internal/db"
	"github.com/queuesync/queuesync/internal/jobs"
	"github.com/queuesync/queuesync/internal/pubsub"
	"github.com/queuesync/queuesync/internal/store"
	"github.com/queuesync/queuesync/internal/websocket"
	"github.com/queuesync/queuesync/migrations"
)

// App holds the core components of the authority process.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Hub       *websocket.Hub
	Publisher pubsub.Publisher
	Jobs      *jobs.Manager
	Version   string

	bridge *pubsub.Bridge
	redis  *redis.Client
}

// NewApp assembles an App around an already migrated database. Events are
// published to the local hub only.
func NewApp(cfg *config.Config, database *sql.DB, version string) *App {
	hub := websocket.NewHub()
	return &App{
		Config:    cfg,
		DB:        database,
		Hub:       hub,
		Publisher: hub,
		Jobs:      jobs.NewManager(store.New(database), hub),
		Version:   version,
	}
}

// New opens the database, runs migrations and, when a Redis URL is
// configured, bridges events across instances.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, migrations.FS); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewApp(cfg, database, version)

	if url := cfg.Broadcast.RedisURL; url != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := pubsub.Connect(dialCtx, url)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = rdb
		app.bridge = pubsub.NewBridge(rdb, cfg.Broadcast.Channel, app.Hub)
		app.Publisher = app.bridge
		app.Jobs = jobs.NewManager(store.New(database), app.bridge)
		log.Info().Str("channel", cfg.Broadcast.Channel).Msg("cross-instance broadcast enabled")
	}

	log.Print("Core application setup complete.")
	return app, nil
}

// Start runs the hub and, if configured, the Redis relay until ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run()
	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}
}

// Close releases the hub, Redis and database.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
