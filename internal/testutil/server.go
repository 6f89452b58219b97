// Shared test server setup, which simplifies all API tests.

package testutil

import (
	"database/sql"
	"testing"

	"github.com/queuesync/queuesync/internal/api"
	"github.com/queuesync/queuesync/internal/config"
	"github.com/queuesync/queuesync/internal/core"
)

// WorkerToken is the worker credential configured for test servers.
const WorkerToken = "test-worker-token"

// SetupTestApp builds a core.App on an in-memory database with its hub
// running.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	db := SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Worker.Token = WorkerToken
	app := core.NewApp(cfg, db, "1.4.0")
	go app.Hub.Run()
	t.Cleanup(app.Hub.Stop)
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *sql.DB, *core.App) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app.DB, app
}
