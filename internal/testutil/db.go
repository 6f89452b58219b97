package testutil

import (
	"database/sql"
	"testing"

	"github.com/queuesync/queuesync/internal/db"
	"github.com/queuesync/queuesync/migrations"
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every new connection to :memory: is a fresh, empty database.
	database.SetMaxOpenConns(1)

	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, migrations.FS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}
