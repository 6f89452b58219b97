// Package store handles all database interactions. This is the data access
// layer, keeping SQL queries separate from job and HTTP logic.
package store

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusChanged means a compare-and-set on job status lost a race.
	ErrStatusChanged = errors.New("job status changed concurrently")
)

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
