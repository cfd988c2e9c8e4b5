// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package postgres implements queue.Store on top of PostgreSQL via
// database/sql and github.com/lib/pq, adapted from the teacher's
// postgres.Coordinate connection setup and migration runner.
package postgres

import (
	"database/sql"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/taskqueue/taskqueue/queue"
)

// Store is a PostgreSQL-backed queue.Store. The zero value is not
// usable; construct with New or NewWithClock.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool and upgrades it to the latest
// schema. connectionString may be an expanded PostgreSQL string, a
// "postgres:" URL, or a URL without a scheme (see github.com/lib/pq).
// The returned Store carries a connection pool and should be
// constructed once per process and shared.
func New(connectionString string) (*Store, error) {
	return NewWithClock(connectionString, clock.New())
}

// NewWithClock is like New but takes an explicit clock.Clock for
// constructor symmetry with memory.NewWithClock. Every Store method
// takes now/heartbeatCutoff as explicit parameters, so clk itself is
// never read here; callers that want deterministic time inject it
// into queue.Controller.Clock instead.
func NewWithClock(connectionString string, clk clock.Clock) (*Store, error) {
	_ = clk
	if len(connectionString) >= 2 && connectionString[0] == '/' && connectionString[1] == '/' {
		connectionString = "postgres:" + connectionString
	}
	if !strings.Contains(connectionString, "dbname=") {
		// URL form: the database is the path after the host.
		i := strings.Index(connectionString, "://")
		if i < 0 {
			return nil, queue.ErrMissingDatabase
		}
		rest := connectionString[i+3:]
		if q := strings.IndexAny(rest, "?#"); q >= 0 {
			rest = rest[:q]
		}
		slash := strings.Index(rest, "/")
		if slash < 0 || strings.Trim(rest[slash:], "/") == "" {
			return nil, queue.ErrMissingDatabase
		}
	}

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := Upgrade(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ queue.Store = (*Store)(nil)
