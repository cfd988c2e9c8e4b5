// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package sqlite implements queue.Store on top of an embedded
// modernc.org/sqlite database, for single-process deployments that
// want durability without running a separate PostgreSQL server. It is
// not part of the teacher's original stack; it is adapted from
// postgres's Store, with a single in-process mutex standing in for
// PostgreSQL's row locks, the same way memory.Store serializes
// everything behind one mutex.
package sqlite

import (
	"database/sql"
	"sync"

	"github.com/taskqueue/taskqueue/queue"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed queue.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at path and
// upgrades it to the latest schema. path may be a file path or
// ":memory:" for a private in-process database, useful in tests that
// want to exercise the real SQL path without a file on disk.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, queue.ErrMissingDatabase
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows only one writer at a time; cap the pool so
	// database/sql never hands out a second connection that would
	// just block on SQLITE_BUSY under our own mutex anyway.
	db.SetMaxOpenConns(1)
	if err := Upgrade(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ queue.Store = (*Store)(nil)
