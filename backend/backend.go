// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to construct a queue.Store
// based on command-line flags.
package backend

import (
	"errors"
	"strings"

	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/postgres"
	"github.com/taskqueue/taskqueue/queue"
	"github.com/taskqueue/taskqueue/sqlite"
)

// Backend describes user-visible parameters to store queue data. This
// implements the flag.Value interface, so a typical use is
//
//	func main() {
//	    backend := backend.Backend{Implementation: "memory"}
//	    flag.Var(&backend, "backend", "impl:address of job storage")
//	    flag.Parse()
//	    store, err := backend.Store()
//	}
type Backend struct {
	// Implementation holds the name of the implementation, one of
	// "memory", "sqlite", or "postgres".
	Implementation string

	// Address holds some backend-specific address, such as a
	// database connection string or SQLite file path.
	Address string
}

// Store creates a new queue.Store. This generally should only be
// called once: if the backend has in-process state, such as a
// database connection pool or an in-memory map, calling this multiple
// times creates multiple independent copies of that state. In
// particular, if b.Implementation is "memory", multiple calls to this
// create multiple independent job queues.
//
// If b.Implementation does not match a known implementation, returns
// an error; Set() rejects such names up front. The choice of
// implementation can also produce errors (invalid connection string,
// missing database file, unreachable database, etc).
func (b *Backend) Store() (queue.Store, error) {
	switch b.Implementation {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(b.Address)
	case "postgres":
		return postgres.New(b.Address)
	default:
		return nil, errors.New("unknown queue backend " + b.Implementation)
	}
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string into an existing backend description. The
// string should be of the form "implementation:address", where
// address can be any string.
//
// This is part of the flag.Value interface. Set returns an error if
// the implementation is not one Store() knows. It does not validate
// the b.Address part of the string or make a connection, so Store()
// can still fail on a bad address.
func (b *Backend) Set(param string) (err error) {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 0:
		err = errors.New("must specify a backend type")
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		err = errors.New("strings.SplitN did something odd")
	}
	if err == nil {
		switch b.Implementation {
		case "memory", "sqlite", "postgres":
		default:
			err = errors.New("unknown queue backend " + b.Implementation)
		}
	}
	return
}
