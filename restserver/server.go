// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package restserver exposes a queue.Controller over HTTP: a flat,
// single-resource API in place of the teacher's namespace/work-spec/
// work-unit/attempt HATEOAS hierarchy (restdata, restserver's old
// rest.go), since this spec's data model is one entity, Job, rather
// than a four-level object tree. Routing (gorilla/mux) and middleware
// (urfave/negroni) are carried over from the teacher's stack.
package restserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/taskqueue/taskqueue/queue"
)

// API holds the persistent state backing the HTTP handlers.
type API struct {
	Controller *queue.Controller
	Log        *logrus.Entry
}

// NewRouter builds a complete http.Handler: routing behind a negroni
// middleware chain with panic recovery only; there is no access
// logger. Requests are unauthenticated; use NewRouterWithAuth to require a
// signed bearer token.
func NewRouter(ctrl *queue.Controller, log *logrus.Entry) http.Handler {
	return NewRouterWithAuth(ctrl, log, nil)
}

// NewRouterWithAuth is NewRouter plus a blake2b-keyed bearer-token
// check on every request (see auth.go). A nil or empty secret
// disables the check, identical to NewRouter.
func NewRouterWithAuth(ctrl *queue.Controller, log *logrus.Entry, secret []byte) http.Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	api := &API{Controller: ctrl, Log: log}

	r := mux.NewRouter()
	api.populate(r)

	n := negroni.New(negroni.NewRecovery())
	n.Use(authMiddleware(secret))
	n.UseHandler(r)
	return n
}

// populate registers every MODULE F endpoint from the expanded spec.
func (api *API) populate(r *mux.Router) {
	r.HandleFunc("/jobs", api.createJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", api.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", api.deleteJob).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/cancel", api.cancelJob).Methods(http.MethodPost)
	r.HandleFunc("/acquire", api.acquireJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/heartbeat", api.heartbeatJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/finalize", api.finalizeJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/requeue", api.requeueJob).Methods(http.MethodPost)
}
