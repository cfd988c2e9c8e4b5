// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"net/http"
	"time"

	"github.com/taskqueue/taskqueue/queue"
)

type createJobRequest struct {
	ID    string                 `json:"id"`
	Tag   string                 `json:"tag"`
	Args  map[string]interface{} `json:"args"`
	RunAt time.Time              `json:"run_at"`
}

// createJob handles POST /jobs. If the request omits id, one is
// generated; creation is idempotent on a repeated id (invariant 1).
func (api *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		req.ID = api.Controller.CreateJobID()
	}
	j, err := api.Controller.CreateJob(r.Context(), req.ID, req.Tag, req.Args, req.RunAt)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// getJob handles GET /jobs/{id}.
func (api *API) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := api.Controller.GetJob(r.Context(), pathID(r))
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, queue.ErrNoSuchJob)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// cancelJob handles POST /jobs/{id}/cancel?version=N.
func (api *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	version, err := queryVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := api.Controller.CancelJob(r.Context(), pathID(r), version)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// deleteJob handles DELETE /jobs/{id}?version=N.
func (api *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	version, err := queryVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := api.Controller.DeleteJob(r.Context(), pathID(r), version); err != nil {
		api.writeQueueError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type acquireRequest struct {
	Tags     []string `json:"tags"`
	WorkerID string   `json:"worker_id"`
}

// acquireJob handles POST /acquire. Returns 204 with no body if there
// is nothing to acquire right now, rather than an error: spec §4.1
// treats an empty result as a normal outcome of the leasing algorithm.
func (api *API) acquireJob(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := api.Controller.AcquireJob(r.Context(), req.Tags, req.WorkerID)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// heartbeatJob handles POST /jobs/{id}/heartbeat?version=N.
func (api *API) heartbeatJob(w http.ResponseWriter, r *http.Request) {
	version, err := queryVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := api.Controller.HeartbeatJob(r.Context(), pathID(r), version)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type finalizeRequest struct {
	Exception *queue.Exception `json:"exception"`
}

// finalizeJob handles POST /jobs/{id}/finalize?version=N.
func (api *API) finalizeJob(w http.ResponseWriter, r *http.Request) {
	version, err := queryVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req finalizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := api.Controller.FinalizeJob(r.Context(), pathID(r), version, req.Exception)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type requeueRequest struct {
	RunAt time.Time `json:"run_at"`
}

// requeueJob handles POST /jobs/{id}/requeue?version=N.
func (api *API) requeueJob(w http.ResponseWriter, r *http.Request) {
	version, err := queryVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req requeueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := api.Controller.RequeueJob(r.Context(), pathID(r), version, req.RunAt)
	if err != nil {
		api.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// writeQueueError classifies a queue-layer error into the right HTTP
// status: a lost optimistic-concurrency race is a conflict, not a
// server error.
func (api *API) writeQueueError(w http.ResponseWriter, err error) {
	if queue.IsConcurrencyError(err) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if api.Log != nil {
		api.Log.WithError(err).Warn("request failed")
	}
	writeError(w, http.StatusInternalServerError, err)
}
