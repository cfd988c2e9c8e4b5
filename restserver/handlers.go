// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
)

// decodeBody reads a JSON request body into a generic map and then
// decodes it into dst via mapstructure, with a decode hook that
// understands RFC3339 timestamps. This mirrors the teacher's
// cborrpc decode-hook pattern for turning wire-format generic maps
// into typed Go values, without requiring CBOR's struct tags.
func decodeBody(r *http.Request, dst interface{}) error {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     dst,
		TagName:    "json",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// queryVersion reads the required ?version= query parameter used by
// the cancel, delete, heartbeat, finalize and requeue endpoints to
// express their compare-and-swap
// expectation (spec §3's optimistic concurrency model).
func queryVersion(r *http.Request) (int, error) {
	return strconv.Atoi(r.URL.Query().Get("version"))
}
