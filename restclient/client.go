// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package restclient implements queue.Producer and queue.WorkerAPI
// against restserver's flat HTTP API, adapted from the teacher's
// restclient package (the same net/http-plus-URI-templates approach,
// generalized from a namespace/work-spec/work-unit/attempt resource
// tree down to a single Job resource).
package restclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jtacoma/uritemplates"
	"golang.org/x/crypto/blake2b"

	"github.com/taskqueue/taskqueue/queue"
)

const bearerPrefix = "Bearer "

// Client is an HTTP client for a restserver.API. It implements both
// queue.Producer and queue.WorkerAPI, exactly as *queue.Controller
// does, so a Worker can be pointed at either one interchangeably.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// AuthSecret, if set, signs every request body with a keyed
	// blake2b-256 digest and presents it as a bearer token, matching
	// a restserver.NewRouterWithAuth server on the other end. Leave
	// nil against a plain NewRouter server.
	AuthSecret []byte
}

// New creates a Client against baseURL (e.g. "http://localhost:8080"),
// with no trailing slash.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: http.DefaultClient}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// expand renders a URI template relative to BaseURL. Templates and
// their variables are expressed with jtacoma/uritemplates, the
// library the teacher's restclient/restserver pair uses to build
// callback and resource URLs.
func (c *Client) expand(template string, vars map[string]interface{}) (string, error) {
	tmpl, err := uritemplates.Parse(c.BaseURL + template)
	if err != nil {
		return "", err
	}
	return tmpl.Expand(vars)
}

func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyBytes = b
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.AuthSecret) > 0 {
		mac, err := blake2b.New256(c.AuthSecret)
		if err != nil {
			return err
		}
		mac.Write(bodyBytes)
		req.Header.Set("Authorization", bearerPrefix+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return queue.Retriable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		return &queue.ConcurrencyError{}
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		statusErr := &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
		if resp.StatusCode >= 500 {
			return queue.Retriable(statusErr)
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError reports the HTTP status code restserver returned for a
// failed request. Code 404 is the only status GetJob treats
// specially, folding it into a nil, nil "no such job" result to match
// queue.Producer.GetJob's contract.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("restclient: http %d: %s", e.Code, e.Message)
}

// CreateJobID asks the controller for a fresh job id is not possible
// over HTTP without creating the job, so the client generates one
// itself via queue.NewJobID, exactly as cmd-line producer tools that
// talk only to a restserver must.
func (c *Client) CreateJobID() string {
	return queue.NewJobID()
}

func (c *Client) CreateJob(ctx context.Context, id, tag string, args map[string]interface{}, runAt time.Time) (*queue.Job, error) {
	url, err := c.expand("/jobs", nil)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"id": id, "tag": tag, "args": args}
	if !runAt.IsZero() {
		body["run_at"] = runAt.Format(time.RFC3339)
	}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	url, err := c.expand("/jobs/{id}", map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	var j queue.Job
	if err := c.do(ctx, http.MethodGet, url, nil, &j); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (c *Client) CancelJob(ctx context.Context, id string, version int) (*queue.Job, error) {
	url, err := c.expand("/jobs/{id}/cancel{?version}", map[string]interface{}{"id": id, "version": version})
	if err != nil {
		return nil, err
	}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) DeleteJob(ctx context.Context, id string, version int) error {
	url, err := c.expand("/jobs/{id}{?version}", map[string]interface{}{"id": id, "version": version})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, url, nil, nil)
}

func (c *Client) AcquireJob(ctx context.Context, tags []string, workerID string) (*queue.Job, error) {
	url, err := c.expand("/acquire", nil)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"tags": tags, "worker_id": workerID}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, body, &j); err != nil {
		return nil, err
	}
	if j.ID == "" {
		return nil, nil
	}
	return &j, nil
}

func (c *Client) HeartbeatJob(ctx context.Context, id string, version int) (*queue.Job, error) {
	url, err := c.expand("/jobs/{id}/heartbeat{?version}", map[string]interface{}{"id": id, "version": version})
	if err != nil {
		return nil, err
	}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) FinalizeJob(ctx context.Context, id string, version int, exc *queue.Exception) (*queue.Job, error) {
	url, err := c.expand("/jobs/{id}/finalize{?version}", map[string]interface{}{"id": id, "version": version})
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"exception": exc}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) RequeueJob(ctx context.Context, id string, version int, runAt time.Time) (*queue.Job, error) {
	url, err := c.expand("/jobs/{id}/requeue{?version}", map[string]interface{}{"id": id, "version": version})
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{}
	if !runAt.IsZero() {
		body["run_at"] = runAt.Format(time.RFC3339)
	}
	var j queue.Job
	if err := c.do(ctx, http.MethodPost, url, body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

var _ queue.Producer = (*Client)(nil)
var _ queue.WorkerAPI = (*Client)(nil)
