// Package client talks to a deployd daemon. [SyncClient] blocks until each
// operation settles; [AsyncClient] returns a [Future] for it. Both drive
// the same operations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetshift/deployd/internal/api"
)

// Option configures a client.
type Option func(*transport)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *transport) {
		t.http = hc
	}
}

// WithPollInterval bounds the backoff used while waiting for an
// operation to settle.
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(t *transport) {
		t.pollInitial = initial
		t.pollMax = maxInterval
	}
}

type transport struct {
	base        string
	http        *http.Client
	pollInitial time.Duration
	pollMax     time.Duration
}

func newTransport(baseURL string, opts ...Option) *transport {
	t := &transport{
		base:        strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		pollInitial: 50 * time.Millisecond,
		pollMax:     time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses are returned as *api.RemoteError.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := t.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body api.ErrorBody
	if err := json.Unmarshal(b, &body); err != nil || body.Error.Code == "" {
		return &api.RemoteError{
			Status:  resp.StatusCode,
			Code:    api.CodeInternal,
			Message: strings.TrimSpace(string(b)),
		}
	}
	return &api.RemoteError{
		Status:       resp.StatusCode,
		Code:         body.Error.Code,
		Message:      body.Error.Message,
		DeploymentID: body.Error.DeploymentID,
	}
}

func noWait() url.Values {
	return url.Values{"wait": []string{"false"}}
}

func (t *transport) createWorkspace(ctx context.Context, paths []string) (api.Workspace, error) {
	var resp api.WorkspaceResponse
	err := t.do(ctx, http.MethodPost, "/workspaces", nil, api.CreateWorkspaceRequest{Paths: paths}, &resp)
	return resp.Workspace, err
}

func (t *transport) getWorkspace(ctx context.Context, id string) (api.Workspace, error) {
	var resp api.WorkspaceResponse
	err := t.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(id), nil, nil, &resp)
	return resp.Workspace, err
}

func (t *transport) listWorkspaces(ctx context.Context) ([]api.Workspace, error) {
	var resp api.WorkspaceList
	err := t.do(ctx, http.MethodGet, "/workspaces", nil, nil, &resp)
	return resp.Workspaces, err
}

func (t *transport) createDeployment(ctx context.Context, req api.CreateDeploymentRequest) (api.Deployment, error) {
	var resp api.DeploymentResponse
	err := t.do(ctx, http.MethodPost, "/deployments", noWait(), req, &resp)
	return resp.Deployment, err
}

func (t *transport) getDeployment(ctx context.Context, id string) (api.Deployment, error) {
	var resp api.DeploymentResponse
	err := t.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), nil, nil, &resp)
	return resp.Deployment, err
}

func (t *transport) listDeployments(ctx context.Context) ([]api.Deployment, error) {
	var resp api.DeploymentList
	err := t.do(ctx, http.MethodGet, "/deployments", nil, nil, &resp)
	return resp.Deployments, err
}

func (t *transport) scaleDeployment(ctx context.Context, id string, replicas int) (api.OperationResponse, error) {
	q := noWait()
	q.Set("replicas", fmt.Sprint(replicas))
	var resp api.OperationResponse
	err := t.do(ctx, http.MethodPut, "/deployments/"+url.PathEscape(id)+"/scale", q, nil, &resp)
	return resp, err
}

func (t *transport) deleteDeployment(ctx context.Context, id string) (api.OperationResponse, error) {
	var resp api.OperationResponse
	err := t.do(ctx, http.MethodDelete, "/deployments/"+url.PathEscape(id), noWait(), nil, &resp)
	return resp, err
}
