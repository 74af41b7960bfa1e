package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"loom/internal/api"
	"loom/internal/services"
)

// Client talks to the daemon HTTP API on behalf of the CLI.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes the constructed client.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// New builds a client for the daemon listening at addr. addr may be a bare
// host:port or a full http URL.
func New(addr, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, fmt.Errorf("daemon address is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	c := &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAccounts returns all accounts known to the daemon.
func (c *Client) ListAccounts(ctx context.Context) ([]api.Account, error) {
	var out api.AccountListResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// CreateAccount registers a new account.
func (c *Client) CreateAccount(ctx context.Context, req api.CreateAccountRequest) (*api.Account, error) {
	var out api.AccountResponse
	if err := c.do(ctx, http.MethodPost, "/api/accounts", req, &out); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

// Account returns one account by id.
func (c *Client) Account(ctx context.Context, id int64) (*api.Account, error) {
	var out api.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+formatID(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

// RequestStage asks the daemon to run a lifecycle stage for an account.
func (c *Client) RequestStage(ctx context.Context, accountID int64, jobType string, payload json.RawMessage) (*api.Job, error) {
	path := "/api/accounts/" + formatID(accountID) + "/stages/" + url.PathEscape(jobType)
	var out api.StageRequestResponse
	if err := c.do(ctx, http.MethodPost, path, api.StageRequestBody{Payload: payload}, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// ListJobs returns ledger jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]api.Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Job returns one ledger job by id.
func (c *Client) Job(ctx context.Context, id int64) (*api.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+formatID(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// CancelJob cancels a pending or processing job.
func (c *Client) CancelJob(ctx context.Context, id int64) (*api.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+formatID(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// RetryJobs resets failed jobs back to pending; empty ids means all failed.
func (c *Client) RetryJobs(ctx context.Context, ids []int64) (int64, error) {
	var out api.MutationResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/retry", api.RetryJobsRequest{IDs: ids}, &out); err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// ClearJobs removes terminal jobs; empty statuses means all terminal.
func (c *Client) ClearJobs(ctx context.Context, statuses []string) (int64, error) {
	var out api.MutationResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/clear", api.ClearJobsRequest{Statuses: statuses}, &out); err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// Events fetches a page of the pipeline event feed. With follow set the
// daemon parks the request until an event past since arrives or ctx ends.
func (c *Client) Events(ctx context.Context, since uint64, limit int, follow bool) (*api.EventStreamResponse, error) {
	values := url.Values{}
	if since > 0 {
		values.Set("since", strconv.FormatUint(since, 10))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if follow {
		values.Set("follow", "1")
	}
	path := "/api/events"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out api.EventStreamResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "client", method+" "+path, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyResponse(resp *http.Response, method, path string) error {
	message := fmt.Sprintf("status %d", resp.StatusCode)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload); err == nil && payload.Error != "" {
		message = payload.Error
	}

	marker := services.ErrTransient
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		marker = services.ErrAuth
	case resp.StatusCode == http.StatusConflict:
		marker = services.ErrConflict
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		marker = services.ErrValidation
	}
	return services.Wrap(marker, "client", method+" "+path, message, nil)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
