package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/services"
)

// Cookie is one browser cookie captured during session extraction.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session is an authenticated provider session minted from browser cookies.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Project is a remote workspace that generation requests run against.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GenerationRequest describes one content generation call.
type GenerationRequest struct {
	SessionToken string `json:"session_token"`
	ProjectID    string `json:"project_id"`
	Prompt       string `json:"prompt"`
	Count        int    `json:"count"`
	Model        string `json:"model"`
	AspectRatio  string `json:"aspect_ratio"`
}

// GeneratedItem is one produced artifact.
type GeneratedItem struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerationResult carries the artifacts of a completed generation call.
type GenerationResult struct {
	Items []GeneratedItem `json:"items"`
}

// Service defines the provider operations used by stage handlers.
type Service interface {
	ExchangeCredential(ctx context.Context, cookies []Cookie) (*Session, error)
	CreateRemoteProject(ctx context.Context, sessionToken, name string) (*Project, error)
	GenerateContent(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// Client talks to the remote generation provider over HTTP.
type Client struct {
	baseURL     string
	model       string
	aspectRatio string
	httpClient  *http.Client
}

var _ Service = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a provider client from configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.Provider.BaseURL)
	if baseURL == "" {
		return nil, errors.New("provider base url required")
	}
	timeout := time.Duration(cfg.Provider.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       strings.TrimSpace(cfg.Provider.ImageModel),
		aspectRatio: strings.TrimSpace(cfg.Provider.AspectRatio),
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ExchangeCredential trades captured browser cookies for a provider session
// token. Rejected cookies surface as an auth error so the account can be
// sent back through the login flow.
func (c *Client) ExchangeCredential(ctx context.Context, cookies []Cookie) (*Session, error) {
	if len(cookies) == 0 {
		return nil, services.Wrap(services.ErrValidation, "extract-session", "exchange", "no cookies captured", nil)
	}

	body := struct {
		Cookies []Cookie `json:"cookies"`
	}{Cookies: cookies}

	var session Session
	if err := c.post(ctx, "/v1/sessions", "extract-session", body, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.Token) == "" {
		return nil, services.Wrap(services.ErrAuth, "extract-session", "exchange", "provider returned empty session token", nil)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	return &session, nil
}

// CreateRemoteProject provisions a named workspace bound to the session.
func (c *Client) CreateRemoteProject(ctx context.Context, sessionToken, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "loom-" + uuid.NewString()[:8]
	}

	body := struct {
		SessionToken string `json:"session_token"`
		Name         string `json:"name"`
	}{SessionToken: sessionToken, Name: name}

	var project Project
	if err := c.post(ctx, "/v1/projects", "create-remote-project", body, &project); err != nil {
		return nil, err
	}
	if strings.TrimSpace(project.ID) == "" {
		return nil, services.Wrap(services.ErrTransient, "create-remote-project", "create", "provider returned empty project id", nil)
	}
	return &project, nil
}

// GenerateContent runs one generation request and returns the produced
// artifacts.
func (c *Client) GenerateContent(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.Wrap(services.ErrValidation, "generate-content", "generate", "prompt must not be empty", nil)
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.AspectRatio == "" {
		req.AspectRatio = c.aspectRatio
	}

	var result GenerationResult
	if err := c.post(ctx, "/v1/generate", "generate-content", req, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, services.Wrap(services.ErrTransient, "generate-content", "generate", "provider returned no items", nil)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path, stage string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return services.Wrap(services.ErrTransient, stage, "request",
			fmt.Sprintf("provider request failed (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		return services.Wrap(classifyStatus(resp.StatusCode), stage, "request", message, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, stage, "decode", "decode provider response", err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto error markers. Credential
// rejections block the account, throttling and server faults retry, and
// the remaining client errors are treated as permanent.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return services.ErrTransient
	default:
		return services.ErrValidation
	}
}
