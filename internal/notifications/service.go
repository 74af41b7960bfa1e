package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyLoginRequired(ctx context.Context, email string) error
	NotifyAccountBlocked(ctx context.Context, email, reason string) error
	NotifyStageFailure(ctx context.Context, email, jobType string, err error) error
	NotifyGenerationComplete(ctx context.Context, email string, items int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		prefs:    cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	prefs    config.Notifications
}

func (n *ntfyService) NotifyLoginRequired(ctx context.Context, email string) error {
	if !n.prefs.LoginRequired {
		return nil
	}
	email = strings.TrimSpace(email)
	data := payload{
		title:    "Loom - Login Required",
		message:  fmt.Sprintf("Account %s is waiting for an interactive login. Complete the sign-in in the opened browser window.", email),
		tags:     []string{"loom", "login", "action"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAccountBlocked(ctx context.Context, email, reason string) error {
	if !n.prefs.Blocked {
		return nil
	}
	email = strings.TrimSpace(email)
	reason = strings.TrimSpace(reason)
	message := fmt.Sprintf("Account %s is blocked until a fresh login", email)
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	data := payload{
		title:    "Loom - Account Blocked",
		message:  message,
		tags:     []string{"loom", "account", "blocked"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageFailure(ctx context.Context, email, jobType string, err error) error {
	if !n.prefs.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Stage ")
	builder.WriteString(strings.TrimSpace(jobType))
	builder.WriteString(" failed for ")
	builder.WriteString(strings.TrimSpace(email))
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "Loom - Stage Failed",
		message:  builder.String(),
		tags:     []string{"loom", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyGenerationComplete(ctx context.Context, email string, items int) error {
	if !n.prefs.Generation {
		return nil
	}
	email = strings.TrimSpace(email)
	data := payload{
		title:   "Loom - Generation Complete",
		message: fmt.Sprintf("Generated %d items for %s", items, email),
		tags:    []string{"loom", "generate", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loom - Test",
		message:  "Notification system test",
		tags:     []string{"loom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyLoginRequired(context.Context, string) error               { return nil }
func (noopService) NotifyAccountBlocked(context.Context, string, string) error      { return nil }
func (noopService) NotifyStageFailure(context.Context, string, string, error) error { return nil }
func (noopService) NotifyGenerationComplete(context.Context, string, int) error     { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
