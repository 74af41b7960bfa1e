package automation

import (
	"context"
	"time"
)

// Credential is one named secret captured from a browser session.
type Credential struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session is a live browser session bound to one account profile. Sessions
// hold the profile lock for their whole lifetime; Close must always be
// called, including on error paths.
type Session interface {
	// Navigate points the session at a URL. For visible sessions this opens
	// a browser window the operator interacts with.
	Navigate(ctx context.Context, url string) error

	// WaitForCredential blocks until every named credential has been
	// captured from the session, the timeout elapses, or the context ends.
	WaitForCredential(ctx context.Context, names []string, timeout time.Duration) ([]Credential, error)

	// WaitForClose blocks until the operator closes the browser window or
	// the context ends. Only meaningful for visible sessions.
	WaitForClose(ctx context.Context) error

	Close() error
}

// Driver opens browser sessions on account profiles.
type Driver interface {
	OpenSession(ctx context.Context, profilePath string, visible bool) (Session, error)
}
