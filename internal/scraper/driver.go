// Package scraper implements the scrape orchestrator: the retry-across-
// accounts state machine, bounded-concurrency batch execution, and the
// response-capture-plus-progressive-scroll extraction algorithm. It drives
// browser sessions only through the small interfaces below so the whole
// machine is testable without a browser.
package scraper

import (
	"context"
	"errors"

	"igharvest/internal/models"
)

var (
	// ErrSessionInvalid marks a login wall detected on a profile page. It
	// triggers session repair, never a hard request failure.
	ErrSessionInvalid = errors.New("session invalid: login required")
	// ErrAllAccountsExhausted is terminal: every configured account failed
	// or was excluded for this request.
	ErrAllAccountsExhausted = errors.New("all accounts exhausted")
	// ErrBatchTooLarge rejects batches above the configured target cap.
	ErrBatchTooLarge = errors.New("too many batch targets")
)

// ProfilePage is one open tab on a profile, as far as the orchestrator
// cares. The pool's Tab satisfies it.
type ProfilePage interface {
	// Reload re-navigates so the observer sees the initial data fetch.
	Reload() error
	// ObserveTimeline registers a response observer; must precede Reload.
	ObserveTimeline() (models.TimelineFeed, error)
	ScrollDown(px int) error
	Title() string
	URL() string
	IsPrivate() bool
	Close() error
}

// Session is a live browser session able to open profile tabs.
type Session interface {
	OpenProfile(ctx context.Context, url string) (ProfilePage, error)
}

// SessionPool hands out sessions keyed by account session directory.
type SessionPool interface {
	Acquire(ctx context.Context, key string) (Session, error)
	Release(key string)
}

// Repairer re-runs the login flow for a degraded account session. Invoked
// fire-and-forget; its result is only logged.
type Repairer interface {
	Repair(ctx context.Context, account *models.Account, sessionKey string) error
}
