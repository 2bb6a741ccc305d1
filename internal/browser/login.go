package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"igharvest/internal/models"
)

const (
	baseURL  = "https://www.instagram.com/"
	loginURL = "https://www.instagram.com/accounts/login/"
)

// ErrLoginTimeout is returned when the login flow does not complete within
// the configured login timeout. Unlike page-load waits, this one fails the
// repair.
var ErrLoginTimeout = errors.New("login flow timed out")

// LoggedIn checks whether the session's cookies still authenticate: loading
// the home page while logged out redirects to the login wall.
func (p *Pool) LoggedIn(ctx context.Context, sess *Session) bool {
	tab, err := p.CreateTab(ctx, sess, baseURL)
	if err != nil {
		return false
	}
	defer p.CloseTab(tab)

	return !strings.Contains(tab.URL(), "/accounts/login") && !strings.Contains(tab.URL(), "/challenge")
}

// Login runs the credential login flow for the session's account: fill both
// fields with paced typing, submit, then wait (bounded by the login timeout)
// for the page to leave the login wall. Used by session repair.
func (p *Pool) Login(ctx context.Context, sess *Session, account *models.Account) error {
	tab, err := p.CreateTab(ctx, sess, loginURL)
	if err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	defer p.CloseTab(tab)

	page := tab.page

	userField, err := page.Timeout(10 * time.Second).Element(`input[name="username"]`)
	if err != nil {
		// No form usually means the cookies are still valid.
		if !strings.Contains(tab.URL(), "/accounts/login") {
			log.Debug().Str("account", account.Username).Msg("already logged in")
			return nil
		}
		return fmt.Errorf("username field: %w", err)
	}
	if err := userField.Input(account.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	Pause(400*time.Millisecond, 900*time.Millisecond)

	passField, err := page.Timeout(10 * time.Second).Element(`input[name="password"]`)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := passField.Input(account.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	Pause(300*time.Millisecond, 800*time.Millisecond)

	submit, err := page.Timeout(10 * time.Second).Element(`button[type="submit"]`)
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}

	deadline := time.Now().Add(p.cfg.LoginTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}

		url := tab.URL()
		if strings.Contains(url, "/challenge") {
			return fmt.Errorf("login challenge presented for %s", account.Username)
		}
		if url != "" && !strings.Contains(url, "/accounts/login") {
			log.Info().Str("account", account.Username).Msg("login completed")
			return nil
		}
	}

	return ErrLoginTimeout
}
