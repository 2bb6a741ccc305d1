package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"igharvest/internal/models"
)

// timelineAPIPath identifies profile-timeline responses worth capturing.
const timelineAPIPath = "/api/v1/feed/user/"

// userAgents is a small rotation of realistic desktop user agents applied
// per tab.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Tab is one page within a session, disposable per scrape attempt.
type Tab struct {
	page *rod.Page
	key  string
}

// CreateTab reuses an existing blank tab of the session or opens a new one,
// applies a randomized user agent, attaches the network control channel
// (non-fatal if unavailable) and navigates, waiting only for DOM-ready so
// latency stays bounded. A navigation timeout degrades to proceed-anyway.
func (p *Pool) CreateTab(ctx context.Context, sess *Session, url string) (*Tab, error) {
	page, err := p.blankPage(sess)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	page = page.Context(ctx)

	ua := userAgents[rand.Intn(len(userAgents))]
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		log.Warn().Err(err).Msg("set user agent")
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		// Capture still works without it on most targets; not fatal.
		log.Debug().Err(err).Msg("network control channel unavailable")
	}

	timed := page.Timeout(p.cfg.NavTimeout)
	wait := timed.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := timed.Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()

	return &Tab{page: page, key: sess.Key}, nil
}

// blankPage reuses an about:blank tab when one exists, otherwise opens a
// fresh one.
func (p *Pool) blankPage(sess *Session) (*rod.Page, error) {
	pages, err := sess.Browser.Pages()
	if err == nil {
		for _, pg := range pages {
			info, err := pg.Info()
			if err == nil && info.URL == "about:blank" {
				return pg, nil
			}
		}
	}
	return sess.Browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// CloseTab closes a single tab without affecting the rest of the session.
// Tolerates the tab already being closed.
func (p *Pool) CloseTab(tab *Tab) {
	if tab == nil || tab.page == nil {
		return
	}
	if err := tab.page.Close(); err != nil {
		log.Debug().Err(err).Str("session", tab.key).Msg("tab close")
	}
}

// URL returns the tab's current address, empty when the page is gone.
func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title returns the page title, empty when the page is gone.
func (t *Tab) Title() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// Reload reloads the page so a fresh initial data fetch flows past any
// already-registered observer.
func (t *Tab) Reload() error {
	return t.page.Reload()
}

// ScrollDown scrolls the viewport downward by px using wheel input.
func (t *Tab) ScrollDown(px int) error {
	return t.page.Mouse.Scroll(0, float64(px), 4)
}

// IsPrivate probes the DOM for the private-account marker. A transient DOM
// mismatch returns false, which the orchestrator treats as "not private".
func (t *Tab) IsPrivate() bool {
	has, _, err := t.page.Timeout(3 * time.Second).HasR("h2, span", "(?i)this account is private")
	if err != nil {
		return false
	}
	return has
}

// Close closes the underlying page; safe on an already-closed tab.
func (t *Tab) Close() error {
	if err := t.page.Close(); err != nil {
		log.Debug().Err(err).Msg("tab close")
	}
	return nil
}

// timelineCapture is the append-only sequence of captured timeline payloads
// for one observation.
type timelineCapture struct {
	mu       sync.Mutex
	payloads []models.TimelinePayload
	cancel   context.CancelFunc
}

// ObserveTimeline registers a response observer on the tab. It must be
// called before the navigation/reload producing the target traffic, and the
// returned feed must be stopped to detach the listener.
func (t *Tab) ObserveTimeline() (models.TimelineFeed, error) {
	ctx, cancel := context.WithCancel(t.page.GetContext())
	capture := &timelineCapture{cancel: cancel}
	observed := t.page.Context(ctx)

	go observed.EachEvent(func(e *proto.NetworkResponseReceived) {
		if !strings.Contains(e.Response.URL, timelineAPIPath) {
			return
		}

		body, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(observed)
		if err != nil {
			log.Debug().Err(err).Str("url", e.Response.URL).Msg("timeline body unavailable")
			return
		}

		raw := []byte(body.Body)
		if body.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body.Body)
			if err != nil {
				return
			}
			raw = decoded
		}

		var payload models.TimelinePayload
		// Parse failures are swallowed; that payload is simply dropped.
		if err := json.Unmarshal(raw, &payload); err != nil {
			return
		}
		if len(payload.Items) == 0 {
			return
		}

		capture.mu.Lock()
		capture.payloads = append(capture.payloads, payload)
		capture.mu.Unlock()

		log.Debug().
			Str("url", e.Response.URL).
			Int("items", len(payload.Items)).
			Msg("timeline payload captured")
	})()

	if err := (proto.NetworkEnable{}).Call(observed); err != nil {
		cancel()
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	return capture, nil
}

// Payloads returns a snapshot of everything captured so far.
func (c *timelineCapture) Payloads() []models.TimelinePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TimelinePayload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// EdgeCount sums the items across all captured payloads.
func (c *timelineCapture) EdgeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.payloads {
		n += len(p.Items)
	}
	return n
}

// Stop detaches the listener.
func (c *timelineCapture) Stop() {
	c.cancel()
}
