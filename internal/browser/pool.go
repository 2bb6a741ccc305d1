// Package browser owns persistent browser sessions, one per account profile
// directory. The pool guarantees at most one live browser per session key,
// collapses concurrent launch requests for the same key into a single launch,
// and reaps stale profile locks and runaway browser processes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"igharvest/internal/config"
)

var (
	// ErrPoolClosed is returned by Acquire after Shutdown.
	ErrPoolClosed = errors.New("session pool closed")
	// ErrLaunchFailed wraps the underlying cause when a browser cannot start.
	ErrLaunchFailed = errors.New("browser launch failed")
)

// staleLockFiles are Chromium single-instance artifacts that survive an
// unclean shutdown and block relaunch of the same profile directory.
var staleLockFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// liveProbeInterval paces the per-session background liveness probe.
const liveProbeInterval = 30 * time.Second

// Session is one live persistent browser context tied to a session key.
// Exclusively owned by the pool; only the pool may close it.
type Session struct {
	Key        string
	Browser    *rod.Browser
	LaunchedAt time.Time

	// cancel tears down the session's context and stops its watcher.
	cancel context.CancelFunc
}

// launchCall deduplicates concurrent launches for the same key. Later
// callers wait on done instead of racing a duplicate browser process.
type launchCall struct {
	done chan struct{}
	sess *Session
	err  error
}

// Pool manages the live session map and in-flight launch registry.
type Pool struct {
	mu       sync.Mutex
	live     map[string]*Session
	inflight map[string]*launchCall
	closed   bool

	cfg         config.BrowserConfig
	sessionRoot string

	// launch and probe are swappable in tests so no browser process is
	// needed.
	launch        func(key string) (*rod.Browser, error)
	probe         func(sess *Session) bool
	probeInterval time.Duration

	reaper *Reaper
}

// NewPool creates a session pool and starts the background process reaper.
func NewPool(cfg config.BrowserConfig) *Pool {
	p := &Pool{
		live:        make(map[string]*Session),
		inflight:    make(map[string]*launchCall),
		cfg:         cfg,
		sessionRoot: cfg.SessionRoot,
	}
	p.launch = p.launchBrowser
	p.probe = (*Session).alive
	p.probeInterval = liveProbeInterval
	p.reaper = NewReaper(cfg.ReaperInterval, cfg.ReaperMaxRSS)
	p.reaper.Start()
	return p
}

// Acquire returns the live session for key, launching one if needed. All
// launches for the same key are totally ordered; concurrent callers observe
// exactly one launch and share its result.
func (p *Pool) Acquire(ctx context.Context, key string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if sess, ok := p.live[key]; ok {
		if p.probe(sess) {
			p.mu.Unlock()
			return sess, nil
		}
		// Connection is gone; drop the entry and relaunch below.
		delete(p.live, key)
		log.Warn().Str("session", key).Msg("live session lost its connection, relaunching")
	}

	if call, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		select {
		case <-call.done:
			return call.sess, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &launchCall{done: make(chan struct{})}
	p.inflight[key] = call
	p.mu.Unlock()

	call.sess, call.err = p.doLaunch(key)

	p.mu.Lock()
	delete(p.inflight, key)
	if call.err == nil {
		if p.closed {
			// Shutdown raced the launch; do not leak the browser.
			call.err = ErrPoolClosed
			go call.sess.close()
			call.sess = nil
		} else {
			p.live[key] = call.sess
		}
	}
	p.mu.Unlock()
	close(call.done)

	return call.sess, call.err
}

// doLaunch clears stale profile locks, launches a browser and starts the
// session's liveness watcher.
func (p *Pool) doLaunch(key string) (*Session, error) {
	p.clearStaleLocks(key)

	b, err := p.launch(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, key, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if b != nil {
		b = b.Context(ctx)
	}
	sess := &Session{Key: key, Browser: b, LaunchedAt: time.Now(), cancel: cancel}
	go p.watchSession(ctx, key, sess)

	log.Info().Str("session", key).Msg("browser session launched")
	return sess, nil
}

// watchSession probes the session's connection in the background and removes
// the session from the live map once the browser stops answering, whether by
// crash or by a killed process. It exits when the session is closed.
func (p *Pool) watchSession(ctx context.Context, key string, sess *Session) {
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.probe(sess) {
			continue
		}

		p.mu.Lock()
		if cur, ok := p.live[key]; ok && cur == sess {
			delete(p.live, key)
			log.Warn().Str("session", key).Msg("browser disconnected, session removed")
		}
		p.mu.Unlock()

		sess.close()
		return
	}
}

// launchBrowser starts a Chromium process bound to the key's persistent
// profile directory and connects over CDP.
func (p *Pool) launchBrowser(key string) (*rod.Browser, error) {
	l := launcher.New().
		Headless(p.cfg.Headless).
		UserDataDir(p.profileDir(key)).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("accept-lang", "en-US,en").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-first-run").
		Set("window-size", "1280,900")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return b, nil
}

// profileDir returns the persistent profile directory for a session key.
func (p *Pool) profileDir(key string) string {
	return filepath.Join(p.sessionRoot, key)
}

// clearStaleLocks removes Chromium single-instance lock artifacts left by an
// unclean shutdown. Best effort; a missing file is the normal case.
func (p *Pool) clearStaleLocks(key string) {
	dir := p.profileDir(key)
	for _, name := range staleLockFiles {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed stale profile lock")
		}
	}
}

// Release force-closes the whole session for key, all tabs included, and
// removes it from the live map. Used after a batch to reclaim memory.
func (p *Pool) Release(key string) {
	p.mu.Lock()
	sess, ok := p.live[key]
	if ok {
		delete(p.live, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	log.Info().Str("session", key).Msg("session released")
}

// Shutdown closes every live session and stops the reaper. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.live))
	for _, s := range p.live {
		sessions = append(sessions, s)
	}
	p.live = make(map[string]*Session)
	p.mu.Unlock()

	p.reaper.Stop()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, sess := range sessions {
		sess := sess
		eg.Go(func() error {
			sess.close()
			return nil
		})
	}
	_ = eg.Wait()

	log.Info().Int("sessions", len(sessions)).Msg("session pool shut down")
}

// LiveCount returns the number of live sessions.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// alive probes the CDP connection. A session without a browser (tests) is
// considered alive.
func (s *Session) alive() bool {
	if s.Browser == nil {
		return true
	}
	_, err := proto.BrowserGetVersion{}.Call(s.Browser)
	return err == nil
}

// close shuts the browser down and stops the session's watcher, swallowing
// errors from an already-dead process. Safe to call more than once.
func (s *Session) close() {
	if s.cancel != nil {
		defer s.cancel()
	}
	if s.Browser == nil {
		return
	}
	if err := s.Browser.Close(); err != nil {
		log.Debug().Err(err).Str("session", s.Key).Msg("browser close")
	}
}
