package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"igharvest/internal/accounts"
	"igharvest/internal/browser"
	"igharvest/internal/config"
	"igharvest/internal/models"
)

// Options tunes a single-target scrape.
type Options struct {
	Limit int       // max posts; 0 uses the configured default
	Since time.Time // drop posts older than this; zero disables
}

// BatchOptions tunes a multi-target scrape.
type BatchOptions struct {
	Limit          int
	Since          time.Time
	SinceOverrides map[string]time.Time // per-target date-filter overrides

	// OnOutcome, when set, is called once per target as its outcome is
	// finalized. Calls are serialized; a retried target is reported only
	// after its final attempt.
	OnOutcome func(models.ScrapeOutcome)
}

// Orchestrator coordinates account selection, session acquisition and the
// extraction algorithm, retrying failed attempts across accounts.
type Orchestrator struct {
	ledger *accounts.Ledger
	pool   SessionPool
	repair Repairer
	cfg    config.ScrapeConfig

	// Pacing is injectable so tests run the loops without sleeping.
	pause       func(min, max time.Duration)
	scrollDelta func(min, max int) int
}

// New builds an orchestrator. Zero config fields fall back to defaults.
func New(ledger *accounts.Ledger, pool SessionPool, repair Repairer, cfg config.ScrapeConfig) *Orchestrator {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 12
	}
	if cfg.StaleScrollLimit <= 0 {
		cfg.StaleScrollLimit = 5
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 2
	}
	if cfg.BatchMaxTargets <= 0 {
		cfg.BatchMaxTargets = 5
	}
	return &Orchestrator{
		ledger:      ledger,
		pool:        pool,
		repair:      repair,
		cfg:         cfg,
		pause:       browser.Pause,
		scrollDelta: browser.ScrollDelta,
	}
}

// ScrapeProfile runs the single-target state machine:
// SELECT_ACCOUNT -> ATTEMPT -> (SUCCESS | FAILURE -> SELECT_ACCOUNT | EXHAUSTED).
// Each failed account is reported to the ledger, scheduled for repair and
// added to the exclusion set before the next selection.
func (o *Orchestrator) ScrapeProfile(ctx context.Context, target string, opts Options) (*models.ScrapeOutcome, error) {
	excluded := make(map[string]struct{})

	for {
		account := o.ledger.SelectLeastUsed(excluded)
		if account == nil {
			log.Error().Str("target", target).Msg("no eligible account left")
			return nil, ErrAllAccountsExhausted
		}

		outcome, err := o.attemptWithAccount(ctx, account, target, opts.Limit, o.sinceFor(target, opts.Since, nil))
		if err == nil {
			o.ledger.ReportOutcome(account.Username, true, "")
			return outcome, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Warn().
			Err(err).
			Str("target", target).
			Str("account", account.Username).
			Msg("attempt failed, rotating account")

		o.ledger.ReportOutcome(account.Username, false, err.Error())
		o.spawnRepair(account)
		excluded[account.Username] = struct{}{}
	}
}

// attemptWithAccount acquires the account's session and runs one attempt.
func (o *Orchestrator) attemptWithAccount(ctx context.Context, account *models.Account, target string, limit int, since time.Time) (*models.ScrapeOutcome, error) {
	key, err := o.ledger.SessionKeyFor(account)
	if err != nil {
		return nil, err
	}
	sess, err := o.pool.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return o.attempt(ctx, sess, account, target, limit, since)
}

// attempt opens a tab on the target profile, verifies the session is still
// authenticated, short-circuits private profiles, and runs extraction. The
// tab is always closed regardless of outcome.
func (o *Orchestrator) attempt(ctx context.Context, sess Session, account *models.Account, target string, limit int, since time.Time) (*models.ScrapeOutcome, error) {
	if limit <= 0 {
		limit = o.cfg.DefaultLimit
	}

	page, err := sess.OpenProfile(ctx, ProfileURL(target))
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", target, err)
	}
	defer page.Close()

	if strings.Contains(page.URL(), "/accounts/login") {
		return nil, fmt.Errorf("%w: redirected to login wall", ErrSessionInvalid)
	}
	title := strings.ToLower(page.Title())
	if strings.Contains(title, "login") {
		return nil, fmt.Errorf("%w: login page title", ErrSessionInvalid)
	}
	if strings.Contains(title, "error") || strings.Contains(title, "not found") {
		return nil, fmt.Errorf("error page for %s: %q", target, page.Title())
	}

	// A private profile is not a failure of the bot account: report it as a
	// successful-but-empty outcome.
	if page.IsPrivate() {
		log.Info().Str("target", target).Msg("profile is private")
		return &models.ScrapeOutcome{
			Success:     true,
			Username:    target,
			Posts:       []models.Post{},
			ScrapedWith: account.Username,
			ScrapedAt:   time.Now(),
			Error:       "Account is private",
		}, nil
	}

	posts, captured, err := o.extractPosts(page, target, limit)
	if err != nil {
		return nil, err
	}
	if !captured {
		// Likely an account restriction; surfaced in the outcome, not as an
		// error.
		log.Warn().
			Str("target", target).
			Str("account", account.Username).
			Msg("no timeline payload captured")
	}

	posts = filterSince(posts, since)

	return &models.ScrapeOutcome{
		Success:         true,
		Username:        target,
		Posts:           posts,
		ScrapedWith:     account.Username,
		ScrapedAt:       time.Now(),
		GraphQLCaptured: captured,
	}, nil
}

// ScrapeBatch fans N targets out across tabs of a single account's session,
// in fixed-size windows with a pacing delay between windows. The whole batch
// commits to one account to keep a consistent behavioral fingerprint; if the
// account throws, only the not-yet-completed targets move to the next
// account. Completed results are never re-fetched.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, targets []string, opts BatchOptions) (*models.BatchOutcome, error) {
	if len(targets) == 0 {
		return &models.BatchOutcome{}, nil
	}
	if len(targets) > o.cfg.BatchMaxTargets {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(targets), o.cfg.BatchMaxTargets)
	}

	excluded := make(map[string]struct{})
	completed := make(map[string]models.ScrapeOutcome)
	pending := append([]string(nil), targets...)

	for len(pending) > 0 {
		account := o.ledger.SelectLeastUsed(excluded)
		if account == nil {
			log.Error().Int("remaining", len(pending)).Msg("batch: accounts exhausted")
			if len(completed) == 0 {
				return nil, ErrAllAccountsExhausted
			}
			for _, target := range pending {
				outcome := models.ScrapeOutcome{
					Username:  target,
					ScrapedAt: time.Now(),
					Error:     ErrAllAccountsExhausted.Error(),
				}
				completed[target] = outcome
				notifyOutcome(opts, outcome)
			}
			break
		}

		done, failErr := o.runBatchAccount(ctx, account, pending, opts, completed)
		pending = remaining(pending, completed)

		if failErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().
				Err(failErr).
				Str("account", account.Username).
				Int("completed", done).
				Msg("batch account failed, moving remaining targets")
			o.ledger.ReportOutcome(account.Username, false, failErr.Error())
			o.spawnRepair(account)
			excluded[account.Username] = struct{}{}
			continue
		}

		o.ledger.ReportOutcome(account.Username, true, "")
	}

	out := &models.BatchOutcome{Requested: len(targets)}
	for _, target := range targets {
		outcome := completed[target]
		out.Outcomes = append(out.Outcomes, outcome)
		if outcome.Success {
			out.Succeeded++
		}
	}
	return out, nil
}

// runBatchAccount processes targets with one account's shared session,
// window by window. Returns how many targets completed and the first error
// that broke the account, if any. The session is released either way to
// bound memory.
func (o *Orchestrator) runBatchAccount(ctx context.Context, account *models.Account, targets []string, opts BatchOptions, completed map[string]models.ScrapeOutcome) (int, error) {
	key, err := o.ledger.SessionKeyFor(account)
	if err != nil {
		return 0, err
	}
	sess, err := o.pool.Acquire(ctx, key)
	if err != nil {
		return 0, err
	}
	defer o.pool.Release(key)

	done := 0
	for start := 0; start < len(targets); start += o.cfg.BatchWindow {
		end := start + o.cfg.BatchWindow
		if end > len(targets) {
			end = len(targets)
		}
		window := targets[start:end]

		type result struct {
			target  string
			outcome *models.ScrapeOutcome
			err     error
		}
		results := make([]result, len(window))

		// Tabs within one window run in parallel; windows are strictly
		// sequential.
		var wg sync.WaitGroup
		for i, target := range window {
			wg.Add(1)
			go func(i int, target string) {
				defer wg.Done()
				outcome, err := o.attempt(ctx, sess, account, target, opts.Limit, o.sinceFor(target, opts.Since, opts.SinceOverrides))
				results[i] = result{target: target, outcome: outcome, err: err}
			}(i, target)
		}
		wg.Wait()

		var windowErr error
		for _, r := range results {
			if r.err != nil {
				if windowErr == nil {
					windowErr = r.err
				}
				continue
			}
			completed[r.target] = *r.outcome
			done++
			notifyOutcome(opts, *r.outcome)
		}
		if windowErr != nil {
			return done, windowErr
		}

		if end < len(targets) {
			o.pause(o.cfg.WindowPause, o.cfg.WindowPause+2*time.Second)
		}
	}

	return done, nil
}

// spawnRepair schedules the fire-and-forget session repair for a degraded
// account. The caller never waits on it; the result is only logged.
func (o *Orchestrator) spawnRepair(account *models.Account) {
	if o.repair == nil {
		return
	}
	key, err := o.ledger.SessionKeyFor(account)
	if err != nil {
		log.Error().Err(err).Str("account", account.Username).Msg("repair: session key")
		return
	}
	acc := *account
	go func() {
		if err := o.repair.Repair(context.Background(), &acc, key); err != nil {
			log.Warn().Err(err).Str("account", acc.Username).Msg("session repair failed")
			return
		}
		log.Info().Str("account", acc.Username).Msg("session repaired")
	}()
}

// notifyOutcome reports one finalized outcome to the batch progress callback.
func notifyOutcome(opts BatchOptions, outcome models.ScrapeOutcome) {
	if opts.OnOutcome != nil {
		opts.OnOutcome(outcome)
	}
}

// sinceFor resolves the effective date threshold for one target.
func (o *Orchestrator) sinceFor(target string, base time.Time, overrides map[string]time.Time) time.Time {
	if overrides != nil {
		if t, ok := overrides[strings.ToLower(target)]; ok {
			return t
		}
	}
	return base
}

// remaining filters targets down to those without a completed outcome.
func remaining(targets []string, completed map[string]models.ScrapeOutcome) []string {
	var left []string
	for _, t := range targets {
		if _, ok := completed[t]; !ok {
			left = append(left, t)
		}
	}
	return left
}

// ProfileURL builds the canonical profile address for a target username.
func ProfileURL(username string) string {
	return "https://www.instagram.com/" + url.PathEscape(username) + "/"
}
