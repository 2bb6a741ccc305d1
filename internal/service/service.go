// Package service is the request boundary: it composes the result cache,
// admission control and the orchestrator, and binds the concrete browser
// pool to the scraper's driver interfaces.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"igharvest/internal/accounts"
	"igharvest/internal/browser"
	"igharvest/internal/config"
	"igharvest/internal/models"
	"igharvest/internal/scraper"
)

// Service serves scrape requests: cache check first for every target, a
// slot and the orchestrator only for cache misses.
type Service struct {
	ledger  *accounts.Ledger
	pool    *browser.Pool
	orch    *scraper.Orchestrator
	limiter *Limiter
	cache   *ResultCache
}

// New wires the full scraping stack from configuration.
func New(cfg *config.Config) (*Service, error) {
	ledger, err := accounts.NewLedger(cfg.Accounts, cfg.State.File, cfg.Browser.SessionRoot)
	if err != nil {
		return nil, err
	}

	pool := browser.NewPool(cfg.Browser)
	sessions := rodSessions{pool: pool}
	repairer := sessionRepairer{pool: pool}
	orch := scraper.New(ledger, sessions, repairer, cfg.Scrape)

	return &Service{
		ledger:  ledger,
		pool:    pool,
		orch:    orch,
		limiter: NewLimiter(cfg.MaxConcurrent()),
		cache:   NewResultCache(cfg.Service.CacheTTL),
	}, nil
}

// FetchProfile serves one target: cached outcome if fresh (bypassing
// admission entirely), otherwise a slot is claimed and the orchestrator runs.
func (s *Service) FetchProfile(ctx context.Context, target string, opts scraper.Options) (*models.ScrapeOutcome, error) {
	if cached := s.cache.Get(target); cached != nil {
		log.Debug().Str("target", target).Msg("served from cache")
		return cached, nil
	}

	if err := s.limiter.AcquireSlot(); err != nil {
		return nil, err
	}
	defer s.limiter.ReleaseSlot()

	requestID := uuid.New().String()
	log.Info().
		Str("request_id", requestID).
		Str("target", target).
		Int("limit", opts.Limit).
		Msg("scrape request admitted")

	outcome, err := s.orch.ScrapeProfile(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	if outcome.Success {
		s.cache.Put(target, *outcome)
	}
	return outcome, nil
}

// FetchBatch serves N targets, merging cached outcomes with freshly scraped
// ones. Only the cache misses consume an admission slot and browser time.
func (s *Service) FetchBatch(ctx context.Context, targets []string, opts scraper.BatchOptions) (*models.BatchOutcome, error) {
	cached := make(map[string]*models.ScrapeOutcome)
	var misses []string
	for _, target := range targets {
		if outcome := s.cache.Get(target); outcome != nil {
			cached[target] = outcome
			if opts.OnOutcome != nil {
				opts.OnOutcome(*outcome)
			}
		} else {
			misses = append(misses, target)
		}
	}

	fresh := make(map[string]models.ScrapeOutcome)
	if len(misses) > 0 {
		if err := s.limiter.AcquireSlot(); err != nil {
			return nil, err
		}
		requestID := uuid.New().String()
		log.Info().
			Str("request_id", requestID).
			Int("targets", len(misses)).
			Int("cached", len(cached)).
			Msg("batch request admitted")

		batch, err := s.orch.ScrapeBatch(ctx, misses, opts)
		s.limiter.ReleaseSlot()
		if err != nil {
			return nil, err
		}
		for _, outcome := range batch.Outcomes {
			fresh[outcome.Username] = outcome
			if outcome.Success {
				s.cache.Put(outcome.Username, outcome)
			}
		}
	}

	out := &models.BatchOutcome{Requested: len(targets)}
	for _, target := range targets {
		var outcome models.ScrapeOutcome
		if c, ok := cached[target]; ok {
			outcome = *c
		} else {
			outcome = fresh[target]
		}
		out.Outcomes = append(out.Outcomes, outcome)
		if outcome.Success {
			out.Succeeded++
		}
	}
	return out, nil
}

// Status reports the account ledger summary.
func (s *Service) Status() models.LedgerStatus {
	return s.ledger.Status()
}

// Shutdown closes every live browser session. Idempotent.
func (s *Service) Shutdown() {
	s.pool.Shutdown()
}

// rodSessions adapts the browser pool to the scraper's SessionPool.
type rodSessions struct {
	pool *browser.Pool
}

func (r rodSessions) Acquire(ctx context.Context, key string) (scraper.Session, error) {
	sess, err := r.pool.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return rodSession{pool: r.pool, sess: sess}, nil
}

func (r rodSessions) Release(key string) {
	r.pool.Release(key)
}

// rodSession adapts one live session to the scraper's Session.
type rodSession struct {
	pool *browser.Pool
	sess *browser.Session
}

func (r rodSession) OpenProfile(ctx context.Context, url string) (scraper.ProfilePage, error) {
	tab, err := r.pool.CreateTab(ctx, r.sess, url)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// sessionRepairer implements scraper.Repairer: close the broken session,
// relaunch, and re-run the login flow if the cookies no longer hold.
type sessionRepairer struct {
	pool *browser.Pool
}

func (r sessionRepairer) Repair(ctx context.Context, account *models.Account, sessionKey string) error {
	r.pool.Release(sessionKey)

	sess, err := r.pool.Acquire(ctx, sessionKey)
	if err != nil {
		return err
	}
	if r.pool.LoggedIn(ctx, sess) {
		return nil
	}
	return r.pool.Login(ctx, sess, account)
}
