// Package accounts owns the durable account rotation and health ledger.
// All read-modify-write sequences against the persisted state are serialized
// through one mutex; the state file is rewritten whole after every mutation.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"igharvest/internal/models"
)

// quarantineThreshold is the consecutive-failure count that deactivates an
// account when the failure reason is not critical.
const quarantineThreshold = 3

// criticalPatterns are failure-reason fragments that indicate an
// account-level restriction. Any match quarantines the account immediately,
// regardless of the failure count.
var criticalPatterns = []string{
	"challenge",
	"checkpoint",
	"suspended",
	"banned",
	"disabled",
}

var sessionKeyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Ledger manages account selection and health. One instance per process owns
// the state file.
type Ledger struct {
	mu          sync.Mutex
	accounts    []models.Account
	state       *models.RotationState
	statePath   string
	sessionRoot string
}

// NewLedger loads (or initializes) the rotation state for the configured
// accounts. Accounts keep their configuration order; selection ties resolve
// to the earliest-configured account.
func NewLedger(accounts []models.Account, statePath, sessionRoot string) (*Ledger, error) {
	l := &Ledger{
		accounts:    accounts,
		statePath:   statePath,
		sessionRoot: sessionRoot,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// load reads the persisted state, merging against defaults so that schema
// additions do not break old files.
func (l *Ledger) load() error {
	l.state = models.NewRotationState()

	data, err := os.ReadFile(l.statePath)
	if os.IsNotExist(err) {
		l.ensureHealthLocked()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rotation state: %w", err)
	}

	if err := json.Unmarshal(data, l.state); err != nil {
		// Corrupt state is not fatal; start over rather than refusing to run.
		log.Warn().Err(err).Str("file", l.statePath).Msg("rotation state unreadable, resetting")
		l.state = models.NewRotationState()
	}
	l.state.Normalize()
	l.ensureHealthLocked()
	return nil
}

// ensureHealthLocked creates default health records for newly configured
// accounts. Caller holds l.mu or is still single-threaded in construction.
func (l *Ledger) ensureHealthLocked() {
	for _, acc := range l.accounts {
		if _, ok := l.state.AccountStatus[acc.Username]; !ok {
			l.state.AccountStatus[acc.Username] = models.NewAccountHealth()
		}
	}
}

// persistLocked rewrites the whole state file. Caller holds l.mu.
func (l *Ledger) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(l.statePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rotation state: %w", err)
	}
	if err := os.WriteFile(l.statePath, data, 0644); err != nil {
		return fmt.Errorf("write rotation state: %w", err)
	}
	return nil
}

// SelectLeastUsed picks the active account with the lowest cumulative usage
// count, skipping everything in excluding. Usage counter and timestamp are
// updated and persisted before the account is returned. Returns nil when no
// account is eligible.
func (l *Ledger) SelectLeastUsed(excluding map[string]struct{}) *models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	var picked *models.Account
	best := -1
	for i := range l.accounts {
		acc := &l.accounts[i]
		if _, skip := excluding[acc.Username]; skip {
			continue
		}
		if health, ok := l.state.AccountStatus[acc.Username]; ok && !health.IsActive {
			continue
		}
		count := l.state.UsageCount[acc.Username]
		if best < 0 || count < best {
			best = count
			picked = acc
		}
	}
	if picked == nil {
		return nil
	}

	l.markUsedLocked(picked.Username)
	return picked
}

// SelectRoundRobin advances the persisted cursor and returns the next active
// account, or nil when every account is inactive.
func (l *Ledger) SelectRoundRobin() *models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.accounts) == 0 {
		return nil
	}

	for step := 1; step <= len(l.accounts); step++ {
		idx := (l.state.LastUsedIndex + step) % len(l.accounts)
		acc := &l.accounts[idx]
		if health, ok := l.state.AccountStatus[acc.Username]; ok && !health.IsActive {
			continue
		}
		l.state.LastUsedIndex = idx
		l.markUsedLocked(acc.Username)
		return acc
	}
	return nil
}

// markUsedLocked bumps the usage counter and timestamp and persists. Caller
// holds l.mu.
func (l *Ledger) markUsedLocked(username string) {
	l.state.UsageCount[username]++
	l.state.LastUsed[username] = time.Now()
	if err := l.persistLocked(); err != nil {
		log.Error().Err(err).Msg("persist rotation state after selection")
	}
	log.Debug().
		Str("account", username).
		Int("usage_count", l.state.UsageCount[username]).
		Msg("account selected")
}

// ReportOutcome applies the health transition for one attempt and persists.
// Success resets consecutive failures and reactivates the account. A failure
// increments the counter; the account is quarantined once the counter reaches
// the threshold, or immediately when the reason matches a critical pattern.
func (l *Ledger) ReportOutcome(username string, success bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	health, ok := l.state.AccountStatus[username]
	if !ok {
		health = models.NewAccountHealth()
		l.state.AccountStatus[username] = health
	}

	now := time.Now()
	if success {
		health.IsActive = true
		health.LastSuccess = &now
		health.FailureReason = ""
		health.ConsecutiveFailures = 0
	} else {
		health.LastFailure = &now
		health.FailureReason = reason
		health.ConsecutiveFailures++

		if health.ConsecutiveFailures >= quarantineThreshold || IsCriticalReason(reason) {
			if health.IsActive {
				log.Warn().
					Str("account", username).
					Str("reason", reason).
					Int("consecutive_failures", health.ConsecutiveFailures).
					Msg("account quarantined")
			}
			health.IsActive = false
		}
	}

	if err := l.persistLocked(); err != nil {
		log.Error().Err(err).Msg("persist rotation state after outcome")
	}
}

// IsCriticalReason reports whether a failure reason indicates an
// account-level restriction warranting immediate quarantine.
func IsCriticalReason(reason string) bool {
	lower := strings.ToLower(reason)
	for _, p := range criticalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// SessionKeyFor derives the filesystem-safe profile directory name of an
// account and makes sure the directory exists.
func (l *Ledger) SessionKeyFor(account *models.Account) (string, error) {
	key := sessionKeyUnsafe.ReplaceAllString(account.Username, "_")
	dir := filepath.Join(l.sessionRoot, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return key, nil
}

// SessionDir returns the profile directory for a session key.
func (l *Ledger) SessionDir(key string) string {
	return filepath.Join(l.sessionRoot, key)
}

// Status summarizes the ledger for observability.
func (l *Ledger) Status() models.LedgerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := models.LedgerStatus{Total: len(l.accounts)}
	for _, acc := range l.accounts {
		health := l.state.AccountStatus[acc.Username]
		if health == nil {
			health = models.NewAccountHealth()
		}
		if health.IsActive {
			status.Active++
		} else {
			status.Inactive++
		}
		status.Accounts = append(status.Accounts, models.AccountReport{
			Username:            acc.Username,
			IsActive:            health.IsActive,
			UsageCount:          l.state.UsageCount[acc.Username],
			ConsecutiveFailures: health.ConsecutiveFailures,
			FailureReason:       health.FailureReason,
			LastSuccess:         health.LastSuccess,
			LastFailure:         health.LastFailure,
		})
	}
	return status
}

// UsageCount returns the persisted usage counter of one account.
func (l *Ledger) UsageCount(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.UsageCount[username]
}

// Health returns a copy of one account's health record.
func (l *Ledger) Health(username string) models.AccountHealth {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.state.AccountStatus[username]; ok {
		return *h
	}
	return *models.NewAccountHealth()
}
