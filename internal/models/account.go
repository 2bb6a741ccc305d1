package models

import "time"

// Account is one configured scraping credential pair. Immutable at runtime;
// health and usage live in RotationState.
type Account struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// AccountHealth tracks the rolling health of one account.
type AccountHealth struct {
	IsActive            bool       `json:"is_active"`             // false once quarantined
	LastSuccess         *time.Time `json:"last_success"`          // nil until first success
	LastFailure         *time.Time `json:"last_failure"`          // nil until first failure
	FailureReason       string     `json:"failure_reason"`        // last failure message
	ConsecutiveFailures int        `json:"consecutive_failures"`  // reset to 0 on any success
}

// NewAccountHealth returns the default health record for a fresh account.
func NewAccountHealth() *AccountHealth {
	return &AccountHealth{IsActive: true}
}

// RotationState is the persisted rotation/health document. It is the single
// source of truth for account selection and survives restarts; unknown or
// missing fields default instead of erroring so old files keep loading.
type RotationState struct {
	LastUsedIndex int                       `json:"last_used_index"` // round-robin cursor
	UsageCount    map[string]int            `json:"usage_count"`     // username -> cumulative uses
	LastUsed      map[string]time.Time      `json:"last_used"`       // username -> last selection time
	AccountStatus map[string]*AccountHealth `json:"account_status"`  // username -> health
}

// NewRotationState returns an empty state with all maps initialized.
func NewRotationState() *RotationState {
	return &RotationState{
		LastUsedIndex: -1,
		UsageCount:    make(map[string]int),
		LastUsed:      make(map[string]time.Time),
		AccountStatus: make(map[string]*AccountHealth),
	}
}

// Normalize fills in nil maps after a JSON load of an older state file.
func (s *RotationState) Normalize() {
	if s.UsageCount == nil {
		s.UsageCount = make(map[string]int)
	}
	if s.LastUsed == nil {
		s.LastUsed = make(map[string]time.Time)
	}
	if s.AccountStatus == nil {
		s.AccountStatus = make(map[string]*AccountHealth)
	}
}

// AccountReport is one row of the ledger status summary.
type AccountReport struct {
	Username            string     `json:"username"`
	IsActive            bool       `json:"is_active"`
	UsageCount          int        `json:"usage_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// LedgerStatus summarizes the whole ledger for observability.
type LedgerStatus struct {
	Total    int             `json:"total"`
	Active   int             `json:"active"`
	Inactive int             `json:"inactive"`
	Accounts []AccountReport `json:"accounts"`
}
