package model

import (
	"errors"
	"time"
)

// RunSummary aggregates the outcome of one processor run for one account.
// It is the only failure signal surfaced upward: per-comment errors are
// folded into the counts and LastError, never propagated raw.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	AccountPK  int64     `json:"account_pk"`
	Platform   Platform  `json:"platform"`
	AccountID  string    `json:"account_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	New        int       `json:"new"`
	Posted     int       `json:"posted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	LastError  string    `json:"last_error,omitempty"`
}

// Platform adapter / upstream error taxonomy.
//
// RateLimited is a deferral, not a failure: the run leaves the remaining
// comments claimed and the next run reclaims them. AuthFailed is fatal
// for the account until its credentials are refreshed. Transient network
// errors are retried with bounded backoff before counting as a failure.
var (
	ErrRateLimited           = errors.New("platform rate limit exceeded")
	ErrAuthFailed            = errors.New("platform authentication failed")
	ErrTransientNetwork      = errors.New("transient network error")
	ErrGenerationUnavailable = errors.New("reply generation unavailable")
	ErrRunAlreadyInProgress  = errors.New("a run is already in progress for this account")
)
