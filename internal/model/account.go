package model

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// Account is a managed platform identity the scheduler polls.
// Accounts are created and edited through configuration/operator API and
// are read-only to the processing core.
type Account struct {
	ID                  int64          `db:"id" json:"id"`
	Platform            Platform       `db:"platform" json:"platform"`
	AccountID           string         `db:"account_id" json:"account_id"`
	DisplayName         string         `db:"display_name" json:"display_name"`
	CredentialsRef      string         `db:"credentials_ref" json:"-"`
	PollIntervalSeconds int            `db:"poll_interval_seconds" json:"poll_interval_seconds"`
	Enabled             bool           `db:"enabled" json:"enabled"`
	FetchCursor         *string        `db:"fetch_cursor" json:"-"`
	ReplyTone           string         `db:"reply_tone" json:"reply_tone"`
	ReplyMaxLength      int            `db:"reply_max_length" json:"reply_max_length"`
	BannedPhrases       pq.StringArray `db:"banned_phrases" json:"banned_phrases"`
	ReplyLanguage       string         `db:"reply_language" json:"reply_language"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// PollInterval returns the account's cadence as a duration.
func (a *Account) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// Policy returns the account's reply policy knobs.
func (a *Account) Policy() ReplyPolicy {
	return ReplyPolicy{
		Tone:          a.ReplyTone,
		MaxLength:     a.ReplyMaxLength,
		BannedPhrases: a.BannedPhrases,
		Language:      a.ReplyLanguage,
	}
}

// ReplyPolicy holds the per-account knobs the generator must honor.
type ReplyPolicy struct {
	Tone          string   `json:"tone"`
	MaxLength     int      `json:"max_length"`
	BannedPhrases []string `json:"banned_phrases"`
	Language      string   `json:"language"`
}

// Account defaults
const (
	DefaultPollIntervalSeconds = 300
	DefaultReplyMaxLength      = 280
	DefaultReplyTone           = "friendly"
	DefaultReplyLanguage       = "en"
)

// Account errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountDisabled = errors.New("account is disabled")
)
