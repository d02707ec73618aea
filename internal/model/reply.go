package model

import (
	"errors"
	"time"
)

// Reply is the single generated (and possibly posted) response for a
// comment. PostedAt stays nil until the reply has actually been delivered
// to the platform; a non-nil PostedAt implies the owning comment is in
// the replied status.
type Reply struct {
	ID              int64      `db:"id" json:"id"`
	CommentID       int64      `db:"comment_id" json:"comment_id"`
	GeneratedText   string     `db:"generated_text" json:"generated_text"`
	PostedText      string     `db:"posted_text" json:"posted_text"`
	ModelUsed       string     `db:"model_used" json:"model_used"`
	PlatformReplyID *string    `db:"platform_reply_id" json:"platform_reply_id,omitempty"`
	GeneratedAt     time.Time  `db:"generated_at" json:"generated_at"`
	PostedAt        *time.Time `db:"posted_at" json:"posted_at,omitempty"`
}

// ManualReplyRequest is the request body for the manual reply override.
// It bypasses generation entirely: the operator supplies the text, the
// service posts it and records the outcome.
type ManualReplyRequest struct {
	Text string `json:"text"`
}

// SkipCommentRequest is the request body for manually skipping a comment.
type SkipCommentRequest struct {
	Reason string `json:"reason"`
}

// Reply constraints
const (
	MaxReplyLength = 2200
)

// Reply errors
var (
	ErrReplyExists     = errors.New("comment already has a reply")
	ErrContentRequired = errors.New("reply text is required")
	ErrContentTooLong  = errors.New("reply text too long")
)
