package model

import (
	"errors"
	"time"
)

// CommentStatus tracks where a comment sits in the reply pipeline.
// Statuses only move forward: new -> reply_pending -> replied|skipped|failed.
// A comment never re-enters "new" once it leaves it.
type CommentStatus string

const (
	StatusNew          CommentStatus = "new"
	StatusReplyPending CommentStatus = "reply_pending"
	StatusReplied      CommentStatus = "replied"
	StatusSkipped      CommentStatus = "skipped"
	StatusFailed       CommentStatus = "failed"
)

// CommentKind is the cheap keyword classification of a comment.
// Spam comments are skipped instead of replied; the rest shape the
// generation prompt.
type CommentKind string

const (
	KindLead      CommentKind = "lead"
	KindPraise    CommentKind = "praise"
	KindQuestion  CommentKind = "question"
	KindComplaint CommentKind = "complaint"
	KindSpam      CommentKind = "spam"
	KindGeneral   CommentKind = "general"
)

// Comment is one external comment pulled from a platform.
// (platform, account_id, platform_comment_id) is globally unique and is
// the deduplication key.
type Comment struct {
	ID                int64         `db:"id" json:"id"`
	AccountPK         int64         `db:"account_pk" json:"-"`
	Platform          Platform      `db:"platform" json:"platform"`
	AccountID         string        `db:"account_id" json:"account_id"`
	PlatformCommentID string        `db:"platform_comment_id" json:"platform_comment_id"`
	ParentPostID      string        `db:"parent_post_id" json:"parent_post_id"`
	Author            string        `db:"author" json:"author"`
	Body              string        `db:"body" json:"body"`
	Kind              CommentKind   `db:"kind" json:"kind"`
	PostedAt          time.Time     `db:"posted_at" json:"posted_at"`
	Status            CommentStatus `db:"status" json:"status"`
	ClaimedAt         *time.Time    `db:"claimed_at" json:"-"`
	StatusReason      *string       `db:"status_reason" json:"status_reason,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	Reply             *Reply        `json:"reply,omitempty"` // Joined field
}

// RawComment is a platform adapter's wire-level view of a comment, before
// it has been deduplicated into the store.
type RawComment struct {
	PlatformCommentID string    `json:"platform_comment_id"`
	ParentPostID      string    `json:"parent_post_id"`
	Author            string    `json:"author"`
	Body              string    `json:"body"`
	PostedAt          time.Time `json:"posted_at"`
}

// CommentListResponse is the paginated comment list response.
type CommentListResponse struct {
	Comments   []Comment `json:"comments"`
	NextCursor *string   `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// Comment errors
var (
	ErrCommentNotFound        = errors.New("comment not found")
	ErrAlreadyClaimed         = errors.New("comment already claimed by another run")
	ErrInvalidStateTransition = errors.New("invalid comment status transition")
)
