package repository

import (
	"context"
	"time"

	"replyflow/internal/model"
)

// AccountRepository reads managed accounts and persists the per-account
// fetch cursor. Accounts themselves are owned by configuration; the core
// only flips the enabled flag (auth failures) and advances the cursor.
type AccountRepository interface {
	List(ctx context.Context) ([]model.Account, error)
	ListEnabled(ctx context.Context) ([]model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	SaveCursor(ctx context.Context, id int64, cursor string) error
}

// CommentRepository is the comment store: the durable record of every
// comment seen and its reply status, and the single point of
// mutual-exclusion enforcement between concurrent runs.
type CommentRepository interface {
	// UpsertComments inserts the batch, ignoring comments whose
	// (platform, account_id, platform_comment_id) key is already known.
	// Returns only the newly inserted rows. Idempotent.
	UpsertComments(ctx context.Context, comments []model.Comment) ([]model.Comment, error)

	// ListUnanswered returns comments still in the new status for the
	// account, oldest first.
	ListUnanswered(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error)

	// ListStalePending returns comments stuck in reply_pending whose claim
	// is older than the staleness window, left behind by a crashed or
	// rate-limit-deferred run.
	ListStalePending(ctx context.Context, accountPK int64, staleness time.Duration, limit int) ([]model.Comment, error)

	// Claim transitions a comment into reply_pending. Exactly one of two
	// concurrent claims succeeds; the loser gets ErrAlreadyClaimed. A
	// reply_pending comment whose claim is older than staleness may be
	// re-claimed.
	Claim(ctx context.Context, commentID int64, staleness time.Duration) error

	// RecordReply stores the reply and moves the owning comment from
	// reply_pending to replied, atomically.
	RecordReply(ctx context.Context, commentID int64, reply *model.Reply) error

	MarkSkipped(ctx context.Context, commentID int64, reason string) error
	MarkFailed(ctx context.Context, commentID int64, reason string) error

	GetByID(ctx context.Context, commentID int64) (*model.Comment, error)

	// ListByAccount returns paginated comments for the operator API,
	// newest first, optionally filtered by status, with replies joined in.
	ListByAccount(ctx context.Context, accountPK int64, status *model.CommentStatus, cursor *string, limit int) ([]model.Comment, *string, error)
}
