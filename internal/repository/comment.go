package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"replyflow/internal/model"
)

type commentRepository struct {
	db *sqlx.DB
}

func NewCommentRepository(db *sqlx.DB) CommentRepository {
	return &commentRepository{db: db}
}

const commentColumns = `
	id, account_pk, platform, account_id, platform_comment_id, parent_post_id,
	author, body, kind, posted_at, status, claimed_at, status_reason, created_at
`

// UpsertComments inserts the batch inside one transaction. The dedup key
// (platform, account_id, platform_comment_id) makes re-submission of an
// already-known comment a no-op, so overlapping fetches are safe.
func (r *commentRepository) UpsertComments(ctx context.Context, comments []model.Comment) ([]model.Comment, error) {
	if len(comments) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO comments (account_pk, platform, account_id, platform_comment_id,
		                      parent_post_id, author, body, kind, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (platform, account_id, platform_comment_id) DO NOTHING
		RETURNING ` + commentColumns

	var inserted []model.Comment
	for _, c := range comments {
		var row model.Comment
		err := tx.GetContext(ctx, &row, query,
			c.AccountPK, c.Platform, c.AccountID, c.PlatformCommentID,
			c.ParentPostID, c.Author, c.Body, c.Kind, c.PostedAt)
		if err == sql.ErrNoRows {
			// Already known, dedup hit
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("upsert comment %s: %w", c.PlatformCommentID, err)
		}
		inserted = append(inserted, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

func (r *commentRepository) ListUnanswered(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
	var comments []model.Comment
	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE account_pk = $1 AND status = $2
		ORDER BY posted_at ASC, id ASC
		LIMIT $3
	`
	err := r.db.SelectContext(ctx, &comments, query, accountPK, model.StatusNew, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanswered: %w", err)
	}
	return comments, nil
}

func (r *commentRepository) ListStalePending(ctx context.Context, accountPK int64, staleness time.Duration, limit int) ([]model.Comment, error) {
	var comments []model.Comment
	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE account_pk = $1
		  AND status = $2
		  AND claimed_at < now() - ($3 * interval '1 second')
		ORDER BY posted_at ASC, id ASC
		LIMIT $4
	`
	err := r.db.SelectContext(ctx, &comments, query,
		accountPK, model.StatusReplyPending, staleness.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return comments, nil
}

// Claim moves a comment into reply_pending. The conditional UPDATE is the
// sole mutual-exclusion point between concurrent runs: only one of two
// racing claims matches the WHERE clause. A claim older than the
// staleness window is treated as orphaned and may be taken over.
func (r *commentRepository) Claim(ctx context.Context, commentID int64, staleness time.Duration) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE comments
		SET status = $1, claimed_at = now(), status_reason = NULL
		WHERE id = $2
		  AND (status = $3
		       OR (status = $1 AND claimed_at < now() - ($4 * interval '1 second')))
	`, model.StatusReplyPending, commentID, model.StatusNew, staleness.Seconds())
	if err != nil {
		return fmt.Errorf("claim comment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim comment: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Claim failed: find out why so the caller gets a precise error.
	var status model.CommentStatus
	err = r.db.GetContext(ctx, &status, `SELECT status FROM comments WHERE id = $1`, commentID)
	if err == sql.ErrNoRows {
		return model.ErrCommentNotFound
	}
	if err != nil {
		return fmt.Errorf("claim comment: %w", err)
	}
	if status == model.StatusReplyPending {
		return model.ErrAlreadyClaimed
	}
	return fmt.Errorf("%w: %s -> %s", model.ErrInvalidStateTransition, status, model.StatusReplyPending)
}

// RecordReply stores the reply row and flips the comment to replied in
// one transaction. The comment must currently be claimed (reply_pending).
func (r *commentRepository) RecordReply(ctx context.Context, commentID int64, reply *model.Reply) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE comments
		SET status = $1, status_reason = NULL
		WHERE id = $2 AND status = $3
	`, model.StatusReplied, commentID, model.StatusReplyPending)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	if n == 0 {
		return r.transitionError(ctx, commentID, model.StatusReplied)
	}

	err = tx.GetContext(ctx, reply, `
		INSERT INTO replies (comment_id, generated_text, posted_text, model_used,
		                     platform_reply_id, generated_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, comment_id, generated_text, posted_text, model_used,
		          platform_reply_id, generated_at, posted_at
	`, commentID, reply.GeneratedText, reply.PostedText, reply.ModelUsed,
		reply.PlatformReplyID, reply.GeneratedAt, reply.PostedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return model.ErrReplyExists
		}
		return fmt.Errorf("insert reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *commentRepository) MarkSkipped(ctx context.Context, commentID int64, reason string) error {
	return r.markTerminal(ctx, commentID, model.StatusSkipped, reason)
}

func (r *commentRepository) MarkFailed(ctx context.Context, commentID int64, reason string) error {
	return r.markTerminal(ctx, commentID, model.StatusFailed, reason)
}

// markTerminal moves a comment into a terminal status. Allowed from new
// (e.g. manual skip before any run claims it) or reply_pending; never
// from another terminal status.
func (r *commentRepository) markTerminal(ctx context.Context, commentID int64, status model.CommentStatus, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE comments
		SET status = $1, status_reason = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, status, reason, commentID, model.StatusNew, model.StatusReplyPending)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if n == 0 {
		return r.transitionError(ctx, commentID, status)
	}
	return nil
}

// transitionError reports why a status transition did not apply.
func (r *commentRepository) transitionError(ctx context.Context, commentID int64, target model.CommentStatus) error {
	var current model.CommentStatus
	err := r.db.GetContext(ctx, &current, `SELECT status FROM comments WHERE id = $1`, commentID)
	if err == sql.ErrNoRows {
		return model.ErrCommentNotFound
	}
	if err != nil {
		return fmt.Errorf("check comment status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", model.ErrInvalidStateTransition, current, target)
}

func (r *commentRepository) GetByID(ctx context.Context, commentID int64) (*model.Comment, error) {
	var comment model.Comment
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`
	err := r.db.GetContext(ctx, &comment, query, commentID)
	if err == sql.ErrNoRows {
		return nil, model.ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &comment, nil
}

// ListByAccount returns paginated comments, newest first, with any reply
// joined in for the operator view.
func (r *commentRepository) ListByAccount(ctx context.Context, accountPK int64, status *model.CommentStatus, cursor *string, limit int) ([]model.Comment, *string, error) {
	conds := []string{"c.account_pk = $1"}
	args := []interface{}{accountPK}

	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if cursor != nil {
		id, ts, err := parseCommentCursor(*cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid cursor: %w", err)
		}
		args = append(args, ts, id)
		conds = append(conds, fmt.Sprintf("(c.posted_at, c.id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, limit+1)
	query := fmt.Sprintf(`
		SELECT c.id, c.account_pk, c.platform, c.account_id, c.platform_comment_id,
		       c.parent_post_id, c.author, c.body, c.kind, c.posted_at, c.status,
		       c.claimed_at, c.status_reason, c.created_at,
		       r.id AS reply_id, r.generated_text, r.posted_text, r.model_used,
		       r.platform_reply_id, r.generated_at, r.posted_at AS reply_posted_at
		FROM comments c
		LEFT JOIN replies r ON r.comment_id = c.id
		WHERE %s
		ORDER BY c.posted_at DESC, c.id DESC
		LIMIT $%d
	`, strings.Join(conds, " AND "), len(args))

	type commentRow struct {
		model.Comment
		ReplyID         *int64     `db:"reply_id"`
		GeneratedText   *string    `db:"generated_text"`
		PostedText      *string    `db:"posted_text"`
		ModelUsed       *string    `db:"model_used"`
		PlatformReplyID *string    `db:"platform_reply_id"`
		GeneratedAt     *time.Time `db:"generated_at"`
		ReplyPostedAt   *time.Time `db:"reply_posted_at"`
	}

	var rows []commentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, nil, fmt.Errorf("list comments: %w", err)
	}

	comments := make([]model.Comment, len(rows))
	for i, row := range rows {
		comments[i] = row.Comment
		if row.ReplyID != nil {
			comments[i].Reply = &model.Reply{
				ID:              *row.ReplyID,
				CommentID:       row.Comment.ID,
				GeneratedText:   *row.GeneratedText,
				PostedText:      *row.PostedText,
				ModelUsed:       *row.ModelUsed,
				PlatformReplyID: row.PlatformReplyID,
				GeneratedAt:     *row.GeneratedAt,
				PostedAt:        row.ReplyPostedAt,
			}
		}
	}

	var nextCursor *string
	if len(comments) > limit {
		comments = comments[:limit]
		last := comments[len(comments)-1]
		c := formatCommentCursor(last.ID, last.PostedAt)
		nextCursor = &c
	}

	return comments, nextCursor, nil
}

// Helper: parse comment cursor "id:timestamp"
func parseCommentCursor(cursor string) (int64, time.Time, error) {
	parts := strings.Split(cursor, ":")
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("invalid cursor format")
	}
	var id, ts int64
	if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
		return 0, time.Time{}, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &ts); err != nil {
		return 0, time.Time{}, err
	}
	return id, time.Unix(ts, 0), nil
}

// Helper: format comment cursor "id:timestamp"
func formatCommentCursor(id int64, t time.Time) string {
	return fmt.Sprintf("%d:%d", id, t.Unix())
}
