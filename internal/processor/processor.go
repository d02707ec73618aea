package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"replyflow/internal/generator"
	"replyflow/internal/model"
	"replyflow/internal/platform"
	"replyflow/internal/queue"
	"replyflow/internal/repository"
)

// Options tunes one processor instance. Zero values fall back to the
// defaults below.
type Options struct {
	MaxCommentsPerRun int
	PostRetryMax      int
	ClaimStaleness    time.Duration
}

const (
	DefaultMaxCommentsPerRun = 50
	DefaultPostRetryMax      = 3
	DefaultClaimStaleness    = 15 * time.Minute

	// initial backoff for transient post errors, doubled per attempt
	postRetryBaseDelay = 500 * time.Millisecond
)

// Processor drives one fetch -> dedup -> generate -> post -> persist run
// for a single account. Runs for the same account are serialized by the
// scheduler; the comment store's claim mechanism protects against
// anything that slips through.
type Processor struct {
	accounts  repository.AccountRepository
	comments  repository.CommentRepository
	adapters  *platform.Registry
	generator generator.Generator
	publisher queue.Publisher // optional, nil disables activity events

	maxPerRun    int
	postRetryMax int
	staleness    time.Duration
}

func New(
	accounts repository.AccountRepository,
	comments repository.CommentRepository,
	adapters *platform.Registry,
	gen generator.Generator,
	publisher queue.Publisher,
	opts Options,
) *Processor {
	if opts.MaxCommentsPerRun <= 0 {
		opts.MaxCommentsPerRun = DefaultMaxCommentsPerRun
	}
	if opts.PostRetryMax <= 0 {
		opts.PostRetryMax = DefaultPostRetryMax
	}
	if opts.ClaimStaleness <= 0 {
		opts.ClaimStaleness = DefaultClaimStaleness
	}

	return &Processor{
		accounts:     accounts,
		comments:     comments,
		adapters:     adapters,
		generator:    gen,
		publisher:    publisher,
		maxPerRun:    opts.MaxCommentsPerRun,
		postRetryMax: opts.PostRetryMax,
		staleness:    opts.ClaimStaleness,
	}
}

// Run executes one full pipeline pass for the account. Per-comment
// failures are folded into the summary and never abort the run; only
// account-level failures (auth) cut it short. The returned error is
// non-nil only for those account-level failures.
func (p *Processor) Run(ctx context.Context, account *model.Account) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:     uuid.NewString(),
		AccountPK: account.ID,
		Platform:  account.Platform,
		AccountID: account.AccountID,
		StartedAt: time.Now().UTC(),
	}

	log.Printf("[Processor] Run %s started: %s/%s", summary.RunID, account.Platform, account.AccountID)

	runErr := p.run(ctx, account, &summary)

	summary.FinishedAt = time.Now().UTC()
	if runErr != nil {
		summary.LastError = runErr.Error()
	}
	p.publish(queue.NewRunCompletedEvent(summary))

	log.Printf("[Processor] Run %s done: fetched=%d new=%d posted=%d skipped=%d failed=%d deferred=%d",
		summary.RunID, summary.Fetched, summary.New, summary.Posted,
		summary.Skipped, summary.Failed, summary.Deferred)

	return summary, runErr
}

func (p *Processor) run(ctx context.Context, account *model.Account, summary *model.RunSummary) error {
	adapter, err := p.adapters.For(account.Platform)
	if err != nil {
		return err
	}

	// FETCHING
	if err := ctx.Err(); err != nil {
		return err
	}
	var cursor string
	if account.FetchCursor != nil {
		cursor = *account.FetchCursor
	}
	raw, newCursor, err := adapter.FetchNewComments(ctx, account, cursor)
	if err != nil {
		if platform.IsAccountFatal(err) {
			return p.handleAuthFailure(ctx, account, err)
		}
		return fmt.Errorf("fetch comments: %w", err)
	}
	summary.Fetched = len(raw)

	// FILTERING: upsert first, cursor only after. A crash in between
	// re-fetches the same window next run; upsert idempotence makes the
	// overlap harmless. The reverse order would lose comments.
	batch := make([]model.Comment, len(raw))
	for i, rc := range raw {
		batch[i] = model.Comment{
			AccountPK:         account.ID,
			Platform:          account.Platform,
			AccountID:         account.AccountID,
			PlatformCommentID: rc.PlatformCommentID,
			ParentPostID:      rc.ParentPostID,
			Author:            rc.Author,
			Body:              rc.Body,
			Kind:              generator.Classify(rc.Body),
			PostedAt:          rc.PostedAt,
		}
	}
	inserted, err := p.comments.UpsertComments(ctx, batch)
	if err != nil {
		return fmt.Errorf("upsert comments: %w", err)
	}
	summary.New = len(inserted)

	if newCursor != "" && newCursor != cursor {
		if err := p.accounts.SaveCursor(ctx, account.ID, newCursor); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}

	work, err := p.comments.ListUnanswered(ctx, account.ID, p.maxPerRun)
	if err != nil {
		return fmt.Errorf("list unanswered: %w", err)
	}
	stale, err := p.comments.ListStalePending(ctx, account.ID, p.staleness, p.maxPerRun)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}
	if len(stale) > 0 {
		log.Printf("[Processor] Run %s reclaiming %d stale pending comments", summary.RunID, len(stale))
		work = append(work, stale...)
	}

	// GENERATING / POSTING
	for i := range work {
		comment := &work[i]

		if err := ctx.Err(); err != nil {
			summary.Deferred += len(work) - i
			return err
		}

		if err := p.comments.Claim(ctx, comment.ID, p.staleness); err != nil {
			if errors.Is(err, model.ErrAlreadyClaimed) {
				// Another run owns it; not ours to touch.
				continue
			}
			log.Printf("[Processor] Run %s claim failed for comment %d: %v", summary.RunID, comment.ID, err)
			continue
		}

		deferred, err := p.handleComment(ctx, adapter, account, comment, summary)
		if err != nil {
			// Account-level failure: the rest of this run is pointless.
			summary.Deferred += len(work) - i - 1
			return err
		}
		if deferred {
			// Rate limit hit: leave this and the remaining comments for
			// the next scheduled run.
			summary.Deferred += len(work) - i
			return nil
		}
	}

	return nil
}

// handleComment takes one claimed comment through generation and posting.
// Returns deferred=true when the platform budget is exhausted and the
// run should stop posting.
func (p *Processor) handleComment(ctx context.Context, adapter platform.Adapter, account *model.Account, comment *model.Comment, summary *model.RunSummary) (deferred bool, err error) {
	if comment.Kind == model.KindSpam {
		if err := p.comments.MarkSkipped(ctx, comment.ID, "classified as spam"); err != nil {
			log.Printf("[Processor] mark skipped %d: %v", comment.ID, err)
		}
		summary.Skipped++
		return false, nil
	}

	text, modelUsed, err := p.generator.GenerateReply(ctx, comment, account.Policy())
	if err != nil {
		// Per-comment failure: record it and move on to the next one.
		summary.Failed++
		summary.LastError = err.Error()
		if markErr := p.comments.MarkFailed(ctx, comment.ID, err.Error()); markErr != nil {
			log.Printf("[Processor] mark failed %d: %v", comment.ID, markErr)
		}
		return false, nil
	}

	// Advisory budget check before every post.
	if rl, rlErr := adapter.RateLimitStatus(ctx, account); rlErr == nil && rl.Remaining == 0 {
		log.Printf("[Processor] Run %s rate budget exhausted (reset %s), deferring", summary.RunID, rl.ResetAt)
		return true, nil
	}

	receipt, err := p.postWithRetry(ctx, adapter, account, comment.PlatformCommentID, text)
	switch {
	case err == nil:
		reply := &model.Reply{
			GeneratedText:   text,
			PostedText:      text,
			ModelUsed:       modelUsed,
			PlatformReplyID: &receipt.PlatformReplyID,
			GeneratedAt:     time.Now().UTC(),
			PostedAt:        &receipt.PostedAt,
		}
		if err := p.comments.RecordReply(ctx, comment.ID, reply); err != nil {
			summary.Failed++
			summary.LastError = err.Error()
			log.Printf("[Processor] record reply %d: %v", comment.ID, err)
			return false, nil
		}
		summary.Posted++
		p.publish(queue.NewReplyPostedEvent(account, comment.ID, text))
		return false, nil

	case errors.Is(err, model.ErrRateLimited):
		// Deferral, not failure: the claim stays and goes stale, and the
		// next run reclaims it.
		return true, nil

	case platform.IsAccountFatal(err):
		summary.Failed++
		if markErr := p.comments.MarkFailed(ctx, comment.ID, err.Error()); markErr != nil {
			log.Printf("[Processor] mark failed %d: %v", comment.ID, markErr)
		}
		return false, p.handleAuthFailure(ctx, account, err)

	default:
		summary.Failed++
		summary.LastError = err.Error()
		if markErr := p.comments.MarkFailed(ctx, comment.ID, err.Error()); markErr != nil {
			log.Printf("[Processor] mark failed %d: %v", comment.ID, markErr)
		}
		return false, nil
	}
}

// postWithRetry retries transient network errors with exponential
// backoff. Rate-limit and auth errors are returned immediately.
func (p *Processor) postWithRetry(ctx context.Context, adapter platform.Adapter, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
	var lastErr error
	for attempt := 0; attempt < p.postRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(postRetryBaseDelay << (attempt - 1)):
			}
		}

		receipt, err := adapter.PostReply(ctx, account, platformCommentID, text)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, model.ErrTransientNetwork) {
			return nil, err
		}
		lastErr = err
		log.Printf("[Processor] transient post error (attempt %d/%d): %v", attempt+1, p.postRetryMax, err)
	}
	return nil, lastErr
}

// handleAuthFailure disables the account and surfaces the failure to the
// operator via the activity stream. The account stays disabled until its
// credentials are refreshed and it is re-enabled.
func (p *Processor) handleAuthFailure(ctx context.Context, account *model.Account, cause error) error {
	log.Printf("[Processor] Auth failure for %s/%s, disabling account: %v",
		account.Platform, account.AccountID, cause)
	if err := p.accounts.SetEnabled(ctx, account.ID, false); err != nil {
		log.Printf("[Processor] disable account %d: %v", account.ID, err)
	}
	p.publish(queue.NewAuthFailureEvent(account, cause))
	return cause
}

func (p *Processor) publish(event queue.ActivityEvent) {
	if p.publisher == nil {
		return
	}
	// Activity events are best-effort; publishing must never fail a run.
	if _, err := p.publisher.Publish(context.Background(), queue.StreamActivity, event); err != nil {
		log.Printf("[Processor] publish %s event: %v", event.Type, err)
	}
}
