package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"replyflow/internal/model"
	"replyflow/internal/platform"
	"replyflow/internal/queue"
	"replyflow/internal/repository"
)

// ModelUsedManual marks replies written by an operator rather than a model.
const ModelUsedManual = "manual"

// EngagementService covers operator actions on individual comments:
// posting a hand-written reply and skipping. Both go through the same
// claim step as the automated pipeline, so a manual action and a
// scheduled run can never answer the same comment twice.
type EngagementService struct {
	commentRepo repository.CommentRepository
	accountRepo repository.AccountRepository
	adapters    *platform.Registry
	publisher   queue.Publisher
	staleness   time.Duration
}

func NewEngagementService(
	commentRepo repository.CommentRepository,
	accountRepo repository.AccountRepository,
	adapters *platform.Registry,
	publisher queue.Publisher,
	staleness time.Duration,
) *EngagementService {
	return &EngagementService{
		commentRepo: commentRepo,
		accountRepo: accountRepo,
		adapters:    adapters,
		publisher:   publisher,
		staleness:   staleness,
	}
}

// ManualReply posts operator-written text as the reply to a comment.
func (s *EngagementService) ManualReply(ctx context.Context, commentID int64, req model.ManualReplyRequest) (*model.Comment, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, model.ErrContentRequired
	}
	if len([]rune(text)) > model.MaxReplyLength {
		return nil, model.ErrContentTooLong
	}

	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.Status == model.StatusReplied {
		return nil, model.ErrReplyExists
	}

	account, err := s.accountRepo.GetByID(ctx, comment.AccountPK)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.For(account.Platform)
	if err != nil {
		return nil, err
	}

	if err := s.commentRepo.Claim(ctx, commentID, s.staleness); err != nil {
		return nil, err
	}

	receipt, err := adapter.PostReply(ctx, account, comment.PlatformCommentID, text)
	if err != nil {
		return nil, s.handlePostFailure(ctx, account, commentID, err)
	}

	reply := &model.Reply{
		GeneratedText:   text,
		PostedText:      text,
		ModelUsed:       ModelUsedManual,
		PlatformReplyID: &receipt.PlatformReplyID,
		GeneratedAt:     time.Now().UTC(),
		PostedAt:        &receipt.PostedAt,
	}
	if err := s.commentRepo.RecordReply(ctx, commentID, reply); err != nil {
		return nil, err
	}

	log.Printf("[EngagementService] Manual reply posted: comment=%d platform=%s", commentID, account.Platform)

	if s.publisher != nil {
		event := queue.NewReplyPostedEvent(account, commentID, text)
		if _, err := s.publisher.Publish(ctx, queue.StreamActivity, event); err != nil {
			log.Printf("[EngagementService] Failed to publish ReplyPosted event: %v", err)
		}
	}

	return s.commentRepo.GetByID(ctx, commentID)
}

// ManualSkip marks a comment as deliberately unanswered.
func (s *EngagementService) ManualSkip(ctx context.Context, commentID int64, req model.SkipCommentRequest) (*model.Comment, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "skipped by operator"
	}

	if _, err := s.commentRepo.GetByID(ctx, commentID); err != nil {
		return nil, err
	}

	if err := s.commentRepo.Claim(ctx, commentID, s.staleness); err != nil {
		return nil, err
	}
	if err := s.commentRepo.MarkSkipped(ctx, commentID, reason); err != nil {
		return nil, err
	}

	log.Printf("[EngagementService] Comment %d skipped: %s", commentID, reason)
	return s.commentRepo.GetByID(ctx, commentID)
}

// handlePostFailure settles the claimed comment after a failed platform
// post. Rate limits leave the claim in place so the next run retries
// after the staleness window; everything else marks the comment failed.
// Auth failures additionally disable the account, same as the pipeline.
func (s *EngagementService) handlePostFailure(ctx context.Context, account *model.Account, commentID int64, postErr error) error {
	switch {
	case errors.Is(postErr, model.ErrRateLimited):
		return postErr

	case errors.Is(postErr, model.ErrAuthFailed):
		if err := s.commentRepo.MarkFailed(ctx, commentID, postErr.Error()); err != nil {
			log.Printf("[EngagementService] mark failed %d: %v", commentID, err)
		}
		if err := s.accountRepo.SetEnabled(ctx, account.ID, false); err != nil {
			log.Printf("[EngagementService] disable account %d: %v", account.ID, err)
		}
		if s.publisher != nil {
			event := queue.NewAuthFailureEvent(account, postErr)
			if _, err := s.publisher.Publish(ctx, queue.StreamActivity, event); err != nil {
				log.Printf("[EngagementService] Failed to publish AuthFailure event: %v", err)
			}
		}
		return postErr

	default:
		if err := s.commentRepo.MarkFailed(ctx, commentID, postErr.Error()); err != nil {
			log.Printf("[EngagementService] mark failed %d: %v", commentID, err)
		}
		return fmt.Errorf("post reply: %w", postErr)
	}
}
