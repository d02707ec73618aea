package service

import (
	"context"
	"fmt"
	"log"

	"replyflow/internal/cache"
	"replyflow/internal/model"
	"replyflow/internal/repository"
)

// RunScheduler is the slice of the scheduler the account service needs:
// manual runs and schedule membership.
type RunScheduler interface {
	RunNow(ctx context.Context, accountPK int64) (model.RunSummary, error)
	EnableAccount(accountPK int64)
	DisableAccount(accountPK int64)
}

type AccountService struct {
	accountRepo repository.AccountRepository
	commentRepo repository.CommentRepository
	scheduler   RunScheduler
	activity    cache.ActivityCache
}

func NewAccountService(
	accountRepo repository.AccountRepository,
	commentRepo repository.CommentRepository,
	scheduler RunScheduler,
	activity cache.ActivityCache,
) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		commentRepo: commentRepo,
		scheduler:   scheduler,
		activity:    activity,
	}
}

// List returns all managed accounts.
func (s *AccountService) List(ctx context.Context) ([]model.Account, error) {
	return s.accountRepo.List(ctx)
}

// Get returns one account by its primary key.
func (s *AccountService) Get(ctx context.Context, accountPK int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountPK)
}

// Enable turns an account back on and puts it on the schedule. Typical
// after an auth failure once credentials are rotated.
func (s *AccountService) Enable(ctx context.Context, accountPK int64) error {
	if err := s.accountRepo.SetEnabled(ctx, accountPK, true); err != nil {
		return err
	}
	s.scheduler.EnableAccount(accountPK)
	log.Printf("[AccountService] Account %d enabled", accountPK)
	return nil
}

// Disable takes an account off the schedule. An in-flight run finishes
// normally.
func (s *AccountService) Disable(ctx context.Context, accountPK int64) error {
	if err := s.accountRepo.SetEnabled(ctx, accountPK, false); err != nil {
		return err
	}
	s.scheduler.DisableAccount(accountPK)
	log.Printf("[AccountService] Account %d disabled", accountPK)
	return nil
}

// RunNow triggers an immediate processing run for the account.
func (s *AccountService) RunNow(ctx context.Context, accountPK int64) (model.RunSummary, error) {
	return s.scheduler.RunNow(ctx, accountPK)
}

// ListComments returns a page of the account's comments for the
// dashboard, newest first, with replies joined in.
func (s *AccountService) ListComments(ctx context.Context, accountPK int64, status *model.CommentStatus, cursor *string, limit int) (*model.CommentListResponse, error) {
	if _, err := s.accountRepo.GetByID(ctx, accountPK); err != nil {
		return nil, err
	}

	comments, nextCursor, err := s.commentRepo.ListByAccount(ctx, accountPK, status, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	return &model.CommentListResponse{
		Comments:   comments,
		NextCursor: nextCursor,
		HasMore:    nextCursor != nil,
	}, nil
}

// RecentActivity returns the account's newest activity feed entries.
func (s *AccountService) RecentActivity(ctx context.Context, accountPK int64, limit int) ([]cache.Entry, error) {
	if _, err := s.accountRepo.GetByID(ctx, accountPK); err != nil {
		return nil, err
	}
	return s.activity.Recent(ctx, accountPK, limit)
}
