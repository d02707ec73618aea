package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"replyflow/internal/model"
	"replyflow/internal/platform"
	"replyflow/internal/queue"
)

// =============================================================================
// MOCKS
// =============================================================================
//
// The processor depends only on interfaces (repositories, adapter registry,
// generator, publisher), so each test scripts exactly the behavior it needs.

type mockAccountRepo struct {
	getByIDFn    func(ctx context.Context, id int64) (*model.Account, error)
	saveCursorFn func(ctx context.Context, id int64, cursor string) error

	setEnabledCalls []bool
	savedCursors    []string
}

func (m *mockAccountRepo) List(ctx context.Context) ([]model.Account, error)        { return nil, nil }
func (m *mockAccountRepo) ListEnabled(ctx context.Context) ([]model.Account, error) { return nil, nil }

func (m *mockAccountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.ErrAccountNotFound
}

func (m *mockAccountRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	m.setEnabledCalls = append(m.setEnabledCalls, enabled)
	return nil
}

func (m *mockAccountRepo) SaveCursor(ctx context.Context, id int64, cursor string) error {
	m.savedCursors = append(m.savedCursors, cursor)
	if m.saveCursorFn != nil {
		return m.saveCursorFn(ctx, id, cursor)
	}
	return nil
}

type mockCommentRepo struct {
	upsertFn         func(ctx context.Context, comments []model.Comment) ([]model.Comment, error)
	listUnansweredFn func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error)
	listStaleFn      func(ctx context.Context, accountPK int64, staleness time.Duration, limit int) ([]model.Comment, error)
	claimFn          func(ctx context.Context, commentID int64, staleness time.Duration) error

	claimedIDs      []int64
	recordedReplies map[int64]*model.Reply
	skipped         map[int64]string
	failed          map[int64]string
}

func newMockCommentRepo() *mockCommentRepo {
	return &mockCommentRepo{
		recordedReplies: make(map[int64]*model.Reply),
		skipped:         make(map[int64]string),
		failed:          make(map[int64]string),
	}
}

func (m *mockCommentRepo) UpsertComments(ctx context.Context, comments []model.Comment) ([]model.Comment, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, comments)
	}
	// Default: everything is new, assign IDs.
	inserted := make([]model.Comment, len(comments))
	for i, c := range comments {
		c.ID = int64(i + 1)
		c.Status = model.StatusNew
		inserted[i] = c
	}
	return inserted, nil
}

func (m *mockCommentRepo) ListUnanswered(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
	if m.listUnansweredFn != nil {
		return m.listUnansweredFn(ctx, accountPK, limit)
	}
	return nil, nil
}

func (m *mockCommentRepo) ListStalePending(ctx context.Context, accountPK int64, staleness time.Duration, limit int) ([]model.Comment, error) {
	if m.listStaleFn != nil {
		return m.listStaleFn(ctx, accountPK, staleness, limit)
	}
	return nil, nil
}

func (m *mockCommentRepo) Claim(ctx context.Context, commentID int64, staleness time.Duration) error {
	m.claimedIDs = append(m.claimedIDs, commentID)
	if m.claimFn != nil {
		return m.claimFn(ctx, commentID, staleness)
	}
	return nil
}

func (m *mockCommentRepo) RecordReply(ctx context.Context, commentID int64, reply *model.Reply) error {
	m.recordedReplies[commentID] = reply
	return nil
}

func (m *mockCommentRepo) MarkSkipped(ctx context.Context, commentID int64, reason string) error {
	m.skipped[commentID] = reason
	return nil
}

func (m *mockCommentRepo) MarkFailed(ctx context.Context, commentID int64, reason string) error {
	m.failed[commentID] = reason
	return nil
}

func (m *mockCommentRepo) GetByID(ctx context.Context, commentID int64) (*model.Comment, error) {
	return nil, model.ErrCommentNotFound
}

func (m *mockCommentRepo) ListByAccount(ctx context.Context, accountPK int64, status *model.CommentStatus, cursor *string, limit int) ([]model.Comment, *string, error) {
	return nil, nil, nil
}

type mockAdapter struct {
	fetchFn     func(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error)
	postFn      func(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error)
	rateLimitFn func(ctx context.Context, account *model.Account) (*platform.RateLimit, error)

	postCalls int
}

func (m *mockAdapter) Platform() model.Platform { return model.PlatformYouTube }

func (m *mockAdapter) FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, account, cursor)
	}
	return nil, cursor, nil
}

func (m *mockAdapter) PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
	m.postCalls++
	if m.postFn != nil {
		return m.postFn(ctx, account, platformCommentID, text)
	}
	return &platform.Receipt{PlatformReplyID: "reply-" + platformCommentID, PostedAt: time.Now()}, nil
}

func (m *mockAdapter) RateLimitStatus(ctx context.Context, account *model.Account) (*platform.RateLimit, error) {
	if m.rateLimitFn != nil {
		return m.rateLimitFn(ctx, account)
	}
	return &platform.RateLimit{Remaining: -1}, nil
}

type stubGenerator struct {
	generateFn func(ctx context.Context, comment *model.Comment, policy model.ReplyPolicy) (string, string, error)
}

func (s *stubGenerator) GenerateReply(ctx context.Context, comment *model.Comment, policy model.ReplyPolicy) (string, string, error) {
	if s.generateFn != nil {
		return s.generateFn(ctx, comment, policy)
	}
	return "Thanks for reaching out!", "test-model", nil
}

type mockPublisher struct {
	events []queue.ActivityEvent
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event queue.ActivityEvent) (string, error) {
	m.events = append(m.events, event)
	return "1-0", nil
}

func (m *mockPublisher) eventTypes() []string {
	types := make([]string, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

// =============================================================================
// TEST HELPERS
// =============================================================================

func testAccount() *model.Account {
	return &model.Account{
		ID:        1,
		Platform:  model.PlatformYouTube,
		AccountID: "chan-1",
		Enabled:   true,
	}
}

func rawComment(id, body string) model.RawComment {
	return model.RawComment{
		PlatformCommentID: id,
		ParentPostID:      "post-1",
		Author:            "viewer",
		Body:              body,
		PostedAt:          time.Now().Add(-time.Minute),
	}
}

func unansweredComments(bodies ...string) []model.Comment {
	comments := make([]model.Comment, len(bodies))
	for i, body := range bodies {
		comments[i] = model.Comment{
			ID:                int64(i + 1),
			AccountPK:         1,
			Platform:          model.PlatformYouTube,
			AccountID:         "chan-1",
			PlatformCommentID: "c-" + string(rune('a'+i)),
			Body:              body,
			Kind:              model.KindGeneral,
			Status:            model.StatusNew,
		}
	}
	return comments
}

func newTestProcessor(accounts *mockAccountRepo, comments *mockCommentRepo, adapter *mockAdapter, gen *stubGenerator, pub *mockPublisher) *Processor {
	// Avoid a typed-nil interface: a nil *mockPublisher must reach New as a
	// nil queue.Publisher so the processor's nil check disables publishing.
	var publisher queue.Publisher
	if pub != nil {
		publisher = pub
	}
	return New(accounts, comments, platform.NewRegistry(adapter), gen, publisher, Options{
		MaxCommentsPerRun: 50,
		PostRetryMax:      2,
		ClaimStaleness:    15 * time.Minute,
	})
}

// =============================================================================
// RUN TESTS
// =============================================================================

func TestProcessor_Run_PostsRepliesForNewComments(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	adapter := &mockAdapter{
		fetchFn: func(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
			return []model.RawComment{
				rawComment("c-a", "This looks fun"),
				rawComment("c-b", "Nice one"),
			}, "2026-01-02T00:00:00Z", nil
		},
	}
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("This looks fun", "Nice one"), nil
	}
	pub := &mockPublisher{}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, pub)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Fetched != 2 || summary.New != 2 || summary.Posted != 2 {
		t.Errorf("summary = fetched=%d new=%d posted=%d, want 2/2/2",
			summary.Fetched, summary.New, summary.Posted)
	}
	if len(comments.recordedReplies) != 2 {
		t.Errorf("recorded %d replies, want 2", len(comments.recordedReplies))
	}
	if len(accounts.savedCursors) != 1 || accounts.savedCursors[0] != "2026-01-02T00:00:00Z" {
		t.Errorf("saved cursors = %v, want the fetch cursor exactly once", accounts.savedCursors)
	}

	// Two reply events plus the final run summary.
	types := pub.eventTypes()
	if len(types) != 3 || types[2] != queue.EventRunCompleted {
		t.Errorf("published events = %v, want 2 reply events then run_completed", types)
	}
}

func TestProcessor_Run_RefetchIsIdempotent(t *testing.T) {
	// Same comments fetched again: upsert reports nothing new, and with
	// nothing unanswered the run posts no replies.
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.upsertFn = func(ctx context.Context, batch []model.Comment) ([]model.Comment, error) {
		return nil, nil // all duplicates
	}
	adapter := &mockAdapter{
		fetchFn: func(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
			return []model.RawComment{rawComment("c-a", "hello again")}, "cur-2", nil
		},
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Fetched != 1 || summary.New != 0 || summary.Posted != 0 {
		t.Errorf("summary = fetched=%d new=%d posted=%d, want 1/0/0",
			summary.Fetched, summary.New, summary.Posted)
	}
}

func TestProcessor_Run_CursorNotSavedWhenUpsertFails(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.upsertFn = func(ctx context.Context, batch []model.Comment) ([]model.Comment, error) {
		return nil, errors.New("db down")
	}
	adapter := &mockAdapter{
		fetchFn: func(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
			return []model.RawComment{rawComment("c-a", "hi")}, "cur-2", nil
		},
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	_, err := proc.Run(context.Background(), testAccount())

	if err == nil {
		t.Fatal("expected error when upsert fails")
	}
	if len(accounts.savedCursors) != 0 {
		t.Errorf("cursor was saved despite failed upsert: %v", accounts.savedCursors)
	}
}

func TestProcessor_Run_SpamIsAutoSkipped(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	work := unansweredComments("check my profile for deals")
	work[0].Kind = model.KindSpam
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return work, nil
	}
	adapter := &mockAdapter{}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Skipped != 1 || summary.Posted != 0 {
		t.Errorf("summary = skipped=%d posted=%d, want 1/0", summary.Skipped, summary.Posted)
	}
	if adapter.postCalls != 0 {
		t.Errorf("posted %d times for spam, want 0", adapter.postCalls)
	}
	if _, ok := comments.skipped[1]; !ok {
		t.Error("comment was not marked skipped")
	}
}

func TestProcessor_Run_SkipsCommentsClaimedElsewhere(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one", "two"), nil
	}
	comments.claimFn = func(ctx context.Context, commentID int64, staleness time.Duration) error {
		if commentID == 1 {
			return model.ErrAlreadyClaimed
		}
		return nil
	}
	adapter := &mockAdapter{}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Posted != 1 {
		t.Errorf("posted = %d, want 1 (the unclaimed comment)", summary.Posted)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, a lost claim is not a failure", summary.Failed)
	}
	if _, ok := comments.recordedReplies[1]; ok {
		t.Error("replied to a comment claimed by another run")
	}
}

func TestProcessor_Run_GenerationFailureIsIsolated(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one", "two"), nil
	}
	gen := &stubGenerator{
		generateFn: func(ctx context.Context, comment *model.Comment, policy model.ReplyPolicy) (string, string, error) {
			if comment.ID == 1 {
				return "", "", model.ErrGenerationUnavailable
			}
			return "Hey, thanks!", "test-model", nil
		},
	}
	adapter := &mockAdapter{}

	proc := newTestProcessor(accounts, comments, adapter, gen, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Failed != 1 || summary.Posted != 1 {
		t.Errorf("summary = failed=%d posted=%d, want 1/1", summary.Failed, summary.Posted)
	}
	if _, ok := comments.failed[1]; !ok {
		t.Error("comment 1 was not marked failed")
	}
	if _, ok := comments.recordedReplies[2]; !ok {
		t.Error("comment 2 should still have been answered")
	}
}

func TestProcessor_Run_DefersWhenBudgetExhausted(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one", "two", "three"), nil
	}
	adapter := &mockAdapter{}
	// First two posts go through, then the platform reports an empty budget.
	adapter.rateLimitFn = func(ctx context.Context, account *model.Account) (*platform.RateLimit, error) {
		if adapter.postCalls >= 2 {
			return &platform.RateLimit{Remaining: 0, ResetAt: time.Now().Add(time.Hour)}, nil
		}
		return &platform.RateLimit{Remaining: 5}, nil
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Posted != 2 {
		t.Errorf("posted = %d, want 2 before the budget ran out", summary.Posted)
	}
	if summary.Deferred != 1 {
		t.Errorf("deferred = %d, want 1", summary.Deferred)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, deferral is not failure", summary.Failed)
	}
	if len(comments.failed) != 0 {
		t.Errorf("comments marked failed on deferral: %v", comments.failed)
	}
}

func TestProcessor_Run_RateLimitedPostDefersRemainder(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one", "two"), nil
	}
	adapter := &mockAdapter{
		postFn: func(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
			return nil, model.ErrRateLimited
		},
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Deferred != 2 {
		t.Errorf("deferred = %d, want 2", summary.Deferred)
	}
	if adapter.postCalls != 1 {
		t.Errorf("post calls = %d, a 429 should stop the burst immediately", adapter.postCalls)
	}
}

func TestProcessor_Run_TransientPostErrorIsRetried(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one"), nil
	}
	adapter := &mockAdapter{}
	adapter.postFn = func(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
		if adapter.postCalls == 1 {
			return nil, model.ErrTransientNetwork
		}
		return &platform.Receipt{PlatformReplyID: "r-1", PostedAt: time.Now()}, nil
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Posted != 1 {
		t.Errorf("posted = %d, want 1 after retry", summary.Posted)
	}
	if adapter.postCalls != 2 {
		t.Errorf("post calls = %d, want 2", adapter.postCalls)
	}
}

func TestProcessor_Run_TransientRetriesExhausted(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one"), nil
	}
	adapter := &mockAdapter{
		postFn: func(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
			return nil, model.ErrTransientNetwork
		},
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1 after retries exhausted", summary.Failed)
	}
	if adapter.postCalls != 2 {
		t.Errorf("post calls = %d, want PostRetryMax=2 attempts", adapter.postCalls)
	}
	if _, ok := comments.failed[1]; !ok {
		t.Error("comment was not marked failed")
	}
}

func TestProcessor_Run_AuthFailureDisablesAccount(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	comments.listUnansweredFn = func(ctx context.Context, accountPK int64, limit int) ([]model.Comment, error) {
		return unansweredComments("one", "two"), nil
	}
	adapter := &mockAdapter{
		postFn: func(ctx context.Context, account *model.Account, platformCommentID, text string) (*platform.Receipt, error) {
			return nil, model.ErrAuthFailed
		},
	}
	pub := &mockPublisher{}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, pub)
	summary, err := proc.Run(context.Background(), testAccount())

	if !errors.Is(err, model.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got: %v", err)
	}
	if len(accounts.setEnabledCalls) != 1 || accounts.setEnabledCalls[0] != false {
		t.Errorf("SetEnabled calls = %v, want a single disable", accounts.setEnabledCalls)
	}
	if adapter.postCalls != 1 {
		t.Errorf("post calls = %d, the run should abort after the auth failure", adapter.postCalls)
	}
	if summary.Deferred != 1 {
		t.Errorf("deferred = %d, want 1 (the untouched comment)", summary.Deferred)
	}

	var sawAuthEvent bool
	for _, typ := range pub.eventTypes() {
		if typ == queue.EventAuthFailure {
			sawAuthEvent = true
		}
	}
	if !sawAuthEvent {
		t.Error("no auth_failure event was published")
	}
}

func TestProcessor_Run_FetchAuthFailureDisablesAccount(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	adapter := &mockAdapter{
		fetchFn: func(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error) {
			return nil, "", model.ErrAuthFailed
		},
	}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	_, err := proc.Run(context.Background(), testAccount())

	if !errors.Is(err, model.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got: %v", err)
	}
	if len(accounts.setEnabledCalls) != 1 || accounts.setEnabledCalls[0] != false {
		t.Errorf("SetEnabled calls = %v, want a single disable", accounts.setEnabledCalls)
	}
}

func TestProcessor_Run_StalePendingIsReclaimed(t *testing.T) {
	accounts := &mockAccountRepo{}
	comments := newMockCommentRepo()
	orphan := unansweredComments("left behind")[0]
	orphan.Status = model.StatusReplyPending
	claimedAt := time.Now().Add(-time.Hour)
	orphan.ClaimedAt = &claimedAt
	comments.listStaleFn = func(ctx context.Context, accountPK int64, staleness time.Duration, limit int) ([]model.Comment, error) {
		return []model.Comment{orphan}, nil
	}
	adapter := &mockAdapter{}

	proc := newTestProcessor(accounts, comments, adapter, &stubGenerator{}, nil)
	summary, err := proc.Run(context.Background(), testAccount())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.Posted != 1 {
		t.Errorf("posted = %d, want the reclaimed orphan answered", summary.Posted)
	}
	if len(comments.claimedIDs) != 1 || comments.claimedIDs[0] != orphan.ID {
		t.Errorf("claimed IDs = %v, want the orphan re-claimed", comments.claimedIDs)
	}
}
