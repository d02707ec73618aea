package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"replyflow/internal/model"
)

// =============================================================================
// MOCKS
// =============================================================================

type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
}

func newMockAccountRepo(accounts ...*model.Account) *mockAccountRepo {
	m := &mockAccountRepo{accounts: make(map[int64]*model.Account)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockAccountRepo) List(ctx context.Context) ([]model.Account, error) {
	return m.ListEnabled(ctx)
}

func (m *mockAccountRepo) ListEnabled(ctx context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Account
	for _, a := range m.accounts {
		if a.Enabled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockAccountRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return model.ErrAccountNotFound
	}
	a.Enabled = enabled
	return nil
}

func (m *mockAccountRepo) SaveCursor(ctx context.Context, id int64, cursor string) error {
	return nil
}

// mockRunner records runs and can block to simulate slow processing.
type mockRunner struct {
	mu        sync.Mutex
	runs      []int64
	block     chan struct{} // when non-nil, Run waits for it to close
	active    int32
	maxActive int32
}

func (r *mockRunner) Run(ctx context.Context, account *model.Account) (model.RunSummary, error) {
	cur := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		prev := atomic.LoadInt32(&r.maxActive)
		if cur <= prev || atomic.CompareAndSwapInt32(&r.maxActive, prev, cur) {
			break
		}
	}

	r.mu.Lock()
	r.runs = append(r.runs, account.ID)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return model.RunSummary{AccountPK: account.ID}, nil
}

func (r *mockRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func enabledAccount(id int64) *model.Account {
	return &model.Account{
		ID:                  id,
		Platform:            model.PlatformYouTube,
		AccountID:           "acct",
		Enabled:             true,
		PollIntervalSeconds: 300,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// =============================================================================
// SCHEDULING TESTS
// =============================================================================

func TestScheduler_DispatchesEnabledAccountsOnStart(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(1), enabledAccount(2))
	runner := &mockRunner{}

	s := New(repo, runner, Config{Tick: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return runner.runCount() >= 2 })
}

func TestScheduler_SameAccountNeverOverlaps(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(1))
	runner := &mockRunner{block: make(chan struct{})}

	s := New(repo, runner, Config{Tick: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return runner.runCount() == 1 })

	// The run is blocked and the account is overdue on every tick; the
	// running flag must keep it from being dispatched again.
	time.Sleep(50 * time.Millisecond)
	if got := runner.runCount(); got != 1 {
		t.Errorf("run count = %d while a run was in flight, want 1", got)
	}

	close(runner.block)
}

func TestScheduler_ConcurrencyCapIsRespected(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(1), enabledAccount(2), enabledAccount(3))
	runner := &mockRunner{block: make(chan struct{})}

	s := New(repo, runner, Config{Tick: 5 * time.Millisecond, Concurrency: 1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return runner.runCount() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if max := atomic.LoadInt32(&runner.maxActive); max > 1 {
		t.Errorf("max concurrent runs = %d, want at most 1", max)
	}

	close(runner.block)
	s.Stop()
}

func TestScheduler_DisabledAccountIsDropped(t *testing.T) {
	account := enabledAccount(1)
	repo := newMockAccountRepo(account)
	runner := &mockRunner{}

	s := New(repo, runner, Config{Tick: 5 * time.Millisecond})

	// Disable between New and Start's first dispatch window.
	if err := repo.SetEnabled(context.Background(), 1, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := runner.runCount(); got != 0 {
		t.Errorf("run count = %d for a disabled account, want 0", got)
	}
}

func TestScheduler_ReenableDuringRunDoesNotOverlap(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(1))
	runner := &mockRunner{block: make(chan struct{})}

	s := New(repo, runner, Config{Tick: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return runner.runCount() == 1 })

	// Toggle while the first run is blocked. The fresh job must not be
	// dispatched until that run finishes.
	s.DisableAccount(1)
	s.EnableAccount(1)

	time.Sleep(50 * time.Millisecond)
	if got := runner.runCount(); got != 1 {
		t.Fatalf("run count = %d while the pre-disable run was in flight, want 1", got)
	}
	if _, err := s.RunNow(context.Background(), 1); !errors.Is(err, model.ErrRunAlreadyInProgress) {
		t.Errorf("RunNow during in-flight run: %v, want ErrRunAlreadyInProgress", err)
	}

	close(runner.block)

	// Once the old run drains, the re-enabled schedule takes over.
	waitFor(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, busy := s.inflight[1]
		return !busy
	})
	if _, err := s.RunNow(context.Background(), 1); err != nil {
		t.Errorf("RunNow after the old run finished: %v", err)
	}
	if max := atomic.LoadInt32(&runner.maxActive); max > 1 {
		t.Errorf("max concurrent runs = %d, want at most 1", max)
	}
}

// =============================================================================
// RUN NOW TESTS
// =============================================================================

func TestScheduler_RunNow_ReturnsSummary(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(7))
	runner := &mockRunner{}

	s := New(repo, runner, DefaultConfig())

	summary, err := s.RunNow(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if summary.AccountPK != 7 {
		t.Errorf("summary account = %d, want 7", summary.AccountPK)
	}
}

func TestScheduler_RunNow_UnknownAccount(t *testing.T) {
	s := New(newMockAccountRepo(), &mockRunner{}, DefaultConfig())

	_, err := s.RunNow(context.Background(), 99)
	if !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got: %v", err)
	}
}

func TestScheduler_RunNow_DisabledAccount(t *testing.T) {
	account := enabledAccount(1)
	account.Enabled = false
	s := New(newMockAccountRepo(account), &mockRunner{}, DefaultConfig())

	_, err := s.RunNow(context.Background(), 1)
	if !errors.Is(err, model.ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled, got: %v", err)
	}
}

func TestScheduler_RunNow_RejectsConcurrentRun(t *testing.T) {
	repo := newMockAccountRepo(enabledAccount(1))
	runner := &mockRunner{block: make(chan struct{})}
	s := New(repo, runner, DefaultConfig())

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := s.RunNow(context.Background(), 1); err != nil {
			t.Errorf("first RunNow: %v", err)
		}
	}()

	waitFor(t, time.Second, func() bool { return runner.runCount() == 1 })

	_, err := s.RunNow(context.Background(), 1)
	if !errors.Is(err, model.ErrRunAlreadyInProgress) {
		t.Errorf("expected ErrRunAlreadyInProgress, got: %v", err)
	}

	close(runner.block)
	<-firstDone

	// With the first run finished, a manual run is allowed again.
	if _, err := s.RunNow(context.Background(), 1); err != nil {
		t.Errorf("RunNow after completion: %v", err)
	}
}
