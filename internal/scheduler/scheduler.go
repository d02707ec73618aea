package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"replyflow/internal/model"
	"replyflow/internal/repository"
)

const (
	// DefaultConcurrency caps how many account runs execute at once
	DefaultConcurrency = 4

	// DefaultTick is how often the scheduler checks for due accounts
	DefaultTick = time.Second

	// DefaultInterval is used when an account has no poll interval set
	DefaultInterval = 5 * time.Minute
)

// Runner executes one processing run for an account.
type Runner interface {
	Run(ctx context.Context, account *model.Account) (model.RunSummary, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	Concurrency     int           // Max concurrent account runs
	Tick            time.Duration // Due-check frequency
	DefaultInterval time.Duration // Fallback poll interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency,
		Tick:            DefaultTick,
		DefaultInterval: DefaultInterval,
	}
}

// job tracks the schedule state for one account. The running flag keeps
// runs for the same account from overlapping; the semaphore in Scheduler
// caps total parallelism across accounts.
type job struct {
	nextRunAt time.Time
	running   bool
}

// Scheduler dispatches processor runs for enabled accounts on their poll
// intervals. One goroutine per due account, bounded by a semaphore.
type Scheduler struct {
	accounts repository.AccountRepository
	runner   Runner

	tick            time.Duration
	defaultInterval time.Duration
	sem             chan struct{}

	mu       sync.Mutex
	jobs     map[int64]*job
	inflight map[int64]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Start must be called before it dispatches
// anything; RunNow works either way.
func New(accounts repository.AccountRepository, runner Runner, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = DefaultInterval
	}

	return &Scheduler{
		accounts:        accounts,
		runner:          runner,
		tick:            cfg.Tick,
		defaultInterval: cfg.DefaultInterval,
		sem:             make(chan struct{}, cfg.Concurrency),
		jobs:            make(map[int64]*job),
		inflight:        make(map[int64]struct{}),
	}
}

// Start loads the enabled accounts and begins the dispatch loop.
// Call Stop() to gracefully shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	accounts, err := s.accounts.ListEnabled(s.ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	for _, a := range accounts {
		s.jobs[a.ID] = &job{nextRunAt: now}
	}
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting with %d enabled accounts (concurrency=%d)",
		len(accounts), cap(s.sem))

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the dispatch loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue marks due jobs as running under the lock, then launches
// their goroutines. Marking before launching is what keeps a slow run
// from being dispatched twice.
func (s *Scheduler) dispatchDue() {
	now := time.Now()

	s.mu.Lock()
	var due []int64
	for pk, j := range s.jobs {
		if !j.running && !now.Before(j.nextRunAt) {
			j.running = true
			s.inflight[pk] = struct{}{}
			due = append(due, pk)
		}
	}
	s.mu.Unlock()

	for _, pk := range due {
		s.wg.Add(1)
		go s.runJob(pk)
	}
}

func (s *Scheduler) runJob(accountPK int64) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		s.finishJob(accountPK, s.defaultInterval)
		return
	}
	defer func() { <-s.sem }()

	// Re-read the account so interval and policy changes apply without a
	// restart, and a disable that raced the dispatch is honored.
	account, err := s.accounts.GetByID(s.ctx, accountPK)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			log.Printf("[Scheduler] Account %d gone, dropping job", accountPK)
			s.dropJob(accountPK)
			return
		}
		log.Printf("[Scheduler] Load account %d: %v", accountPK, err)
		s.finishJob(accountPK, s.defaultInterval)
		return
	}
	if !account.Enabled {
		s.dropJob(accountPK)
		return
	}

	if _, err := s.runner.Run(s.ctx, account); err != nil {
		log.Printf("[Scheduler] Run failed for %s/%s: %v", account.Platform, account.AccountID, err)
	}

	s.finishJob(accountPK, s.interval(account))
}

// RunNow executes a run for the account immediately, subject to the same
// non-overlap and concurrency rules as scheduled runs. Returns
// ErrRunAlreadyInProgress if a run for this account is active.
func (s *Scheduler) RunNow(ctx context.Context, accountPK int64) (model.RunSummary, error) {
	account, err := s.accounts.GetByID(ctx, accountPK)
	if err != nil {
		return model.RunSummary{}, err
	}
	if !account.Enabled {
		return model.RunSummary{}, model.ErrAccountDisabled
	}

	s.mu.Lock()
	j, ok := s.jobs[accountPK]
	if !ok {
		j = &job{}
		s.jobs[accountPK] = j
	}
	if _, busy := s.inflight[accountPK]; busy || j.running {
		j.running = true
		s.mu.Unlock()
		return model.RunSummary{}, model.ErrRunAlreadyInProgress
	}
	j.running = true
	s.inflight[accountPK] = struct{}{}
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finishJob(accountPK, s.interval(account))
		return model.RunSummary{}, ctx.Err()
	}
	defer func() { <-s.sem }()
	defer s.finishJob(accountPK, s.interval(account))

	return s.runner.Run(ctx, account)
}

// EnableAccount schedules the account for an immediate first run. A run
// left over from before a disable may still be in flight; the job is
// then created already marked running so the dispatch loop waits for
// that run to finish instead of starting a second one.
func (s *Scheduler) EnableAccount(accountPK int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[accountPK]; !ok {
		_, busy := s.inflight[accountPK]
		s.jobs[accountPK] = &job{nextRunAt: time.Now(), running: busy}
		log.Printf("[Scheduler] Account %d scheduled", accountPK)
	}
}

// DisableAccount removes the account from the schedule. An in-flight run
// finishes; it just won't be rescheduled.
func (s *Scheduler) DisableAccount(accountPK int64) {
	s.removeJob(accountPK)
	log.Printf("[Scheduler] Account %d unscheduled", accountPK)
}

func (s *Scheduler) finishJob(accountPK int64, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, accountPK)
	if j, ok := s.jobs[accountPK]; ok {
		j.running = false
		j.nextRunAt = time.Now().Add(interval)
	}
}

// removeJob takes the account off the schedule without touching the
// in-flight mark; a running goroutine clears that itself when it ends.
func (s *Scheduler) removeJob(accountPK int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, accountPK)
}

// dropJob is removeJob for the goroutine that owns the in-flight mark.
func (s *Scheduler) dropJob(accountPK int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, accountPK)
	delete(s.inflight, accountPK)
}

func (s *Scheduler) interval(account *model.Account) time.Duration {
	if d := account.PollInterval(); d > 0 {
		return d
	}
	return s.defaultInterval
}
