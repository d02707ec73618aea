package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"replyflow/internal/queue"
)

const (
	defaultWorkers   = 2
	defaultBatchSize = 10
	defaultBlock     = 5 * time.Second

	// readErrorBackoff keeps a broken Redis connection from spinning
	// the read loop hot.
	readErrorBackoff = time.Second
)

// ManagerConfig sizes the activity worker pool.
type ManagerConfig struct {
	Workers   int           // goroutines draining the stream
	BatchSize int64         // messages per XREADGROUP
	Block     time.Duration // blocking read timeout
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Workers:   defaultWorkers,
		BatchSize: defaultBatchSize,
		Block:     defaultBlock,
	}
}

// Manager runs the activity workers: a small pool of goroutines that
// drain the activity stream and fold each event into the per-account
// feed via the Handler.
type Manager struct {
	consumer queue.Consumer
	handler  *Handler
	cfg      ManagerConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(consumer queue.Consumer, handler *Handler, cfg ManagerConfig) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	return &Manager{consumer: consumer, handler: handler, cfg: cfg}
}

// Start ensures the consumer group exists and launches the pool.
// Call Stop to shut down gracefully.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	if err := m.consumer.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure activity group: %w", err)
	}

	for i := 1; i <= m.cfg.Workers; i++ {
		name := fmt.Sprintf("activity-%d", i)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(ctx, name)
		}()
	}

	log.Printf("[Worker] %d activity workers running", m.cfg.Workers)
	return nil
}

// Stop cancels the workers and blocks until they have all returned.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	log.Printf("[Worker] Activity workers stopped")
}

// run drains this consumer's unacknowledged backlog first, then settles
// into the blocking read loop until the context is cancelled.
func (m *Manager) run(ctx context.Context, name string) {
	m.drainBacklog(ctx, name)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] %s: shutting down", name)
			return
		default:
		}

		msgs, err := m.consumer.Read(ctx, name, m.cfg.BatchSize, m.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] %s: read: %v", name, err)
			time.Sleep(readErrorBackoff)
			continue
		}
		m.dispatch(ctx, name, msgs)
	}
}

// drainBacklog re-processes messages this consumer read before a crash
// and never acknowledged.
func (m *Manager) drainBacklog(ctx context.Context, name string) {
	for {
		msgs, err := m.consumer.ReadPending(ctx, name, m.cfg.BatchSize)
		if err != nil {
			log.Printf("[Worker] %s: read pending: %v", name, err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		log.Printf("[Worker] %s: recovering %d unacknowledged messages", name, len(msgs))
		m.dispatch(ctx, name, msgs)
	}
}

// dispatch hands each message to the handler and acknowledges it either
// way. A handler failure is logged, not redelivered: retrying a
// malformed event forever would stall the whole feed.
func (m *Manager) dispatch(ctx context.Context, name string, msgs []queue.Message) {
	for _, msg := range msgs {
		if err := m.handler.HandleEvent(ctx, msg.Event); err != nil {
			log.Printf("[Worker] %s: handle %s (%s): %v", name, msg.ID, msg.Event.Type, err)
		}
		if err := m.consumer.Ack(ctx, msg.ID); err != nil {
			log.Printf("[Worker] %s: ack %s: %v", name, msg.ID, err)
		}
	}
}
