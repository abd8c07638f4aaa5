package realtime

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Publisher mirrors events to an external system.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkConfig sizes the background publisher pool.
type SinkConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

// AsyncSink hands events to a fixed worker pool. Publishing never blocks the
// caller beyond HandoffTimeout; events that cannot be queued are dropped.
type AsyncSink struct {
	pub Publisher
	log *log.Logger
	cfg SinkConfig

	mu     sync.RWMutex
	jobs   chan Event
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncSink(pub Publisher, logger *log.Logger, cfg SinkConfig) *AsyncSink {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	s := &AsyncSink{pub: pub, log: logger, cfg: cfg, jobs: make(chan Event, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("event sink started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return s
}

func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()
	for ev := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		err := s.pub.Publish(ctx, ev)
		cancel()
		if err != nil {
			s.log.Errorf("publish failed, err: %v, event: %s, worker: %d", err, ev.Name(), id)
		}
	}
}

// Submit queues ev for publishing and reports whether it was accepted.
func (s *AsyncSink) Submit(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.jobs <- ev:
		return true
	default:
	}
	if s.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}
