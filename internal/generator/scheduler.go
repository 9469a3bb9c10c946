package generator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vanshika/paystream/internal/logging"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// EmitFunc is invoked once per tick.
type EmitFunc func(ctx context.Context) error

// Scheduler runs an EmitFunc on a fixed interval until stopped.
type Scheduler struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler returns an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{logger: logger}
}

// Start begins emitting every interval. The loop ends when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, emit EmitFunc) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done, s.interval = cancel, done, interval

	go s.loop(loopCtx, interval, emit, done)
	s.logger.Info("producer started", "interval", interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, emit EmitFunc, done chan struct{}) {
	defer func() {
		// A parent cancellation ends the run without Stop; release it here.
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done, s.interval = nil, nil, 0
			s.logger.Info("producer stopped", "reason", ctx.Err())
		}
		s.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing with Stop must not emit.
			if ctx.Err() != nil {
				return
			}
			// Stop does not abort an emission already underway.
			if err := emit(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("scheduled emission failed", "error", err)
			}
		}
	}
}

// Stop cancels future ticks and waits for any in-flight emission. It reports
// whether the scheduler was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.interval = nil, nil, 0
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.logger.Info("producer stopped")
	return true
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the active interval, or zero when idle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
