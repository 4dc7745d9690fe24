package syncclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultInterval is the poll period.
const DefaultInterval = 15 * time.Second

var ErrSchedulerRunning = errors.New("syncclient: scheduler already running")

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemClock uses the time package.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NewTicker wraps time.NewTicker.
func (SystemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Poller is the work done on each tick.
type Poller interface {
	Poll(ctx context.Context) (PollResult, error)
}

// Scheduler polls on a fixed interval. Each tick runs in its own goroutine so
// a slow poll never delays the timer; the Client skips overlapping ticks.
type Scheduler struct {
	poller   Poller
	interval time.Duration
	clock    Clock
	logger   *log.Logger
	onPoll   func(PollResult, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock injects the clock.
func WithClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// OnPoll registers a callback invoked after every poll.
func OnPoll(fn func(PollResult, error)) SchedulerOption {
	return func(s *Scheduler) { s.onPoll = fn }
}

// NewScheduler constructs a Scheduler.
func NewScheduler(poller Poller, interval time.Duration, logger *log.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if poller == nil {
		return nil, errors.New("syncclient: nil poller")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{poller: poller, interval: interval, clock: SystemClock{}, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start polls once immediately and then on every tick until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		s.spawn(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.spawn(ctx)
			}
		}
	}(s.done)
	return nil
}

// Stop cancels the loop and waits for in-flight polls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.running.Wait()
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.runPoll(ctx)
	}()
}

func (s *Scheduler) runPoll(ctx context.Context) {
	result, err := s.poller.Poll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("syncclient: tick at %s failed err=%v", s.clock.Now().Format(time.RFC3339), err)
	}
	if s.onPoll != nil {
		s.onPoll(result, err)
	}
}
