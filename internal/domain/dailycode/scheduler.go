package dailycode

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultDisplayInterval    = time.Second
	DefaultResetCheckInterval = time.Minute
)

// Snapshot is the display state kept by a Scheduler. Code is empty while no
// assignment is known for the current civil date.
type Snapshot struct {
	Code              Code      `json:"code,omitempty"`
	CivilDate         string    `json:"civil_date,omitempty"`
	SequenceIndex     int64     `json:"sequence_index"`
	NextReset         time.Time `json:"next_reset"`
	SecondsUntilReset int64     `json:"seconds_until_reset"`
	LastError         string    `json:"last_error,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Scheduler runs the two periodic tasks of a display surface: a display tick
// that only recomputes the countdown, and a reset-check tick that makes sure
// an assignment exists for the current civil date. Both stop on Stop or when
// the context passed to Start is cancelled.
type Scheduler struct {
	svc             *Service
	logger          zerolog.Logger
	displayInterval time.Duration
	checkInterval   time.Duration

	mu      sync.RWMutex
	snap    Snapshot
	lastDay time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewScheduler(svc *Service, displayInterval, checkInterval time.Duration, logger zerolog.Logger) *Scheduler {
	if displayInterval <= 0 {
		displayInterval = DefaultDisplayInterval
	}
	if checkInterval <= 0 {
		checkInterval = DefaultResetCheckInterval
	}
	s := &Scheduler{
		svc:             svc,
		logger:          logger.With().Str("component", "dailycode_scheduler").Logger(),
		displayInterval: displayInterval,
		checkInterval:   checkInterval,
	}
	svc.OnMint(s.observe)
	return s
}

// Start launches both tasks. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.tickDisplay()
	s.wg.Add(2)
	go s.loop(ctx, s.displayInterval, func(context.Context) { s.tickDisplay() })
	go func() {
		defer s.wg.Done()
		s.CheckReset(ctx)
		s.every(ctx, s.checkInterval, s.CheckReset)
	}()
	s.logger.Info().
		Dur("display_interval", s.displayInterval).
		Dur("check_interval", s.checkInterval).
		Msg("daily code scheduler started")
}

// Stop cancels both tasks and waits for them to exit. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("daily code scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	s.every(ctx, interval, fn)
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// tickDisplay never touches storage.
func (s *Scheduler) tickDisplay() {
	now := s.svc.Now()
	next := NextReset(now, s.svc.CachedPolicy(), s.svc.Location())
	remaining := next.Sub(now)
	secondsUntilReset.Set(remaining.Seconds())

	s.mu.Lock()
	s.snap.NextReset = next
	s.snap.SecondsUntilReset = int64(remaining.Seconds())
	s.mu.Unlock()
}

// CheckReset ensures an assignment exists for the current civil date. When
// the reset boundary was crossed the previous code is dropped from the
// snapshot before minting, so a failed mint never leaves yesterday's code on
// display.
func (s *Scheduler) CheckReset(ctx context.Context) {
	policy := s.svc.ResetPolicy(ctx)
	now := s.svc.Now()
	day := CivilDate(now, policy, s.svc.Location())

	s.mu.Lock()
	if !s.lastDay.IsZero() && !s.lastDay.Equal(day) {
		s.logger.Info().
			Str("previous", s.lastDay.Format(DateLayout)).
			Str("current", day.Format(DateLayout)).
			Msg("daily code reset boundary crossed")
		s.snap.Code = ""
		s.snap.CivilDate = ""
		s.snap.SequenceIndex = 0
	}
	s.lastDay = day
	s.snap.CheckedAt = now
	s.mu.Unlock()

	a, err := s.svc.GetOrCreate(ctx, day)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Str("civil_date", day.Format(DateLayout)).Msg("reset check failed")
		s.mu.Lock()
		s.snap.LastError = err.Error()
		s.mu.Unlock()
		return
	}
	s.observe(a)
}

// observe records a if it belongs to the civil date currently on display.
func (s *Scheduler) observe(a *Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastDay.IsZero() && !s.lastDay.Equal(a.CivilDate) {
		return
	}
	s.lastDay = a.CivilDate
	s.snap.Code = a.Code
	s.snap.CivilDate = a.Date()
	s.snap.SequenceIndex = a.SequenceIndex
	s.snap.LastError = ""
}
