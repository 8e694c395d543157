package dailycode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxMintAttempts bounds how often a mint re-reads and retries after
// losing a unique-constraint race.
const DefaultMaxMintAttempts = 5

// ServiceConfig carries the scheduling knobs of a Service.
type ServiceConfig struct {
	Location        *time.Location
	DefaultPolicy   ResetPolicy
	MaxMintAttempts int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	repo     AssignmentRepository
	settings SettingsRepository
	logger   zerolog.Logger

	loc         *time.Location
	maxAttempts int
	now         func() time.Time

	mu     sync.RWMutex
	policy ResetPolicy
	hooks  []func(*Assignment)
}

func NewService(repo AssignmentRepository, settings SettingsRepository, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxMintAttempts <= 0 {
		cfg.MaxMintAttempts = DefaultMaxMintAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultPolicy.Validate() != nil {
		cfg.DefaultPolicy = DefaultResetPolicy
	}
	return &Service{
		repo:        repo,
		settings:    settings,
		logger:      logger.With().Str("component", "dailycode").Logger(),
		loc:         cfg.Location,
		maxAttempts: cfg.MaxMintAttempts,
		now:         cfg.Now,
		policy:      cfg.DefaultPolicy,
	}
}

// OnMint registers fn to run after every successful mint on this instance.
func (s *Service) OnMint(fn func(*Assignment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Service) Location() *time.Location { return s.loc }
func (s *Service) Now() time.Time           { return s.now() }

// CachedPolicy returns the last policy read from or written to the store
// without touching storage.
func (s *Service) CachedPolicy() ResetPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// ResetPolicy reads the persisted policy. When nothing was saved yet the
// configured default applies; when the store is unreachable the last known
// policy is kept.
func (s *Service) ResetPolicy(ctx context.Context) ResetPolicy {
	p, ok, err := s.settings.GetResetPolicy(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read reset policy, keeping last known")
		return s.CachedPolicy()
	}
	if !ok {
		return s.CachedPolicy()
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return p
}

// SaveResetPolicy persists p. It takes effect on the next scheduler tick and
// never triggers a mint by itself.
func (s *Service) SaveResetPolicy(ctx context.Context, p ResetPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.settings.SaveResetPolicy(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("policy", p.String()).Msg("save reset policy")
		return fmt.Errorf("%w: %w", ErrConfigurationSave, err)
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.logger.Info().Str("policy", p.String()).Msg("reset policy saved")
	return nil
}

// Today returns the civil date the current instant belongs to.
func (s *Service) Today(ctx context.Context) time.Time {
	return CivilDate(s.now(), s.ResetPolicy(ctx), s.loc)
}

// TimeUntilNextReset is the countdown under the cached policy.
func (s *Service) TimeUntilNextReset() time.Duration {
	return TimeUntilNextReset(s.now(), s.CachedPolicy(), s.loc)
}

// GetOrCreateToday returns today's assignment, minting it when absent.
func (s *Service) GetOrCreateToday(ctx context.Context) (*Assignment, error) {
	return s.GetOrCreate(ctx, s.Today(ctx))
}

// GetOrCreate returns the assignment for date, minting it when absent. The
// insert is insert-only: a writer that loses the race re-reads and returns
// the winner's row.
func (s *Service) GetOrCreate(ctx context.Context, date time.Time) (*Assignment, error) {
	if a, found, err := s.lookup(ctx, date); err != nil || found {
		return a, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		a, err := s.draw(ctx, date)
		if err != nil {
			return nil, err
		}
		err = s.repo.Insert(ctx, a)
		if err == nil {
			s.minted(a, mintKindCreate, attempt)
			return a, nil
		}
		if !errors.Is(err, ErrUniqueViolation) {
			return nil, s.storageErr("insert assignment", err)
		}
		s.collided(a, attempt)

		// A row for date now exists when the conflict was on civil_date.
		// Otherwise the drawn index was taken and the next attempt redraws.
		if winner, found, err := s.lookup(ctx, date); err != nil || found {
			return winner, err
		}
	}
	return nil, s.exhausted(date)
}

func (s *Service) lookup(ctx context.Context, date time.Time) (*Assignment, bool, error) {
	a, err := s.repo.GetByDate(ctx, date)
	if err == nil {
		return a, true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	return nil, false, s.storageErr("read assignment", err)
}

// RegenerateToday replaces today's assignment with a new row holding a
// freshly drawn index. A concurrent regenerate that stored the same or a
// higher index first makes this attempt redraw, so every success consumes
// its own index.
func (s *Service) RegenerateToday(ctx context.Context) (*Assignment, error) {
	return s.Regenerate(ctx, s.Today(ctx))
}

func (s *Service) Regenerate(ctx context.Context, date time.Time) (*Assignment, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		a, err := s.draw(ctx, date)
		if err != nil {
			return nil, err
		}
		err = s.repo.Upsert(ctx, a)
		if err == nil {
			s.minted(a, mintKindRegenerate, attempt)
			return a, nil
		}
		if !errors.Is(err, ErrUniqueViolation) {
			return nil, s.storageErr("upsert assignment", err)
		}
		s.collided(a, attempt)
	}
	return nil, s.exhausted(date)
}

// CodesUsed reports how many codes were minted so far.
func (s *Service) CodesUsed(ctx context.Context) (int64, error) {
	n, err := s.repo.CountCodesUsed(ctx)
	if err != nil {
		return 0, s.storageErr("count codes used", err)
	}
	return n, nil
}

// Status gathers everything the display widget shows, minting today's code
// when needed.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	a, err := s.GetOrCreateToday(ctx)
	if err != nil {
		return nil, err
	}
	used, err := s.CodesUsed(ctx)
	if err != nil {
		return nil, err
	}
	policy := s.CachedPolicy()
	now := s.now()
	next := NextReset(now, policy, s.loc)
	return &Status{
		Code:              a.Code,
		CivilDate:         a.Date(),
		SequenceIndex:     a.SequenceIndex,
		CodesUsed:         used,
		ResetPolicy:       policy.String(),
		NextReset:         next,
		SecondsUntilReset: int64(next.Sub(now).Seconds()),
	}, nil
}

func (s *Service) History(ctx context.Context, limit, offset int) ([]*Assignment, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, s.storageErr("list assignments", err)
	}
	return items, total, nil
}

// draw computes the next index from a fresh read of the current maximum.
func (s *Service) draw(ctx context.Context, date time.Time) (*Assignment, error) {
	next := int64(0)
	top, ok, err := s.repo.MaxIndex(ctx)
	if err != nil {
		return nil, s.storageErr("read max index", err)
	}
	if ok {
		next = top + 1
	}
	return &Assignment{CivilDate: date, Code: Encode(next), SequenceIndex: next}, nil
}

func (s *Service) minted(a *Assignment, kind string, attempt int) {
	mintsTotal.WithLabelValues(kind).Inc()
	s.logger.Info().
		Str("civil_date", a.Date()).
		Str("code", a.Code.String()).
		Int64("sequence_index", a.SequenceIndex).
		Str("kind", kind).
		Int("attempt", attempt).
		Msg("daily code minted")

	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(a)
	}
}

func (s *Service) collided(a *Assignment, attempt int) {
	collisionsTotal.Inc()
	s.logger.Debug().
		Str("civil_date", a.Date()).
		Int64("sequence_index", a.SequenceIndex).
		Int("attempt", attempt).
		Msg("daily code mint collided, retrying")
}

func (s *Service) exhausted(date time.Time) error {
	mintFailuresTotal.WithLabelValues("exhausted").Inc()
	s.logger.Error().
		Str("civil_date", date.Format(DateLayout)).
		Int("attempts", s.maxAttempts).
		Msg("daily code mint retries exhausted")
	return fmt.Errorf("%w: %s after %d attempts", ErrMintRetriesExhausted, date.Format(DateLayout), s.maxAttempts)
}

func (s *Service) storageErr(op string, err error) error {
	mintFailuresTotal.WithLabelValues("storage").Inc()
	s.logger.Error().Err(err).Str("op", op).Msg("daily code storage error")
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
