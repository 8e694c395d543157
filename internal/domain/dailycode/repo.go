package dailycode

import (
	"context"
	"time"
)

type AssignmentRepository interface {
	// GetByDate returns ErrNotFound when the date has no assignment.
	GetByDate(ctx context.Context, date time.Time) (*Assignment, error)
	// Insert fails with ErrUniqueViolation when the date or index is taken.
	Insert(ctx context.Context, a *Assignment) error
	// Upsert replaces the row for a.CivilDate. It still fails with
	// ErrUniqueViolation when the index belongs to another date.
	Upsert(ctx context.Context, a *Assignment) error
	// MaxIndex reports false when no index was ever used.
	MaxIndex(ctx context.Context) (int64, bool, error)
	CountCodesUsed(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*Assignment, int, error)
}

type SettingsRepository interface {
	// GetResetPolicy reports false when no policy was ever saved.
	GetResetPolicy(ctx context.Context) (ResetPolicy, bool, error)
	SaveResetPolicy(ctx context.Context, p ResetPolicy) error
}
