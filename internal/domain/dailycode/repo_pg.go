package dailycode

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinicops/internal/platform/db"
)

const codesUsedCounter = "codes_used"

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

const asgCols = `id, civil_date, code, sequence_index, created_at, updated_at`

func (r *assignmentRepoPG) scanRow(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var code string
	err := row.Scan(&a.ID, &a.CivilDate, &code, &a.SequenceIndex, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Code = Code(code)
	return &a, nil
}

func (r *assignmentRepoPG) GetByDate(ctx context.Context, date time.Time) (*Assignment, error) {
	return r.scanRow(r.pool.QueryRow(ctx,
		`SELECT `+asgCols+` FROM daily_code_assignments WHERE civil_date = $1`, date))
}

func (r *assignmentRepoPG) Insert(ctx context.Context, a *Assignment) error {
	return r.mint(ctx, a, `
		INSERT INTO daily_code_assignments (id, civil_date, code, sequence_index)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at`)
}

// Upsert replaces the row for a.CivilDate with a new one. The replacement
// only happens when a.SequenceIndex is above the stored index; otherwise no
// row is returned and the write reports ErrUniqueViolation.
func (r *assignmentRepoPG) Upsert(ctx context.Context, a *Assignment) error {
	return r.mint(ctx, a, `
		INSERT INTO daily_code_assignments (id, civil_date, code, sequence_index)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (civil_date) DO UPDATE
			SET id = EXCLUDED.id, code = EXCLUDED.code, sequence_index = EXCLUDED.sequence_index,
				created_at = NOW(), updated_at = NOW()
			WHERE daily_code_assignments.sequence_index < EXCLUDED.sequence_index
		RETURNING id, created_at, updated_at`)
}

// mint writes the assignment and bumps the codes-used counter in one
// transaction so the counter never drifts from the rows actually minted.
func (r *assignmentRepoPG) mint(ctx context.Context, a *Assignment, stmt string) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, stmt, a.ID, a.CivilDate, string(a.Code), a.SequenceIndex).
			Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_code_counters (name, value) VALUES ($1, 1)
			ON CONFLICT (name) DO UPDATE SET value = daily_code_counters.value + 1, updated_at = NOW()`,
			codesUsedCounter)
		return err
	})
	if db.IsUniqueViolation(err) || errors.Is(err, pgx.ErrNoRows) {
		return ErrUniqueViolation
	}
	return err
}

func (r *assignmentRepoPG) MaxIndex(ctx context.Context) (int64, bool, error) {
	var idx int64
	err := r.pool.QueryRow(ctx,
		`SELECT sequence_index FROM daily_code_assignments ORDER BY sequence_index DESC LIMIT 1`).Scan(&idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

func (r *assignmentRepoPG) CountCodesUsed(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM daily_code_counters WHERE name = $1`, codesUsedCounter).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (r *assignmentRepoPG) List(ctx context.Context, limit, offset int) ([]*Assignment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM daily_code_assignments`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+asgCols+` FROM daily_code_assignments ORDER BY civil_date DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Assignment
	for rows.Next() {
		a, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

type settingsRepoPG struct{ pool *pgxpool.Pool }

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepoPG{pool: pool}
}

func (r *settingsRepoPG) GetResetPolicy(ctx context.Context) (ResetPolicy, bool, error) {
	var p ResetPolicy
	err := r.pool.QueryRow(ctx,
		`SELECT reset_hour, reset_minute FROM daily_code_settings WHERE id = 1`).Scan(&p.Hour, &p.Minute)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResetPolicy{}, false, nil
	}
	if err != nil {
		return ResetPolicy{}, false, err
	}
	return p, true, nil
}

func (r *settingsRepoPG) SaveResetPolicy(ctx context.Context, p ResetPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_code_settings (id, reset_hour, reset_minute) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
			SET reset_hour = EXCLUDED.reset_hour, reset_minute = EXCLUDED.reset_minute, updated_at = NOW()`,
		p.Hour, p.Minute)
	return err
}
