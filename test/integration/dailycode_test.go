//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicops/clinicops/internal/domain/dailycode"
	"github.com/clinicops/clinicops/internal/platform/db"
	"github.com/clinicops/clinicops/migrations"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func juneTenth(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(dailycode.DefaultTimezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2025, 6, 10, 9, 0, 0, 0, loc)
}

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	pool, schema := newSchemaPool(t, ctx, "mig")

	m := db.NewMigrator(pool, migrations.FS)
	count, err := m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no pending migrations, applied %d", count)
	}

	statuses, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.Name)
		}
	}
}

func TestDailyCode_MintAndRead(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "mint")
	svc := newService(t, pool, fixedClock(juneTenth(t)))

	t.Run("FirstMint", func(t *testing.T) {
		a, err := svc.GetOrCreateToday(ctx)
		if err != nil {
			t.Fatalf("GetOrCreateToday: %v", err)
		}
		if a.Code != "AAA23" || a.SequenceIndex != 0 || a.Date() != "2025-06-10" {
			t.Errorf("unexpected assignment %+v", a)
		}
		if a.CreatedAt.IsZero() {
			t.Error("expected created_at from the database")
		}
	})

	t.Run("ReadBack", func(t *testing.T) {
		a, err := svc.GetOrCreateToday(ctx)
		if err != nil {
			t.Fatalf("GetOrCreateToday: %v", err)
		}
		if a.Code != "AAA23" {
			t.Errorf("expected AAA23, got %s", a.Code)
		}
		used, err := svc.CodesUsed(ctx)
		if err != nil {
			t.Fatalf("CodesUsed: %v", err)
		}
		if used != 1 {
			t.Errorf("expected 1 code used, got %d", used)
		}
	})

	t.Run("Regenerate", func(t *testing.T) {
		before, err := svc.GetOrCreateToday(ctx)
		if err != nil {
			t.Fatalf("GetOrCreateToday: %v", err)
		}
		a, err := svc.RegenerateToday(ctx)
		if err != nil {
			t.Fatalf("RegenerateToday: %v", err)
		}
		if a.ID == before.ID {
			t.Error("expected regenerate to store a new row id")
		}
		if a.Code != "AAA24" || a.SequenceIndex != 1 {
			t.Errorf("expected AAA24 at 1, got %s at %d", a.Code, a.SequenceIndex)
		}
		used, _ := svc.CodesUsed(ctx)
		if used != 2 {
			t.Errorf("expected 2 codes used, got %d", used)
		}
		items, total, err := svc.History(ctx, 10, 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if total != 1 || len(items) != 1 || items[0].Code != "AAA24" {
			t.Errorf("expected one row holding AAA24, got %d rows", total)
		}
	})
}

func TestDailyCode_ConcurrentInstancesAgree(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "race")
	now := fixedClock(juneTenth(t))

	const instances = 8
	var wg sync.WaitGroup
	codes := make([]dailycode.Code, instances)
	errs := make([]error, instances)
	start := make(chan struct{})
	for i := 0; i < instances; i++ {
		svc := newService(t, pool, now)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			a, err := svc.GetOrCreateToday(ctx)
			errs[i] = err
			if a != nil {
				codes[i] = a.Code
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range codes {
		if errs[i] != nil {
			t.Fatalf("instance %d: %v", i, errs[i])
		}
		if codes[i] != codes[0] {
			t.Errorf("instance %d saw %s, instance 0 saw %s", i, codes[i], codes[0])
		}
	}

	var rows int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM daily_code_assignments`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected exactly 1 row, got %d", rows)
	}
}

func TestAssignmentRepo_UpsertKeepsHigherIndex(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "upsert")
	repo := dailycode.NewAssignmentRepoPG(pool)
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	first := &dailycode.Assignment{CivilDate: date, Code: dailycode.Encode(3), SequenceIndex: 3}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for _, idx := range []int64{3, 2} {
		stale := &dailycode.Assignment{CivilDate: date, Code: dailycode.Encode(idx), SequenceIndex: idx}
		if err := repo.Upsert(ctx, stale); !errors.Is(err, dailycode.ErrUniqueViolation) {
			t.Errorf("Upsert index %d over 3: expected ErrUniqueViolation, got %v", idx, err)
		}
	}
	used, err := repo.CountCodesUsed(ctx)
	if err != nil {
		t.Fatalf("CountCodesUsed: %v", err)
	}
	if used != 1 {
		t.Errorf("rejected upserts must not count, got %d codes used", used)
	}

	next := &dailycode.Assignment{CivilDate: date, Code: dailycode.Encode(4), SequenceIndex: 4}
	if err := repo.Upsert(ctx, next); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if next.ID == first.ID {
		t.Error("expected the replacement row to carry a new id")
	}
	got, err := repo.GetByDate(ctx, date)
	if err != nil {
		t.Fatalf("GetByDate: %v", err)
	}
	if got.ID != next.ID || got.SequenceIndex != 4 {
		t.Errorf("expected row %s at 4, got %s at %d", next.ID, got.ID, got.SequenceIndex)
	}
}

func TestDailyCode_ConcurrentRegenerates(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "regen")
	now := fixedClock(juneTenth(t))
	if _, err := newService(t, pool, now).GetOrCreateToday(ctx); err != nil {
		t.Fatalf("GetOrCreateToday: %v", err)
	}

	// Each round has one winner, so four callers fit the attempt bound.
	const instances = 4
	var wg sync.WaitGroup
	indices := make([]int64, instances)
	errs := make([]error, instances)
	start := make(chan struct{})
	for i := 0; i < instances; i++ {
		svc := newService(t, pool, now)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			a, err := svc.RegenerateToday(ctx)
			errs[i] = err
			if a != nil {
				indices[i] = a.SequenceIndex
			}
		}(i)
	}
	close(start)
	wg.Wait()

	seen := make(map[int64]bool)
	for i, idx := range indices {
		if errs[i] != nil {
			t.Fatalf("instance %d: %v", i, errs[i])
		}
		if seen[idx] {
			t.Errorf("index %d returned to more than one regenerate", idx)
		}
		seen[idx] = true
	}

	used, err := newService(t, pool, now).CodesUsed(ctx)
	if err != nil {
		t.Fatalf("CodesUsed: %v", err)
	}
	if used != 1+instances {
		t.Errorf("expected %d codes used, got %d", 1+instances, used)
	}
}

func TestDailyCode_ConsecutiveDays(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "days")
	svc := newService(t, pool, fixedClock(juneTenth(t)))

	for i := 0; i < 5; i++ {
		date := time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC)
		a, err := svc.GetOrCreate(ctx, date)
		if err != nil {
			t.Fatalf("GetOrCreate(%s): %v", date.Format(dailycode.DateLayout), err)
		}
		if a.SequenceIndex != int64(i) || a.Code != dailycode.Encode(int64(i)) {
			t.Errorf("day %d: expected index %d, got %d (%s)", i, i, a.SequenceIndex, a.Code)
		}
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "settings")
	svc := newService(t, pool, fixedClock(juneTenth(t)))

	if p := svc.ResetPolicy(ctx); p != dailycode.DefaultResetPolicy {
		t.Errorf("expected default policy before any save, got %s", p)
	}
	if err := svc.SaveResetPolicy(ctx, dailycode.ResetPolicy{Hour: 6, Minute: 45}); err != nil {
		t.Fatalf("SaveResetPolicy: %v", err)
	}

	// A second instance sees the persisted policy.
	other := newService(t, pool, fixedClock(juneTenth(t)))
	if p := other.ResetPolicy(ctx); p.String() != "06:45" {
		t.Errorf("expected 06:45, got %s", p)
	}

	if err := svc.SaveResetPolicy(ctx, dailycode.ResetPolicy{Hour: 7, Minute: 0}); err != nil {
		t.Fatalf("SaveResetPolicy overwrite: %v", err)
	}
	if p := other.ResetPolicy(ctx); p.String() != "07:00" {
		t.Errorf("expected 07:00 after overwrite, got %s", p)
	}
}

func TestDailyCode_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, ctx, "down")
	svc := newService(t, pool, fixedClock(juneTenth(t)))
	pool.Close()

	_, err := svc.GetOrCreateToday(ctx)
	if !errors.Is(err, dailycode.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}
