package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

type fakeRunStore struct {
	runs map[string]domain.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]domain.Run)}
}

func (s *fakeRunStore) Create(_ context.Context, run domain.Run) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) Finalize(_ context.Context, run domain.Run) error {
	cur, ok := s.runs[run.ID]
	if !ok || cur.Status != domain.RunRunning {
		return domain.ErrRunFinalized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) GetByID(_ context.Context, id string) (domain.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (s *fakeRunStore) ListRecent(_ context.Context, limit int) ([]domain.Run, error) {
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func testLedger(store domain.RunStore) *Ledger {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStartComplete(t *testing.T) {
	store := newFakeRunStore()
	l := testLedger(store)
	ctx := context.Background()

	run, err := l.Start(ctx, "betway", domain.SportSoccer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run has no id")
	}
	if run.Status != domain.RunRunning {
		t.Fatalf("status = %s, want %s", run.Status, domain.RunRunning)
	}
	if run.Finalized() {
		t.Fatal("fresh run reports finalized")
	}

	run.OddsExtracted = 40
	run.EventsFound = 3
	run.Metrics = domain.RunMetrics{Inserted: 30, Superseded: 8, StaleDropped: 2}
	if err := l.Complete(ctx, run); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stored, err := l.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.RunCompleted {
		t.Errorf("status = %s, want %s", stored.Status, domain.RunCompleted)
	}
	if stored.EndedAt == nil {
		t.Error("completed run has no end time")
	}
	if stored.OddsExtracted != 40 || stored.EventsFound != 3 {
		t.Errorf("counters = %d/%d, want 40/3", stored.OddsExtracted, stored.EventsFound)
	}
	if stored.Metrics.Inserted != 30 {
		t.Errorf("Metrics.Inserted = %d, want 30", stored.Metrics.Inserted)
	}
}

func TestFailRecordsCause(t *testing.T) {
	store := newFakeRunStore()
	l := testLedger(store)
	ctx := context.Background()

	run, err := l.Start(ctx, "betway", domain.SportSoccer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Fail(ctx, run, errors.New("upstream connection reset")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	stored, err := l.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.RunFailed {
		t.Errorf("status = %s, want %s", stored.Status, domain.RunFailed)
	}
	if stored.ErrorDetail != "upstream connection reset" {
		t.Errorf("ErrorDetail = %q", stored.ErrorDetail)
	}
}

func TestCancel(t *testing.T) {
	store := newFakeRunStore()
	l := testLedger(store)
	ctx := context.Background()

	run, err := l.Start(ctx, "betway", domain.SportSoccer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Cancel(ctx, run); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stored, _ := l.Get(ctx, run.ID)
	if stored.Status != domain.RunCancelled {
		t.Errorf("status = %s, want %s", stored.Status, domain.RunCancelled)
	}
}

func TestDoubleFinalize(t *testing.T) {
	store := newFakeRunStore()
	l := testLedger(store)
	ctx := context.Background()

	run, err := l.Start(ctx, "betway", domain.SportSoccer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Complete(ctx, run); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// The caller's copy is still in the running state; the store rejects the
	// second finalize.
	if err := l.Fail(ctx, run, errors.New("late failure")); !errors.Is(err, domain.ErrRunFinalized) {
		t.Fatalf("second finalize err = %v, want ErrRunFinalized", err)
	}

	// A copy already marked terminal is rejected before reaching the store.
	run.Status = domain.RunCompleted
	if err := l.Complete(ctx, run); !errors.Is(err, domain.ErrRunFinalized) {
		t.Fatalf("finalize of terminal copy err = %v, want ErrRunFinalized", err)
	}
}

func TestGetUnknownRun(t *testing.T) {
	l := testLedger(newFakeRunStore())
	if _, err := l.Get(context.Background(), "no-such-run"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartStampsUTC(t *testing.T) {
	l := testLedger(newFakeRunStore())
	before := time.Now().UTC()
	run, err := l.Start(context.Background(), "betway", domain.SportRugby)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.StartedAt.Before(before.Add(-time.Second)) || run.StartedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("StartedAt = %v, not near now", run.StartedAt)
	}
	if run.SportType != domain.SportRugby {
		t.Errorf("SportType = %s, want rugby", run.SportType)
	}
}
