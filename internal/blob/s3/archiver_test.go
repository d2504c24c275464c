package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

type fakeBlobWriter struct {
	objects map[string][]byte
}

func (w *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.objects[path] = buf.Bytes()
	return nil
}

func (w *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeOddsLister struct {
	quotes []domain.Quote
}

func (s *fakeOddsLister) ListBefore(_ context.Context, _ time.Time) ([]domain.Quote, error) {
	return s.quotes, nil
}

type fakeOppLister struct {
	opps []domain.Opportunity
}

func (s *fakeOppLister) ListBefore(_ context.Context, _ time.Time) ([]domain.Opportunity, error) {
	return s.opps, nil
}

func testArchiver(w *fakeBlobWriter, odds *fakeOddsLister, opps *fakeOppLister) *ArchiveImpl {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(w, odds, opps, logger)
}

func TestArchiveOddsWritesJSONL(t *testing.T) {
	w := &fakeBlobWriter{}
	odds := &fakeOddsLister{quotes: []domain.Quote{
		{EventID: 1, BookmakerID: 1, BetType: domain.BetMoneyline, Selection: "home", Decimal: 2.5},
		{EventID: 1, BookmakerID: 2, BetType: domain.BetMoneyline, Selection: "away", Decimal: 2.2},
	}}
	a := testArchiver(w, odds, &fakeOppLister{})

	count, err := a.ArchiveOdds(context.Background(), time.Date(2026, 8, 15, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveOdds: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if len(w.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(w.objects))
	}
	for path, data := range w.objects {
		if path != "archive/odds/2026-08/20260815T060000Z.jsonl" {
			t.Errorf("path = %q, want cutoff-stamped key", path)
		}
		if lines := strings.Count(string(data), "\n"); lines != 2 {
			t.Errorf("jsonl lines = %d, want 2", lines)
		}
	}
}

func TestArchiveRunsInSameMonthDoNotCollide(t *testing.T) {
	w := &fakeBlobWriter{}
	odds := &fakeOddsLister{quotes: []domain.Quote{
		{EventID: 1, BookmakerID: 1, BetType: domain.BetMoneyline, Selection: "home", Decimal: 2.5},
	}}
	a := testArchiver(w, odds, &fakeOppLister{})

	first := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)

	if _, err := a.ArchiveOdds(context.Background(), first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := a.ArchiveOdds(context.Background(), second); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Each retention run must land under its own key, or the later run would
	// replace rows already deleted from the database.
	if len(w.objects) != 2 {
		t.Fatalf("objects = %d, want one object per run", len(w.objects))
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	w := &fakeBlobWriter{}
	a := testArchiver(w, &fakeOddsLister{}, &fakeOppLister{})

	count, err := a.ArchiveOpportunities(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ArchiveOpportunities: %v", err)
	}
	if count != 0 || len(w.objects) != 0 {
		t.Errorf("count = %d, objects = %d, want no upload", count, len(w.objects))
	}
}
