package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/index"
	"github.com/Dalcyang/oddsarb/internal/lifecycle"
	"github.com/Dalcyang/oddsarb/internal/matcher"
	"github.com/Dalcyang/oddsarb/internal/normalizer"
)

type fakeBookStore struct {
	books map[string]domain.Bookmaker
}

func (s *fakeBookStore) GetByName(_ context.Context, name string) (domain.Bookmaker, error) {
	b, ok := s.books[name]
	if !ok {
		return domain.Bookmaker{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBookStore) Upsert(_ context.Context, b domain.Bookmaker) (domain.Bookmaker, error) {
	return b, nil
}

func (s *fakeBookStore) List(_ context.Context) ([]domain.Bookmaker, error)  { return nil, nil }
func (s *fakeBookStore) SetActive(_ context.Context, _ string, _ bool) error { return nil }

type fakeEventStore struct {
	nextID int64
	events map[int64]domain.SportEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[int64]domain.SportEvent)}
}

func (s *fakeEventStore) Create(_ context.Context, ev domain.SportEvent) (domain.SportEvent, error) {
	s.nextID++
	ev.ID = s.nextID
	s.events[ev.ID] = ev
	return ev, nil
}

func (s *fakeEventStore) GetByID(_ context.Context, id int64) (domain.SportEvent, error) {
	ev, ok := s.events[id]
	if !ok {
		return domain.SportEvent{}, domain.ErrNotFound
	}
	return ev, nil
}

func (s *fakeEventStore) FindByFixture(_ context.Context, home, away string, _ time.Time) (domain.SportEvent, error) {
	for _, ev := range s.events {
		if ev.HomeTeam == home && ev.AwayTeam == away {
			return ev, nil
		}
	}
	return domain.SportEvent{}, domain.ErrNotFound
}

func (s *fakeEventStore) Touch(_ context.Context, _ int64, _ bool) error { return nil }

func (s *fakeEventStore) ListUpcoming(_ context.Context, _ domain.SportType, _ domain.ListOpts) ([]domain.SportEvent, error) {
	return nil, nil
}

func (s *fakeEventStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

type fakeOddsStore struct {
	upserts int
	failing bool
}

func (s *fakeOddsStore) Upsert(_ context.Context, _ domain.Quote) error {
	if s.failing {
		return errors.New("connection refused")
	}
	s.upserts++
	return nil
}

func (s *fakeOddsStore) ListByMarket(_ context.Context, _ domain.MarketKey) ([]domain.Quote, error) {
	return nil, nil
}

func (s *fakeOddsStore) ListLatest(_ context.Context, _ int64) ([]domain.Quote, error) {
	return nil, nil
}

func (s *fakeOddsStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Quote, error) {
	return nil, nil
}

func (s *fakeOddsStore) MarkUnavailableBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeOddsStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (s *fakeOddsStore) BookmakerPerformance(_ context.Context, _ time.Duration) ([]domain.BookmakerPerformance, error) {
	return nil, nil
}

type fakeOppStore struct {
	active map[domain.MarketKey]domain.Opportunity
}

func newFakeOppStore() *fakeOppStore {
	return &fakeOppStore{active: make(map[domain.MarketKey]domain.Opportunity)}
}

func (s *fakeOppStore) Upsert(_ context.Context, opp domain.Opportunity) error {
	if opp.IsActive {
		s.active[opp.Key()] = opp
	} else {
		delete(s.active, opp.Key())
	}
	return nil
}

func (s *fakeOppStore) GetActive(_ context.Context, key domain.MarketKey) (domain.Opportunity, error) {
	opp, ok := s.active[key]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return opp, nil
}

func (s *fakeOppStore) Deactivate(_ context.Context, key domain.MarketKey, _ time.Time) error {
	delete(s.active, key)
	return nil
}

func (s *fakeOppStore) DeactivateExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeOppStore) ListActive(_ context.Context, _ float64, _ domain.ListOpts) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *fakeOppStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *fakeOppStore) DeleteInactiveBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	ingestor *Ingestor
	odds     *fakeOddsStore
	opps     *fakeOppStore
	index    *index.Index
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	books := &fakeBookStore{books: map[string]domain.Bookmaker{
		"betway":        {ID: 1, Name: "betway", IsActive: true},
		"hollywoodbets": {ID: 2, Name: "hollywoodbets", IsActive: true},
	}}
	events := newFakeEventStore()
	odds := &fakeOddsStore{}
	opps := newFakeOppStore()

	norm := normalizer.New(normalizer.Config{
		EventPastWindow:   2 * time.Hour,
		EventFutureWindow: 14 * 24 * time.Hour,
	}, books, events, logger)

	ix := index.New(index.Config{
		Shards:          4,
		StalenessWindow: 5 * time.Minute,
		RetentionWindow: time.Hour,
	})

	lc := lifecycle.NewManager(lifecycle.Config{
		ValidityWindow:       5 * time.Minute,
		StalenessWindow:      10 * time.Minute,
		LowRiskConfidence:    0.8,
		MediumRiskConfidence: 0.5,
	}, opps, events, nil, logger)

	m := matcher.New(matcher.Config{TotalStake: 1000, MinProfitPct: 0.5}, ix, lc, logger)

	return &fixture{
		ingestor: New(norm, ix, odds, m, nil, logger),
		odds:     odds,
		opps:     opps,
		index:    ix,
	}
}

func obs(book, sel string, price float64, at time.Time) domain.Observation {
	return domain.Observation{
		Bookmaker: book,
		Event: domain.EventDescriptor{
			SportType: domain.SportSoccer,
			HomeTeam:  "Kaizer Chiefs",
			AwayTeam:  "Orlando Pirates",
			StartsAt:  time.Now().UTC().Add(24 * time.Hour),
		},
		BetType:    domain.BetMoneyline,
		Selection:  sel,
		Decimal:    price,
		CapturedAt: at,
	}
}

func TestIngestAccepted(t *testing.T) {
	f := newFixture()
	run := &domain.Run{Status: domain.RunRunning}
	at := time.Now().UTC()

	res := f.ingestor.Ingest(context.Background(), run, obs("betway", "home", 2.50, at))
	if res.Outcome != OutcomeInserted {
		t.Fatalf("outcome = %s, want %s (err %v)", res.Outcome, OutcomeInserted, res.Err)
	}
	if !res.Accepted() {
		t.Error("inserted result must report accepted")
	}
	if run.OddsExtracted != 1 || run.EventsFound != 1 {
		t.Errorf("counters = %d extracted / %d events, want 1/1", run.OddsExtracted, run.EventsFound)
	}
	if run.Metrics.Inserted != 1 {
		t.Errorf("Metrics.Inserted = %d, want 1", run.Metrics.Inserted)
	}
	if f.odds.upserts != 1 {
		t.Errorf("odds write-throughs = %d, want 1", f.odds.upserts)
	}
	if f.index.Len() != 1 {
		t.Errorf("index size = %d, want 1", f.index.Len())
	}
}

func TestIngestStaleRedelivery(t *testing.T) {
	f := newFixture()
	run := &domain.Run{Status: domain.RunRunning}
	at := time.Now().UTC()
	ctx := context.Background()

	first := f.ingestor.Ingest(ctx, run, obs("betway", "home", 2.50, at))
	if first.Outcome != OutcomeInserted {
		t.Fatalf("first outcome = %s", first.Outcome)
	}

	second := f.ingestor.Ingest(ctx, run, obs("betway", "home", 2.50, at))
	if second.Outcome != OutcomeStale {
		t.Fatalf("redelivery outcome = %s, want %s", second.Outcome, OutcomeStale)
	}
	if second.Accepted() {
		t.Error("stale result must not report accepted")
	}
	if !errors.Is(second.Err, domain.ErrStaleDelivery) {
		t.Errorf("stale err = %v, want ErrStaleDelivery", second.Err)
	}
	if run.Metrics.StaleDropped != 1 {
		t.Errorf("Metrics.StaleDropped = %d, want 1", run.Metrics.StaleDropped)
	}
	// Stale deliveries never reach the database.
	if f.odds.upserts != 1 {
		t.Errorf("odds write-throughs = %d, want 1", f.odds.upserts)
	}
}

func TestIngestNewerSupersedes(t *testing.T) {
	f := newFixture()
	at := time.Now().UTC()
	ctx := context.Background()

	f.ingestor.Ingest(ctx, nil, obs("betway", "home", 2.50, at))
	res := f.ingestor.Ingest(ctx, nil, obs("betway", "home", 2.60, at.Add(time.Second)))
	if res.Outcome != OutcomeSuperseded {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeSuperseded)
	}
}

func TestIngestRejections(t *testing.T) {
	at := time.Now().UTC()
	tests := []struct {
		name    string
		obs     domain.Observation
		want    Outcome
		wantErr error
	}{
		{
			name: "unknown bookmaker",
			obs: func() domain.Observation {
				o := obs("nosuchbook", "home", 2.50, at)
				return o
			}(),
			want:    OutcomeInvalid,
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name: "event outside window",
			obs: func() domain.Observation {
				o := obs("betway", "home", 2.50, at)
				o.Event.StartsAt = at.Add(-72 * time.Hour)
				return o
			}(),
			want:    OutcomeUnresolved,
			wantErr: domain.ErrUnresolvedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			run := &domain.Run{Status: domain.RunRunning}
			res := f.ingestor.Ingest(context.Background(), run, tt.obs)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", res.Err, tt.wantErr)
			}
			if run.ErrorsCount != 1 {
				t.Errorf("ErrorsCount = %d, want 1", run.ErrorsCount)
			}
			if f.odds.upserts != 0 {
				t.Errorf("rejected observation reached the odds store")
			}
		})
	}
}

func TestIngestWriteThroughFailure(t *testing.T) {
	f := newFixture()
	f.odds.failing = true
	run := &domain.Run{Status: domain.RunRunning}

	res := f.ingestor.Ingest(context.Background(), run, obs("betway", "home", 2.50, time.Now().UTC()))
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeError)
	}
	if res.Err == nil {
		t.Error("error outcome carries no error")
	}
	if run.ErrorsCount != 1 {
		t.Errorf("ErrorsCount = %d, want 1", run.ErrorsCount)
	}
}

func TestIngestBatchDetectsOpportunity(t *testing.T) {
	f := newFixture()
	run := &domain.Run{Status: domain.RunRunning}
	at := time.Now().UTC()

	// 1/2.50 + 1/2.20 ≈ 0.855, a 17% arbitrage once both sides are live.
	results := f.ingestor.IngestBatch(context.Background(), run, []domain.Observation{
		obs("betway", "home", 2.50, at),
		obs("hollywoodbets", "away", 2.20, at),
	})

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for i, res := range results {
		if res.Outcome != OutcomeInserted {
			t.Fatalf("result %d outcome = %s (err %v)", i, res.Outcome, res.Err)
		}
	}
	if run.Metrics.Opportunities == 0 {
		t.Fatal("no opportunity counted")
	}
	if len(f.opps.active) != 1 {
		t.Fatalf("%d active opportunities, want 1", len(f.opps.active))
	}
	for _, opp := range f.opps.active {
		if opp.ProfitPct < 17.0 || opp.ProfitPct > 17.1 {
			t.Errorf("ProfitPct = %v, want about 17.02", opp.ProfitPct)
		}
		if len(opp.Legs) != 2 {
			t.Errorf("len(Legs) = %d, want 2", len(opp.Legs))
		}
	}
}

func TestReevaluateRetiresAfterEviction(t *testing.T) {
	f := newFixture()
	at := time.Now().UTC()
	ctx := context.Background()

	f.ingestor.IngestBatch(ctx, nil, []domain.Observation{
		obs("betway", "home", 2.50, at),
		obs("hollywoodbets", "away", 2.20, at),
	})
	if len(f.opps.active) != 1 {
		t.Fatalf("%d active opportunities after ingest, want 1", len(f.opps.active))
	}

	// Retention passes; both quotes age out of the index.
	_, touched, retired := f.index.Evict(at.Add(2 * time.Hour))
	if len(touched) != 1 {
		t.Fatalf("%d touched markets, want 1", len(touched))
	}
	f.ingestor.Reevaluate(ctx, touched)

	if len(f.opps.active) != 0 {
		t.Error("opportunity survived eviction of its quotes")
	}

	// The emptied market's engine state is released along with it.
	f.ingestor.Prune(retired, at.Add(-time.Hour))
}
