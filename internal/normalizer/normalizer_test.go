package normalizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

type fakeBookStore struct {
	books   map[string]domain.Bookmaker
	lookups int
}

func (s *fakeBookStore) GetByName(_ context.Context, name string) (domain.Bookmaker, error) {
	s.lookups++
	b, ok := s.books[name]
	if !ok {
		return domain.Bookmaker{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBookStore) Upsert(_ context.Context, b domain.Bookmaker) (domain.Bookmaker, error) {
	s.books[b.Name] = b
	return b, nil
}

func (s *fakeBookStore) List(_ context.Context) ([]domain.Bookmaker, error) { return nil, nil }

func (s *fakeBookStore) SetActive(_ context.Context, _ string, _ bool) error { return nil }

type fakeEventStore struct {
	nextID  int64
	events  []domain.SportEvent
	creates int
	finds   int
	touches []touchCall
}

type touchCall struct {
	id   int64
	live bool
}

func (s *fakeEventStore) Create(_ context.Context, ev domain.SportEvent) (domain.SportEvent, error) {
	s.creates++
	for _, e := range s.events {
		if e.HomeTeam == ev.HomeTeam && e.AwayTeam == ev.AwayTeam && sameDay(e.EventDate, ev.EventDate) {
			return domain.SportEvent{}, domain.ErrAlreadyExists
		}
	}
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *fakeEventStore) GetByID(_ context.Context, id int64) (domain.SportEvent, error) {
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.SportEvent{}, domain.ErrNotFound
}

func (s *fakeEventStore) FindByFixture(_ context.Context, home, away string, date time.Time) (domain.SportEvent, error) {
	s.finds++
	for _, e := range s.events {
		if e.HomeTeam == home && e.AwayTeam == away && sameDay(e.EventDate, date) {
			return e, nil
		}
	}
	return domain.SportEvent{}, domain.ErrNotFound
}

func (s *fakeEventStore) Touch(_ context.Context, id int64, live bool) error {
	s.touches = append(s.touches, touchCall{id: id, live: live})
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].IsLive = live
		}
	}
	return nil
}

func (s *fakeEventStore) ListUpcoming(_ context.Context, _ domain.SportType, _ domain.ListOpts) ([]domain.SportEvent, error) {
	return nil, nil
}

func (s *fakeEventStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func newTestNormalizer(books *fakeBookStore, events *fakeEventStore) *Normalizer {
	cfg := Config{
		EventPastWindow:   2 * time.Hour,
		EventFutureWindow: 14 * 24 * time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, books, events, logger)
}

func activeBooks() *fakeBookStore {
	return &fakeBookStore{books: map[string]domain.Bookmaker{
		"betway":        {ID: 1, Name: "betway", IsActive: true},
		"hollywoodbets": {ID: 2, Name: "hollywoodbets", IsActive: true},
		"closedshop":    {ID: 3, Name: "closedshop", IsActive: false},
	}}
}

func observation() domain.Observation {
	return domain.Observation{
		Bookmaker: "betway",
		Event: domain.EventDescriptor{
			SportType: domain.SportSoccer,
			HomeTeam:  "Kaizer Chiefs",
			AwayTeam:  "Orlando Pirates",
			StartsAt:  time.Now().UTC().Add(24 * time.Hour),
			League:    "PSL",
		},
		BetType:    domain.BetMatchWinner,
		Selection:  "Home",
		Decimal:    2.45,
		CapturedAt: time.Now().UTC(),
	}
}

func TestNormalizeValid(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n := newTestNormalizer(books, events)

	q, created, err := n.Normalize(context.Background(), observation())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !created {
		t.Error("first sighting must create the event")
	}
	if q.BookmakerID != 1 || q.Bookmaker != "betway" {
		t.Errorf("bookmaker = %s/%d, want betway/1", q.Bookmaker, q.BookmakerID)
	}
	if q.Selection != "home" {
		t.Errorf("selection = %q, want lowercased %q", q.Selection, "home")
	}
	if q.Decimal != 2.45 {
		t.Errorf("decimal = %v, want 2.45", q.Decimal)
	}
	if !q.IsAvailable {
		t.Error("normalized quote must be available")
	}
	if q.Confidence != 1.0 {
		t.Errorf("default confidence = %v, want 1.0", q.Confidence)
	}
	if q.EventID == 0 {
		t.Error("quote has no event id")
	}
}

func TestNormalizeOddsConversions(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*domain.Observation)
		want float64
	}{
		{
			name: "decimal passthrough rounded to three places",
			mut:  func(o *domain.Observation) { o.Decimal = 2.4567 },
			want: 2.457,
		},
		{
			name: "positive american",
			mut: func(o *domain.Observation) {
				o.Decimal = 0
				o.American = 150
			},
			want: 2.5,
		},
		{
			name: "negative american",
			mut: func(o *domain.Observation) {
				o.Decimal = 0
				o.American = -200
			},
			want: 1.5,
		},
		{
			name: "fractional",
			mut: func(o *domain.Observation) {
				o.Decimal = 0
				o.Fractional = "3/2"
			},
			want: 2.5,
		},
		{
			name: "decimal takes precedence over american",
			mut: func(o *domain.Observation) {
				o.Decimal = 3.0
				o.American = 150
			},
			want: 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(activeBooks(), &fakeEventStore{})
			obs := observation()
			tt.mut(&obs)
			q, _, err := n.Normalize(context.Background(), obs)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if q.Decimal != tt.want {
				t.Errorf("decimal = %v, want %v", q.Decimal, tt.want)
			}
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(*domain.Observation)
		wantErr error
	}{
		{
			name:    "unknown bookmaker",
			mut:     func(o *domain.Observation) { o.Bookmaker = "nosuchbook" },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "deactivated bookmaker",
			mut:     func(o *domain.Observation) { o.Bookmaker = "closedshop" },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "missing bookmaker",
			mut:     func(o *domain.Observation) { o.Bookmaker = "  " },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name: "no price in any format",
			mut: func(o *domain.Observation) {
				o.Decimal = 0
				o.American = 0
				o.Fractional = ""
			},
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "odds below minimum",
			mut:     func(o *domain.Observation) { o.Decimal = 1.0005 },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "odds above maximum",
			mut:     func(o *domain.Observation) { o.Decimal = 1500 },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name: "malformed fractional",
			mut: func(o *domain.Observation) {
				o.Decimal = 0
				o.Fractional = "three to two"
			},
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "missing selection",
			mut:     func(o *domain.Observation) { o.Selection = "  " },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name:    "missing captured-at",
			mut:     func(o *domain.Observation) { o.CapturedAt = time.Time{} },
			wantErr: domain.ErrInvalidQuote,
		},
		{
			name: "event too far in the past",
			mut: func(o *domain.Observation) {
				o.Event.StartsAt = time.Now().UTC().Add(-3 * time.Hour)
			},
			wantErr: domain.ErrUnresolvedEvent,
		},
		{
			name: "event too far in the future",
			mut: func(o *domain.Observation) {
				o.Event.StartsAt = time.Now().UTC().Add(30 * 24 * time.Hour)
			},
			wantErr: domain.ErrUnresolvedEvent,
		},
		{
			name: "team name too short",
			mut: func(o *domain.Observation) {
				o.Event.HomeTeam = "X"
			},
			wantErr: domain.ErrUnresolvedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(activeBooks(), &fakeEventStore{})
			obs := observation()
			tt.mut(&obs)
			_, _, err := n.Normalize(context.Background(), obs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeResolvesSameFixtureOnce(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n := newTestNormalizer(books, events)

	first, created, err := n.Normalize(context.Background(), observation())
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	if !created {
		t.Fatal("first sighting must create the event")
	}

	// Same fixture from another bookmaker with messy whitespace.
	obs := observation()
	obs.Bookmaker = "hollywoodbets"
	obs.Event.HomeTeam = "  Kaizer   Chiefs "
	obs.Selection = "draw"
	obs.Decimal = 3.3
	second, created, err := n.Normalize(context.Background(), obs)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if created {
		t.Error("second sighting must not create another event")
	}
	if second.EventID != first.EventID {
		t.Errorf("event ids differ: %d vs %d", second.EventID, first.EventID)
	}
	if events.creates != 1 {
		t.Errorf("store creates = %d, want 1", events.creates)
	}
}

func TestNormalizeCachesLookups(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n := newTestNormalizer(books, events)

	for i := 0; i < 3; i++ {
		if _, _, err := n.Normalize(context.Background(), observation()); err != nil {
			t.Fatalf("Normalize %d: %v", i, err)
		}
	}
	if books.lookups != 1 {
		t.Errorf("bookmaker store lookups = %d, want 1", books.lookups)
	}
	// The fixture cache answers after the creating call.
	if events.finds > 1 {
		t.Errorf("fixture store lookups = %d, want at most 1", events.finds)
	}
}

func TestNormalizeLostCreateRace(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n1 := newTestNormalizer(books, events)
	n2 := newTestNormalizer(books, events)

	first, _, err := n1.Normalize(context.Background(), observation())
	if err != nil {
		t.Fatalf("n1 Normalize: %v", err)
	}

	// n2 has a cold cache; its FindByFixture succeeds against the shared
	// store, so it resolves to the same event without creating.
	second, created, err := n2.Normalize(context.Background(), observation())
	if err != nil {
		t.Fatalf("n2 Normalize: %v", err)
	}
	if created {
		t.Error("n2 must not report a create")
	}
	if second.EventID != first.EventID {
		t.Errorf("event ids differ: %d vs %d", second.EventID, first.EventID)
	}
}

func TestNormalizeRevalidatesBookmaker(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := New(Config{
		EventPastWindow:   2 * time.Hour,
		EventFutureWindow: 14 * 24 * time.Hour,
		BookmakerCacheTTL: -time.Second, // revalidate on every observation
	}, books, events, logger)

	if _, _, err := n.Normalize(context.Background(), observation()); err != nil {
		t.Fatalf("Normalize with active bookmaker: %v", err)
	}

	// Operator deactivates the bookmaker while the process keeps running.
	books.books["betway"] = domain.Bookmaker{ID: 1, Name: "betway", IsActive: false}

	_, _, err := n.Normalize(context.Background(), observation())
	if !errors.Is(err, domain.ErrInvalidQuote) {
		t.Fatalf("err = %v, want ErrInvalidQuote after deactivation", err)
	}
}

func TestNormalizeMarksEventLive(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n := newTestNormalizer(books, events)

	startedAt := time.Now().UTC().Add(-30 * time.Minute)
	seeded, err := events.Create(context.Background(), domain.SportEvent{
		SportType: domain.SportSoccer,
		HomeTeam:  "Kaizer Chiefs",
		AwayTeam:  "Orlando Pirates",
		EventDate: startedAt,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	obs := observation()
	obs.Event.StartsAt = startedAt

	q, created, err := n.Normalize(context.Background(), obs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if created {
		t.Error("seeded fixture must not be re-created")
	}
	if q.EventID != seeded.ID {
		t.Errorf("event id = %d, want %d", q.EventID, seeded.ID)
	}
	if len(events.touches) != 1 || events.touches[0] != (touchCall{id: seeded.ID, live: true}) {
		t.Fatalf("touches = %+v, want one live touch for event %d", events.touches, seeded.ID)
	}

	// A second sighting of the already-live fixture is served from the cache
	// and does not touch again.
	if _, _, err := n.Normalize(context.Background(), obs); err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if len(events.touches) != 1 {
		t.Errorf("touches after re-sighting = %d, want 1", len(events.touches))
	}
}

func TestEvictFixturesBefore(t *testing.T) {
	books := activeBooks()
	events := &fakeEventStore{}
	n := newTestNormalizer(books, events)

	now := time.Now().UTC()

	obs := observation()
	if _, _, err := n.Normalize(context.Background(), obs); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	staleDesc := obs.Event
	staleDesc.StartsAt = now.AddDate(0, 0, -10)
	n.cacheEvent(fixtureKey(staleDesc.Normalize()), 99, false)

	removed := n.EvictFixturesBefore(now.AddDate(0, 0, -7))
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(n.eventID) != 1 {
		t.Errorf("cached fixtures = %d, want the upcoming one kept", len(n.eventID))
	}
}
