// Package normalizer validates raw odds observations and canonicalizes them
// into quotes, resolving (and when necessary creating) the sport event each
// quote belongs to.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// Config bounds the event start times the normalizer accepts, relative to
// "now". Observations for events outside the window fail with
// domain.ErrUnresolvedEvent.
type Config struct {
	EventPastWindow   time.Duration
	EventFutureWindow time.Duration
	// BookmakerCacheTTL bounds how long a cached bookmaker row is trusted
	// before the store is consulted again, so a runtime deactivation reaches
	// running ingest processes. Zero selects the one minute default; a
	// negative value disables the cache.
	BookmakerCacheTTL time.Duration
}

const defaultBookmakerCacheTTL = time.Minute

// Normalizer turns observations into canonical quotes. It caches bookmaker
// and fixture lookups so the ingestion hot path stays off the database for
// repeat sightings.
type Normalizer struct {
	cfg    Config
	books  domain.BookmakerStore
	events domain.EventStore
	logger *slog.Logger

	mu       sync.RWMutex
	bookByID map[string]cachedBookmaker
	eventID  map[string]cachedEvent // fixture key -> resolution
}

// cachedBookmaker is one bookmaker row plus the time it was read, so the
// active flag can be revalidated once the entry ages out.
type cachedBookmaker struct {
	book      domain.Bookmaker
	fetchedAt time.Time
}

// cachedEvent is one resolved fixture plus the live flag last written for it.
type cachedEvent struct {
	id   int64
	live bool
}

// New creates a Normalizer backed by the given stores.
func New(cfg Config, books domain.BookmakerStore, events domain.EventStore, logger *slog.Logger) *Normalizer {
	if cfg.BookmakerCacheTTL == 0 {
		cfg.BookmakerCacheTTL = defaultBookmakerCacheTTL
	}
	return &Normalizer{
		cfg:      cfg,
		books:    books,
		events:   events,
		logger:   logger.With(slog.String("component", "normalizer")),
		bookByID: make(map[string]cachedBookmaker),
		eventID:  make(map[string]cachedEvent),
	}
}

// Normalize validates the observation and produces a canonical quote. The
// returned bool reports whether a new sport event was created as a side
// effect. Failures are domain.ErrInvalidQuote (bad price or source) or
// domain.ErrUnresolvedEvent (event cannot be placed); out-of-order delivery
// is not checked here, the freshness index drops it on upsert.
func (n *Normalizer) Normalize(ctx context.Context, obs domain.Observation) (domain.Quote, bool, error) {
	book, err := n.resolveBookmaker(ctx, obs.Bookmaker)
	if err != nil {
		return domain.Quote{}, false, err
	}

	price, err := decimalOdds(obs)
	if err != nil {
		return domain.Quote{}, false, err
	}

	selection := strings.ToLower(strings.TrimSpace(obs.Selection))
	if selection == "" || obs.BetType == "" {
		return domain.Quote{}, false, fmt.Errorf("%w: missing bet type or selection", domain.ErrInvalidQuote)
	}

	capturedAt := obs.CapturedAt
	if capturedAt.IsZero() {
		return domain.Quote{}, false, fmt.Errorf("%w: missing captured-at timestamp", domain.ErrInvalidQuote)
	}

	eventID, created, err := n.resolveEvent(ctx, obs.Event)
	if err != nil {
		return domain.Quote{}, false, err
	}

	confidence := obs.Confidence
	if confidence <= 0 {
		confidence = 1.0
	} else if confidence > 1 {
		confidence = 1.0
	}

	american := obs.American
	if american == 0 {
		american = decimalToAmerican(price)
	}

	q := domain.Quote{
		EventID:     eventID,
		BookmakerID: book.ID,
		Bookmaker:   book.Name,
		BetType:     obs.BetType,
		Selection:   selection,
		Decimal:     price,
		Fractional:  strings.TrimSpace(obs.Fractional),
		American:    american,
		StakeLimit:  obs.StakeLimit,
		IsAvailable: true,
		LastUpdated: capturedAt,
		Confidence:  confidence,
		Extra:       obs.Extra,
	}
	return q, created, nil
}

// resolveBookmaker looks the slug up in the cache, falling back to the store.
// Unknown and deactivated bookmakers are invalid quote sources.
func (n *Normalizer) resolveBookmaker(ctx context.Context, slug string) (domain.Bookmaker, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Bookmaker{}, fmt.Errorf("%w: missing bookmaker", domain.ErrInvalidQuote)
	}

	now := time.Now()
	n.mu.RLock()
	entry, ok := n.bookByID[slug]
	n.mu.RUnlock()

	if !ok || now.Sub(entry.fetchedAt) >= n.cfg.BookmakerCacheTTL {
		book, err := n.books.GetByName(ctx, slug)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Bookmaker{}, fmt.Errorf("%w: unknown bookmaker %q", domain.ErrInvalidQuote, slug)
		}
		if err != nil {
			return domain.Bookmaker{}, fmt.Errorf("normalizer: lookup bookmaker %s: %w", slug, err)
		}
		entry = cachedBookmaker{book: book, fetchedAt: now}
		n.mu.Lock()
		n.bookByID[slug] = entry
		n.mu.Unlock()
	}

	if !entry.book.IsActive {
		return domain.Bookmaker{}, fmt.Errorf("%w: bookmaker %q is deactivated", domain.ErrInvalidQuote, slug)
	}
	return entry.book, nil
}

// resolveEvent finds or creates the sport event for the descriptor. The bool
// reports whether a new event row was created.
func (n *Normalizer) resolveEvent(ctx context.Context, desc domain.EventDescriptor) (int64, bool, error) {
	desc = desc.Normalize()
	if !desc.WellFormed() {
		return 0, false, fmt.Errorf("%w: malformed event descriptor %q vs %q",
			domain.ErrUnresolvedEvent, desc.HomeTeam, desc.AwayTeam)
	}

	now := time.Now().UTC()
	if desc.StartsAt.Before(now.Add(-n.cfg.EventPastWindow)) {
		return 0, false, fmt.Errorf("%w: event started %s, outside retention window",
			domain.ErrUnresolvedEvent, desc.StartsAt.Format(time.RFC3339))
	}
	if desc.StartsAt.After(now.Add(n.cfg.EventFutureWindow)) {
		return 0, false, fmt.Errorf("%w: event starts %s, too far in the future",
			domain.ErrUnresolvedEvent, desc.StartsAt.Format(time.RFC3339))
	}

	live := !desc.StartsAt.After(now)

	key := fixtureKey(desc)
	n.mu.RLock()
	entry, ok := n.eventID[key]
	n.mu.RUnlock()
	if ok {
		// Re-sighting of a known fixture. The first observation after kickoff
		// flips the stored live flag.
		if live && !entry.live {
			if err := n.events.Touch(ctx, entry.id, true); err != nil {
				return 0, false, fmt.Errorf("normalizer: touch event %d: %w", entry.id, err)
			}
			n.cacheEvent(key, entry.id, true)
		}
		return entry.id, false, nil
	}

	ev, err := n.events.FindByFixture(ctx, desc.HomeTeam, desc.AwayTeam, desc.StartsAt)
	if err == nil {
		if ev.IsLive != live {
			if terr := n.events.Touch(ctx, ev.ID, live); terr != nil {
				return 0, false, fmt.Errorf("normalizer: touch event %d: %w", ev.ID, terr)
			}
		}
		n.cacheEvent(key, ev.ID, live)
		return ev.ID, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, false, fmt.Errorf("normalizer: find fixture: %w", err)
	}

	created, err := n.events.Create(ctx, domain.SportEvent{
		SportType:  desc.SportType,
		HomeTeam:   desc.HomeTeam,
		AwayTeam:   desc.AwayTeam,
		EventDate:  desc.StartsAt,
		IsLive:     live,
		League:     desc.League,
		Country:    desc.Country,
		ExternalID: desc.ExternalID,
	})
	if err != nil {
		// Lost a create race: another producer inserted the fixture first.
		if errors.Is(err, domain.ErrAlreadyExists) {
			ev, ferr := n.events.FindByFixture(ctx, desc.HomeTeam, desc.AwayTeam, desc.StartsAt)
			if ferr == nil {
				n.cacheEvent(key, ev.ID, ev.IsLive)
				return ev.ID, false, nil
			}
		}
		return 0, false, fmt.Errorf("normalizer: create event: %w", err)
	}

	n.logger.Debug("created sport event",
		slog.Int64("event_id", created.ID),
		slog.String("home", created.HomeTeam),
		slog.String("away", created.AwayTeam),
	)
	n.cacheEvent(key, created.ID, live)
	return created.ID, true, nil
}

func (n *Normalizer) cacheEvent(key string, id int64, live bool) {
	n.mu.Lock()
	n.eventID[key] = cachedEvent{id: id, live: live}
	n.mu.Unlock()
}

// EvictFixturesBefore drops cached fixture resolutions for event days
// strictly before the cutoff. The eviction sweep calls it so the cache does
// not grow for the process lifetime; anything dropped too eagerly is simply
// re-resolved from the store.
func (n *Normalizer) EvictFixturesBefore(cutoff time.Time) int {
	day := cutoff.UTC().Format("2006-01-02")

	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for key := range n.eventID {
		if key[strings.LastIndexByte(key, '|')+1:] < day {
			delete(n.eventID, key)
			removed++
		}
	}
	return removed
}

func fixtureKey(desc domain.EventDescriptor) string {
	return strings.ToLower(desc.HomeTeam) + "|" + strings.ToLower(desc.AwayTeam) + "|" +
		desc.StartsAt.UTC().Format("2006-01-02")
}

// decimalOdds extracts the decimal price from whichever representation the
// observation carries and validates it against the accepted bounds.
func decimalOdds(obs domain.Observation) (float64, error) {
	price := obs.Decimal
	var err error
	if price == 0 {
		switch {
		case obs.American != 0:
			price = americanToDecimal(obs.American)
		case obs.Fractional != "":
			price, err = fractionalToDecimal(obs.Fractional)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", domain.ErrInvalidQuote, err)
			}
		default:
			return 0, fmt.Errorf("%w: no price in any format", domain.ErrInvalidQuote)
		}
	}

	if price < domain.MinDecimalOdds || price > domain.MaxDecimalOdds {
		return 0, fmt.Errorf("%w: decimal odds %.4f outside [%.3f, %.1f]",
			domain.ErrInvalidQuote, price, domain.MinDecimalOdds, domain.MaxDecimalOdds)
	}
	// Three decimal places is the canonical precision for stored odds.
	return math.Round(price*1000) / 1000, nil
}

func americanToDecimal(american int) float64 {
	if american > 0 {
		return 1 + float64(american)/100
	}
	return 1 + 100/math.Abs(float64(american))
}

func decimalToAmerican(decimal float64) int {
	if decimal >= 2 {
		return int(math.Round((decimal - 1) * 100))
	}
	if decimal <= 1 {
		return 0
	}
	return -int(math.Round(100 / (decimal - 1)))
}

func fractionalToDecimal(frac string) (float64, error) {
	parts := strings.SplitN(strings.TrimSpace(frac), "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad fractional odds %q", frac)
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("bad fractional odds %q", frac)
	}
	den, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || den == 0 {
		return 0, fmt.Errorf("bad fractional odds %q", frac)
	}
	return 1 + num/den, nil
}
