// Package lifecycle manages arbitrage opportunity records: creation, in-place
// updates, deactivation, and expiry. At most one active opportunity exists
// per (event, bet_type) key; re-detections of the same underlying arbitrage
// update that record rather than duplicating it.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// Channel on which opportunity transitions are published.
const OpportunityChannel = "opportunities"

// Config holds the lifecycle thresholds. Reliability maps bookmaker slugs to
// weights in (0,1]; missing bookmakers default to 1.0.
type Config struct {
	ValidityWindow       time.Duration
	StalenessWindow      time.Duration
	LowRiskConfidence    float64
	MediumRiskConfidence float64
	Reliability          map[string]float64
}

// Candidate is a qualifying odds combination handed over by the matcher.
type Candidate struct {
	Key            domain.MarketKey
	ProfitPct      float64
	TotalStake     float64
	ExpectedProfit float64
	Legs           []domain.OpportunityLeg
}

// Manager applies candidates and sweeps to the opportunity store.
type Manager struct {
	cfg    Config
	store  domain.OpportunityStore
	events domain.EventStore
	bus    domain.SignalBus // optional
	logger *slog.Logger
}

// NewManager creates a Manager. bus may be nil, in which case transitions are
// not published.
func NewManager(cfg Config, store domain.OpportunityStore, events domain.EventStore, bus domain.SignalBus, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		events: events,
		bus:    bus,
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// Apply upserts the candidate as the single active opportunity for its key.
// A fresh key creates a record; an existing active record is overwritten in
// place, keeping its identity and creation time. If the underlying event has
// already started the candidate is discarded and any active record is
// deactivated. Returns nil when no opportunity is active after the call.
func (m *Manager) Apply(ctx context.Context, cand Candidate, now time.Time) (*domain.Opportunity, error) {
	event, err := m.events.GetByID(ctx, cand.Key.EventID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load event %d: %w", cand.Key.EventID, err)
	}
	if !event.EventDate.After(now) {
		if err := m.Deactivate(ctx, cand.Key, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	confidence := m.confidence(cand.Legs, now)
	opp := domain.Opportunity{
		EventID:        cand.Key.EventID,
		BetType:        cand.Key.BetType,
		ProfitPct:      cand.ProfitPct,
		TotalStake:     cand.TotalStake,
		ExpectedProfit: cand.ExpectedProfit,
		Legs:           cand.Legs,
		Confidence:     confidence,
		Risk:           m.riskTier(confidence),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      expiry(now, m.cfg.ValidityWindow, event.EventDate),
	}

	transition := "opportunity_created"
	existing, err := m.store.GetActive(ctx, cand.Key)
	switch {
	case err == nil:
		// Overwrite in place, keeping identity.
		opp.ID = existing.ID
		opp.CreatedAt = existing.CreatedAt
		transition = "opportunity_updated"
	case errors.Is(err, domain.ErrNotFound):
		opp.ID = uuid.NewString()
	default:
		return nil, fmt.Errorf("lifecycle: get active %v: %w", cand.Key, err)
	}

	if err := m.store.Upsert(ctx, opp); err != nil {
		return nil, fmt.Errorf("lifecycle: upsert opportunity %s: %w", opp.ID, err)
	}

	m.logger.Info(transition,
		slog.String("opportunity_id", opp.ID),
		slog.Int64("event_id", opp.EventID),
		slog.String("bet_type", string(opp.BetType)),
		slog.Float64("profit_pct", opp.ProfitPct),
		slog.Float64("confidence", opp.Confidence),
		slog.String("risk", string(opp.Risk)),
	)
	m.publish(ctx, transition, &opp)
	return &opp, nil
}

// Deactivate retires the active opportunity for the key, if any. It is a
// no-op when none is active.
func (m *Manager) Deactivate(ctx context.Context, key domain.MarketKey, now time.Time) error {
	existing, err := m.store.GetActive(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lifecycle: get active %v: %w", key, err)
	}

	if err := m.store.Deactivate(ctx, key, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lifecycle: deactivate %v: %w", key, err)
	}

	m.logger.Info("opportunity_deactivated",
		slog.String("opportunity_id", existing.ID),
		slog.Int64("event_id", key.EventID),
		slog.String("bet_type", string(key.BetType)),
	)
	existing.IsActive = false
	existing.UpdatedAt = now
	m.publish(ctx, "opportunity_deactivated", &existing)
	return nil
}

// SweepExpired deactivates every active opportunity whose expires_at has
// passed. It only ever transitions records toward inactive, so it can run
// concurrently with Apply without destructive races.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: sweep expired: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired opportunities deactivated", slog.Int64("count", n))
	}
	return n, nil
}

// confidence scores a candidate in [0,1]. It starts at 1.0 and decays
// multiplicatively by each contributing bookmaker's reliability weight and by
// the age of the oldest contributing quote relative to the staleness window.
func (m *Manager) confidence(legs []domain.OpportunityLeg, now time.Time) float64 {
	conf := 1.0
	var oldest time.Duration
	for _, leg := range legs {
		if w, ok := m.cfg.Reliability[leg.Bookmaker]; ok && w > 0 {
			conf *= w
		}
		if age := now.Sub(leg.QuotedAt); age > oldest {
			oldest = age
		}
	}

	if m.cfg.StalenessWindow > 0 {
		ratio := float64(oldest) / float64(m.cfg.StalenessWindow)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		conf *= 1 - ratio
	}

	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func (m *Manager) riskTier(confidence float64) domain.RiskLevel {
	switch {
	case confidence >= m.cfg.LowRiskConfidence:
		return domain.RiskLow
	case confidence >= m.cfg.MediumRiskConfidence:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// expiry is the validity deadline: now + window, capped at the event start.
func expiry(now time.Time, window time.Duration, eventStart time.Time) time.Time {
	deadline := now.Add(window)
	if eventStart.Before(deadline) {
		return eventStart
	}
	return deadline
}

// transitionEvent is the JSON shape published on the opportunity channel.
type transitionEvent struct {
	Event       string              `json:"event"`
	Opportunity *domain.Opportunity `json:"opportunity"`
	At          time.Time           `json:"at"`
}

func (m *Manager) publish(ctx context.Context, transition string, opp *domain.Opportunity) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(transitionEvent{Event: transition, Opportunity: opp, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, OpportunityChannel, payload); err != nil {
		m.logger.Warn("publish transition failed",
			slog.String("transition", transition),
			slog.String("error", err.Error()),
		)
	}
}
