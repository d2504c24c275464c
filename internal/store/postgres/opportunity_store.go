package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// Legs are persisted as a JSONB document alongside the scalar columns; a
// partial unique index enforces at most one active row per (event, bet_type).
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, event_id, bet_type, profit_percentage, total_stake, expected_profit, odds_data, confidence_score, risk_level, is_active, created_at, updated_at, expires_at`

// Upsert writes an opportunity keyed by its ID, updating in place on
// re-detection.
func (s *OpportunityStore) Upsert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO arbitrage_opportunities (` + opportunityCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			profit_percentage = EXCLUDED.profit_percentage,
			total_stake       = EXCLUDED.total_stake,
			expected_profit   = EXCLUDED.expected_profit,
			odds_data         = EXCLUDED.odds_data,
			confidence_score  = EXCLUDED.confidence_score,
			risk_level        = EXCLUDED.risk_level,
			is_active         = EXCLUDED.is_active,
			updated_at        = EXCLUDED.updated_at,
			expires_at        = EXCLUDED.expires_at`

	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity legs: %w", err)
	}
	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.EventID, string(opp.BetType),
		opp.ProfitPct, opp.TotalStake, opp.ExpectedProfit, legs,
		opp.Confidence, string(opp.Risk), opp.IsActive,
		opp.CreatedAt, opp.UpdatedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// GetActive returns the single active opportunity for one (event, bet_type)
// key, or domain.ErrNotFound when none is active.
func (s *OpportunityStore) GetActive(ctx context.Context, key domain.MarketKey) (domain.Opportunity, error) {
	const query = `
		SELECT ` + opportunityCols + `
		FROM arbitrage_opportunities
		WHERE event_id = $1 AND bet_type = $2 AND is_active`

	opp, err := scanOpportunity(s.pool.QueryRow(ctx, query, key.EventID, string(key.BetType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: get active opportunity event=%d market=%s: %w", key.EventID, key.BetType, err)
	}
	return opp, nil
}

// Deactivate retires the active opportunity for one key. Deactivating a key
// with no active opportunity is a no-op.
func (s *OpportunityStore) Deactivate(ctx context.Context, key domain.MarketKey, at time.Time) error {
	const query = `
		UPDATE arbitrage_opportunities
		SET is_active = FALSE, updated_at = $3
		WHERE event_id = $1 AND bet_type = $2 AND is_active`

	if _, err := s.pool.Exec(ctx, query, key.EventID, string(key.BetType), at); err != nil {
		return fmt.Errorf("postgres: deactivate opportunity event=%d market=%s: %w", key.EventID, key.BetType, err)
	}
	return nil
}

// DeactivateExpired retires every active opportunity whose validity window
// has passed.
func (s *OpportunityStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE arbitrage_opportunities
		SET is_active = FALSE, updated_at = $1
		WHERE is_active AND expires_at < $1`

	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate expired opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns active, unexpired opportunities at or above the profit
// floor, most profitable first. It reads the active_arbitrage view, which
// already excludes expired rows and started events.
func (s *OpportunityStore) ListActive(ctx context.Context, minProfitPct float64, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `
		SELECT ` + opportunityCols + `
		FROM active_arbitrage
		WHERE profit_percentage >= $1`
	args := []any{minProfitPct}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND updated_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND updated_at < $%d", len(args))
	}
	query += " ORDER BY profit_percentage DESC, updated_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.queryOpportunities(ctx, query, args...)
}

// ListBefore returns opportunities last updated before the cutoff, oldest
// first. Used by the retention sweep to archive rows ahead of deletion.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `
		SELECT ` + opportunityCols + `
		FROM arbitrage_opportunities
		WHERE updated_at < $1
		ORDER BY updated_at ASC`

	return s.queryOpportunities(ctx, query, before)
}

// DeleteInactiveBefore removes retired opportunities last updated before the
// cutoff. Active rows are never deleted.
func (s *OpportunityStore) DeleteInactiveBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM arbitrage_opportunities WHERE NOT is_active AND updated_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete inactive opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *OpportunityStore) queryOpportunities(ctx context.Context, query string, args ...any) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var legs []byte
	err := row.Scan(
		&opp.ID, &opp.EventID, &opp.BetType,
		&opp.ProfitPct, &opp.TotalStake, &opp.ExpectedProfit, &legs,
		&opp.Confidence, &opp.Risk, &opp.IsActive,
		&opp.CreatedAt, &opp.UpdatedAt, &opp.ExpiresAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &opp.Legs); err != nil {
			return domain.Opportunity{}, fmt.Errorf("unmarshal legs: %w", err)
		}
	}
	return opp, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
