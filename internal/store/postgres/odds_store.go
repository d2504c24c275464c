package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// OddsStore implements domain.OddsStore using PostgreSQL.
type OddsStore struct {
	pool *pgxpool.Pool
}

// NewOddsStore creates a new OddsStore backed by the given pool.
func NewOddsStore(pool *pgxpool.Pool) *OddsStore {
	return &OddsStore{pool: pool}
}

const oddsCols = `event_id, bookmaker_id, bet_type, selection, odds_decimal, odds_fractional, odds_american, stake_limit, is_available, last_updated, confidence_score, extra`

// Upsert writes a quote under last-timestamp-wins. A row already carrying a
// strictly newer last_updated is left untouched, so any interleaving of
// concurrent writers converges on the newest delivery.
func (s *OddsStore) Upsert(ctx context.Context, q domain.Quote) error {
	const query = `
		INSERT INTO odds (` + oddsCols + `)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, 0), $8, $9, $10, $11, $12)
		ON CONFLICT (event_id, bookmaker_id, bet_type, selection) DO UPDATE SET
			odds_decimal    = EXCLUDED.odds_decimal,
			odds_fractional = EXCLUDED.odds_fractional,
			odds_american   = EXCLUDED.odds_american,
			stake_limit     = EXCLUDED.stake_limit,
			is_available    = EXCLUDED.is_available,
			last_updated    = EXCLUDED.last_updated,
			confidence_score = EXCLUDED.confidence_score,
			extra           = EXCLUDED.extra
		WHERE odds.last_updated < EXCLUDED.last_updated`

	extra := q.Extra
	if extra == nil {
		extra = domain.Metadata{}
	}
	_, err := s.pool.Exec(ctx, query,
		q.EventID, q.BookmakerID, string(q.BetType), q.Selection,
		q.Decimal, q.Fractional, q.American, q.StakeLimit,
		q.IsAvailable, q.LastUpdated, q.Confidence, extra,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert odds event=%d book=%d %s/%s: %w",
			q.EventID, q.BookmakerID, q.BetType, q.Selection, err)
	}
	return nil
}

// ListByMarket returns every quote currently held for one (event, bet_type)
// market.
func (s *OddsStore) ListByMarket(ctx context.Context, key domain.MarketKey) ([]domain.Quote, error) {
	query := `
		SELECT o.` + joinOddsCols("o") + `, b.name
		FROM odds o
		JOIN bookmakers b ON b.id = o.bookmaker_id
		WHERE o.event_id = $1 AND o.bet_type = $2
		ORDER BY o.selection, b.name`

	return s.queryQuotes(ctx, query, key.EventID, string(key.BetType))
}

// ListLatest returns the current available quotes for one upcoming event
// across markets, read from the latest_odds view.
func (s *OddsStore) ListLatest(ctx context.Context, eventID int64) ([]domain.Quote, error) {
	query := `
		SELECT ` + oddsCols + `, bookmaker
		FROM latest_odds
		WHERE event_id = $1
		ORDER BY bet_type, selection, bookmaker`

	return s.queryQuotes(ctx, query, eventID)
}

// ListBefore returns quotes last updated before the cutoff, oldest first.
// Used by the retention sweep to archive rows ahead of deletion.
func (s *OddsStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Quote, error) {
	query := `
		SELECT o.` + joinOddsCols("o") + `, b.name
		FROM odds o
		JOIN bookmakers b ON b.id = o.bookmaker_id
		WHERE o.last_updated < $1
		ORDER BY o.last_updated ASC`

	return s.queryQuotes(ctx, query, before)
}

// MarkUnavailableBefore flips availability off for quotes older than the
// cutoff without deleting them.
func (s *OddsStore) MarkUnavailableBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `UPDATE odds SET is_available = FALSE WHERE is_available AND last_updated < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark odds unavailable before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBefore removes quotes last updated before the cutoff.
func (s *OddsStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM odds WHERE last_updated < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete odds before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// BookmakerPerformance aggregates quote output per bookmaker over a trailing
// window.
func (s *OddsStore) BookmakerPerformance(ctx context.Context, window time.Duration) ([]domain.BookmakerPerformance, error) {
	const query = `
		SELECT b.id, b.name,
		       COUNT(o.*)               AS quote_count,
		       COUNT(DISTINCT o.event_id) AS event_count,
		       COALESCE(AVG(o.confidence_score), 0) AS avg_confidence,
		       MAX(o.last_updated)      AS last_quote_at
		FROM bookmakers b
		LEFT JOIN odds o ON o.bookmaker_id = b.id AND o.last_updated > NOW() - $1::interval
		WHERE b.is_active
		GROUP BY b.id, b.name
		ORDER BY quote_count DESC, b.name`

	rows, err := s.pool.Query(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("postgres: bookmaker performance: %w", err)
	}
	defer rows.Close()

	var perf []domain.BookmakerPerformance
	for rows.Next() {
		var p domain.BookmakerPerformance
		if err := rows.Scan(&p.BookmakerID, &p.Bookmaker, &p.QuoteCount, &p.EventCount, &p.AvgConfidence, &p.LastQuoteAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bookmaker performance: %w", err)
		}
		perf = append(perf, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bookmaker performance rows: %w", err)
	}
	return perf, nil
}

func (s *OddsStore) queryQuotes(ctx context.Context, query string, args ...any) ([]domain.Quote, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query odds: %w", err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: odds rows: %w", err)
	}
	return quotes, nil
}

func scanQuote(row pgx.Row) (domain.Quote, error) {
	var q domain.Quote
	var fractional *string
	var american *int
	err := row.Scan(
		&q.EventID, &q.BookmakerID, &q.BetType, &q.Selection,
		&q.Decimal, &fractional, &american, &q.StakeLimit,
		&q.IsAvailable, &q.LastUpdated, &q.Confidence, &q.Extra,
		&q.Bookmaker,
	)
	if fractional != nil {
		q.Fractional = *fractional
	}
	if american != nil {
		q.American = *american
	}
	return q, err
}

func joinOddsCols(alias string) string {
	return `event_id, ` + alias + `.bookmaker_id, ` + alias + `.bet_type, ` + alias + `.selection, ` +
		alias + `.odds_decimal, ` + alias + `.odds_fractional, ` + alias + `.odds_american, ` +
		alias + `.stake_limit, ` + alias + `.is_available, ` + alias + `.last_updated, ` +
		alias + `.confidence_score, ` + alias + `.extra`
}

// Compile-time interface check.
var _ domain.OddsStore = (*OddsStore)(nil)
