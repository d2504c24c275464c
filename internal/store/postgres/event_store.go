package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, sport_type, home_team, away_team, event_date, league, country, is_live, external_id, created_at, updated_at`

// Create inserts a new sport event. When another writer already created the
// same fixture (home, away, day) it returns domain.ErrAlreadyExists so the
// caller can re-resolve.
func (s *EventStore) Create(ctx context.Context, ev domain.SportEvent) (domain.SportEvent, error) {
	const query = `
		INSERT INTO sport_events (sport_type, home_team, away_team, event_date, league, country, is_live, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW(), NOW())
		ON CONFLICT (home_team, away_team, (date_trunc('day', event_date))) DO NOTHING
		RETURNING ` + eventCols

	row := s.pool.QueryRow(ctx, query,
		string(ev.SportType), ev.HomeTeam, ev.AwayTeam, ev.EventDate,
		ev.League, ev.Country, ev.IsLive, ev.ExternalID,
	)
	created, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SportEvent{}, domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.SportEvent{}, fmt.Errorf("postgres: create event %s vs %s: %w", ev.HomeTeam, ev.AwayTeam, err)
	}
	return created, nil
}

// GetByID returns one event.
func (s *EventStore) GetByID(ctx context.Context, id int64) (domain.SportEvent, error) {
	query := `SELECT ` + eventCols + ` FROM sport_events WHERE id = $1`

	ev, err := scanEvent(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SportEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SportEvent{}, fmt.Errorf("postgres: get event %d: %w", id, err)
	}
	return ev, nil
}

// FindByFixture resolves an event by teams and calendar day.
func (s *EventStore) FindByFixture(ctx context.Context, home, away string, date time.Time) (domain.SportEvent, error) {
	query := `SELECT ` + eventCols + `
		FROM sport_events
		WHERE home_team = $1 AND away_team = $2
		  AND date_trunc('day', event_date) = date_trunc('day', $3::timestamptz)`

	ev, err := scanEvent(s.pool.QueryRow(ctx, query, home, away, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SportEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SportEvent{}, fmt.Errorf("postgres: find fixture %s vs %s: %w", home, away, err)
	}
	return ev, nil
}

// Touch stamps updated_at and refreshes the live flag. Mutation timestamps
// are explicit store operations, not database triggers.
func (s *EventStore) Touch(ctx context.Context, id int64, isLive bool) error {
	const query = `UPDATE sport_events SET is_live = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, isLive)
	if err != nil {
		return fmt.Errorf("postgres: touch event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUpcoming returns events that have not started yet, soonest first.
// sport filters when non-empty.
func (s *EventStore) ListUpcoming(ctx context.Context, sport domain.SportType, opts domain.ListOpts) ([]domain.SportEvent, error) {
	query := `SELECT ` + eventCols + ` FROM sport_events WHERE event_date > NOW()`
	args := []any{}

	if sport != "" {
		args = append(args, string(sport))
		query += fmt.Sprintf(" AND sport_type = $%d", len(args))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND event_date >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND event_date < $%d", len(args))
	}
	query += " ORDER BY event_date ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list upcoming events: %w", err)
	}
	defer rows.Close()

	var events []domain.SportEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list upcoming events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events that started before the cutoff. Odds cascade.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM sport_events WHERE event_date < $1`

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (domain.SportEvent, error) {
	var ev domain.SportEvent
	var externalID *string
	err := row.Scan(
		&ev.ID, &ev.SportType, &ev.HomeTeam, &ev.AwayTeam, &ev.EventDate,
		&ev.League, &ev.Country, &ev.IsLive, &externalID, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if externalID != nil {
		ev.ExternalID = *externalID
	}
	return ev, err
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
