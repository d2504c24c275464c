package domain

import (
	"strings"
	"time"
)

// SportType enumerates the sports the engine tracks.
type SportType string

const (
	SportFootball    SportType = "football"
	SportSoccer      SportType = "soccer"
	SportRugby       SportType = "rugby"
	SportCricket     SportType = "cricket"
	SportTennis      SportType = "tennis"
	SportBasketball  SportType = "basketball"
	SportHorseRacing SportType = "horse_racing"
)

// SportEvent is a single sporting fixture. Events are created on first
// sighting from any bookmaker and enriched as more metadata arrives; they are
// only removed by the retention sweep.
type SportEvent struct {
	ID         int64
	SportType  SportType
	HomeTeam   string
	AwayTeam   string
	EventDate  time.Time
	League     string
	Country    string
	IsLive     bool
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventDescriptor is the raw event identification carried on an observation.
// It is resolved to a SportEvent (creating one if necessary) during
// normalization.
type EventDescriptor struct {
	SportType  SportType
	HomeTeam   string
	AwayTeam   string
	StartsAt   time.Time
	League     string
	Country    string
	ExternalID string
}

// Normalize trims and collapses whitespace in the team names so that the same
// fixture reported by different bookmakers resolves to one event.
func (d EventDescriptor) Normalize() EventDescriptor {
	d.HomeTeam = normalizeTeam(d.HomeTeam)
	d.AwayTeam = normalizeTeam(d.AwayTeam)
	d.League = strings.TrimSpace(d.League)
	d.Country = strings.TrimSpace(d.Country)
	return d
}

// WellFormed reports whether the descriptor carries enough information to
// create an event record.
func (d EventDescriptor) WellFormed() bool {
	return d.SportType != "" &&
		len(d.HomeTeam) >= 2 &&
		len(d.AwayTeam) >= 2 &&
		!d.StartsAt.IsZero()
}

func normalizeTeam(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
