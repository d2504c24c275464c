package domain

import "time"

// Bookmaker identifies a single odds source. The Name slug is stable and
// never changes once created; display attributes and the active flag are
// mutable. Bookmakers are deactivated rather than deleted.
type Bookmaker struct {
	ID          int64
	Name        string // stable slug, e.g. "hollywoodbets"
	DisplayName string
	WebsiteURL  string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
