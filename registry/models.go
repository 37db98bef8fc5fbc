package registry

import "time"

// Chamber is one legislative chamber served by the daemon. Each chamber
// gets its own authoritative hub.
type Chamber struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Councilor is a chamber member. The presiding officer runs sessions and by
// convention does not cast a routine vote; the Presiding flag excludes them
// from every roster and tally denominator.
type Councilor struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ChamberID string    `gorm:"index" json:"chamber_id"`
	Name      string    `json:"name"`
	Presiding bool      `json:"presiding"`
	CreatedAt time.Time `json:"created_at"`
}

// Matter is a legislative matter eligible to be put up for a roll call.
// Voted flips exactly once, when a round on the matter closes normally.
type Matter struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	ChamberID string     `gorm:"index" json:"chamber_id"`
	Title     string     `json:"title"`
	Voted     bool       `json:"voted"`
	Outcome   string     `json:"outcome,omitempty"`
	VotedAt   *time.Time `json:"voted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
