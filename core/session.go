package core

import (
	"time"
)

// SessionStatus enumerates the lifecycle phases of a legislative sitting.
type SessionStatus string

const (
	// SessionStatusScheduled marks a session that has been created but not
	// yet opened by the presiding officer.
	SessionStatusScheduled SessionStatus = "scheduled"
	// SessionStatusOpen marks the session currently on the floor. A chamber
	// holds at most one open session at a time.
	SessionStatusOpen SessionStatus = "open"
	// SessionStatusClosed marks a finished session. Closed is terminal.
	SessionStatusClosed SessionStatus = "closed"
)

// String implements fmt.Stringer for logging and event emission.
func (s SessionStatus) String() string { return string(s) }

// Session captures one legislative sitting of a chamber.
type Session struct {
	ID          string        `json:"id"`
	ChamberID   string        `json:"chamber_id"`
	Status      SessionStatus `json:"status"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	OpenedAt    *time.Time    `json:"opened_at,omitempty"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// SessionCloseReport is returned by EndSession. If an open round had to be
// interrupted to close the session, it is reported here rather than hidden.
type SessionCloseReport struct {
	Session          Session `json:"session"`
	InterruptedRound *Round  `json:"interrupted_round,omitempty"`
}
