package core

import "time"

// AuditEvent identifies the lifecycle milestone captured by an audit record.
type AuditEvent string

const (
	AuditEventSessionScheduled AuditEvent = "session.scheduled"
	AuditEventSessionOpened    AuditEvent = "session.opened"
	AuditEventSessionClosed    AuditEvent = "session.closed"
	AuditEventRoundOpened      AuditEvent = "round.opened"
	AuditEventRoundClosed      AuditEvent = "round.closed"
	AuditEventRoundInterrupted AuditEvent = "round.interrupted"
	AuditEventVoteCast         AuditEvent = "vote.cast"
)

// AuditRecord captures an immutable chamber lifecycle entry. Records are
// written append-only and referenced by a monotonically increasing sequence
// so auditors can reconstruct the exact ordering of actions without relying
// on the event stream. Votes of interrupted rounds survive here even though
// they are excluded from every tally.
type AuditRecord struct {
	Sequence  uint64     `json:"sequence"`
	Timestamp time.Time  `json:"timestamp"`
	Event     AuditEvent `json:"event"`
	Actor     string     `json:"actor,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	RoundID   string     `json:"round_id,omitempty"`
	Details   string     `json:"details,omitempty"`
}
