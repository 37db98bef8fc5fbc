package core

import (
	"time"
)

// RoundStatus enumerates the lifecycle phases of a roll-call round.
type RoundStatus string

const (
	// RoundStatusOpen marks the round currently accepting votes.
	RoundStatusOpen RoundStatus = "open"
	// RoundStatusClosed marks a round finalized with a tally and an
	// outcome recorded against its matter. Terminal.
	RoundStatusClosed RoundStatus = "closed"
	// RoundStatusInterrupted marks a round abandoned by the presiding
	// officer. Its votes are retained for audit but excluded from any
	// tally, and the matter stays eligible for a fresh round. Terminal.
	RoundStatusInterrupted RoundStatus = "interrupted"
)

// String implements fmt.Stringer for logging and event emission.
func (s RoundStatus) String() string { return string(s) }

// VoteValue enumerates the supported roll-call selections.
type VoteValue string

const (
	// VoteValueUnspecified marks an unset or invalid ballot and is never
	// stored in the ledger.
	VoteValueUnspecified VoteValue = ""
	// VoteValueFavorable signals support for the matter.
	VoteValueFavorable VoteValue = "favorable"
	// VoteValueAgainst signals opposition to the matter.
	VoteValueAgainst VoteValue = "against"
	// VoteValueAbstain records participation without taking a side.
	VoteValueAbstain VoteValue = "abstain"
)

// Valid reports whether the vote value represents a supported selection.
func (v VoteValue) Valid() bool {
	switch v {
	case VoteValueFavorable, VoteValueAgainst, VoteValueAbstain:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for logging and event emission.
func (v VoteValue) String() string { return string(v) }

// Outcome is the final disposition recorded against a matter when its round
// closes.
type Outcome string

const (
	// OutcomeApproved is recorded when favorable votes strictly exceed
	// against votes.
	OutcomeApproved Outcome = "approved"
	// OutcomeNotApproved is recorded otherwise, including the tie case.
	OutcomeNotApproved Outcome = "not_approved"
)

// DecideOutcome applies the chamber's majority policy: favorable must be
// strictly greater than against. Abstentions and absentees count toward
// neither side, and a tie resolves to not approved.
func DecideOutcome(favorable, against int) Outcome {
	if favorable > against {
		return OutcomeApproved
	}
	return OutcomeNotApproved
}

// Round captures one roll-call vote on one legislative matter. A round with
// a deadline stores the absolute ExpiresAt timestamp so every subscriber
// derives the same countdown regardless of when it joined.
type Round struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	MatterID  string      `json:"matter_id"`
	Status    RoundStatus `json:"status"`
	OpenedAt  time.Time   `json:"opened_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// Expired reports whether the round's deadline has passed at the supplied
// instant. Rounds without a deadline never expire.
func (r *Round) Expired(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

func cloneRound(r *Round) *Round {
	if r == nil {
		return nil
	}
	clone := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		clone.ExpiresAt = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		clone.ClosedAt = &t
	}
	return &clone
}

// RoundResult is returned by CloseRound. AlreadyClosed is set when the
// command was a duplicate and the round had been finalized earlier, so the
// caller can distinguish a soft no-op from a fresh finalization.
type RoundResult struct {
	Round         Round          `json:"round"`
	Quorum        QuorumSnapshot `json:"quorum"`
	Outcome       Outcome        `json:"outcome"`
	AlreadyClosed bool           `json:"already_closed"`
}
