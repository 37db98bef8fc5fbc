package core

import (
	"sort"
	"time"
)

// Vote describes a single councilor's ballot within one round. The ledger
// keeps exactly one Vote per (round, councilor) pair; a re-cast before the
// round closes overwrites the earlier value.
type Vote struct {
	RoundID     string    `json:"round_id"`
	CouncilorID string    `json:"councilor_id"`
	Value       VoteValue `json:"value"`
	CastAt      time.Time `json:"cast_at"`
}

// QuorumSnapshot is the aggregate tally of a round at a point in time. It is
// derived, never stored: always a pure function of the ledger plus the
// static voter roster. The presiding officer is excluded from Eligible.
type QuorumSnapshot struct {
	Favorable int `json:"favorable"`
	Against   int `json:"against"`
	Abstain   int `json:"abstain"`
	Cast      int `json:"cast"`
	Eligible  int `json:"eligible"`
}

// ledger holds the votes of a single round, keyed by councilor.
type ledger struct {
	roundID string
	votes   map[string]Vote
}

func newLedger(roundID string) *ledger {
	return &ledger{roundID: roundID, votes: make(map[string]Vote)}
}

// upsert records or overwrites the councilor's vote and reports whether a
// prior vote existed.
func (l *ledger) upsert(councilorID string, value VoteValue, at time.Time) bool {
	_, recast := l.votes[councilorID]
	l.votes[councilorID] = Vote{
		RoundID:     l.roundID,
		CouncilorID: councilorID,
		Value:       value,
		CastAt:      at,
	}
	return recast
}

func (l *ledger) vote(councilorID string) (Vote, bool) {
	v, ok := l.votes[councilorID]
	return v, ok
}

// list returns the ledger's votes ordered by councilor id for deterministic
// iteration in snapshots and audit output.
func (l *ledger) list() []Vote {
	out := make([]Vote, 0, len(l.votes))
	for _, v := range l.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CouncilorID < out[j].CouncilorID })
	return out
}

// snapshot recomputes the aggregate tally against the supplied roster size.
func (l *ledger) snapshot(eligible int) QuorumSnapshot {
	snap := QuorumSnapshot{Eligible: eligible}
	for _, v := range l.votes {
		switch v.Value {
		case VoteValueFavorable:
			snap.Favorable++
		case VoteValueAgainst:
			snap.Against++
		case VoteValueAbstain:
			snap.Abstain++
		}
	}
	snap.Cast = snap.Favorable + snap.Against + snap.Abstain
	return snap
}
