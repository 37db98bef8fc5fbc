package core

import "time"

// Role identifies the projection a subscriber or caller is entitled to.
// Verifying that a participant may assume a role is the authentication
// collaborator's concern; the core only enforces what each role may see and
// do once assumed.
type Role string

const (
	// RoleController may issue every session and round command and sees
	// full per-councilor vote detail.
	RoleController Role = "controller"
	// RoleVoter may cast its own vote and sees its own prior vote plus the
	// aggregate tally.
	RoleVoter Role = "voter"
	// RolePublic is read-only: aggregate tally, statuses, countdown, and
	// cast/not-cast per councilor. Individual values are disclosed only
	// after the round closes.
	RolePublic Role = "public"
)

// Valid reports whether the role is one of the supported projections.
func (r Role) Valid() bool {
	switch r {
	case RoleController, RoleVoter, RolePublic:
		return true
	default:
		return false
	}
}

// Topic partitions the hub's delta stream. Ordering is guaranteed per topic
// only; consumers must not assume cross-topic interleaving.
type Topic string

const (
	TopicSession  Topic = "session"
	TopicRound    Topic = "round"
	TopicVotes    Topic = "votes"
	TopicPresence Topic = "presence"
)

// Delta is one ordered state-change event on a single topic. Exactly one of
// the payload pointers is set, matching the topic.
type Delta struct {
	Topic    Topic     `json:"topic"`
	Sequence uint64    `json:"sequence"`
	Emitted  time.Time `json:"emitted"`

	Session  *Session       `json:"session,omitempty"`
	Round    *RoundChange   `json:"round,omitempty"`
	Vote     *VoteChange    `json:"vote,omitempty"`
	Presence *PresenceChange `json:"presence,omitempty"`
}

// EventType implements events.Event.
func (d Delta) EventType() string { return "chamber." + string(d.Topic) }

// RoundChange carries a round transition. Votes is populated with the full
// per-councilor ballot detail when the round reaches closed, mirroring
// public-gallery disclosure after a roll call ends; it stays empty for
// opened and interrupted transitions.
type RoundChange struct {
	Round   Round           `json:"round"`
	Quorum  QuorumSnapshot  `json:"quorum"`
	Outcome Outcome         `json:"outcome,omitempty"`
	Votes   []Vote          `json:"votes,omitempty"`
}

// VoteChange carries one accepted vote cast. Value is redacted per role
// before fan-out: controllers see it, the casting voter sees their own, and
// everyone else sees only that the councilor has cast.
type VoteChange struct {
	RoundID     string         `json:"round_id"`
	CouncilorID string         `json:"councilor_id"`
	Value       VoteValue      `json:"value,omitempty"`
	Recast      bool           `json:"recast"`
	Quorum      QuorumSnapshot `json:"quorum"`
}

// PresenceChange carries one connect or disconnect observation.
type PresenceChange struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
}

// VoteStatus is the per-councilor entry of a state snapshot. Value is
// redacted under the same policy as VoteChange.
type VoteStatus struct {
	CouncilorID string    `json:"councilor_id"`
	Value       VoteValue `json:"value,omitempty"`
	CastAt      time.Time `json:"cast_at"`
}

// StateSnapshot is the full current-state dump sent to a subscriber before
// it receives deltas. A client joining mid-round reconstructs its entire
// projection from this snapshot alone; subsequent deltas keep it current.
type StateSnapshot struct {
	ChamberID string          `json:"chamber_id"`
	Taken     time.Time       `json:"taken"`
	Session   *Session        `json:"session,omitempty"`
	Round     *Round          `json:"round,omitempty"`
	Quorum    *QuorumSnapshot `json:"quorum,omitempty"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	Votes     []VoteStatus    `json:"votes,omitempty"`
	Presence  []string        `json:"presence,omitempty"`
	// Sequences records the per-topic cursor at snapshot time so clients
	// can discard any stale frame that predates the snapshot.
	Sequences map[Topic]uint64 `json:"sequences"`
}

// redactVote applies the role disclosure policy to a ballot value.
// roundClosed lifts redaction entirely: once a roll call ends the individual
// choices are public record.
func redactVote(role Role, participantID, councilorID string, value VoteValue, roundClosed bool) VoteValue {
	if roundClosed || role == RoleController {
		return value
	}
	if role == RoleVoter && participantID == councilorID {
		return value
	}
	return VoteValueUnspecified
}
