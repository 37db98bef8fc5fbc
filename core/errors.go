package core

import "errors"

var (
	// ErrInvalidTransition reports a session or round command whose state
	// machine precondition does not hold. It is always surfaced to the
	// caller and never retried internally.
	ErrInvalidTransition = errors.New("core: invalid state transition")
	// ErrSessionNotFound reports a command naming an unknown session.
	ErrSessionNotFound = errors.New("core: session not found")
	// ErrSessionAlreadyOpen reports an attempt to start a session while the
	// chamber already has an open one.
	ErrSessionAlreadyOpen = errors.New("core: chamber already has an open session")
	// ErrNoOpenSession reports a round command issued while no session is
	// open for the chamber.
	ErrNoOpenSession = errors.New("core: no open session")
	// ErrRoundAlreadyOpen reports an OpenRound while another round of the
	// same session is still open.
	ErrRoundAlreadyOpen = errors.New("core: a round is already open for this session")
	// ErrRoundNotFound reports a command naming a round the hub has never
	// seen. Distinct from ErrAlreadyClosed so control clients can tell a
	// typo from a duplicate command.
	ErrRoundNotFound = errors.New("core: round not found")
	// ErrAlreadyClosed reports a close command for a round that is no
	// longer open. Callers should treat it as a soft success: the command
	// was a duplicate, not a failure.
	ErrAlreadyClosed = errors.New("core: round already closed")
	// ErrInvalidMatter reports an OpenRound for a matter that is unknown or
	// already carries a final vote.
	ErrInvalidMatter = errors.New("core: matter unknown or already voted")
	// ErrNotEligible reports a vote cast by the presiding officer or by an
	// identity that is not a registered councilor of the chamber.
	ErrNotEligible = errors.New("core: identity is not an eligible voter")
	// ErrInvalidVote reports a vote value outside the supported set.
	ErrInvalidVote = errors.New("core: invalid vote value")
)
