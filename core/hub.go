package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"plenum/core/events"
	"plenum/observability"
)

const defaultSubscriberQueue = 32

// Registry is the matter/roster collaborator. It owns the legislative
// matter records and the councilor roster; the hub never writes them beyond
// the single MarkMatterVoted call on round closure.
type Registry interface {
	// VoterRoster returns the councilor ids eligible to vote in the
	// chamber, excluding the presiding officer.
	VoterRoster(chamberID string) ([]string, error)
	// IsEligibleVoter reports whether the councilor is a registered voting
	// member of the chamber (presiding officer excluded).
	IsEligibleVoter(chamberID, councilorID string) (bool, error)
	// IsMatterAlreadyVoted reports whether the matter already carries a
	// final outcome. The second return reports whether the matter exists
	// at all.
	IsMatterAlreadyVoted(matterID string) (bool, bool, error)
	// MarkMatterVoted records the final outcome against the matter.
	MarkMatterVoted(matterID string, outcome Outcome) error
}

type subscriber struct {
	id            uint64
	role          Role
	participantID string
	ch            chan Delta
}

// Hub is the authoritative state owner for one chamber. It outlives
// individual sessions so reconnecting clients always find a live source of
// truth. All command and vote processing is serialized behind a single
// mutex; reads observe either the pre- or post-mutation state, never a torn
// intermediate. Fan-out to subscribers never blocks the writer: a
// subscriber that falls behind is dropped and must resync via a fresh
// snapshot.
type Hub struct {
	chamberID string
	registry  Registry
	emitter   events.Emitter
	nowFn     func() time.Time
	logger    *slog.Logger
	metrics   *observability.HubMetrics
	queueSize int

	mu       sync.Mutex
	session  *Session
	round    *Round
	rounds   []*Round
	ledgers  map[string]*ledger
	results  map[string]*RoundResult
	roster   map[string]struct{}
	audit    []AuditRecord
	auditSeq uint64

	subMu     sync.Mutex
	subs      map[uint64]*subscriber
	nextSubID uint64
	seq       map[Topic]uint64

	presence *PresenceTracker
}

// NewHub constructs the authoritative hub for a chamber.
func NewHub(chamberID string, registry Registry) *Hub {
	h := &Hub{
		chamberID: strings.TrimSpace(chamberID),
		registry:  registry,
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
		queueSize: defaultSubscriberQueue,
		ledgers:   make(map[string]*ledger),
		results:   make(map[string]*RoundResult),
		subs:      make(map[uint64]*subscriber),
		seq:       make(map[Topic]uint64),
	}
	h.presence = NewPresenceTracker(h.publishPresence)
	return h
}

// ChamberID returns the chamber this hub owns.
func (h *Hub) ChamberID() string { return h.chamberID }

// SetEmitter configures an additional event sink that mirrors every delta.
// Passing nil resets it to a no-op implementation.
func (h *Hub) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

// SetNowFunc overrides the time source. Nil restores the default UTC clock.
func (h *Hub) SetNowFunc(now func() time.Time) {
	if now == nil {
		h.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	h.nowFn = now
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (h *Hub) SetLogger(logger *slog.Logger) {
	if logger == nil {
		h.logger = slog.Default()
		return
	}
	h.logger = logger
}

// SetMetrics wires the prometheus registry. Nil disables recording.
func (h *Hub) SetMetrics(metrics *observability.HubMetrics) { h.metrics = metrics }

// SetQueueSize adjusts the per-subscriber outbound buffer. Values below one
// are ignored.
func (h *Hub) SetQueueSize(n int) {
	if n >= 1 {
		h.queueSize = n
	}
}

// Presence exposes the chamber's presence tracker. Transport handlers call
// MarkOnline/MarkOffline directly; presence mutation deliberately bypasses
// the command serialization point because it is idempotent and never
// affects vote validity.
func (h *Hub) Presence() *PresenceTracker { return h.presence }

func (h *Hub) now() time.Time { return h.nowFn() }

// ScheduleSession creates the chamber's next sitting in the scheduled
// state. It fails with ErrInvalidTransition while an earlier session is
// still scheduled or open.
func (h *Hub) ScheduleSession(startsAt time.Time, actor string) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session != nil && h.session.Status != SessionStatusClosed {
		h.recordCommand("schedule_session", "rejected")
		return Session{}, fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, h.session.ID, h.session.Status)
	}

	now := h.now()
	session := &Session{
		ID:          uuid.NewString(),
		ChamberID:   h.chamberID,
		Status:      SessionStatusScheduled,
		ScheduledAt: startsAt,
	}
	h.session = session
	h.round = nil
	h.rounds = nil

	h.appendAudit(now, AuditEventSessionScheduled, actor, session.ID, "", "")
	h.publishSession(now)
	h.recordCommand("schedule_session", "ok")
	return *cloneSession(session), nil
}

// StartSession transitions the scheduled session to open and loads the
// static voter roster for the sitting.
func (h *Hub) StartSession(sessionID, actor string) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil || h.session.ID != sessionID {
		h.recordCommand("start_session", "rejected")
		return Session{}, ErrSessionNotFound
	}
	if h.session.Status == SessionStatusOpen {
		h.recordCommand("start_session", "rejected")
		return Session{}, ErrSessionAlreadyOpen
	}
	if h.session.Status != SessionStatusScheduled {
		h.recordCommand("start_session", "rejected")
		return Session{}, fmt.Errorf("%w: session is %s", ErrInvalidTransition, h.session.Status)
	}

	roster, err := h.registry.VoterRoster(h.chamberID)
	if err != nil {
		h.recordCommand("start_session", "rejected")
		return Session{}, fmt.Errorf("load voter roster: %w", err)
	}
	h.roster = make(map[string]struct{}, len(roster))
	for _, id := range roster {
		h.roster[id] = struct{}{}
	}

	now := h.now()
	h.session.Status = SessionStatusOpen
	h.session.OpenedAt = &now

	h.appendAudit(now, AuditEventSessionOpened, actor, h.session.ID, "", "")
	h.publishSession(now)
	h.recordCommand("start_session", "ok")
	return *cloneSession(h.session), nil
}

// EndSession closes the open session. An open round is force-closed through
// the interrupt path first, and that is reported to the caller rather than
// hidden.
func (h *Hub) EndSession(sessionID, actor string) (SessionCloseReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil || h.session.ID != sessionID {
		h.recordCommand("end_session", "rejected")
		return SessionCloseReport{}, ErrSessionNotFound
	}
	if h.session.Status != SessionStatusOpen {
		h.recordCommand("end_session", "rejected")
		return SessionCloseReport{}, fmt.Errorf("%w: session is %s", ErrInvalidTransition, h.session.Status)
	}

	now := h.now()
	h.touchRoundLocked(now)

	var interrupted *Round
	if h.round != nil && h.round.Status == RoundStatusOpen {
		h.finalizeRoundLocked(h.round, RoundStatusInterrupted, now, actor)
		interrupted = cloneRound(h.round)
	}

	h.session.Status = SessionStatusClosed
	h.session.ClosedAt = &now

	h.appendAudit(now, AuditEventSessionClosed, actor, h.session.ID, "", "")
	h.publishSession(now)
	h.recordCommand("end_session", "ok")
	return SessionCloseReport{Session: *cloneSession(h.session), InterruptedRound: interrupted}, nil
}

// OpenRound puts a matter up for a roll call. A zero duration opens the
// round without a deadline; otherwise the absolute expiry timestamp is
// computed once, server-side, so every subscriber derives an identical
// countdown.
func (h *Hub) OpenRound(matterID string, duration time.Duration, actor string) (Round, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil || h.session.Status != SessionStatusOpen {
		h.recordCommand("open_round", "rejected")
		return Round{}, ErrNoOpenSession
	}

	now := h.now()
	h.touchRoundLocked(now)

	if h.round != nil && h.round.Status == RoundStatusOpen {
		h.recordCommand("open_round", "rejected")
		return Round{}, ErrRoundAlreadyOpen
	}

	matterID = strings.TrimSpace(matterID)
	if matterID == "" {
		h.recordCommand("open_round", "rejected")
		return Round{}, ErrInvalidMatter
	}
	voted, found, err := h.registry.IsMatterAlreadyVoted(matterID)
	if err != nil {
		h.recordCommand("open_round", "rejected")
		return Round{}, fmt.Errorf("check matter: %w", err)
	}
	if !found || voted {
		h.recordCommand("open_round", "rejected")
		return Round{}, ErrInvalidMatter
	}

	round := &Round{
		ID:        uuid.NewString(),
		SessionID: h.session.ID,
		MatterID:  matterID,
		Status:    RoundStatusOpen,
		OpenedAt:  now,
	}
	if duration > 0 {
		expires := now.Add(duration)
		round.ExpiresAt = &expires
	}
	h.round = round
	h.rounds = append(h.rounds, round)
	h.ledgers[round.ID] = newLedger(round.ID)

	h.appendAudit(now, AuditEventRoundOpened, actor, h.session.ID, round.ID, "matter="+matterID)
	h.publishRound(now, round, nil)
	h.recordCommand("open_round", "ok")
	return *cloneRound(round), nil
}

// CloseRound finalizes the round's tally and records the outcome against
// its matter. Closing a round that was already finalized (by an earlier
// command or by expiry) is a soft success reported via AlreadyClosed, so
// duplicate commands from a flaky control client are harmless.
func (h *Hub) CloseRound(roundID, actor string) (RoundResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.touchRoundLocked(now)

	round := h.findRoundLocked(roundID)
	if round == nil {
		h.recordCommand("close_round", "rejected")
		return RoundResult{}, ErrRoundNotFound
	}
	if round.Status != RoundStatusOpen {
		if result, ok := h.results[round.ID]; ok {
			dup := *result
			dup.AlreadyClosed = true
			h.recordCommand("close_round", "noop")
			return dup, nil
		}
		h.recordCommand("close_round", "noop")
		return RoundResult{Round: *cloneRound(round), AlreadyClosed: true}, nil
	}

	h.finalizeRoundLocked(round, RoundStatusClosed, now, actor)
	h.recordCommand("close_round", "ok")
	return *h.results[round.ID], nil
}

// InterruptRound abandons the round without recording an outcome. Votes are
// retained in the audit trail but excluded from every tally, and the matter
// stays eligible for a fresh round later.
func (h *Hub) InterruptRound(roundID, actor string) (Round, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.touchRoundLocked(now)

	round := h.findRoundLocked(roundID)
	if round == nil {
		h.recordCommand("interrupt_round", "rejected")
		return Round{}, ErrRoundNotFound
	}
	if round.Status != RoundStatusOpen {
		h.recordCommand("interrupt_round", "rejected")
		return Round{}, ErrAlreadyClosed
	}

	h.finalizeRoundLocked(round, RoundStatusInterrupted, now, actor)
	h.recordCommand("interrupt_round", "ok")
	return *cloneRound(round), nil
}

// CastVote upserts the councilor's ballot for the round and returns the
// fresh quorum snapshot. A re-cast before the round closes overwrites the
// earlier value; that is intentional correction support, not an error.
func (h *Hub) CastVote(roundID, councilorID string, value VoteValue) (QuorumSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !value.Valid() {
		h.recordCommand("cast_vote", "rejected")
		return QuorumSnapshot{}, ErrInvalidVote
	}

	now := h.now()
	h.touchRoundLocked(now)

	round := h.findRoundLocked(roundID)
	if round == nil {
		h.recordCommand("cast_vote", "rejected")
		return QuorumSnapshot{}, ErrRoundNotFound
	}
	if round.Status != RoundStatusOpen || round != h.round {
		h.recordCommand("cast_vote", "rejected")
		return QuorumSnapshot{}, ErrAlreadyClosed
	}
	if _, eligible := h.roster[councilorID]; !eligible {
		h.recordCommand("cast_vote", "rejected")
		return QuorumSnapshot{}, ErrNotEligible
	}

	led := h.ledgers[round.ID]
	recast := led.upsert(councilorID, value, now)
	snap := led.snapshot(len(h.roster))

	h.appendAudit(now, AuditEventVoteCast, councilorID, round.SessionID, round.ID, "value="+value.String())
	h.publish(Delta{
		Topic:   TopicVotes,
		Emitted: now,
		Vote: &VoteChange{
			RoundID:     round.ID,
			CouncilorID: councilorID,
			Value:       value,
			Recast:      recast,
			Quorum:      snap,
		},
	})
	h.recordCommand("cast_vote", "ok")
	if h.metrics != nil {
		h.metrics.RecordVote(h.chamberID, value.String())
	}
	return snap, nil
}

// Subscribe registers a live subscriber and returns the mandatory full
// current-state snapshot followed by the delta channel. The snapshot and
// the registration happen atomically with respect to command processing, so
// no delta is lost or duplicated between the two. The returned cancel
// function is idempotent. When the subscriber falls behind and overflows
// its queue, the hub closes the channel; the caller must resubscribe to
// resync via a fresh snapshot.
func (h *Hub) Subscribe(role Role, participantID string) (StateSnapshot, <-chan Delta, func(), error) {
	if !role.Valid() {
		return StateSnapshot{}, nil, nil, fmt.Errorf("core: unknown role %q", role)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.touchRoundLocked(now)

	h.subMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	sub := &subscriber{
		id:            id,
		role:          role,
		participantID: participantID,
		ch:            make(chan Delta, h.queueSize),
	}
	h.subs[id] = sub
	sequences := make(map[Topic]uint64, len(h.seq))
	for topic, n := range h.seq {
		sequences[topic] = n
	}
	h.subMu.Unlock()
	h.updateSubscriberGauges()

	snapshot := h.snapshotLocked(now, role, participantID)
	snapshot.Sequences = sequences

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
			h.subMu.Unlock()
			h.updateSubscriberGauges()
		})
	}
	return snapshot, sub.ch, cancel, nil
}

// State returns a role-scoped snapshot of the chamber without subscribing.
// Like every read of round state, it applies lazy expiry first.
func (h *Hub) State(role Role, participantID string) StateSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.touchRoundLocked(now)
	snapshot := h.snapshotLocked(now, role, participantID)
	h.subMu.Lock()
	snapshot.Sequences = make(map[Topic]uint64, len(h.seq))
	for topic, n := range h.seq {
		snapshot.Sequences[topic] = n
	}
	h.subMu.Unlock()
	return snapshot
}

// AuditLog returns a copy of the chamber's append-only audit trail.
func (h *Hub) AuditLog() []AuditRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AuditRecord, len(h.audit))
	copy(out, h.audit)
	return out
}

// RunExpirySweep proactively closes expired rounds so an idle round does
// not linger open with no incoming traffic. The sweep goes through the same
// serialized path as any other command. It returns when ctx is done.
func (h *Hub) RunExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			h.touchRoundLocked(h.now())
			h.mu.Unlock()
		}
	}
}

// findRoundLocked resolves a round id against the current session's rounds.
func (h *Hub) findRoundLocked(roundID string) *Round {
	for _, r := range h.rounds {
		if r.ID == roundID {
			return r
		}
	}
	return nil
}

// touchRoundLocked applies lazy expiry: an open round whose deadline has
// passed is finalized exactly as if CloseRound had been issued, before the
// triggering operation proceeds. No vote is accepted after the deadline
// even when no controller explicitly closed the round.
func (h *Hub) touchRoundLocked(now time.Time) {
	if h.round == nil || h.round.Status != RoundStatusOpen {
		return
	}
	if !h.round.Expired(now) {
		return
	}
	h.finalizeRoundLocked(h.round, RoundStatusClosed, now, "expiry")
	h.recordCommand("close_round", "expired")
}

// finalizeRoundLocked moves an open round to a terminal status, computes
// its final tally, publishes the round delta, and, for a normal close,
// records the outcome against the matter. Interrupted rounds skip the
// matter write and tally disclosure entirely.
func (h *Hub) finalizeRoundLocked(round *Round, status RoundStatus, now time.Time, actor string) {
	round.Status = status
	closed := now
	round.ClosedAt = &closed

	led := h.ledgers[round.ID]
	change := &RoundChange{Round: *cloneRound(round)}

	if status == RoundStatusClosed {
		snap := led.snapshot(len(h.roster))
		outcome := DecideOutcome(snap.Favorable, snap.Against)
		h.results[round.ID] = &RoundResult{
			Round:   *cloneRound(round),
			Quorum:  snap,
			Outcome: outcome,
		}
		change.Quorum = snap
		change.Outcome = outcome
		change.Votes = led.list()
		if err := h.registry.MarkMatterVoted(round.MatterID, outcome); err != nil {
			// The hub's tally stays authoritative; the registry write is
			// retried by operators from the audit trail.
			h.logger.Warn("mark matter voted failed",
				"chamber", h.chamberID,
				"matter", round.MatterID,
				"round", round.ID,
				"error", err,
			)
		}
		h.appendAudit(now, AuditEventRoundClosed, actor, round.SessionID, round.ID,
			fmt.Sprintf("matter=%s outcome=%s favorable=%d against=%d abstain=%d",
				round.MatterID, outcome, snap.Favorable, snap.Against, snap.Abstain))
	} else {
		change.Quorum = QuorumSnapshot{Eligible: len(h.roster)}
		h.appendAudit(now, AuditEventRoundInterrupted, actor, round.SessionID, round.ID, "matter="+round.MatterID)
	}

	h.publish(Delta{Topic: TopicRound, Emitted: now, Round: change})
	if h.metrics != nil {
		h.metrics.RecordRoundDuration(h.chamberID, round.Status.String(), closed.Sub(round.OpenedAt))
	}
}

// snapshotLocked builds the role-filtered full-state dump.
func (h *Hub) snapshotLocked(now time.Time, role Role, participantID string) StateSnapshot {
	snapshot := StateSnapshot{
		ChamberID: h.chamberID,
		Taken:     now,
		Session:   cloneSession(h.session),
		Presence:  h.presence.Snapshot(),
	}
	round := h.round
	if round == nil {
		return snapshot
	}
	snapshot.Round = cloneRound(round)

	led := h.ledgers[round.ID]
	switch round.Status {
	case RoundStatusInterrupted:
		// Interrupted rounds disclose no ballots and contribute no tally.
		quorum := QuorumSnapshot{Eligible: len(h.roster)}
		snapshot.Quorum = &quorum
	default:
		quorum := led.snapshot(len(h.roster))
		snapshot.Quorum = &quorum
		closed := round.Status == RoundStatusClosed
		if closed {
			if result, ok := h.results[round.ID]; ok {
				snapshot.Outcome = result.Outcome
			}
		}
		for _, vote := range led.list() {
			snapshot.Votes = append(snapshot.Votes, VoteStatus{
				CouncilorID: vote.CouncilorID,
				Value:       redactVote(role, participantID, vote.CouncilorID, vote.Value, closed),
				CastAt:      vote.CastAt,
			})
		}
	}
	return snapshot
}

// publish assigns the next per-topic sequence and fans the delta out to all
// subscribers with role filtering applied. Sends never block: a subscriber
// whose queue is full is dropped and its channel closed, forcing a
// resync-via-snapshot on its side.
func (h *Hub) publish(delta Delta) {
	h.subMu.Lock()
	h.seq[delta.Topic]++
	delta.Sequence = h.seq[delta.Topic]

	var dropped []*subscriber
	for _, sub := range h.subs {
		select {
		case sub.ch <- filterDelta(delta, sub.role, sub.participantID):
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
	h.subMu.Unlock()

	for _, sub := range dropped {
		h.logger.Warn("subscriber dropped for overflow",
			"chamber", h.chamberID,
			"role", string(sub.role),
			"participant", sub.participantID,
		)
		if h.metrics != nil {
			h.metrics.RecordDrop(h.chamberID, string(sub.role))
		}
	}
	if len(dropped) > 0 {
		h.updateSubscriberGauges()
	}

	h.emitter.Emit(delta)
}

// filterDelta applies the role disclosure policy to a delta before fan-out.
func filterDelta(delta Delta, role Role, participantID string) Delta {
	if delta.Vote != nil {
		vote := *delta.Vote
		vote.Value = redactVote(role, participantID, vote.CouncilorID, vote.Value, false)
		delta.Vote = &vote
	}
	return delta
}

func (h *Hub) publishSession(now time.Time) {
	h.publish(Delta{Topic: TopicSession, Emitted: now, Session: cloneSession(h.session)})
}

func (h *Hub) publishRound(now time.Time, round *Round, votes []Vote) {
	change := &RoundChange{Round: *cloneRound(round), Votes: votes}
	if led, ok := h.ledgers[round.ID]; ok {
		change.Quorum = led.snapshot(len(h.roster))
	}
	h.publish(Delta{Topic: TopicRound, Emitted: now, Round: change})
}

// publishPresence is the presence tracker's change callback. It takes only
// the subscriber lock, never the command lock: presence is the one state
// mutated from connection-management context.
func (h *Hub) publishPresence(participantID string, online bool) {
	h.publish(Delta{
		Topic:   TopicPresence,
		Emitted: h.now(),
		Presence: &PresenceChange{
			ParticipantID: participantID,
			Online:        online,
		},
	})
}

func (h *Hub) appendAudit(now time.Time, event AuditEvent, actor, sessionID, roundID, details string) {
	h.auditSeq++
	h.audit = append(h.audit, AuditRecord{
		Sequence:  h.auditSeq,
		Timestamp: now,
		Event:     event,
		Actor:     actor,
		SessionID: sessionID,
		RoundID:   roundID,
		Details:   details,
	})
}

func (h *Hub) recordCommand(kind, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordCommand(h.chamberID, kind, outcome)
	}
}

func (h *Hub) updateSubscriberGauges() {
	if h.metrics == nil {
		return
	}
	h.subMu.Lock()
	counts := map[Role]int{RoleController: 0, RoleVoter: 0, RolePublic: 0}
	for _, sub := range h.subs {
		counts[sub.role]++
	}
	h.subMu.Unlock()
	for role, n := range counts {
		h.metrics.SetSubscribers(h.chamberID, string(role), n)
	}
}
