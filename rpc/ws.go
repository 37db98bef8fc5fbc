package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"plenum/core"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is the wire envelope of the live stream. Every connection starts
// with exactly one snapshot frame, then carries delta frames until it ends.
type wsFrame struct {
	Type     string              `json:"type"`
	Snapshot *core.StateSnapshot `json:"snapshot,omitempty"`
	Delta    *core.Delta         `json:"delta,omitempty"`
}

// Stream upgrades to a websocket and serves the role-scoped live feed for
// the chamber: one full snapshot, then ordered deltas. Controllers and
// voters holding the connection count as present; public observers do not.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	hub := s.hub(w, r)
	if hub == nil {
		return
	}
	identity, _ := IdentityFromContext(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The feed is server-push only; CloseRead surfaces client disconnects
	// through ctx cancellation.
	ctx := conn.CloseRead(r.Context())

	if identity.Role != core.RolePublic && identity.Subject != "" {
		hub.Presence().MarkOnline(identity.Subject)
		defer hub.Presence().MarkOffline(identity.Subject)
	}

	if err := s.streamChamber(ctx, conn, hub, identity); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamChamber runs the snapshot-then-deltas loop. When the hub drops the
// subscription because the connection fell behind, the loop resubscribes:
// the client transparently receives a fresh snapshot and discards its stale
// projection.
func (s *Server) streamChamber(ctx context.Context, conn *websocket.Conn, hub *core.Hub, identity Identity) error {
	for {
		snapshot, deltas, cancel, err := hub.Subscribe(identity.Role, identity.Subject)
		if err != nil {
			return err
		}
		if err := writeFrame(ctx, conn, wsFrame{Type: "snapshot", Snapshot: &snapshot}); err != nil {
			cancel()
			return err
		}
		resync, err := pumpDeltas(ctx, conn, deltas)
		cancel()
		if err != nil {
			return err
		}
		if !resync {
			return nil
		}
		s.logger.Info("stream resync after overflow",
			"chamber", hub.ChamberID(),
			"role", string(identity.Role),
			"participant", identity.Subject,
		)
	}
}

// pumpDeltas forwards deltas until the context ends or the hub closes the
// channel. A closed channel means the subscriber was dropped for overflow
// and must resync via a fresh snapshot.
func pumpDeltas(ctx context.Context, conn *websocket.Conn, deltas <-chan core.Delta) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				return true, nil
			}
			if err := writeFrame(ctx, conn, wsFrame{Type: "delta", Delta: &delta}); err != nil {
				return false, err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
