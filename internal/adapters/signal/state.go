package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/domain"
)

// handleEdit buffers an opaque collaboration blob for late joiners and
// relays it to everyone else. The hub never interprets the payload.
func (ctl *SessionController) handleEdit(s *session, data []byte) {
	var p struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Payload) == 0 {
		return
	}
	s.room.Log.Append(core.Frame(p.Payload))
	ctl.deliver(s.room, mustFrame(map[string]any{
		"type":    "edit:update",
		"room_id": s.room.ID,
		"user":    s.user(),
		"payload": json.RawMessage(p.Payload),
	}), s.connID)
}

// handleState runs the full guarded write path. A guard rejection goes
// back to the sender only; an accepted write is broadcast to the whole
// room including the sender, so its optimistic local state converges to
// the canonical stamped version.
func (ctl *SessionController) handleState(ctx context.Context, s *session, data []byte) {
	var p struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Payload) == 0 {
		ctl.sendSaveError(s, "invalid_payload", "state payload missing")
		return
	}

	snap, err := s.room.State.Set(ctx, p.Payload, core.PersistOpts{})
	if err != nil && !errors.Is(err, core.ErrBackingStore) {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(s.room.ID)).
			Str("identity", string(s.self.ID)).Msg("state update rejected")
		ctl.sendSaveError(s, core.ErrCode(err), err.Error())
		return
	}
	if err != nil {
		// In-memory state still updated; the writer must know persistence
		// failed, the room keeps working.
		log.Error().Err(err).Str("module", "signal").Str("room", string(s.room.ID)).
			Msg("persist failed after in-memory commit")
		ctl.sendSaveError(s, core.ErrCode(err), err.Error())
	}

	ctl.deliver(s.room, mustFrame(map[string]any{
		"type":    "state:update",
		"room_id": s.room.ID,
		"user":    s.user(),
		"raw":     json.RawMessage(snap.Raw),
		"project": snap.Project,
		"version": snap.Version,
	}), "")
}

// BroadcastState pushes an accepted snapshot to every member of a room.
// Used by the REST write path so non-realtime writes still converge live
// collaborators.
func (ctl *SessionController) BroadcastState(room *core.Room, snap domain.Snapshot) {
	ctl.deliver(room, mustFrame(map[string]any{
		"type":    "state:update",
		"room_id": room.ID,
		"raw":     json.RawMessage(snap.Raw),
		"project": snap.Project,
		"version": snap.Version,
	}), "")
}

func (ctl *SessionController) sendSaveError(s *session, code, message string) {
	_ = ctl.send(s.conn, map[string]any{
		"type":    "state:save:error",
		"room_id": s.room.ID,
		"code":    code,
		"message": message,
	})
}
