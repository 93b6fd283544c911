package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionController wires each websocket connection's lifecycle to the
// hub: presence registry, update log, state store and broadcast fabric.
// One connection's inbound messages are processed strictly sequentially;
// different connections run concurrently.
type SessionController struct {
	Rooms      *core.RoomManager
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSessionController(rooms *core.RoomManager, readLimit int64, pingPeriod time.Duration) *SessionController {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &SessionController{Rooms: rooms, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

// session carries everything the message loop needs for one connection.
// self is the join-time identity snapshot; frames are tagged with a fresh
// copy via user so renames show up without sharing mutable state.
type session struct {
	room   *core.Room
	connID core.ConnID
	conn   *WsConn
	self   domain.Identity
	cancel context.CancelFunc
}

// user returns the sender's current identity for tagging outbound frames.
// The registry hands out copies taken under its lock, so a rename through
// a reattached successor never races a marshal here.
func (s *session) user() domain.Identity {
	if ident, ok := s.room.Presence.IdentityOf(s.self.ID); ok {
		return ident
	}
	return s.self
}

// HandleSession runs the connecting → joined transition: register with
// presence, send hello and sync, broadcast the new member list, then hand
// the connection to the pumps.
func (ctl *SessionController) HandleSession(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("room"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
		return
	}
	key := c.Query("reattachment_key")
	if key == "" {
		key = c.GetString("reattach_key")
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := newWsConn(ws)
	connID := core.ConnID(uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)

	room := ctl.Rooms.GetOrCreate(roomID)
	self, replaced := room.Presence.Join(connID, conn, key)
	if replaced != nil {
		replaced.Close(CloseReplaced, "replaced")
	}

	sess := &session{room: room, connID: connID, conn: conn, self: self, cancel: cancel}
	log.Info().Str("module", "signal").Str("room", string(roomID)).
		Str("conn", string(connID)).Str("identity", string(self.ID)).Msg("session joined")

	go ctl.writePump(ctx, conn)

	if err := ctl.sendWelcome(ctx, sess); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(connID)).
			Msg("welcome failed, closing")
		conn.Close(websocket.CloseInternalServerErr, "setup failed")
		ctl.teardown(sess)
		return
	}
	ctl.broadcastPresence(room)

	go ctl.readPump(ctx, sess)
}

// sendWelcome delivers the hello (identity, member list, current
// snapshot) followed by a sync carrying the update-log replay.
func (ctl *SessionController) sendWelcome(ctx context.Context, s *session) error {
	snap := s.room.State.Get(ctx)
	hello := map[string]any{
		"type":    "hello",
		"room_id": s.room.ID,
		"self":    s.user(),
		"members": s.room.Presence.List(),
		"project": snap.Project,
		"raw":     snap.Raw,
		"version": snap.Version,
	}
	if err := ctl.send(s.conn, hello); err != nil {
		return err
	}

	updates := s.room.Log.Snapshot()
	blobs := make([]json.RawMessage, 0, len(updates))
	for _, u := range updates {
		blobs = append(blobs, json.RawMessage(u))
	}
	return ctl.send(s.conn, map[string]any{
		"type":    "sync",
		"room_id": s.room.ID,
		"updates": blobs,
	})
}

// teardown runs the joined → closed transition. A connection replaced by
// a reattach leaves presence untouched and broadcasts nothing.
func (ctl *SessionController) teardown(s *session) {
	s.cancel()
	s.conn.Close(0, "")

	identity, removed := s.room.Presence.Leave(s.connID)
	if identity == nil || !removed {
		return
	}
	log.Info().Str("module", "signal").Str("room", string(s.room.ID)).
		Str("identity", string(identity.ID)).Msg("session closed")

	ctl.broadcastPresence(s.room)
	ctl.broadcastDeparture(s.room, *identity)
}

// broadcastDeparture clears a departed identity's cursor and selection
// for the remaining members.
func (ctl *SessionController) broadcastDeparture(room *core.Room, ident domain.Identity) {
	ctl.deliver(room, mustFrame(map[string]any{
		"type": "cursor:clear", "room_id": room.ID, "user": ident,
	}), "")
	ctl.deliver(room, mustFrame(map[string]any{
		"type": "selection:clear", "room_id": room.ID, "user": ident,
	}), "")
}

func (ctl *SessionController) broadcastPresence(room *core.Room) {
	ctl.deliver(room, mustFrame(map[string]any{
		"type":    "presence:update",
		"room_id": room.ID,
		"members": room.Presence.List(),
	}), "")
}

// deliver fans a frame out and converts each failed send into a
// disconnect for that member only; remaining members are unaffected.
func (ctl *SessionController) deliver(room *core.Room, frame core.Frame, except core.ConnID) {
	if frame == nil {
		return
	}
	var res core.Delivery
	if except == "" {
		res = room.Broadcast(frame)
	} else {
		res = room.BroadcastExcept(frame, except)
	}

	var removed []domain.Identity
	for _, m := range res.Dropped {
		log.Warn().Str("module", "signal").Str("room", string(room.ID)).
			Str("conn", string(m.Conn)).Msg("send failed, dropping member")
		m.Sender.Close(0, "")
		if ident, ok := room.Presence.Leave(m.Conn); ok {
			removed = append(removed, *ident)
		}
	}
	if len(removed) > 0 {
		ctl.broadcastPresence(room)
		// An evicted member departs like any other: its cursor and
		// selection are cleared for the survivors.
		for _, ident := range removed {
			ctl.broadcastDeparture(room, ident)
		}
	}
}

func (ctl *SessionController) send(conn *WsConn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal outbound")
		return err
	}
	return conn.TrySend(core.Frame(b))
}

func mustFrame(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal frame")
		return nil
	}
	return core.Frame(b)
}
