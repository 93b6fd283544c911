package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SessionController) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump processes inbound messages one at a time, so a connection's
// own messages never run concurrently. Any read error is a disconnect.
func (ctl *SessionController) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(s.connID)).Msg("readPump closing")
		ctl.teardown(s)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(ctx, s, data)
		}
	}
}

func (ctl *SessionController) dispatch(ctx context.Context, s *session, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		// Malformed envelope: drop the message, keep the connection.
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.connID)).
			Msg("undecodable envelope dropped")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(s, data)
	case "presence:rename":
		ctl.handleRename(s, data)
	case "cursor:update", "cursor:clear", "selection:update", "selection:clear":
		ctl.relay(s, data)
	case "edit:update":
		ctl.handleEdit(s, data)
	case "state:update":
		ctl.handleState(ctx, s, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message kind")
	}
}
