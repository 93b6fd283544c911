package signal

import "encoding/json"

func (ctl *SessionController) handlePing(s *session, data []byte) {
	var p struct {
		Token json.RawMessage `json:"token"`
	}
	_ = json.Unmarshal(data, &p)

	resp := map[string]any{
		"type":    "pong",
		"room_id": s.room.ID,
	}
	if len(p.Token) > 0 {
		resp["token"] = json.RawMessage(p.Token)
	}
	_ = ctl.send(s.conn, resp)
}
