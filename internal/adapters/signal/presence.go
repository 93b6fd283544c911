package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

func (ctl *SessionController) handleRename(s *session, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !s.room.Presence.Rename(s.self.ID, p.Name) {
		return
	}
	log.Info().Str("module", "signal").Str("identity", string(s.self.ID)).
		Str("name", s.user().DisplayName).Msg("rename")
	ctl.broadcastPresence(s.room)
}

// relay forwards a cursor or selection event to everyone else in the
// room, tagged with the sender's identity. Nothing is stored.
func (ctl *SessionController) relay(s *session, data []byte) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	m["room_id"] = string(s.room.ID)
	m["user"] = s.user()
	frame, err := json.Marshal(m)
	if err != nil {
		return
	}
	ctl.deliver(s.room, frame, s.connID)
}
