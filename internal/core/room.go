package core

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/domain"
)

// Room is the synchronization scope for one project's live collaborators.
// It owns the presence set, the update log, the snapshot slot and the
// broadcast group. Created lazily, never shares locks with other rooms.
type Room struct {
	ID       domain.RoomID
	Presence *Presence
	Log      *UpdateLog
	State    *StateStore

	lastActive atomic.Int64
}

func NewRoom(id domain.RoomID, gw Gateway, limits Limits, logCap int, sizes *SizeLedger) *Room {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r := &Room{
		ID:       id,
		Presence: NewPresence(id, rng),
		Log:      NewUpdateLog(logCap),
		State:    NewStateStore(id, gw, limits, sizes),
	}
	r.Touch()
	return r
}

// Delivery reports fan-out results. Dropped members failed their send and
// should be treated as disconnected by the caller; delivery to the rest
// is unaffected.
type Delivery struct {
	SentTo  int
	Dropped []MemberSnap
}

// Broadcast fans data out to every live connection in the room.
func (r *Room) Broadcast(data Frame) Delivery {
	return r.broadcast(data, "")
}

// BroadcastExcept skips one connection, so a sender never echoes its own
// cursor or edit back to itself.
func (r *Room) BroadcastExcept(data Frame, except ConnID) Delivery {
	return r.broadcast(data, except)
}

func (r *Room) broadcast(data Frame, except ConnID) Delivery {
	r.Touch()
	res := Delivery{}
	for _, m := range r.Presence.Snapshot() {
		if except != "" && m.Conn == except {
			continue
		}
		if err := m.Sender.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.ID)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Touch records activity for idle-eviction bookkeeping.
func (r *Room) Touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

// IdleSince reports how long the room has been without activity.
func (r *Room) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, r.lastActive.Load()))
}
