package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/domain"
)

// Deps is everything a room needs beyond its id.
type Deps struct {
	Gateway     Gateway
	Limits      Limits
	LogCapacity int

	// IdleTTL evicts rooms with no connections after this much inactivity.
	// Zero keeps idle rooms resident forever, matching historical behavior.
	IdleTTL time.Duration
}

// RoomManager creates rooms lazily on first use and keys them by project
// id. Each room is fully independent; the manager's lock only guards the
// map itself.
type RoomManager struct {
	deps  Deps
	sizes *SizeLedger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager(deps Deps) *RoomManager {
	return &RoomManager{
		deps:  deps,
		sizes: NewSizeLedger(),
		rooms: make(map[domain.RoomID]*Room),
	}
}

func (m *RoomManager) GetOrCreate(id domain.RoomID) *Room {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room
	}
	room = NewRoom(id, m.deps.Gateway, m.deps.Limits, m.deps.LogCapacity, m.sizes)
	m.rooms[id] = room
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (m *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
	Version     int64         `json:"version"`
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.Presence.Count(), Version: r.State.Version()})
	}
	return out
}

// Remove drops a room's in-memory state. Live connections are not
// touched; callers wanting a clean cut should close them first.
func (m *RoomManager) Remove(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	m.sizes.Drop(id)
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("room removed")
}

// StartJanitor evicts idle empty rooms on a fixed sweep interval when
// IdleTTL is configured. No-op otherwise.
func (m *RoomManager) StartJanitor(ctx context.Context) {
	if m.deps.IdleTTL <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.deps.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.sweep(now)
			}
		}
	}()
}

func (m *RoomManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		if r.Presence.Count() == 0 && r.IdleSince(now) > m.deps.IdleTTL {
			delete(m.rooms, id)
			m.sizes.Drop(id)
			log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("idle room evicted")
		}
	}
}
