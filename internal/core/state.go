package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/domain"
)

// PersistOpts qualifies one guarded write. ViaREST enables the anti-shrink
// guard; Force bypasses it (privileged escape hatch).
type PersistOpts struct {
	ViaREST bool
	Force   bool
}

// Gateway is the guarded persistence boundary the state store hydrates
// from and writes through. Persist returns a guard sentinel on rejection
// and wraps ErrBackingStore on a durable-write failure.
type Gateway interface {
	Hydrate(ctx context.Context, room domain.RoomID) ([]byte, error)
	Persist(ctx context.Context, room domain.RoomID, raw []byte, project domain.Project, opts PersistOpts) error
}

// Limits are the size ceilings checked before any write is accepted.
// Zero disables a ceiling.
type Limits struct {
	ProjectMaxBytes int
	TotalMaxBytes   int
}

// SizeLedger tracks serialized snapshot sizes across rooms for the global
// ceiling. Shared by all rooms of one manager.
type SizeLedger struct {
	mu    sync.Mutex
	bytes map[domain.RoomID]int
}

func NewSizeLedger() *SizeLedger {
	return &SizeLedger{bytes: make(map[domain.RoomID]int)}
}

func (l *SizeLedger) Set(room domain.RoomID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bytes[room] = n
}

func (l *SizeLedger) Get(room domain.RoomID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes[room]
}

func (l *SizeLedger) Drop(room domain.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bytes, room)
}

func (l *SizeLedger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.bytes {
		total += n
	}
	return total
}

// StateStore owns the authoritative snapshot of one room. All mutation
// goes through Set, serialized by the store's own mutex so near-
// simultaneous writers in the same room never interleave. Rooms do not
// share locks.
type StateStore struct {
	room   domain.RoomID
	gw     Gateway
	limits Limits
	sizes  *SizeLedger

	mu     sync.Mutex
	loaded bool
	snap   domain.Snapshot
}

func NewStateStore(room domain.RoomID, gw Gateway, limits Limits, sizes *SizeLedger) *StateStore {
	return &StateStore{room: room, gw: gw, limits: limits, sizes: sizes}
}

// Get returns the current snapshot, lazily hydrating from the gateway the
// first time the room is touched. An unreachable backing store reads as
// "no persisted state", never as a failure.
func (s *StateStore) Get(ctx context.Context) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)
	return s.snap
}

func (s *StateStore) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	s.snap = domain.Snapshot{Raw: json.RawMessage("{}")}

	raw, err := s.gw.Hydrate(ctx, s.room)
	if err != nil {
		log.Warn().Err(err).Str("module", "core.state").Str("room", string(s.room)).
			Msg("hydrate failed, starting empty")
		return
	}
	if raw == nil {
		return
	}
	project, err := domain.ProjectFromRaw(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "core.state").Str("room", string(s.room)).
			Msg("persisted record not normalizable, starting empty")
		return
	}
	s.snap = domain.Snapshot{
		Raw:     json.RawMessage(raw),
		Project: project,
		Version: versionOf(raw),
	}
	s.sizes.Set(s.room, len(raw))
}

func versionOf(raw []byte) int64 {
	var v struct {
		UpdatedAt int64 `json:"updated_at"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.UpdatedAt
}

// Set is the central guarded write path: size ceilings, version stamping,
// normalization, gateway persist, then atomic in-memory replacement. On a
// guard rejection nothing changes. On a backing-store failure the
// in-memory snapshot still updates so live collaborators keep working,
// and the error is surfaced to the caller.
func (s *StateStore) Set(ctx context.Context, raw []byte, opts PersistOpts) (domain.Snapshot, error) {
	if s.limits.ProjectMaxBytes > 0 && len(raw) > s.limits.ProjectMaxBytes {
		return domain.Snapshot{}, ErrProjectTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	if s.limits.TotalMaxBytes > 0 {
		others := s.sizes.Total() - s.sizes.Get(s.room)
		if others+len(raw) > s.limits.TotalMaxBytes {
			return domain.Snapshot{}, ErrTotalLimit
		}
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil || tree == nil {
		return domain.Snapshot{}, domain.ErrNotObject
	}

	version := time.Now().UnixMilli()
	if version <= s.snap.Version {
		version = s.snap.Version + 1
	}
	tree["updated_at"] = version

	stamped, err := json.Marshal(tree)
	if err != nil {
		return domain.Snapshot{}, err
	}
	project, err := domain.ProjectFromRaw(stamped)
	if err != nil {
		return domain.Snapshot{}, err
	}

	perr := s.gw.Persist(ctx, s.room, stamped, project, opts)
	if perr != nil && !errors.Is(perr, ErrBackingStore) {
		return domain.Snapshot{}, perr
	}

	s.snap = domain.Snapshot{Raw: stamped, Project: project, Version: version}
	s.sizes.Set(s.room, len(stamped))
	return s.snap, perr
}

// Version returns the last accepted version without hydrating.
func (s *StateStore) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Version
}
