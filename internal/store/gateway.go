package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/domain"
)

// GuardConfig holds the heuristic thresholds for the data-loss guards.
// These are tuning values from operational experience, not derived
// invariants; they stay configurable.
type GuardConfig struct {
	// ShrinkMinBytes is the size at which an existing record counts as
	// substantial for the anti-shrink guard.
	ShrinkMinBytes int
	// NegligibleBytes is the size below which an incoming payload counts
	// as negligible.
	NegligibleBytes int
}

// Gateway guards all durable writes: unchanged content is deduplicated,
// and writes that look like accidental data loss are refused.
type Gateway struct {
	backend Backend
	cfg     GuardConfig

	mu       sync.Mutex
	lastHash map[domain.RoomID]string
}

func NewGateway(backend Backend, cfg GuardConfig) *Gateway {
	return &Gateway{
		backend:  backend,
		cfg:      cfg,
		lastHash: make(map[domain.RoomID]string),
	}
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, core.ErrBackingStore)
}

// Hydrate reads the durable record for a room. Absent records and an
// unreachable backing store both read as "no persisted state".
func (g *Gateway) Hydrate(ctx context.Context, room domain.RoomID) ([]byte, error) {
	rec, err := g.backend.Get(ctx, room)
	if err != nil {
		return nil, backendErr("hydrate "+string(room), err)
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Raw, nil
}

// Persist writes a stamped snapshot through the guards:
//
//   - unchanged content (ignoring updated_at) is skipped entirely;
//   - a payload with zero document content never overwrites a record
//     that has some (content_wipe);
//   - on the REST path, a near-empty payload never overwrites a
//     substantial record unless forced (empty_overwrite).
//
// A backing-store failure is returned wrapping ErrBackingStore; the
// caller surfaces it to the writer, never swallows it.
func (g *Gateway) Persist(ctx context.Context, room domain.RoomID, raw []byte, project domain.Project, opts core.PersistOpts) error {
	hash, hasUpdatedAt := contentHash(raw)

	g.mu.Lock()
	last := g.lastHash[room]
	g.mu.Unlock()
	if hash != "" && hash == last {
		log.Debug().Str("module", "store.gateway").Str("room", string(room)).
			Msg("unchanged content, write skipped")
		return nil
	}

	cur, err := g.backend.Get(ctx, room)
	if err != nil {
		return backendErr("read current record", err)
	}
	if cur != nil {
		if curProject, perr := domain.ProjectFromRaw(cur.Raw); perr == nil {
			if curProject.ContentChars() > 0 && project.ContentChars() == 0 {
				log.Warn().Str("module", "store.gateway").Str("room", string(room)).
					Int("existing_chars", curProject.ContentChars()).
					Msg("refused write that would wipe document content")
				return core.ErrContentWipe
			}
			if opts.ViaREST && !opts.Force &&
				len(cur.Raw) >= g.cfg.ShrinkMinBytes &&
				g.negligible(raw, project, hasUpdatedAt) {
				log.Warn().Str("module", "store.gateway").Str("room", string(room)).
					Int("existing_bytes", len(cur.Raw)).Int("incoming_bytes", len(raw)).
					Msg("refused near-empty overwrite of substantial project")
				return core.ErrEmptyOverwrite
			}
		}
	}

	if err := g.backend.Put(ctx, room, Record{Raw: raw, UpdatedAt: versionOf(raw)}); err != nil {
		return backendErr("write record", err)
	}
	g.mu.Lock()
	g.lastHash[room] = hash
	g.mu.Unlock()
	return nil
}

// Forget drops the dedup cache entry for a deleted room.
func (g *Gateway) Forget(room domain.RoomID) {
	g.mu.Lock()
	delete(g.lastHash, room)
	g.mu.Unlock()
}

// negligible: an effectively-empty metadata-only payload, or one simply
// too small to be real work.
func (g *Gateway) negligible(raw []byte, project domain.Project, hasUpdatedAt bool) bool {
	if project.Empty() && hasUpdatedAt {
		return true
	}
	return g.cfg.NegligibleBytes > 0 && len(raw) < g.cfg.NegligibleBytes
}

// contentHash hashes the payload with updated_at removed, so pure
// timestamp churn never counts as a content change. Map keys marshal in
// sorted order, which keeps the hash stable across re-encodings.
func contentHash(raw []byte) (hash string, hasUpdatedAt bool) {
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil || tree == nil {
		return "", false
	}
	_, hasUpdatedAt = tree["updated_at"]
	delete(tree, "updated_at")
	canon, err := json.Marshal(tree)
	if err != nil {
		return "", hasUpdatedAt
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), hasUpdatedAt
}

func versionOf(raw []byte) int64 {
	var meta struct {
		UpdatedAt int64 `json:"updated_at"`
	}
	_ = json.Unmarshal(raw, &meta)
	return meta.UpdatedAt
}
