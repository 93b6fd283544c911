package core

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/domain"
)

// MemberSnap is a read-only view of one live connection and its identity.
type MemberSnap struct {
	Conn     ConnID
	Identity *domain.Identity
	Sender   Sender
}

// Presence tracks which identities are connected to one room. A client
// reattaching with a known key resumes its prior identity; the stale
// connection bound to that identity, if any, is handed back to the caller
// to be closed. At most one live connection per identity.
type Presence struct {
	room domain.RoomID

	mu     sync.RWMutex
	rng    *rand.Rand
	byConn map[ConnID]*MemberSnap
	byKey  map[string]domain.IdentityID
	conns  map[domain.IdentityID]ConnID
	idents map[domain.IdentityID]*domain.Identity
}

func NewPresence(room domain.RoomID, rng *rand.Rand) *Presence {
	return &Presence{
		room:   room,
		rng:    rng,
		byConn: make(map[ConnID]*MemberSnap),
		byKey:  make(map[string]domain.IdentityID),
		conns:  make(map[domain.IdentityID]ConnID),
		idents: make(map[domain.IdentityID]*domain.Identity),
	}
}

// Join registers a connection and returns a copy of its identity plus the
// replaced sender of a stale connection bound to the same reattachment
// key, if any. The caller owns closing the replaced sender. Identities
// escape only as copies taken under the lock, so callers never observe a
// concurrent rename mid-read.
func (p *Presence) Join(conn ConnID, s Sender, key string) (domain.Identity, Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var identity *domain.Identity
	var replaced Sender

	if key != "" {
		if id, ok := p.byKey[key]; ok {
			identity = p.idents[id]
			if old, ok := p.conns[id]; ok {
				if m, ok := p.byConn[old]; ok {
					replaced = m.Sender
				}
				delete(p.byConn, old)
			}
		}
	}
	if identity == nil {
		taken := make(map[string]bool, len(p.idents))
		for _, ident := range p.idents {
			taken[ident.DisplayName] = true
		}
		name := GenerateName(p.rng, taken)
		color := ColorForPopulation(len(p.idents))
		identity = domain.NewIdentity(name, color, key)
		p.idents[identity.ID] = identity
		if key != "" {
			p.byKey[key] = identity.ID
		}
		log.Info().Str("module", "core.presence").Str("room", string(p.room)).
			Str("identity", string(identity.ID)).Str("name", name).Msg("minted identity")
	}

	p.byConn[conn] = &MemberSnap{Conn: conn, Identity: identity, Sender: s}
	p.conns[identity.ID] = conn
	return *identity, replaced
}

// IdentityOf returns a copy of a live identity.
func (p *Presence) IdentityOf(id domain.IdentityID) (domain.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ident, ok := p.idents[id]
	if !ok {
		return domain.Identity{}, false
	}
	return *ident, true
}

// Leave removes the connection. When it was the identity's live connection
// the identity is removed too and its reattachment key cleared; removed
// reports that case.
func (p *Presence) Leave(conn ConnID) (identity *domain.Identity, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.byConn[conn]
	if !ok {
		return nil, false
	}
	delete(p.byConn, conn)
	identity = m.Identity

	if live, ok := p.conns[identity.ID]; ok && live == conn {
		delete(p.conns, identity.ID)
		delete(p.idents, identity.ID)
		if identity.Key != "" {
			delete(p.byKey, identity.Key)
		}
		log.Info().Str("module", "core.presence").Str("room", string(p.room)).
			Str("identity", string(identity.ID)).Msg("identity removed")
		return identity, true
	}
	return identity, false
}

// List returns the current members; order is not significant.
func (p *Presence) List() []domain.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Identity, 0, len(p.idents))
	for _, ident := range p.idents {
		out = append(out, *ident)
	}
	return out
}

// Rename updates an identity's display name. Empty-after-trim is a no-op.
func (p *Presence) Rename(id domain.IdentityID, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident, ok := p.idents[id]
	if !ok {
		return false
	}
	if err := ident.SetDisplayName(name); err != nil {
		return false
	}
	return true
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byConn)
}

// Snapshot returns the live connections for fan-out.
func (p *Presence) Snapshot() []MemberSnap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]MemberSnap, 0, len(p.byConn))
	for _, m := range p.byConn {
		out = append(out, *m)
	}
	return out
}
