package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"parkgate/internal/domain/gate"
)

// identityIndex is the engine-owned candidate index. Reads are taken by the
// resolver on every event; writes happen on the single router goroutine
// (creation) and on each identity's lane after a commit, so a plain RWMutex
// keeps it consistent without contention on the hot path.
type identityIndex struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]gate.VehicleIdentity
}

func newIdentityIndex() *identityIndex {
	return &identityIndex{byID: make(map[uuid.UUID]gate.VehicleIdentity)}
}

func (x *identityIndex) get(id uuid.UUID) (gate.VehicleIdentity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ident, ok := x.byID[id]
	return ident, ok
}

func (x *identityIndex) put(ident gate.VehicleIdentity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID[ident.ID] = ident
}

// update applies fn to one identity in place. Concurrent writers (the
// router bumping last-seen, a lane committing a toggle) both go through
// here so neither can clobber the other's fields.
func (x *identityIndex) update(id uuid.UUID, fn func(*gate.VehicleIdentity)) (gate.VehicleIdentity, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ident, ok := x.byID[id]
	if !ok {
		return gate.VehicleIdentity{}, false
	}
	fn(&ident)
	x.byID[id] = ident
	return ident, true
}

// candidates returns identities seen since the cutoff. Identities idle past
// the recency horizon are excluded to bound matching cost and to avoid
// reviving stale vehicles.
func (x *identityIndex) candidates(seenSince time.Time) []gate.VehicleIdentity {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]gate.VehicleIdentity, 0, len(x.byID))
	for _, ident := range x.byID {
		if ident.LastSeenAt.Before(seenSince) {
			continue
		}
		out = append(out, ident)
	}
	return out
}

func (x *identityIndex) all() []gate.VehicleIdentity {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]gate.VehicleIdentity, 0, len(x.byID))
	for _, ident := range x.byID {
		out = append(out, ident)
	}
	return out
}
