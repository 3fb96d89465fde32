package hub

import (
	"sort"
	"sync"

	"github.com/Tyrowin/pairchat/internal/auth"
)

// Registry is the set of live connections, indexed by bound identity.
// All methods are safe for concurrent use; readers get copies.
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Connection]struct{}
	byUser map[string]map[*Connection]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[*Connection]struct{}),
		byUser: make(map[string]map[*Connection]struct{}),
	}
}

// Add registers c. It reports false if c was already registered.
func (r *Registry) Add(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; ok {
		return false
	}
	r.conns[c] = struct{}{}

	if id, ok := c.Identity(); ok {
		set, exists := r.byUser[id.UserID]
		if !exists {
			set = make(map[*Connection]struct{})
			r.byUser[id.UserID] = set
		}
		set[c] = struct{}{}
	}
	return true
}

// Remove deregisters c. It reports false if c was not registered, which
// makes repeated removal a no-op.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)

	if id, ok := c.Identity(); ok {
		if set := r.byUser[id.UserID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(r.byUser, id.UserID)
			}
		}
	}
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the deduplicated identities of all registered
// authenticated connections.
func (r *Registry) Snapshot() []auth.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Connections returns a copy of the registered connections.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectionsLocked()
}

// View returns the presence snapshot and the connections it should be sent
// to, both taken under one lock.
func (r *Registry) View() ([]auth.Identity, []*Connection) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.connectionsLocked()
}

// ForIdentity returns the registered connections bound to userID.
func (r *Registry) ForIdentity(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// snapshotLocked is ordered by username then user id so that equal registry
// states always marshal to equal payloads.
func (r *Registry) snapshotLocked() []auth.Identity {
	online := make([]auth.Identity, 0, len(r.byUser))
	for _, set := range r.byUser {
		for c := range set {
			id, _ := c.Identity()
			online = append(online, id)
			break
		}
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].Username != online[j].Username {
			return online[i].Username < online[j].Username
		}
		return online[i].UserID < online[j].UserID
	})
	return online
}

func (r *Registry) connectionsLocked() []*Connection {
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
