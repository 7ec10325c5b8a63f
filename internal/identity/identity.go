// Package identity is the interface to the external credential store. The
// core trusts it at session-auth time; it never issues or validates
// cryptographic credentials itself.
package identity

import "sync"

// Quotas are the per-agent ceilings the credential store hands back.
type Quotas struct {
	MaxBlocksPerMinute   int `yaml:"max_blocks_per_minute" json:"maxBlocksPerMinute"`
	MaxEntitiesPerMinute int `yaml:"max_entities_per_minute" json:"maxEntitiesPerMinute"`
}

// Identity is the resolved credential for an agent key.
type Identity struct {
	ActorID     string   `json:"actorId"`
	Name        string   `json:"name"`
	WorldID     string   `json:"worldId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Quotas      Quotas   `json:"quotas"`
}

func (id Identity) HasPermission(p string) bool {
	for _, q := range id.Permissions {
		if q == p {
			return true
		}
	}
	return false
}

// Store resolves opaque keys/tokens to identities. An unknown token is not an
// error at this layer: websocket auth falls back to a human observer session.
type Store interface {
	LookupKey(key string) (Identity, bool)
}

// StaticStore is the in-process implementation backed by configuration. A
// production deployment would substitute the management plane's database.
type StaticStore struct {
	mu   sync.RWMutex
	keys map[string]Identity
}

func NewStaticStore() *StaticStore {
	return &StaticStore{keys: map[string]Identity{}}
}

func (s *StaticStore) Add(key string, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = id
}

func (s *StaticStore) LookupKey(key string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	return id, ok
}
