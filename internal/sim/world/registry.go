package world

import (
	"log"
	"sync"
)

// RegistryConfig shapes lazily created worlds.
type RegistryConfig struct {
	DefaultWorldID string
	GroundRadius   int
	// Overrides apply to specific world ids; unknown ids get the defaults.
	Overrides map[string]Config
}

// Registry maps world ids to live world state, creating and seeding worlds on
// first reference. Worlds live for the process lifetime; nothing destroys
// them.
type Registry struct {
	cfg    RegistryConfig
	stores *AgentStores
	logger *log.Logger

	mu     sync.Mutex
	worlds map[string]*World

	auditSink AuditSink
}

func NewRegistry(cfg RegistryConfig, logger *log.Logger) *Registry {
	if cfg.DefaultWorldID == "" {
		cfg.DefaultWorldID = "default"
	}
	return &Registry{
		cfg:    cfg,
		stores: NewAgentStores(),
		logger: logger,
		worlds: map[string]*World{},
	}
}

// SetAuditSink installs the sink applied to every world created from now on.
// Call before serving traffic.
func (r *Registry) SetAuditSink(s AuditSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditSink = s
	for _, w := range r.worlds {
		w.SetAuditSink(s)
	}
}

// DefaultWorldID is the world joined when a client does not name one.
func (r *Registry) DefaultWorldID() string { return r.cfg.DefaultWorldID }

// Stores exposes the shared per-agent scratch state.
func (r *Registry) Stores() *AgentStores { return r.stores }

// GetOrCreate resolves a world id, creating and seeding the world on first
// touch.
func (r *Registry) GetOrCreate(id string) *World {
	if id == "" {
		id = r.cfg.DefaultWorldID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.worlds[id]; ok {
		return w
	}
	cfg, ok := r.cfg.Overrides[id]
	if !ok {
		cfg = Config{Name: "Default World", GroundRadius: r.cfg.GroundRadius}
	}
	cfg.ID = id
	if cfg.Name == "" {
		cfg.Name = id
	}
	if cfg.GroundRadius == 0 {
		cfg.GroundRadius = r.cfg.GroundRadius
	}
	w := New(cfg, r.stores)
	if r.auditSink != nil {
		w.SetAuditSink(r.auditSink)
	}
	r.worlds[id] = w
	if r.logger != nil {
		r.logger.Printf("[world] created %q with %d chunks", id, w.ChunkCount())
	}
	return w
}

// Get returns a world only if it already exists.
func (r *Registry) Get(id string) (*World, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worlds[id]
	return w, ok
}

// WorldIDs lists the live worlds.
func (r *Registry) WorldIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.worlds))
	for id := range r.worlds {
		ids = append(ids, id)
	}
	return ids
}
