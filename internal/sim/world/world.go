// Package world holds the authoritative per-world state and the action
// pipeline that mutates it. All mutation flows through Dispatch (or the
// proposal resolution path, which re-enters the same appliers); sessions never
// touch chunks directly.
package world

import (
	"sort"
	"sync"
	"time"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/chunk"
	"fioworld.ai/internal/sim/materials"
)

// Config is the per-world configuration resolved by the registry.
type Config struct {
	ID           string
	Name         string
	GroundRadius int  // seeded ground chunks span [-r, r] x [-r, r] at cy=0
	ProposalMode bool // agent actions become pending proposals instead of applying
}

// AuditSink receives every action record the pipeline produces, including
// rejected ones. Implementations must not block the caller for long; the
// persistence sinks hand off to background writers.
type AuditSink interface {
	RecordAction(action protocol.WorldAction)
}

// Entity is structurally present per the data model; entity behavior is
// reserved action territory and not implemented by the core.
type Entity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Position  protocol.Vec3  `json:"position"`
	OwnerID   string         `json:"ownerId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// World owns one world's chunks, labels, audit log, proposals and session
// membership. One coarse lock serializes every mutation: an action runs to
// completion (including a full 32768-cell fill) before the next one for this
// world is considered.
type World struct {
	cfg    Config
	stores *AgentStores

	mu           sync.Mutex
	chunks       map[protocol.ChunkCoord]*chunk.Chunk
	entities     map[string]*Entity
	sessions     map[string]struct{}
	auditLog     []protocol.WorldAction
	labels       map[string]protocol.WorldLabel
	labelsByPos  map[protocol.Vec3]string
	proposals    map[string]*protocol.Proposal
	proposalMode bool

	auditSink AuditSink
}

// New creates a world and seeds the initial flat ground: one ground chunk per
// (cx, 0, cz) within the configured radius.
func New(cfg Config, stores *AgentStores) *World {
	if stores == nil {
		stores = NewAgentStores()
	}
	w := &World{
		cfg:          cfg,
		stores:       stores,
		chunks:       map[protocol.ChunkCoord]*chunk.Chunk{},
		entities:     map[string]*Entity{},
		sessions:     map[string]struct{}{},
		labels:       map[string]protocol.WorldLabel{},
		labelsByPos:  map[protocol.Vec3]string{},
		proposals:    map[string]*protocol.Proposal{},
		proposalMode: cfg.ProposalMode,
	}
	for cx := -cfg.GroundRadius; cx <= cfg.GroundRadius; cx++ {
		for cz := -cfg.GroundRadius; cz <= cfg.GroundRadius; cz++ {
			coord := protocol.ChunkCoord{CX: cx, CY: 0, CZ: cz}
			w.chunks[coord] = chunk.NewGround(coord)
		}
	}
	return w
}

func (w *World) ID() string   { return w.cfg.ID }
func (w *World) Name() string { return w.cfg.Name }

func (w *World) SetAuditSink(s AuditSink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.auditSink = s
}

// ProposalMode reports whether agent actions are currently diverted to the
// proposal queue.
func (w *World) ProposalMode() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proposalMode
}

func (w *World) SetProposalMode(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.proposalMode = on
}

// AddSession records a session as joined to this world.
func (w *World) AddSession(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[sessionID] = struct{}{}
}

// RemoveSession drops a session from this world's membership.
func (w *World) RemoveSession(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

// SessionIDs returns the joined session ids in stable order.
func (w *World) SessionIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChunkCount reports the number of live chunks.
func (w *World) ChunkCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// EntityCount reports the number of entities.
func (w *World) EntityCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entities)
}

// LoadedChunkCoords returns every live chunk coordinate in stable order.
func (w *World) LoadedChunkCoords() []protocol.ChunkCoord {
	w.mu.Lock()
	defer w.mu.Unlock()
	coords := make([]protocol.ChunkCoord, 0, len(w.chunks))
	for c := range w.chunks {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})
	return coords
}

// ChunkSnapshot returns the wire form of every live chunk, in
// LoadedChunkCoords order. Used by the join protocol's full snapshot stream.
func (w *World) ChunkSnapshot() []protocol.ChunkWire {
	w.mu.Lock()
	defer w.mu.Unlock()
	coords := make([]protocol.ChunkCoord, 0, len(w.chunks))
	for c := range w.chunks {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})
	out := make([]protocol.ChunkWire, 0, len(coords))
	for _, c := range coords {
		out = append(out, w.chunks[c].Wire())
	}
	return out
}

// RequestChunk returns the chunk at coord, generating and storing it on
// demand: ground terrain at or below cy=0, empty air above. Lazy infinite
// world along all axes.
func (w *World) RequestChunk(coord protocol.ChunkCoord) protocol.ChunkWire {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chunks[coord]
	if !ok {
		if coord.CY <= 0 {
			c = chunk.NewGround(coord)
		} else {
			c = chunk.NewEmpty(coord)
		}
		w.chunks[coord] = c
	}
	return c.Wire()
}

// BlockAt reads the material at a world position. Reads degrade to AIR
// without allocating a chunk.
func (w *World) BlockAt(pos protocol.Vec3) materials.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockAtLocked(pos)
}

func (w *World) blockAtLocked(pos protocol.Vec3) materials.ID {
	c, ok := w.chunks[chunk.WorldToChunk(pos)]
	if !ok {
		return materials.Air
	}
	l := chunk.WorldToLocal(pos)
	return c.Get(l.X, l.Y, l.Z)
}

// setBlockLocked writes a material at a world position, creating the
// containing chunk (empty, not ground) if absent. Callers hold w.mu.
func (w *World) setBlockLocked(pos protocol.Vec3, m materials.ID) {
	coord := chunk.WorldToChunk(pos)
	c, ok := w.chunks[coord]
	if !ok {
		c = chunk.NewEmpty(coord)
		w.chunks[coord] = c
	}
	l := chunk.WorldToLocal(pos)
	c.Set(l.X, l.Y, l.Z, m)
}

// ChunkVersion reports the version of the chunk at coord, or 0 if the chunk
// does not exist.
func (w *World) ChunkVersion(coord protocol.ChunkCoord) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.chunks[coord]; ok {
		return c.Version
	}
	return 0
}

// Labels returns every label in creation-id order.
func (w *World) Labels() []protocol.WorldLabel {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.WorldLabel, 0, len(w.labels))
	for _, l := range w.labels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LabelAt returns the label at an exact position, if any.
func (w *World) LabelAt(pos protocol.Vec3) (protocol.WorldLabel, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.labelsByPos[pos]
	if !ok {
		return protocol.WorldLabel{}, false
	}
	return w.labels[id], true
}

// AuditLog returns a copy of the append-only action history.
func (w *World) AuditLog() []protocol.WorldAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.WorldAction(nil), w.auditLog...)
}

// PendingProposals returns the pending proposals in creation-id order.
func (w *World) PendingProposals() []protocol.Proposal {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Proposal, 0, len(w.proposals))
	for _, p := range w.proposals {
		if p.Status == protocol.ProposalPending {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stores exposes the shared per-agent scratch state.
func (w *World) Stores() *AgentStores { return w.stores }

func (w *World) appendAuditLocked(a protocol.WorldAction) {
	w.auditLog = append(w.auditLog, a)
	if w.auditSink != nil {
		w.auditSink.RecordAction(a)
	}
}

func (w *World) recordRejectedLocked(a protocol.WorldAction) {
	// Rejections never enter the in-memory mutation history, but the durable
	// sink sees them for operator forensics.
	if w.auditSink != nil {
		w.auditSink.RecordAction(a)
	}
}
