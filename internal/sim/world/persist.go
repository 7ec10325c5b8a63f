package world

import (
	"time"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/chunk"
	"fioworld.ai/internal/sim/materials"
)

// ChunkState is the snapshot form of one chunk: raw palette indices, no wire
// validation on the way back in.
type ChunkState struct {
	Coord   protocol.ChunkCoord
	Palette []materials.ID
	Cells   []uint8
	Version uint64
}

// State is everything a world needs to survive a restart. Session membership
// is deliberately absent: connections do not survive the process.
type State struct {
	ID           string
	Name         string
	GroundRadius int
	ProposalMode bool
	Chunks       []ChunkState
	Labels       []protocol.WorldLabel
	Proposals    []protocol.Proposal
	Audit        []protocol.WorldAction
}

// ExportState captures the world under its lock.
func (w *World) ExportState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := State{
		ID:           w.cfg.ID,
		Name:         w.cfg.Name,
		GroundRadius: w.cfg.GroundRadius,
		ProposalMode: w.proposalMode,
		Audit:        append([]protocol.WorldAction(nil), w.auditLog...),
	}
	for _, c := range w.chunks {
		st.Chunks = append(st.Chunks, ChunkState{
			Coord:   c.Coord,
			Palette: append([]materials.ID(nil), c.Palette...),
			Cells:   c.Raw(),
			Version: c.Version,
		})
	}
	for _, l := range w.labels {
		st.Labels = append(st.Labels, l)
	}
	for _, p := range w.proposals {
		st.Proposals = append(st.Proposals, *p)
	}
	return st
}

// RestoreState replaces the world's chunks, labels, proposals and audit log
// with the snapshot's. The seeded ground chunks from New are discarded.
func (w *World) RestoreState(st State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.Name = st.Name
	w.proposalMode = st.ProposalMode
	w.chunks = map[protocol.ChunkCoord]*chunk.Chunk{}
	for _, cs := range st.Chunks {
		w.chunks[cs.Coord] = chunk.FromRaw(cs.Coord, cs.Palette, cs.Cells, cs.Version)
	}
	w.labels = map[string]protocol.WorldLabel{}
	w.labelsByPos = map[protocol.Vec3]string{}
	for _, l := range st.Labels {
		w.labels[l.ID] = l
		w.labelsByPos[l.Position] = l.ID
	}
	w.proposals = map[string]*protocol.Proposal{}
	for i := range st.Proposals {
		p := st.Proposals[i]
		w.proposals[p.ID] = &p
	}
	w.auditLog = append([]protocol.WorldAction(nil), st.Audit...)
}

// MemoState is the snapshot form of one memo.
type MemoState struct {
	Value     string
	ExpiresAt time.Time
}

// StoresState is the snapshot form of the shared agent scratch state.
type StoresState struct {
	Clipboards map[string]map[string][]ClipboardBlock
	Memos      map[string]map[string]MemoState
}

// Export captures the agent stores.
func (s *AgentStores) Export() StoresState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StoresState{
		Clipboards: map[string]map[string][]ClipboardBlock{},
		Memos:      map[string]map[string]MemoState{},
	}
	for agentID, slots := range s.clipboards {
		out := map[string][]ClipboardBlock{}
		for label, blocks := range slots {
			out[label] = append([]ClipboardBlock(nil), blocks...)
		}
		st.Clipboards[agentID] = out
	}
	for agentID, memos := range s.memos {
		out := map[string]MemoState{}
		for key, e := range memos {
			out[key] = MemoState{Value: e.Value, ExpiresAt: e.ExpiresAt}
		}
		st.Memos[agentID] = out
	}
	return st
}

// Import replaces the agent stores with the snapshot's.
func (s *AgentStores) Import(st StoresState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipboards = map[string]map[string][]ClipboardBlock{}
	for agentID, slots := range st.Clipboards {
		in := map[string][]ClipboardBlock{}
		for label, blocks := range slots {
			in[label] = append([]ClipboardBlock(nil), blocks...)
		}
		s.clipboards[agentID] = in
	}
	s.memos = map[string]map[string]memoEntry{}
	for agentID, memos := range st.Memos {
		in := map[string]memoEntry{}
		for key, m := range memos {
			in[key] = memoEntry{Value: m.Value, ExpiresAt: m.ExpiresAt}
		}
		s.memos[agentID] = in
	}
}
