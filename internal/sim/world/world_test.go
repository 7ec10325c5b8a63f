package world

import (
	"testing"
	"time"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
)

func TestNew_SeedsGroundGrid(t *testing.T) {
	w := New(Config{ID: "w", GroundRadius: 2}, nil)
	// (2*2+1)^2 ground chunks at cy=0.
	if got := w.ChunkCount(); got != 25 {
		t.Fatalf("chunk count = %d, want 25", got)
	}
	if got := w.BlockAt(protocol.Vec3{X: 0, Y: 15, Z: 0}); got != materials.Grass {
		t.Fatalf("surface = %v, want Grass", got)
	}
	if got := w.BlockAt(protocol.Vec3{X: -30, Y: 15, Z: 30}); got != materials.Grass {
		t.Fatalf("surface in negative chunk = %v, want Grass", got)
	}
}

func TestRequestChunk_LazyGeneration(t *testing.T) {
	w := New(Config{ID: "w", GroundRadius: 1}, nil)
	before := w.ChunkCount()

	underground := w.RequestChunk(protocol.ChunkCoord{CX: 5, CY: -2, CZ: 5})
	if underground.Palette[1] != int(materials.Stone) {
		t.Fatalf("underground chunk palette = %v", underground.Palette)
	}
	sky := w.RequestChunk(protocol.ChunkCoord{CX: 5, CY: 3, CZ: 5})
	for _, v := range sky.Data {
		if v != 0 {
			t.Fatalf("sky chunk not empty")
		}
	}
	if w.ChunkCount() != before+2 {
		t.Fatalf("chunk count = %d, want %d", w.ChunkCount(), before+2)
	}

	// Requesting again returns the stored chunk, not a fresh one.
	w.RequestChunk(protocol.ChunkCoord{CX: 5, CY: 3, CZ: 5})
	if w.ChunkCount() != before+2 {
		t.Fatalf("repeat request allocated a chunk")
	}
}

func TestBlockAt_MissingChunkIsAir(t *testing.T) {
	w := New(Config{ID: "w", GroundRadius: 1}, nil)
	before := w.ChunkCount()
	if got := w.BlockAt(protocol.Vec3{X: 1000, Y: 1000, Z: 1000}); got != materials.Air {
		t.Fatalf("void read = %v, want Air", got)
	}
	if w.ChunkCount() != before {
		t.Fatalf("read allocated a chunk")
	}
}

func TestChunkVersion_TracksWrites(t *testing.T) {
	w := New(Config{ID: "w", GroundRadius: 1}, nil)
	coord := protocol.ChunkCoord{CX: 0, CY: 1, CZ: 0}
	if v := w.ChunkVersion(coord); v != 0 {
		t.Fatalf("missing chunk version = %d", v)
	}
	dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{Y: 20}, Material: materials.Stone})
	if v := w.ChunkVersion(coord); v != 1 {
		t.Fatalf("version = %d after one write", v)
	}
}

func TestExportRestore_RoundTrip(t *testing.T) {
	w := New(Config{ID: "w", Name: "Original", GroundRadius: 1}, NewAgentStores())
	pos := protocol.Vec3{X: 3, Y: 20, Z: 3}
	dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Brick})
	dispatch(t, w, agentActor, protocol.ActionSetLabel, protocol.SetLabel{
		Position: pos, Text: "marker",
	})

	st := w.ExportState()

	fresh := New(Config{ID: "w", Name: "Fresh", GroundRadius: 1}, NewAgentStores())
	fresh.RestoreState(st)

	if got := fresh.BlockAt(pos); got != materials.Brick {
		t.Fatalf("restored block = %v, want Brick", got)
	}
	l, ok := fresh.LabelAt(pos)
	if !ok || l.Text != "marker" {
		t.Fatalf("restored label = %+v, %v", l, ok)
	}
	if fresh.Name() != "Original" {
		t.Fatalf("restored name = %q", fresh.Name())
	}
	if len(fresh.AuditLog()) != len(w.AuditLog()) {
		t.Fatalf("audit log length differs after restore")
	}
}

func TestAgentStores_ExportImport(t *testing.T) {
	s := NewAgentStores()
	now := time.Now()
	s.SetClipboard("a1", "slot", []ClipboardBlock{{DX: 1, Material: materials.Glow}})
	s.SetMemo("a1", "k", "v", time.Hour, now)

	fresh := NewAgentStores()
	fresh.Import(s.Export())

	if got := fresh.Clipboard("a1", "slot"); len(got) != 1 || got[0].Material != materials.Glow {
		t.Fatalf("clipboard after import = %+v", got)
	}
	if v, ok := fresh.Memo("a1", "k", now); !ok || v != "v" {
		t.Fatalf("memo after import = %q, %v", v, ok)
	}
}

func TestSweepMemos(t *testing.T) {
	s := NewAgentStores()
	now := time.Now()
	s.SetMemo("a1", "short", "x", time.Minute, now)
	s.SetMemo("a1", "forever", "y", 0, now)

	if n := s.SweepMemos(now.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := s.Memo("a1", "forever", now.Add(time.Hour)); !ok {
		t.Fatalf("permanent memo swept")
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		DefaultWorldID: "main",
		GroundRadius:   1,
		Overrides: map[string]Config{
			"reviewed": {Name: "Reviewed", GroundRadius: 1, ProposalMode: true},
		},
	}, nil)

	def := r.GetOrCreate("")
	if def.ID() != "main" {
		t.Fatalf("empty id resolved to %q", def.ID())
	}
	if again := r.GetOrCreate("main"); again != def {
		t.Fatalf("GetOrCreate returned a different instance")
	}

	rev := r.GetOrCreate("reviewed")
	if !rev.ProposalMode() {
		t.Fatalf("override proposal mode not applied")
	}

	if _, ok := r.Get("never"); ok {
		t.Fatalf("Get created a world")
	}
	if got := len(r.WorldIDs()); got != 2 {
		t.Fatalf("world count = %d, want 2", got)
	}
}
