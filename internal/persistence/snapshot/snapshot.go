// Package snapshot writes and reads durable world state: a JSON header line
// followed by a gob body, the whole stream zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
	"fioworld.ai/internal/sim/world"
)

func init() {
	// WorldAction.Payload travels as an interface; gob needs every concrete
	// payload type registered up front.
	gob.Register(&protocol.PlaceBlock{})
	gob.Register(&protocol.RemoveBlock{})
	gob.Register(&protocol.PaintBlock{})
	gob.Register(&protocol.FillRegion{})
	gob.Register(&protocol.BatchPlace{})
	gob.Register(&protocol.CopyRegion{})
	gob.Register(&protocol.PasteRegion{})
	gob.Register(&protocol.SetLabel{})
	gob.Register(&protocol.RemoveLabel{})
	gob.Register(&protocol.AgentMemo{})
}

type Header struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Worlds  int       `json:"worlds"`
}

// SnapshotV1 captures every live world plus the shared agent stores in one
// file. Small deployments, one file; sharding per world can come later if a
// deployment ever needs it.
type SnapshotV1 struct {
	Header Header

	Worlds []WorldV1
	Stores world.StoresState
}

type WorldV1 struct {
	ID           string
	Name         string
	GroundRadius int
	ProposalMode bool

	Chunks    []ChunkV1
	Labels    []protocol.WorldLabel
	Proposals []protocol.Proposal
	Audit     []protocol.WorldAction
}

type ChunkV1 struct {
	CX      int
	CY      int
	CZ      int
	Palette []uint8
	Cells   []uint8
	Version uint64
}

// Capture builds a snapshot of every world in the registry.
func Capture(reg *world.Registry, now time.Time) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{Version: 1, SavedAt: now},
		Stores: reg.Stores().Export(),
	}
	for _, id := range reg.WorldIDs() {
		w, ok := reg.Get(id)
		if !ok {
			continue
		}
		snap.Worlds = append(snap.Worlds, fromState(w.ExportState()))
	}
	snap.Header.Worlds = len(snap.Worlds)
	return snap
}

// Restore rebuilds every world in the snapshot, replacing any seeded state.
func Restore(reg *world.Registry, snap SnapshotV1) {
	for _, wv := range snap.Worlds {
		w := reg.GetOrCreate(wv.ID)
		w.RestoreState(toState(wv))
	}
	reg.Stores().Import(snap.Stores)
}

func fromState(st world.State) WorldV1 {
	wv := WorldV1{
		ID:           st.ID,
		Name:         st.Name,
		GroundRadius: st.GroundRadius,
		ProposalMode: st.ProposalMode,
		Labels:       st.Labels,
		Proposals:    st.Proposals,
		Audit:        st.Audit,
	}
	for _, cs := range st.Chunks {
		palette := make([]uint8, len(cs.Palette))
		for i, m := range cs.Palette {
			palette[i] = uint8(m)
		}
		wv.Chunks = append(wv.Chunks, ChunkV1{
			CX: cs.Coord.CX, CY: cs.Coord.CY, CZ: cs.Coord.CZ,
			Palette: palette,
			Cells:   cs.Cells,
			Version: cs.Version,
		})
	}
	return wv
}

func toState(wv WorldV1) world.State {
	st := world.State{
		ID:           wv.ID,
		Name:         wv.Name,
		GroundRadius: wv.GroundRadius,
		ProposalMode: wv.ProposalMode,
		Labels:       wv.Labels,
		Proposals:    wv.Proposals,
		Audit:        wv.Audit,
	}
	for _, cv := range wv.Chunks {
		palette := make([]materials.ID, len(cv.Palette))
		for i, m := range cv.Palette {
			palette[i] = materials.ID(m)
		}
		st.Chunks = append(st.Chunks, world.ChunkState{
			Coord:   protocol.ChunkCoord{CX: cv.CX, CY: cv.CY, CZ: cv.CZ},
			Palette: palette,
			Cells:   cv.Cells,
			Version: cv.Version,
		})
	}
	return st
}

func Write(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is advisory; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
