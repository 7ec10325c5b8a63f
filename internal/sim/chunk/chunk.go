// Package chunk implements the palette-compressed 16^3 voxel chunk, the unit
// of storage and network transfer.
package chunk

import (
	"fmt"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
)

const (
	// Size is the chunk edge length in blocks.
	Size = 16
	// Volume is the number of cells per chunk.
	Volume = Size * Size * Size
)

// Chunk stores one palette index per cell. The palette is append-only for the
// lifetime of the chunk: repeated writes of the same material never grow it,
// and indices already written stay valid forever.
type Chunk struct {
	Coord   protocol.ChunkCoord
	Palette []materials.ID
	Version uint64

	data  []uint8
	dirty bool
}

// WorldToChunk maps a block position to its chunk coordinate. Floor division,
// so negative positions land in negative chunks (x=-1 -> cx=-1).
func WorldToChunk(p protocol.Vec3) protocol.ChunkCoord {
	return protocol.ChunkCoord{
		CX: floorDiv(p.X, Size),
		CY: floorDiv(p.Y, Size),
		CZ: floorDiv(p.Z, Size),
	}
}

// WorldToLocal maps a block position to its offset within the containing
// chunk; every axis is in [0, Size), including for negative positions.
func WorldToLocal(p protocol.Vec3) protocol.Vec3 {
	return protocol.Vec3{X: mod(p.X, Size), Y: mod(p.Y, Size), Z: mod(p.Z, Size)}
}

func floorDiv(a, n int) int {
	q := a / n
	if a%n != 0 && (a < 0) != (n < 0) {
		q--
	}
	return q
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

// LocalIndex flattens a local coordinate: x + y*S + z*S^2.
func LocalIndex(x, y, z int) int {
	return x + y*Size + z*Size*Size
}

// IndexToLocal is the inverse of LocalIndex.
func IndexToLocal(i int) protocol.Vec3 {
	return protocol.Vec3{X: i % Size, Y: (i / Size) % Size, Z: i / (Size * Size)}
}

// NewEmpty returns an all-air chunk. Palette index 0 is always AIR.
func NewEmpty(coord protocol.ChunkCoord) *Chunk {
	return &Chunk{
		Coord:   coord,
		Palette: []materials.ID{materials.Air},
		data:    make([]uint8, Volume),
	}
}

// NewGround returns the deterministic seed chunk for a coordinate: at cy == 0
// a flat terrain (grass on top, three dirt layers, stone below), below ground
// solid stone, above ground all air. No randomness.
func NewGround(coord protocol.ChunkCoord) *Chunk {
	c := &Chunk{
		Coord:   coord,
		Palette: []materials.ID{materials.Air, materials.Stone, materials.Dirt, materials.Grass},
		data:    make([]uint8, Volume),
	}
	switch {
	case coord.CY == 0:
		for z := 0; z < Size; z++ {
			for y := 0; y < Size; y++ {
				for x := 0; x < Size; x++ {
					i := LocalIndex(x, y, z)
					switch {
					case y == Size-1:
						c.data[i] = 3 // grass
					case y >= Size-4:
						c.data[i] = 2 // dirt
					default:
						c.data[i] = 1 // stone
					}
				}
			}
		}
	case coord.CY < 0:
		for i := range c.data {
			c.data[i] = 1 // stone
		}
	}
	return c
}

// Get resolves the material at a local coordinate through the palette.
func (c *Chunk) Get(x, y, z int) materials.ID {
	idx := c.data[LocalIndex(x, y, z)]
	if int(idx) >= len(c.Palette) {
		return materials.Air
	}
	return c.Palette[idx]
}

// Set writes a material at a local coordinate, growing the palette if the
// material is new to this chunk, and bumps the version exactly once.
// Linear palette search: palettes stay small (bounded by the material count).
func (c *Chunk) Set(x, y, z int, m materials.ID) {
	idx := -1
	for i, pm := range c.Palette {
		if pm == m {
			idx = i
			break
		}
	}
	if idx == -1 {
		idx = len(c.Palette)
		c.Palette = append(c.Palette, m)
	}
	c.data[LocalIndex(x, y, z)] = uint8(idx)
	c.Version++
	c.dirty = true
}

// Dirty reports whether the chunk changed since ClearDirty. Local hint only,
// never serialized.
func (c *Chunk) Dirty() bool { return c.dirty }
func (c *Chunk) ClearDirty() { c.dirty = false }

// Wire converts the chunk to its network form.
func (c *Chunk) Wire() protocol.ChunkWire {
	palette := make([]int, len(c.Palette))
	for i, m := range c.Palette {
		palette[i] = int(m)
	}
	data := make([]int, Volume)
	for i, v := range c.data {
		data[i] = int(v)
	}
	return protocol.ChunkWire{Coord: c.Coord, Palette: palette, Data: data, Version: c.Version}
}

// FromWire rebuilds a chunk from its network form.
func FromWire(w protocol.ChunkWire) (*Chunk, error) {
	if len(w.Data) != Volume {
		return nil, fmt.Errorf("chunk data length %d, want %d", len(w.Data), Volume)
	}
	if len(w.Palette) == 0 || w.Palette[0] != int(materials.Air) {
		return nil, fmt.Errorf("chunk palette must start with AIR")
	}
	c := &Chunk{
		Coord:   w.Coord,
		Palette: make([]materials.ID, len(w.Palette)),
		Version: w.Version,
		data:    make([]uint8, Volume),
	}
	for i, m := range w.Palette {
		if m < 0 || m > 255 {
			return nil, fmt.Errorf("palette entry %d out of range", m)
		}
		c.Palette[i] = materials.ID(m)
	}
	for i, v := range w.Data {
		if v < 0 || v >= len(w.Palette) {
			return nil, fmt.Errorf("cell %d: palette index %d out of range", i, v)
		}
		c.data[i] = uint8(v)
	}
	return c, nil
}

// Raw exposes the palette-index array for snapshot encoding.
func (c *Chunk) Raw() []uint8 {
	out := make([]uint8, Volume)
	copy(out, c.data)
	return out
}

// FromRaw rebuilds a chunk from snapshot parts without revalidating the wire
// constraints (snapshots are written by us).
func FromRaw(coord protocol.ChunkCoord, palette []materials.ID, data []uint8, version uint64) *Chunk {
	c := &Chunk{
		Coord:   coord,
		Palette: append([]materials.ID(nil), palette...),
		Version: version,
		data:    make([]uint8, Volume),
	}
	copy(c.data, data)
	return c
}
