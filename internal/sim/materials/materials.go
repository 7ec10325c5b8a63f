// Package materials holds the fixed block material table shared by the world
// store and the wire protocol.
package materials

// ID is a block material identifier. The table is fixed at 13 entries;
// palette indices inside a chunk are resolved to these ids.
type ID uint8

const (
	Air ID = iota
	Stone
	Dirt
	Grass
	Sand
	Water
	Wood
	Leaves
	Glass
	Brick
	Metal
	Concrete
	Glow
)

// Count is the number of defined materials.
const Count = 13

var names = [Count]string{
	"Air", "Stone", "Dirt", "Grass", "Sand", "Water", "Wood",
	"Leaves", "Glass", "Brick", "Metal", "Concrete", "Glow",
}

// Colors are the display colors consumed by observers; the server never
// interprets them.
var colors = [Count]string{
	"#00000000", "#8a8a8a", "#6b4423", "#4a8c3f", "#d4c07a", "#3a7ec8",
	"#8b6914", "#2d6b1e", "#c8e6f0", "#a0522d", "#b0b0b0", "#c0c0c0", "#ffe066",
}

func Valid(id ID) bool { return int(id) < Count }

func Name(id ID) string {
	if !Valid(id) {
		return "Unknown"
	}
	return names[id]
}

func Color(id ID) string {
	if !Valid(id) {
		return "#00000000"
	}
	return colors[id]
}
