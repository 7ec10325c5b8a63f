package protocol

import "encoding/json"

// Client -> server message types.
const (
	TypeAuth         = "auth"
	TypeJoinWorld    = "join_world"
	TypeLeaveWorld   = "leave_world"
	TypeAction       = "action"
	TypeRequestChunk = "request_chunk"
	TypeCursorUpdate = "cursor_update"
	TypeChat         = "chat"
)

// Server -> client message types.
const (
	TypeAuthOK            = "auth_ok"
	TypeAuthError         = "auth_error"
	TypeWorldJoined       = "world_joined"
	TypeChunkData         = "chunk_data"
	TypeActionApplied     = "action_applied"
	TypeActionRejected    = "action_rejected"
	TypeProposalCreated   = "proposal_created"
	TypeProposalResolved  = "proposal_resolved"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeAgentConnected    = "agent_connected"
	TypeAgentDisconnected = "agent_disconnected"
	TypeError             = "error"
	TypeLabelSet          = "label_set"
	TypeLabelRemoved      = "label_removed"
	TypeMemoAck           = "memo_ack"
	TypeMemoData          = "memo_data"
	TypeCopyAck           = "copy_ack"
	TypePasteAck          = "paste_ack"
)

// BaseMessage lets us route incoming JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Vec3 is an integer block position. No fractional voxel coordinates.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// ChunkCoord addresses a 16^3 chunk on the chunk grid.
type ChunkCoord struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
	CZ int `json:"cz"`
}

// ChunkWire is the network form of a chunk: coord, palette, one palette index
// per cell, and the mutation version. The local dirty flag never travels.
type ChunkWire struct {
	Coord   ChunkCoord `json:"coord"`
	Palette []int      `json:"palette"`
	Data    []int      `json:"data"`
	Version uint64     `json:"version"`
}
