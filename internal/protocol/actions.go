package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"fioworld.ai/internal/sim/materials"
)

// Action kinds (payload discriminants).
const (
	ActionPlaceBlock  = "place_block"
	ActionRemoveBlock = "remove_block"
	ActionPaintBlock  = "paint_block"
	ActionFillRegion  = "fill_region"
	ActionBatchPlace  = "batch_place"
	ActionCopyRegion  = "copy_region"
	ActionPasteRegion = "paste_region"
	ActionSetLabel    = "set_label"
	ActionRemoveLabel = "remove_label"
	ActionAgentMemo   = "agent_memo"
)

// Reserved kinds: part of the enumeration but not implemented by the core.
var reservedKinds = map[string]struct{}{
	"spawn_entity":           {},
	"delete_entity":          {},
	"update_entity":          {},
	"attach_script":          {},
	"set_region_permissions": {},
	"terrain_edit":           {},
}

func IsReservedKind(kind string) bool {
	_, ok := reservedKinds[kind]
	return ok
}

// ActionPayload is the closed set of mutation payloads. The pipeline
// dispatches on the concrete type, not on the kind string.
type ActionPayload interface {
	Kind() string
}

type PlaceBlock struct {
	Position Vec3         `json:"position"`
	Material materials.ID `json:"material"`
}

type RemoveBlock struct {
	Position Vec3 `json:"position"`
}

type PaintBlock struct {
	Position Vec3         `json:"position"`
	Material materials.ID `json:"material"`
}

type FillRegion struct {
	Min      Vec3         `json:"min"`
	Max      Vec3         `json:"max"`
	Material materials.ID `json:"material"`
}

type BlockPlacement struct {
	Position Vec3         `json:"position"`
	Material materials.ID `json:"material"`
}

type BatchPlace struct {
	Blocks []BlockPlacement `json:"blocks"`
}

type CopyRegion struct {
	Min   Vec3   `json:"min"`
	Max   Vec3   `json:"max"`
	Label string `json:"label,omitempty"`
}

type PasteRegion struct {
	Origin   Vec3   `json:"origin"`
	Label    string `json:"label,omitempty"`
	FlipX    bool   `json:"flipX,omitempty"`
	FlipZ    bool   `json:"flipZ,omitempty"`
	Rotate90 int    `json:"rotate90,omitempty"`
}

type SetLabel struct {
	Position Vec3   `json:"position"`
	Text     string `json:"text"`
	Color    string `json:"color,omitempty"`
}

type RemoveLabel struct {
	Position Vec3 `json:"position"`
}

type AgentMemo struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTL   int    `json:"ttl,omitempty"` // seconds until expiry; 0 means forever
}

func (PlaceBlock) Kind() string  { return ActionPlaceBlock }
func (RemoveBlock) Kind() string { return ActionRemoveBlock }
func (PaintBlock) Kind() string  { return ActionPaintBlock }
func (FillRegion) Kind() string  { return ActionFillRegion }
func (BatchPlace) Kind() string  { return ActionBatchPlace }
func (CopyRegion) Kind() string  { return ActionCopyRegion }
func (PasteRegion) Kind() string { return ActionPasteRegion }
func (SetLabel) Kind() string    { return ActionSetLabel }
func (RemoveLabel) Kind() string { return ActionRemoveLabel }
func (AgentMemo) Kind() string   { return ActionAgentMemo }

// ActionRequest is the raw client-side form: a kind plus an undecoded payload.
type ActionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodePayload resolves an ActionRequest into its typed payload. Reserved
// kinds and unknown kinds both fail; callers distinguish them via
// IsReservedKind.
func DecodePayload(kind string, raw json.RawMessage) (ActionPayload, error) {
	decode := func(v ActionPayload) (ActionPayload, error) {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%s: missing payload", kind)
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return v, nil
	}
	switch kind {
	case ActionPlaceBlock:
		return decode(&PlaceBlock{})
	case ActionRemoveBlock:
		return decode(&RemoveBlock{})
	case ActionPaintBlock:
		return decode(&PaintBlock{})
	case ActionFillRegion:
		return decode(&FillRegion{})
	case ActionBatchPlace:
		return decode(&BatchPlace{})
	case ActionCopyRegion:
		return decode(&CopyRegion{})
	case ActionPasteRegion:
		return decode(&PasteRegion{})
	case ActionSetLabel:
		return decode(&SetLabel{})
	case ActionRemoveLabel:
		return decode(&RemoveLabel{})
	case ActionAgentMemo:
		return decode(&AgentMemo{})
	}
	return nil, fmt.Errorf("unknown action type %q", kind)
}

// Actor types.
const (
	ActorUser  = "user"
	ActorAgent = "agent"
)

// Action statuses.
const (
	StatusApplied    = "applied"
	StatusPending    = "pending"
	StatusRejected   = "rejected"
	StatusRolledBack = "rolled_back"
)

// PreviousBlock is the rollback record captured for single-block mutations.
// Bulk operations do not capture previous state.
type PreviousBlock struct {
	Block materials.ID `json:"block"`
}

// WorldAction is the atomic unit of mutation as recorded in the audit log and
// broadcast to observers.
type WorldAction struct {
	ID            string         `json:"id"`
	WorldID       string         `json:"worldId"`
	ActorID       string         `json:"actorId"`
	ActorType     string         `json:"actorType"`
	Type          string         `json:"type"`
	Payload       any            `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        string         `json:"status"`
	PreviousState *PreviousBlock `json:"previousState,omitempty"`
}

// WorldLabel is a floating text marker visible to every observer.
type WorldLabel struct {
	ID        string    `json:"id"`
	Position  Vec3      `json:"position"`
	Text      string    `json:"text"`
	Color     string    `json:"color"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Proposal statuses.
const (
	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
)

// Proposal wraps agent actions held for human review while a world is in
// proposal mode.
type Proposal struct {
	ID          string        `json:"id"`
	WorldID     string        `json:"worldId"`
	AgentID     string        `json:"agentId"`
	AgentName   string        `json:"agentName,omitempty"`
	Actions     []WorldAction `json:"actions"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ReviewedBy  string        `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time    `json:"reviewedAt,omitempty"`
}
