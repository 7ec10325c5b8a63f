package world

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
)

// Hard caps on bulk operations. Oversized requests are rejected before any
// mutation; a rejected action never partially mutates world state.
const (
	MaxFillVolume   = 32768 // 32^3 cells
	MaxBatchBlocks  = 2048
	MaxLabelTextLen = 120
	DefaultClipSlot = "default"
)

// Actor identifies the authenticated originator of an action. Authorization
// (actor type, role capability, rate limit) happens before Dispatch; the
// pipeline here validates and applies.
type Actor struct {
	ID   string
	Name string
	Type string // protocol.ActorUser or protocol.ActorAgent
}

// Result is the outcome of one dispatched action: the audit record, the
// messages to fan out to every session in the world, and the messages that go
// back to the originator only.
type Result struct {
	Action    protocol.WorldAction
	Broadcast []any
	Reply     []any
	Applied   bool
	Pending   bool
}

func (r *Result) reject(code, reason string) {
	r.Action.Status = protocol.StatusRejected
	r.Reply = append(r.Reply, protocol.NewActionRejected(r.Action.ID, code, reason))
}

// Dispatch validates and applies a single action to this world, holding the
// world lock for the full duration. In proposal mode, agent actions are
// wrapped into a pending proposal and not applied.
func (w *World) Dispatch(actor Actor, req protocol.ActionRequest, now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := Result{Action: protocol.WorldAction{
		ID:        uuid.NewString(),
		WorldID:   w.cfg.ID,
		ActorID:   actor.ID,
		ActorType: actor.Type,
		Type:      req.Type,
		Timestamp: now,
		Status:    protocol.StatusApplied,
	}}

	payload, err := protocol.DecodePayload(req.Type, req.Payload)
	if err != nil {
		code := protocol.ErrProtoBadRequest
		reason := err.Error()
		if protocol.IsReservedKind(req.Type) {
			code = protocol.ErrBadRequest
			reason = fmt.Sprintf("action type %q is reserved and not implemented", req.Type)
		}
		res.reject(code, reason)
		w.recordRejectedLocked(res.Action)
		return res
	}
	res.Action.Payload = payload

	if w.proposalMode && actor.Type == protocol.ActorAgent {
		w.divertToProposalLocked(actor, &res, now)
		return res
	}

	w.applyLocked(actor, payload, &res, now)
	if res.Applied {
		w.appendAuditLocked(res.Action)
	} else {
		w.recordRejectedLocked(res.Action)
	}
	return res
}

// applyLocked dispatches on the concrete payload type. Adding an action kind
// without an arm here is a compile-time hole the default arm turns into an
// explicit internal error rather than a silent drop.
func (w *World) applyLocked(actor Actor, payload protocol.ActionPayload, res *Result, now time.Time) {
	switch p := payload.(type) {
	case *protocol.PlaceBlock:
		w.applyPlaceBlock(p, res)
	case *protocol.RemoveBlock:
		w.applyRemoveBlock(p, res)
	case *protocol.PaintBlock:
		w.applyPaintBlock(p, res)
	case *protocol.FillRegion:
		w.applyFillRegion(p, res)
	case *protocol.BatchPlace:
		w.applyBatchPlace(p, res)
	case *protocol.CopyRegion:
		w.applyCopyRegion(actor, p, res)
	case *protocol.PasteRegion:
		w.applyPasteRegion(actor, p, res)
	case *protocol.SetLabel:
		w.applySetLabel(actor, p, res, now)
	case *protocol.RemoveLabel:
		w.applyRemoveLabel(p, res)
	case *protocol.AgentMemo:
		w.applyAgentMemo(actor, p, res, now)
	default:
		res.reject(protocol.ErrInternal, fmt.Sprintf("no applier for %T", payload))
	}
}

func (w *World) applyPlaceBlock(p *protocol.PlaceBlock, res *Result) {
	if !materials.Valid(p.Material) {
		res.reject(protocol.ErrBadRequest, "unknown material")
		return
	}
	prev := w.blockAtLocked(p.Position)
	res.Action.PreviousState = &protocol.PreviousBlock{Block: prev}
	w.setBlockLocked(p.Position, p.Material)
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
}

func (w *World) applyRemoveBlock(p *protocol.RemoveBlock, res *Result) {
	// Always succeeds: overwriting AIR with AIR is idempotent, and removing
	// from an unallocated chunk is a no-op that still records AIR as prior.
	prev := w.blockAtLocked(p.Position)
	res.Action.PreviousState = &protocol.PreviousBlock{Block: prev}
	if prev != materials.Air {
		w.setBlockLocked(p.Position, materials.Air)
	}
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
}

func (w *World) applyPaintBlock(p *protocol.PaintBlock, res *Result) {
	if !materials.Valid(p.Material) {
		res.reject(protocol.ErrBadRequest, "unknown material")
		return
	}
	prev := w.blockAtLocked(p.Position)
	if prev == materials.Air {
		// Painting implies an existing solid block.
		res.reject(protocol.ErrNothingToPaint, "cannot paint air")
		return
	}
	res.Action.PreviousState = &protocol.PreviousBlock{Block: prev}
	w.setBlockLocked(p.Position, p.Material)
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
}

// normalizeBox orders min/max per axis; callers may send the corners in any
// order.
func normalizeBox(a, b protocol.Vec3) (protocol.Vec3, protocol.Vec3) {
	min := protocol.Vec3{X: minInt(a.X, b.X), Y: minInt(a.Y, b.Y), Z: minInt(a.Z, b.Z)}
	max := protocol.Vec3{X: maxInt(a.X, b.X), Y: maxInt(a.Y, b.Y), Z: maxInt(a.Z, b.Z)}
	return min, max
}

func boxVolume(min, max protocol.Vec3) int {
	dx, dy, dz := max.X-min.X+1, max.Y-min.Y+1, max.Z-min.Z+1
	// Guard each axis before multiplying so absurd extents cannot overflow.
	if dx > MaxFillVolume || dy > MaxFillVolume || dz > MaxFillVolume {
		return MaxFillVolume + 1
	}
	v := dx * dy * dz
	if v > MaxFillVolume {
		return MaxFillVolume + 1
	}
	return v
}

func (w *World) applyFillRegion(p *protocol.FillRegion, res *Result) {
	if !materials.Valid(p.Material) {
		res.reject(protocol.ErrBadRequest, "unknown material")
		return
	}
	min, max := normalizeBox(p.Min, p.Max)
	if boxVolume(min, max) > MaxFillVolume {
		res.reject(protocol.ErrRegionTooLarge, fmt.Sprintf("region exceeds %d blocks", MaxFillVolume))
		return
	}
	// Dense overwrite: every cell in the box, air-to-solid and solid-to-solid
	// alike. One version bump per cell write.
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				w.setBlockLocked(protocol.Vec3{X: x, Y: y, Z: z}, p.Material)
			}
		}
	}
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
}

func (w *World) applyBatchPlace(p *protocol.BatchPlace, res *Result) {
	if len(p.Blocks) > MaxBatchBlocks {
		res.reject(protocol.ErrBatchTooLarge, fmt.Sprintf("batch exceeds %d blocks", MaxBatchBlocks))
		return
	}
	// Best-effort bulk write in array order: no per-entry validation beyond
	// the material table, no rollback.
	for _, b := range p.Blocks {
		if !materials.Valid(b.Material) {
			continue
		}
		w.setBlockLocked(b.Position, b.Material)
	}
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
}

func (w *World) applyCopyRegion(actor Actor, p *protocol.CopyRegion, res *Result) {
	min, max := normalizeBox(p.Min, p.Max)
	label := p.Label
	if label == "" {
		label = DefaultClipSlot
	}
	var blocks []ClipboardBlock
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				m := w.blockAtLocked(protocol.Vec3{X: x, Y: y, Z: z})
				if m == materials.Air {
					continue
				}
				blocks = append(blocks, ClipboardBlock{
					DX: x - min.X, DY: y - min.Y, DZ: z - min.Z, Material: m,
				})
			}
		}
	}
	w.stores.SetClipboard(actor.ID, label, blocks)
	res.Applied = true
	// Count-only ack to the copying agent; clipboard contents stay private.
	res.Reply = append(res.Reply, protocol.NewCopyAck(actor.ID, label, len(blocks)))
}

func (w *World) applyPasteRegion(actor Actor, p *protocol.PasteRegion, res *Result) {
	label := p.Label
	if label == "" {
		label = DefaultClipSlot
	}
	blocks := w.stores.Clipboard(actor.ID, label)
	if len(blocks) == 0 {
		res.reject(protocol.ErrClipboardEmpty, fmt.Sprintf("clipboard slot %q is empty", label))
		return
	}

	maxDx, maxDz := 0, 0
	for _, b := range blocks {
		if b.DX > maxDx {
			maxDx = b.DX
		}
		if b.DZ > maxDz {
			maxDz = b.DZ
		}
	}

	rot := ((p.Rotate90 % 4) + 4) % 4
	for _, b := range blocks {
		dx, dz := b.DX, b.DZ
		if p.FlipX {
			dx = maxDx - dx
		}
		if p.FlipZ {
			dz = maxDz - dz
		}
		// Clockwise quarter turns around Y. The pivot deliberately uses the
		// original maxDx on every step, matching the reference behavior the
		// paste fixture locks in.
		for i := 0; i < rot; i++ {
			dx, dz = dz, maxDx-dx
		}
		w.setBlockLocked(p.Origin.Add(protocol.Vec3{X: dx, Y: b.DY, Z: dz}), b.Material)
	}
	res.Applied = true
	res.Broadcast = append(res.Broadcast, protocol.NewActionApplied(res.Action))
	res.Reply = append(res.Reply, protocol.NewPasteAck(actor.ID, len(blocks)))
}

func (w *World) applySetLabel(actor Actor, p *protocol.SetLabel, res *Result, now time.Time) {
	text := truncateRunes(p.Text, MaxLabelTextLen)
	if text == "" {
		res.reject(protocol.ErrBadRequest, "label text must not be empty")
		return
	}
	color := p.Color
	if color == "" {
		color = "#ffffff"
	}
	// At most one label per exact position: a new label evicts the old one
	// silently (no label_removed broadcast for the eviction).
	if oldID, ok := w.labelsByPos[p.Position]; ok {
		delete(w.labels, oldID)
	}
	label := protocol.WorldLabel{
		ID:        uuid.NewString(),
		Position:  p.Position,
		Text:      text,
		Color:     color,
		AgentID:   actor.ID,
		AgentName: actor.Name,
		CreatedAt: now,
	}
	w.labels[label.ID] = label
	w.labelsByPos[p.Position] = label.ID
	res.Applied = true
	res.Broadcast = append(res.Broadcast,
		protocol.NewActionApplied(res.Action),
		protocol.NewLabelSet(label))
}

func (w *World) applyRemoveLabel(p *protocol.RemoveLabel, res *Result) {
	id, ok := w.labelsByPos[p.Position]
	if !ok {
		res.reject(protocol.ErrLabelNotFound, "no label at position")
		return
	}
	delete(w.labels, id)
	delete(w.labelsByPos, p.Position)
	res.Applied = true
	res.Broadcast = append(res.Broadcast,
		protocol.NewActionApplied(res.Action),
		protocol.NewLabelRemoved(id))
}

func (w *World) applyAgentMemo(actor Actor, p *protocol.AgentMemo, res *Result, now time.Time) {
	key := truncateRunes(p.Key, MaxMemoKeyLen)
	if key == "" {
		res.reject(protocol.ErrBadRequest, "memo key must not be empty")
		return
	}
	value := truncateRunes(p.Value, MaxMemoValueLen)
	var ttl time.Duration
	if p.TTL > 0 {
		ttl = time.Duration(p.TTL) * time.Second
	}
	w.stores.SetMemo(actor.ID, key, value, ttl, now)
	res.Applied = true
	// Memos are private scratch state: ack to the writer only, no broadcast.
	res.Reply = append(res.Reply, protocol.NewMemoAck(actor.ID, key))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
