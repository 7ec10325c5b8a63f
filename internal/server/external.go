package server

import (
	"fmt"

	"fioworld.ai/internal/identity"
	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/policy"
	"fioworld.ai/internal/sim/world"
)

// PatchResult is the per-action outcome of an external patch request.
type PatchResult struct {
	ActionID string `json:"actionId,omitempty"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// WorldStateSummary is the read-model served to external callers.
type WorldStateSummary struct {
	WorldID      string                 `json:"worldId"`
	Name         string                 `json:"name"`
	ChunkCount   int                    `json:"chunkCount"`
	EntityCount  int                    `json:"entityCount"`
	SessionCount int                    `json:"sessionCount"`
	ProposalMode bool                   `json:"proposalMode"`
	Labels       []protocol.WorldLabel  `json:"labels"`
	Proposals    []protocol.Proposal    `json:"pendingProposals"`
	Chunks       []protocol.ChunkCoord  `json:"loadedChunks"`
	Actions      []protocol.WorldAction `json:"recentActions"`
}

const recentActionTail = 50

// ApplyPatch runs a batch of actions for a key-authenticated caller, outside
// any websocket session. Mutation is agent-only here as on the websocket:
// non-agent identities are refused before any action runs, and review roles
// go through ResolveProposal instead. Each action then takes the same
// capability, rate limit and pipeline path as a live session's, and the
// resulting events fan out to everyone connected to the world.
func (h *Hub) ApplyPatch(id identity.Identity, worldID string, actions []protocol.ActionRequest) ([]PatchResult, error) {
	if worldID == "" {
		worldID = id.WorldID
	}
	if worldID == "" {
		worldID = h.registry.DefaultWorldID()
	}
	if id.Role != policy.RoleAgent {
		return nil, fmt.Errorf("identity %s is not an agent", id.ActorID)
	}
	if !policy.Allows(id.Role, policy.CapWrite) || !id.HasPermission(policy.CapWrite) {
		return nil, fmt.Errorf("identity %s cannot write", id.ActorID)
	}

	w := h.registry.GetOrCreate(worldID)
	actor := world.Actor{ID: id.ActorID, Name: id.Name, Type: protocol.ActorAgent}

	limit := h.limits.AgentPerMinute
	if id.Quotas.MaxBlocksPerMinute > 0 {
		limit = id.Quotas.MaxBlocksPerMinute
	}

	results := make([]PatchResult, 0, len(actions))
	for _, req := range actions {
		if !h.limiter.Check(protocol.ActorAgent+":"+id.ActorID, limit) {
			results = append(results, PatchResult{
				Type:   req.Type,
				Status: protocol.StatusRejected,
				Code:   protocol.ErrRateLimit,
				Reason: "action rate limit exceeded",
			})
			continue
		}
		res := w.Dispatch(actor, req, h.now())
		for _, ev := range res.Broadcast {
			h.broadcastToWorld(w.ID(), ev, "")
		}
		pr := PatchResult{ActionID: res.Action.ID, Type: req.Type, Status: res.Action.Status}
		for _, r := range res.Reply {
			if rej, ok := r.(protocol.ActionRejected); ok {
				pr.Code = rej.Code
				pr.Reason = rej.Reason
			}
		}
		results = append(results, pr)
	}
	return results, nil
}

// ResolveProposal applies or rejects a pending proposal on behalf of a
// reviewer and fans the outcome out to the world.
func (h *Hub) ResolveProposal(worldID, proposalID string, approve bool, reviewer string) error {
	w, ok := h.registry.Get(worldID)
	if !ok {
		return fmt.Errorf("world %s not found", worldID)
	}
	events, err := w.ResolveProposal(proposalID, approve, reviewer, h.now())
	if err != nil {
		return err
	}
	for _, ev := range events {
		h.broadcastToWorld(worldID, ev, "")
	}
	verdict := "rejected"
	if approve {
		verdict = "approved"
	}
	h.logger.Printf("[hub] proposal %s in world %s %s by %s", proposalID, worldID, verdict, reviewer)
	return nil
}

// WorldState builds the summary read-model for an existing world.
func (h *Hub) WorldState(worldID string) (WorldStateSummary, error) {
	w, ok := h.registry.Get(worldID)
	if !ok {
		return WorldStateSummary{}, fmt.Errorf("world %s not found", worldID)
	}
	audit := w.AuditLog()
	if len(audit) > recentActionTail {
		audit = audit[len(audit)-recentActionTail:]
	}
	return WorldStateSummary{
		WorldID:      w.ID(),
		Name:         w.Name(),
		ChunkCount:   w.ChunkCount(),
		EntityCount:  w.EntityCount(),
		SessionCount: len(w.SessionIDs()),
		ProposalMode: w.ProposalMode(),
		Labels:       w.Labels(),
		Proposals:    w.PendingProposals(),
		Chunks:       w.LoadedChunkCoords(),
		Actions:      audit,
	}, nil
}

// MemoValue reads an agent's memo by key. The second return distinguishes a
// missing or expired memo from an empty value.
func (h *Hub) MemoValue(agentID, key string) (string, bool) {
	return h.registry.Stores().Memo(agentID, key, h.now())
}

// Registry exposes the world registry to transports.
func (h *Hub) Registry() *world.Registry { return h.registry }
