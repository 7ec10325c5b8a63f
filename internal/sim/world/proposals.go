package world

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fioworld.ai/internal/protocol"
)

// divertToProposalLocked wraps an agent action into a pending proposal
// instead of applying it. The action enters the audit log as pending and the
// whole world learns about the proposal; nothing is mutated.
func (w *World) divertToProposalLocked(actor Actor, res *Result, now time.Time) {
	res.Action.Status = protocol.StatusPending
	res.Pending = true
	w.appendAuditLocked(res.Action)

	p := protocol.Proposal{
		ID:          uuid.NewString(),
		WorldID:     w.cfg.ID,
		AgentID:     actor.ID,
		AgentName:   actor.Name,
		Actions:     []protocol.WorldAction{res.Action},
		Description: fmt.Sprintf("Agent %s proposed: %s", actor.Name, res.Action.Type),
		Status:      protocol.ProposalPending,
		CreatedAt:   now,
	}
	w.proposals[p.ID] = &p
	res.Broadcast = append(res.Broadcast, protocol.NewProposalCreated(p))
}

// ResolveProposal is the re-entry contract for the external review workflow:
// approval applies each held action through the same appliers as a direct
// dispatch, each producing its own action_applied broadcast. Returns the
// messages to fan out to the world.
func (w *World) ResolveProposal(proposalID string, approve bool, reviewer string, now time.Time) ([]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s not found", proposalID)
	}
	if p.Status != protocol.ProposalPending {
		return nil, fmt.Errorf("proposal %s already %s", proposalID, p.Status)
	}

	p.ReviewedBy = reviewer
	t := now
	p.ReviewedAt = &t

	var events []any
	if !approve {
		p.Status = protocol.ProposalRejected
		for i := range p.Actions {
			p.Actions[i].Status = protocol.StatusRejected
			w.setAuditStatusLocked(p.Actions[i].ID, protocol.StatusRejected)
		}
		events = append(events, protocol.NewProposalResolved(p.ID, p.Status, reviewer))
		return events, nil
	}

	p.Status = protocol.ProposalApproved
	for i := range p.Actions {
		action := p.Actions[i]
		payload, ok := action.Payload.(protocol.ActionPayload)
		if !ok {
			w.setAuditStatusLocked(action.ID, protocol.StatusRejected)
			p.Actions[i].Status = protocol.StatusRejected
			continue
		}
		action.Status = protocol.StatusApplied
		sub := Result{Action: action}
		actor := Actor{ID: p.AgentID, Name: p.AgentName, Type: protocol.ActorAgent}
		w.applyLocked(actor, payload, &sub, now)
		if sub.Applied {
			p.Actions[i].Status = protocol.StatusApplied
			w.setAuditStatusLocked(action.ID, protocol.StatusApplied)
			events = append(events, sub.Broadcast...)
		} else {
			p.Actions[i].Status = protocol.StatusRejected
			w.setAuditStatusLocked(action.ID, protocol.StatusRejected)
		}
	}
	events = append(events, protocol.NewProposalResolved(p.ID, p.Status, reviewer))
	return events, nil
}

func (w *World) setAuditStatusLocked(actionID, status string) {
	for i := len(w.auditLog) - 1; i >= 0; i-- {
		if w.auditLog[i].ID == actionID {
			w.auditLog[i].Status = status
			return
		}
	}
}
