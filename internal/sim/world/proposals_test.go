package world

import (
	"testing"
	"time"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
)

func proposalWorld(t *testing.T) *World {
	t.Helper()
	return New(Config{ID: "w1", Name: "Reviewed", GroundRadius: 1, ProposalMode: true}, NewAgentStores())
}

func TestProposalMode_DivertsAgentActions(t *testing.T) {
	w := proposalWorld(t)
	pos := protocol.Vec3{X: 1, Y: 20, Z: 1}

	res := dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Brick})
	if !res.Pending || res.Applied {
		t.Fatalf("agent action not diverted: pending=%v applied=%v", res.Pending, res.Applied)
	}
	if got := w.BlockAt(pos); got != materials.Air {
		t.Fatalf("pending action mutated the world")
	}
	if len(w.PendingProposals()) != 1 {
		t.Fatalf("pending proposals = %d, want 1", len(w.PendingProposals()))
	}
	found := false
	for _, ev := range res.Broadcast {
		if _, ok := ev.(protocol.ProposalCreated); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("no proposal_created broadcast")
	}

	log := w.AuditLog()
	if len(log) != 1 || log[0].Status != protocol.StatusPending {
		t.Fatalf("audit = %+v, want one pending entry", log)
	}
}

func TestProposalMode_UserActionsApplyDirectly(t *testing.T) {
	w := proposalWorld(t)
	pos := protocol.Vec3{X: 2, Y: 20, Z: 2}

	res := dispatch(t, w, userActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Stone})
	if !res.Applied || res.Pending {
		t.Fatalf("user action diverted in proposal mode")
	}
	if got := w.BlockAt(pos); got != materials.Stone {
		t.Fatalf("user action did not mutate")
	}
}

func TestResolveProposal_Approve(t *testing.T) {
	w := proposalWorld(t)
	pos := protocol.Vec3{X: 3, Y: 20, Z: 3}

	dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Glow})
	p := w.PendingProposals()[0]

	events, err := w.ResolveProposal(p.ID, true, "admin-1", time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := w.BlockAt(pos); got != materials.Glow {
		t.Fatalf("approved action not applied, block = %v", got)
	}

	var applied, resolved bool
	for _, ev := range events {
		switch m := ev.(type) {
		case protocol.ActionApplied:
			applied = true
		case protocol.ProposalResolved:
			resolved = true
			if m.Status != protocol.ProposalApproved || m.ReviewedBy != "admin-1" {
				t.Fatalf("resolved event = %+v", m)
			}
		}
	}
	if !applied || !resolved {
		t.Fatalf("events missing: applied=%v resolved=%v", applied, resolved)
	}

	log := w.AuditLog()
	if log[0].Status != protocol.StatusApplied {
		t.Fatalf("audit status = %s after approval", log[0].Status)
	}
	if len(w.PendingProposals()) != 0 {
		t.Fatalf("proposal still pending after approval")
	}
}

func TestResolveProposal_Reject(t *testing.T) {
	w := proposalWorld(t)
	pos := protocol.Vec3{X: 4, Y: 20, Z: 4}

	dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Metal})
	p := w.PendingProposals()[0]

	events, err := w.ResolveProposal(p.ID, false, "admin-1", time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := w.BlockAt(pos); got != materials.Air {
		t.Fatalf("rejected proposal mutated the world")
	}
	if len(events) != 1 {
		t.Fatalf("reject produced %d events, want only proposal_resolved", len(events))
	}
	if w.AuditLog()[0].Status != protocol.StatusRejected {
		t.Fatalf("audit status = %s after rejection", w.AuditLog()[0].Status)
	}
}

func TestResolveProposal_Errors(t *testing.T) {
	w := proposalWorld(t)

	if _, err := w.ResolveProposal("nope", true, "admin-1", time.Now()); err == nil {
		t.Fatalf("resolved a missing proposal")
	}

	dispatch(t, w, agentActor, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{Y: 20}, Material: materials.Stone})
	p := w.PendingProposals()[0]
	if _, err := w.ResolveProposal(p.ID, true, "admin-1", time.Now()); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := w.ResolveProposal(p.ID, false, "admin-2", time.Now()); err == nil {
		t.Fatalf("resolved the same proposal twice")
	}
}
