package server

import (
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"fioworld.ai/internal/identity"
	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
	"fioworld.ai/internal/sim/policy"
	"fioworld.ai/internal/sim/ratelimit"
	"fioworld.ai/internal/sim/world"
)

const (
	testAgentKey   = "agent-key-1"
	testAdminKey   = "admin-key-1"
	testBuilderKey = "builder-key-1"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	ids := identity.NewStaticStore()
	ids.Add(testAgentKey, identity.Identity{
		ActorID: "agent-1", Name: "Builder", WorldID: "main",
		Role: policy.RoleAgent, Permissions: []string{policy.CapRead, policy.CapWrite},
	})
	ids.Add(testAdminKey, identity.Identity{
		ActorID: "admin-1", Name: "Admin", WorldID: "main",
		Role: policy.RoleAdmin, Permissions: []string{policy.CapRead, policy.CapWrite},
	})
	ids.Add(testBuilderKey, identity.Identity{
		ActorID: "builder-1", Name: "Mason", WorldID: "main",
		Role: policy.RoleBuilder, Permissions: []string{policy.CapRead, policy.CapWrite},
	})
	reg := world.NewRegistry(world.RegistryConfig{DefaultWorldID: "main", GroundRadius: 1}, nil)
	logger := log.New(os.Stderr, "[test] ", 0)
	return NewHub(reg, ratelimit.New(), ids, Limits{AgentPerMinute: 120, UserPerMinute: 60}, logger)
}

func send(t *testing.T, h *Hub, s *Session, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h.HandleMessage(s, b)
}

// drain empties the session's outbound queue, returning each frame's decoded
// type tag alongside the raw bytes.
func drain(s *Session) (types []string, frames [][]byte) {
	for {
		select {
		case b := <-s.Out:
			base, _ := protocol.DecodeBase(b)
			types = append(types, base.Type)
			frames = append(frames, b)
		default:
			return types, frames
		}
	}
}

func authAndJoin(t *testing.T, h *Hub, token, worldID string) *Session {
	t.Helper()
	s := h.Register()
	send(t, h, s, protocol.AuthMsg{Type: protocol.TypeAuth, Token: token})
	send(t, h, s, protocol.JoinWorldMsg{Type: protocol.TypeJoinWorld, WorldID: worldID})
	drain(s)
	return s
}

func actionMsg(t *testing.T, kind string, payload any) protocol.ActionMsg {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return protocol.ActionMsg{
		Type:   protocol.TypeAction,
		Action: protocol.ActionRequest{Type: kind, Payload: raw},
	}
}

func lastError(t *testing.T, s *Session) protocol.ErrorMsg {
	t.Helper()
	types, frames := drain(s)
	for i := len(types) - 1; i >= 0; i-- {
		if types[i] == protocol.TypeError {
			var e protocol.ErrorMsg
			if err := json.Unmarshal(frames[i], &e); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			return e
		}
	}
	t.Fatalf("no error frame in %v", types)
	return protocol.ErrorMsg{}
}

func TestHub_AuthRequiredFirst(t *testing.T) {
	h := testHub(t)
	s := h.Register()
	send(t, h, s, protocol.JoinWorldMsg{Type: protocol.TypeJoinWorld})
	if e := lastError(t, s); e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code = %s, want %s", e.Code, protocol.ErrProtoBadRequest)
	}
}

func TestHub_UnknownTokenBecomesObserver(t *testing.T) {
	h := testHub(t)
	s := h.Register()
	send(t, h, s, protocol.AuthMsg{Type: protocol.TypeAuth, Token: "garbage"})
	types, frames := drain(s)
	if len(types) != 1 || types[0] != protocol.TypeAuthOK {
		t.Fatalf("frames = %v, want auth_ok", types)
	}
	var ok protocol.AuthOK
	_ = json.Unmarshal(frames[0], &ok)
	if ok.Role != policy.RoleViewer {
		t.Fatalf("observer role = %s, want viewer", ok.Role)
	}
}

func TestHub_JoinStreamsWorld(t *testing.T) {
	h := testHub(t)
	s := h.Register()
	send(t, h, s, protocol.AuthMsg{Type: protocol.TypeAuth, Token: testAgentKey})
	drain(s)
	send(t, h, s, protocol.JoinWorldMsg{Type: protocol.TypeJoinWorld, WorldID: "main"})

	types, frames := drain(s)
	if types[0] != protocol.TypeWorldJoined {
		t.Fatalf("first frame = %s, want world_joined", types[0])
	}
	// Membership lists carry actor ids, not display names.
	var joined protocol.WorldJoined
	_ = json.Unmarshal(frames[0], &joined)
	if joined.WorldID != "main" || len(joined.Agents) != 1 || joined.Agents[0] != "agent-1" {
		t.Fatalf("world_joined = %+v", joined)
	}

	w, _ := h.Registry().Get("main")
	chunks := 0
	for _, ty := range types[1:] {
		if ty == protocol.TypeChunkData {
			chunks++
		}
	}
	if chunks != w.ChunkCount() {
		t.Fatalf("streamed %d chunks, world has %d", chunks, w.ChunkCount())
	}
}

func TestHub_PreconditionOrder(t *testing.T) {
	h := testHub(t)
	place := actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{Y: 20}, Material: materials.Stone})

	// Not in a world yet.
	agent := h.Register()
	send(t, h, agent, protocol.AuthMsg{Type: protocol.TypeAuth, Token: testAgentKey})
	drain(agent)
	send(t, h, agent, place)
	if e := lastError(t, agent); e.Code != protocol.ErrNotInWorld {
		t.Fatalf("code = %s, want %s", e.Code, protocol.ErrNotInWorld)
	}

	// Observers cannot mutate even after joining.
	obs := authAndJoin(t, h, "nobody", "main")
	send(t, h, obs, place)
	if e := lastError(t, obs); e.Code != protocol.ErrObserverNoWrite {
		t.Fatalf("code = %s, want %s", e.Code, protocol.ErrObserverNoWrite)
	}
}

func TestHub_HumanSessionsNeverMutate(t *testing.T) {
	h := testHub(t)
	pos := protocol.Vec3{X: 4, Y: 20, Z: 4}
	place := actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: pos, Material: materials.Brick})

	// A write-capable role still authenticates as a user session, and user
	// sessions are rejected before the capability check.
	for _, token := range []string{testBuilderKey, testAdminKey} {
		s := authAndJoin(t, h, token, "main")
		send(t, h, s, place)
		if e := lastError(t, s); e.Code != protocol.ErrObserverNoWrite {
			t.Fatalf("%s: code = %s, want %s", token, e.Code, protocol.ErrObserverNoWrite)
		}
	}
	w, _ := h.Registry().Get("main")
	if got := w.BlockAt(pos); got != materials.Air {
		t.Fatalf("world mutated by a user session: block = %v", got)
	}
}

func TestHub_RateLimitPerActor(t *testing.T) {
	now := time.Unix(5000, 0)
	limiter := ratelimit.NewWithClock(func() time.Time { return now })

	ids := identity.NewStaticStore()
	ids.Add(testAgentKey, identity.Identity{
		ActorID: "agent-1", Name: "Builder", WorldID: "main",
		Role: policy.RoleAgent, Permissions: []string{policy.CapWrite},
		Quotas: identity.Quotas{MaxBlocksPerMinute: 2},
	})
	reg := world.NewRegistry(world.RegistryConfig{DefaultWorldID: "main", GroundRadius: 1}, nil)
	h := NewHub(reg, limiter, ids, Limits{AgentPerMinute: 120, UserPerMinute: 60}, log.New(os.Stderr, "[test] ", 0))

	agent := authAndJoin(t, h, testAgentKey, "main")
	for i := 0; i < 2; i++ {
		send(t, h, agent, actionMsg(t, protocol.ActionPlaceBlock,
			protocol.PlaceBlock{Position: protocol.Vec3{X: i, Y: 20}, Material: materials.Stone}))
	}
	drain(agent)

	send(t, h, agent, actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{X: 9, Y: 20}, Material: materials.Stone}))
	if e := lastError(t, agent); e.Code != protocol.ErrRateLimit {
		t.Fatalf("code = %s, want %s", e.Code, protocol.ErrRateLimit)
	}

	// Fresh window, fresh budget.
	now = now.Add(2 * time.Minute)
	send(t, h, agent, actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{X: 10, Y: 20}, Material: materials.Stone}))
	types, _ := drain(agent)
	for _, ty := range types {
		if ty == protocol.TypeError {
			t.Fatalf("action denied after window reset")
		}
	}
}

func TestHub_ActionBroadcastReachesWorld(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	watcher := authAndJoin(t, h, "nobody", "main")
	drain(agent) // drop the watcher's join notification

	send(t, h, agent, actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{Y: 20}, Material: materials.Brick}))

	for name, s := range map[string]*Session{"originator": agent, "watcher": watcher} {
		types, _ := drain(s)
		found := false
		for _, ty := range types {
			if ty == protocol.TypeActionApplied {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s missed action_applied: %v", name, types)
		}
	}
}

func TestHub_CursorExcludesOriginator(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	watcher := authAndJoin(t, h, "nobody", "main")
	drain(agent)

	send(t, h, agent, protocol.CursorUpdateMsg{
		Type: protocol.TypeCursorUpdate, Position: protocol.Vec3{X: 1}, Tool: "place",
	})
	if types, _ := drain(agent); len(types) != 0 {
		t.Fatalf("originator received own cursor: %v", types)
	}
	types, _ := drain(watcher)
	if len(types) != 1 || types[0] != protocol.TypeCursorUpdate {
		t.Fatalf("watcher frames = %v, want one cursor_update", types)
	}
}

func TestHub_ChatEchoesToAll(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	watcher := authAndJoin(t, h, "nobody", "main")
	drain(agent)

	send(t, h, agent, protocol.ChatMsg{Type: protocol.TypeChat, Message: "  hello  "})
	for name, s := range map[string]*Session{"sender": agent, "watcher": watcher} {
		types, frames := drain(s)
		if len(types) != 1 || types[0] != protocol.TypeChat {
			t.Fatalf("%s frames = %v", name, types)
		}
		var c protocol.ChatEvent
		_ = json.Unmarshal(frames[0], &c)
		if c.Message != "hello" {
			t.Fatalf("chat message = %q, want trimmed", c.Message)
		}
	}
}

func TestHub_DisconnectBroadcastsDeparture(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	watcher := authAndJoin(t, h, "nobody", "main")
	drain(agent)

	h.Disconnect(agent)
	types, frames := drain(watcher)
	if len(types) != 1 || types[0] != protocol.TypeAgentDisconnected {
		t.Fatalf("watcher frames = %v, want agent_disconnected", types)
	}
	var m protocol.AgentDisconnected
	_ = json.Unmarshal(frames[0], &m)
	if m.AgentID != "agent-1" {
		t.Fatalf("agent id = %s", m.AgentID)
	}
	if h.SessionCount() != 1 {
		t.Fatalf("session count = %d after disconnect", h.SessionCount())
	}

	// Idempotent.
	h.Disconnect(agent)
}

func TestHub_JoinSwitchesWorlds(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	watcher := authAndJoin(t, h, "nobody", "main")
	drain(agent)

	send(t, h, agent, protocol.JoinWorldMsg{Type: protocol.TypeJoinWorld, WorldID: "second"})
	types, _ := drain(watcher)
	if len(types) != 1 || types[0] != protocol.TypeAgentDisconnected {
		t.Fatalf("old world frames = %v, want agent_disconnected", types)
	}

	w, ok := h.Registry().Get("second")
	if !ok || len(w.SessionIDs()) != 1 {
		t.Fatalf("agent not in the new world")
	}
	mainWorld, _ := h.Registry().Get("main")
	if len(mainWorld.SessionIDs()) != 1 {
		t.Fatalf("agent still a member of the old world")
	}
}

func TestHub_ApplyPatch(t *testing.T) {
	h := testHub(t)
	watcher := authAndJoin(t, h, "nobody", "main")

	id, ok := h.identities.LookupKey(testAgentKey)
	if !ok {
		t.Fatalf("agent key missing from store")
	}
	raw, _ := json.Marshal(protocol.PlaceBlock{Position: protocol.Vec3{X: 1, Y: 20, Z: 1}, Material: materials.Glass})
	badRaw, _ := json.Marshal(protocol.PaintBlock{Position: protocol.Vec3{Y: 90}, Material: materials.Stone})

	results, err := h.ApplyPatch(id, "main", []protocol.ActionRequest{
		{Type: protocol.ActionPlaceBlock, Payload: raw},
		{Type: protocol.ActionPaintBlock, Payload: badRaw},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Status != protocol.StatusApplied {
		t.Fatalf("first result = %+v", results[0])
	}
	if results[1].Status != protocol.StatusRejected || results[1].Code != protocol.ErrNothingToPaint {
		t.Fatalf("second result = %+v", results[1])
	}

	// Connected sessions see the applied action.
	types, _ := drain(watcher)
	found := false
	for _, ty := range types {
		if ty == protocol.TypeActionApplied {
			found = true
		}
	}
	if !found {
		t.Fatalf("patch did not fan out: %v", types)
	}

	// Agents only: viewer and write-capable human identities are refused
	// outright.
	viewer := identity.Identity{ActorID: "v1", Role: policy.RoleViewer}
	if _, err := h.ApplyPatch(viewer, "main", nil); err == nil {
		t.Fatalf("viewer patch accepted")
	}
	builder := identity.Identity{ActorID: "b1", Role: policy.RoleBuilder,
		Permissions: []string{policy.CapWrite}}
	if _, err := h.ApplyPatch(builder, "main", nil); err == nil {
		t.Fatalf("builder patch accepted")
	}
}

func TestHub_ResolveProposalFansOut(t *testing.T) {
	ids := identity.NewStaticStore()
	ids.Add(testAgentKey, identity.Identity{
		ActorID: "agent-1", Name: "Builder", WorldID: "reviewed",
		Role: policy.RoleAgent, Permissions: []string{policy.CapWrite},
	})
	reg := world.NewRegistry(world.RegistryConfig{
		DefaultWorldID: "reviewed",
		GroundRadius:   1,
		Overrides: map[string]world.Config{
			"reviewed": {Name: "Reviewed", GroundRadius: 1, ProposalMode: true},
		},
	}, nil)
	h := NewHub(reg, ratelimit.New(), ids, Limits{}, log.New(os.Stderr, "[test] ", 0))

	agent := authAndJoin(t, h, testAgentKey, "reviewed")
	send(t, h, agent, actionMsg(t, protocol.ActionPlaceBlock,
		protocol.PlaceBlock{Position: protocol.Vec3{Y: 20}, Material: materials.Glow}))

	w, _ := reg.Get("reviewed")
	pending := w.PendingProposals()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	drain(agent)

	if err := h.ResolveProposal("reviewed", pending[0].ID, true, "admin-1"); err != nil {
		t.Fatalf("ResolveProposal: %v", err)
	}
	types, _ := drain(agent)
	var applied, resolved bool
	for _, ty := range types {
		switch ty {
		case protocol.TypeActionApplied:
			applied = true
		case protocol.TypeProposalResolved:
			resolved = true
		}
	}
	if !applied || !resolved {
		t.Fatalf("fanout frames = %v", types)
	}

	if err := h.ResolveProposal("missing", pending[0].ID, true, "admin-1"); err == nil {
		t.Fatalf("resolved against a missing world")
	}
}

func TestHub_WorldStateAndMemo(t *testing.T) {
	h := testHub(t)
	agent := authAndJoin(t, h, testAgentKey, "main")
	send(t, h, agent, actionMsg(t, protocol.ActionAgentMemo,
		protocol.AgentMemo{Key: "note", Value: "remember"}))

	state, err := h.WorldState("main")
	if err != nil {
		t.Fatalf("WorldState: %v", err)
	}
	if state.WorldID != "main" || state.SessionCount != 1 || state.ChunkCount == 0 {
		t.Fatalf("state = %+v", state)
	}
	if len(state.Actions) != 1 {
		t.Fatalf("recent actions = %d, want 1", len(state.Actions))
	}

	if v, ok := h.MemoValue("agent-1", "note"); !ok || v != "remember" {
		t.Fatalf("memo = %q, %v", v, ok)
	}
	if _, ok := h.MemoValue("agent-1", "missing"); ok {
		t.Fatalf("missing memo reported present")
	}

	if _, err := h.WorldState("nope"); err == nil {
		t.Fatalf("state for missing world succeeded")
	}
}
