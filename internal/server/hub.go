// Package server is the session manager: it authenticates connections, routes
// inbound messages, runs the pre-dispatch checks and fans world events out to
// every session in the affected world.
package server

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fioworld.ai/internal/identity"
	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/policy"
	"fioworld.ai/internal/sim/ratelimit"
	"fioworld.ai/internal/sim/world"
)

const (
	outboundQueue = 256
	maxChatRunes  = 500
)

// Limits are the per-minute action budgets by actor class. Agent identities
// may carry a per-key quota that overrides the class default.
type Limits struct {
	AgentPerMinute int
	UserPerMinute  int
}

// Session is one live connection. The transport owns the socket; the hub owns
// everything else. Out carries pre-marshaled frames to the transport's writer
// goroutine.
type Session struct {
	ID        string
	ActorID   string
	Name      string
	ActorType string // protocol.ActorUser or protocol.ActorAgent
	Role      string
	WorldID   string
	Quotas    identity.Quotas
	Out       chan []byte

	authed bool
	closed bool
}

// Hub coordinates sessions, worlds and the rate limiter.
type Hub struct {
	registry   *world.Registry
	limiter    *ratelimit.Limiter
	identities identity.Store
	limits     Limits
	logger     *log.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(registry *world.Registry, limiter *ratelimit.Limiter, ids identity.Store, limits Limits, logger *log.Logger) *Hub {
	if limits.AgentPerMinute <= 0 {
		limits.AgentPerMinute = 120
	}
	if limits.UserPerMinute <= 0 {
		limits.UserPerMinute = 60
	}
	return &Hub{
		registry:   registry,
		limiter:    limiter,
		identities: ids,
		limits:     limits,
		logger:     logger,
		now:        time.Now,
		sessions:   map[string]*Session{},
	}
}

// Register creates an unauthenticated session. The transport calls this once
// per accepted connection and then pumps Out until it closes.
func (h *Hub) Register() *Session {
	s := &Session{
		ID:  uuid.NewString(),
		Out: make(chan []byte, outboundQueue),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	return s
}

// Disconnect tears a session down: world membership, presence broadcast,
// outbound channel. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	delete(h.sessions, s.ID)
	worldID := s.WorldID
	s.WorldID = ""
	close(s.Out)
	h.mu.Unlock()

	if worldID == "" {
		return
	}
	if w, ok := h.registry.Get(worldID); ok {
		w.RemoveSession(s.ID)
	}
	if s.ActorType == protocol.ActorAgent {
		h.broadcastToWorld(worldID, protocol.NewAgentDisconnected(s.ActorID), s.ID)
	} else {
		h.broadcastToWorld(worldID, protocol.NewUserLeft(s.ActorID), s.ID)
	}
	h.logger.Printf("[hub] session %s (%s %q) left world %s", s.ID, s.ActorType, s.Name, worldID)
}

// HandleMessage routes one inbound frame. Every malformed or out-of-order
// message produces an error reply rather than a dropped connection; only the
// transport decides when to hang up.
func (h *Hub) HandleMessage(s *Session, data []byte) {
	base, err := protocol.DecodeBase(data)
	if err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "invalid JSON"))
		return
	}
	if !s.authed {
		if base.Type != protocol.TypeAuth {
			h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "authenticate first"))
			return
		}
		h.handleAuth(s, data)
		return
	}
	switch base.Type {
	case protocol.TypeAuth:
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "already authenticated"))
	case protocol.TypeJoinWorld:
		h.handleJoinWorld(s, data)
	case protocol.TypeLeaveWorld:
		h.handleLeaveWorld(s)
	case protocol.TypeAction:
		h.handleAction(s, data)
	case protocol.TypeRequestChunk:
		h.handleRequestChunk(s, data)
	case protocol.TypeCursorUpdate:
		h.handleCursor(s, data)
	case protocol.TypeChat:
		h.handleChat(s, data)
	default:
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "unknown message type "+base.Type))
	}
}

// handleAuth resolves the token against the credential store. A known agent
// key yields an agent session; a known key with any other role yields a named
// user session (watch, chat, review — never mutate); anything else falls back
// to an anonymous observer.
func (h *Hub) handleAuth(s *Session, data []byte) {
	var msg protocol.AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewAuthError("malformed auth message"))
		return
	}
	if id, ok := h.identities.LookupKey(msg.Token); ok {
		s.ActorID = id.ActorID
		s.Name = id.Name
		s.Role = id.Role
		s.Quotas = id.Quotas
		if id.Role == policy.RoleAgent {
			s.ActorType = protocol.ActorAgent
		} else {
			s.ActorType = protocol.ActorUser
		}
	} else {
		s.ActorID = "user-" + s.ID[:8]
		s.Name = "Observer " + s.ID[:8]
		s.Role = policy.RoleViewer
		s.ActorType = protocol.ActorUser
	}
	s.authed = true
	h.send(s, protocol.NewAuthOK(s.ActorID, s.Role))
	h.logger.Printf("[hub] session %s authenticated as %s %q (%s)", s.ID, s.ActorType, s.Name, s.Role)
}

// handleJoinWorld moves the session into a world, implicitly leaving the
// previous one. The joiner gets the member roster, the full chunk snapshot and
// the current labels; everyone already there learns about the newcomer.
func (h *Hub) handleJoinWorld(s *Session, data []byte) {
	var msg protocol.JoinWorldMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "malformed join_world"))
		return
	}
	if s.WorldID != "" {
		h.handleLeaveWorld(s)
	}

	w := h.registry.GetOrCreate(msg.WorldID)
	s.WorldID = w.ID()
	w.AddSession(s.ID)

	if s.ActorType == protocol.ActorAgent {
		h.broadcastToWorld(w.ID(), protocol.NewAgentConnected(s.ActorID, s.Name), s.ID)
	} else {
		h.broadcastToWorld(w.ID(), protocol.NewUserJoined(s.ActorID, s.Name), s.ID)
	}

	users, agents := h.roster(w.ID())
	h.send(s, protocol.NewWorldJoined(w.ID(), users, agents))
	for _, cw := range w.ChunkSnapshot() {
		h.send(s, protocol.NewChunkData(cw))
	}
	for _, l := range w.Labels() {
		h.send(s, protocol.NewLabelSet(l))
	}
	for _, p := range w.PendingProposals() {
		h.send(s, protocol.NewProposalCreated(p))
	}
	h.logger.Printf("[hub] session %s (%s %q) joined world %s", s.ID, s.ActorType, s.Name, w.ID())
}

func (h *Hub) handleLeaveWorld(s *Session) {
	if s.WorldID == "" {
		return
	}
	worldID := s.WorldID
	s.WorldID = ""
	if w, ok := h.registry.Get(worldID); ok {
		w.RemoveSession(s.ID)
	}
	if s.ActorType == protocol.ActorAgent {
		h.broadcastToWorld(worldID, protocol.NewAgentDisconnected(s.ActorID), s.ID)
	} else {
		h.broadcastToWorld(worldID, protocol.NewUserLeft(s.ActorID), s.ID)
	}
}

// handleAction runs the pre-dispatch checks in a fixed, observable order:
// membership, actor type, role capability, rate limit. Only then does the
// action reach the world pipeline.
func (h *Hub) handleAction(s *Session, data []byte) {
	var msg protocol.ActionMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "malformed action"))
		return
	}
	if s.WorldID == "" {
		h.send(s, protocol.NewError(protocol.ErrNotInWorld, "join a world first"))
		return
	}
	// Mutation is agent-only. Human sessions watch, chat and review; even a
	// write-capable role mutates through the review workflow, not actions.
	if s.ActorType != protocol.ActorAgent {
		h.send(s, protocol.NewError(protocol.ErrObserverNoWrite, "only agent sessions can perform actions"))
		return
	}
	if !policy.Allows(s.Role, policy.CapWrite) {
		h.send(s, protocol.NewError(protocol.ErrNoPermission, "role "+s.Role+" cannot write"))
		return
	}
	if !h.allowAction(s) {
		h.send(s, protocol.NewError(protocol.ErrRateLimit, "action rate limit exceeded"))
		return
	}

	w, ok := h.registry.Get(s.WorldID)
	if !ok {
		h.send(s, protocol.NewError(protocol.ErrInternal, "world vanished"))
		return
	}
	res := w.Dispatch(world.Actor{ID: s.ActorID, Name: s.Name, Type: s.ActorType}, msg.Action, h.now())
	for _, ev := range res.Broadcast {
		h.broadcastToWorld(s.WorldID, ev, "")
	}
	for _, r := range res.Reply {
		h.send(s, r)
	}
}

// allowAction charges one action against the session's fixed per-minute
// window. Keys are namespaced by actor type so an agent and a user sharing an
// id string never share a budget.
func (h *Hub) allowAction(s *Session) bool {
	limit := h.limits.UserPerMinute
	if s.ActorType == protocol.ActorAgent {
		limit = h.limits.AgentPerMinute
		if s.Quotas.MaxBlocksPerMinute > 0 {
			limit = s.Quotas.MaxBlocksPerMinute
		}
	}
	return h.limiter.Check(s.ActorType+":"+s.ActorID, limit)
}

func (h *Hub) handleRequestChunk(s *Session, data []byte) {
	var msg protocol.RequestChunkMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "malformed request_chunk"))
		return
	}
	if s.WorldID == "" {
		h.send(s, protocol.NewError(protocol.ErrNotInWorld, "join a world first"))
		return
	}
	w, ok := h.registry.Get(s.WorldID)
	if !ok {
		h.send(s, protocol.NewError(protocol.ErrInternal, "world vanished"))
		return
	}
	h.send(s, protocol.NewChunkData(w.RequestChunk(msg.Coord)))
}

func (h *Hub) handleCursor(s *Session, data []byte) {
	var msg protocol.CursorUpdateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "malformed cursor_update"))
		return
	}
	if s.WorldID == "" {
		return
	}
	// Presence chatter, not state: relayed to everyone else, never audited.
	h.broadcastToWorld(s.WorldID, protocol.NewCursorEvent(s.ActorID, msg.Position, msg.Tool), s.ID)
}

func (h *Hub) handleChat(s *Session, data []byte) {
	var msg protocol.ChatMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(s, protocol.NewError(protocol.ErrProtoBadRequest, "malformed chat"))
		return
	}
	if s.WorldID == "" {
		h.send(s, protocol.NewError(protocol.ErrNotInWorld, "join a world first"))
		return
	}
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return
	}
	if r := []rune(text); len(r) > maxChatRunes {
		text = string(r[:maxChatRunes])
	}
	// Chat echoes back to the sender too, so clients render one authoritative
	// ordering of the room transcript.
	h.broadcastToWorld(s.WorldID, protocol.NewChatEvent(s.ActorID, s.Name, text), "")
}

// roster splits the current members of a world into user and agent actor ids.
func (h *Hub) roster(worldID string) (users, agents []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	users, agents = []string{}, []string{}
	for _, s := range h.sessions {
		if s.WorldID != worldID {
			continue
		}
		if s.ActorType == protocol.ActorAgent {
			agents = append(agents, s.ActorID)
		} else {
			users = append(users, s.ActorID)
		}
	}
	return users, agents
}

// broadcastToWorld marshals once and enqueues to every session in the world,
// skipping exceptID when set. Slow consumers drop frames instead of stalling
// the world.
func (h *Hub) broadcastToWorld(worldID string, msg any, exceptID string) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[hub] marshal broadcast: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if s.WorldID != worldID || s.ID == exceptID || s.closed {
			continue
		}
		select {
		case s.Out <- b:
		default:
			h.logger.Printf("[hub] dropping frame for slow session %s", s.ID)
		}
	}
}

func (h *Hub) send(s *Session, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[hub] marshal reply: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Out <- b:
	default:
		h.logger.Printf("[hub] dropping frame for slow session %s", s.ID)
	}
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
