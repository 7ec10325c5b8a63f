// Package rest is the key-authenticated HTTP surface for headless agents and
// the review workflow: batched world patches, state reads, memo reads and
// proposal resolution.
package rest

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"fioworld.ai/internal/identity"
	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/server"
	"fioworld.ai/internal/sim/policy"
)

const apiKeyHeader = "x-api-key"

type Server struct {
	hub        *server.Hub
	identities identity.Store
	validate   *validator.Validate
	log        *log.Logger
}

func NewServer(hub *server.Hub, ids identity.Store, logger *log.Logger) *Server {
	return &Server{
		hub:        hub,
		identities: ids,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        logger,
	}
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agent/world/patch", s.handlePatch)
	mux.HandleFunc("GET /v1/agent/world/state", s.handleState)
	mux.HandleFunc("GET /v1/agent/memo", s.handleMemo)
	mux.HandleFunc("POST /v1/admin/proposals/{id}", s.handleResolveProposal)
	mux.HandleFunc("GET /v1/worlds", s.handleWorlds)
}

type patchRequest struct {
	WorldID string                   `json:"worldId"`
	Actions []protocol.ActionRequest `json:"actions" validate:"required,min=1,max=64,dive"`
}

type patchResponse struct {
	WorldID string               `json:"worldId"`
	Results []server.PatchResult `json:"results"`
}

func (s *Server) handlePatch(rw http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(rw, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	worldID := req.WorldID
	if worldID == "" {
		worldID = id.WorldID
	}
	results, err := s.hub.ApplyPatch(id, worldID, req.Actions)
	if err != nil {
		s.writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, err.Error())
		return
	}
	if worldID == "" {
		worldID = s.hub.Registry().DefaultWorldID()
	}
	s.writeJSON(rw, http.StatusOK, patchResponse{WorldID: worldID, Results: results})
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(rw, r)
	if !ok {
		return
	}
	worldID := r.URL.Query().Get("worldId")
	if worldID == "" {
		worldID = id.WorldID
	}
	if worldID == "" {
		worldID = s.hub.Registry().DefaultWorldID()
	}
	state, err := s.hub.WorldState(worldID)
	if err != nil {
		s.writeError(rw, http.StatusNotFound, protocol.ErrBadRequest, err.Error())
		return
	}
	s.writeJSON(rw, http.StatusOK, state)
}

// handleMemo is the read-back half of the agent_memo action. Memos are private
// to the writing agent; the key resolves against the caller's own store. The
// response reuses the memo_data wire shape, with a null value for a missing or
// expired memo.
func (s *Server) handleMemo(rw http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(rw, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "key query parameter required")
		return
	}
	var value *string
	if v, ok := s.hub.MemoValue(id.ActorID, key); ok {
		value = &v
	}
	s.writeJSON(rw, http.StatusOK, protocol.NewMemoData(id.ActorID, key, value))
}

type resolveRequest struct {
	WorldID string `json:"worldId" validate:"required"`
	Approve bool   `json:"approve"`
}

func (s *Server) handleResolveProposal(rw http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(rw, r)
	if !ok {
		return
	}
	if !policy.Allows(id.Role, policy.CapApproveProposals) {
		s.writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, "role "+id.Role+" cannot review proposals")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	proposalID := r.PathValue("id")
	if err := s.hub.ResolveProposal(req.WorldID, proposalID, req.Approve, id.ActorID); err != nil {
		s.writeError(rw, http.StatusNotFound, protocol.ErrBadRequest, err.Error())
		return
	}
	status := protocol.ProposalRejected
	if req.Approve {
		status = protocol.ProposalApproved
	}
	s.writeJSON(rw, http.StatusOK, map[string]string{"proposalId": proposalID, "status": status})
}

func (s *Server) handleWorlds(rw http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(rw, r); !ok {
		return
	}
	s.writeJSON(rw, http.StatusOK, map[string]any{"worlds": s.hub.Registry().WorldIDs()})
}

func (s *Server) authenticate(rw http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	key := r.Header.Get(apiKeyHeader)
	if key == "" {
		s.writeError(rw, http.StatusUnauthorized, protocol.ErrNoPermission, "missing "+apiKeyHeader+" header")
		return identity.Identity{}, false
	}
	id, ok := s.identities.LookupKey(key)
	if !ok {
		s.writeError(rw, http.StatusUnauthorized, protocol.ErrNoPermission, "unknown API key")
		return identity.Identity{}, false
	}
	return id, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(rw http.ResponseWriter, status int, code, message string) {
	s.writeJSON(rw, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func (s *Server) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.log.Printf("[rest] encode response: %v", err)
	}
}
