package protocol

// Client -> server messages.

type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type JoinWorldMsg struct {
	Type    string `json:"type"`
	WorldID string `json:"worldId"`
}

type LeaveWorldMsg struct {
	Type    string `json:"type"`
	WorldID string `json:"worldId"`
}

type ActionMsg struct {
	Type   string        `json:"type"`
	Action ActionRequest `json:"action"`
}

type RequestChunkMsg struct {
	Type  string     `json:"type"`
	Coord ChunkCoord `json:"coord"`
}

type CursorUpdateMsg struct {
	Type     string `json:"type"`
	Position Vec3   `json:"position"`
	Tool     string `json:"tool"`
}

type ChatMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Server -> client messages. Constructors fill the type tag so call sites
// cannot drift from the enumeration above.

type AuthOK struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func NewAuthOK(userID, role string) AuthOK {
	return AuthOK{Type: TypeAuthOK, UserID: userID, Role: role}
}

type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAuthError(message string) AuthError {
	return AuthError{Type: TypeAuthError, Message: message}
}

type WorldJoined struct {
	Type    string   `json:"type"`
	WorldID string   `json:"worldId"`
	Users   []string `json:"users"`
	Agents  []string `json:"agents"`
}

func NewWorldJoined(worldID string, users, agents []string) WorldJoined {
	return WorldJoined{Type: TypeWorldJoined, WorldID: worldID, Users: users, Agents: agents}
}

type ChunkData struct {
	Type  string    `json:"type"`
	Chunk ChunkWire `json:"chunk"`
}

func NewChunkData(chunk ChunkWire) ChunkData {
	return ChunkData{Type: TypeChunkData, Chunk: chunk}
}

type ActionApplied struct {
	Type   string      `json:"type"`
	Action WorldAction `json:"action"`
}

func NewActionApplied(action WorldAction) ActionApplied {
	return ActionApplied{Type: TypeActionApplied, Action: action}
}

type ActionRejected struct {
	Type     string `json:"type"`
	ActionID string `json:"actionId"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason"`
}

func NewActionRejected(actionID, code, reason string) ActionRejected {
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	return ActionRejected{Type: TypeActionRejected, ActionID: actionID, Code: code, Reason: reason}
}

type ProposalCreated struct {
	Type     string   `json:"type"`
	Proposal Proposal `json:"proposal"`
}

func NewProposalCreated(p Proposal) ProposalCreated {
	return ProposalCreated{Type: TypeProposalCreated, Proposal: p}
}

type ProposalResolved struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposalId"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewedBy,omitempty"`
}

func NewProposalResolved(proposalID, status, reviewedBy string) ProposalResolved {
	return ProposalResolved{Type: TypeProposalResolved, ProposalID: proposalID, Status: status, ReviewedBy: reviewedBy}
}

type UserJoined struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func NewUserJoined(userID, name string) UserJoined {
	return UserJoined{Type: TypeUserJoined, UserID: userID, Name: name}
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func NewUserLeft(userID string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID}
}

type AgentConnected struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

func NewAgentConnected(agentID, name string) AgentConnected {
	return AgentConnected{Type: TypeAgentConnected, AgentID: agentID, Name: name}
}

type AgentDisconnected struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

func NewAgentDisconnected(agentID string) AgentDisconnected {
	return AgentDisconnected{Type: TypeAgentDisconnected, AgentID: agentID}
}

type CursorEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Position Vec3   `json:"position"`
	Tool     string `json:"tool"`
}

func NewCursorEvent(userID string, position Vec3, tool string) CursorEvent {
	return CursorEvent{Type: TypeCursorUpdate, UserID: userID, Position: position, Tool: tool}
}

type ChatEvent struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func NewChatEvent(userID, name, message string) ChatEvent {
	return ChatEvent{Type: TypeChat, UserID: userID, Name: name, Message: message}
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	return ErrorMsg{Type: TypeError, Code: code, Message: message}
}

type LabelSet struct {
	Type  string     `json:"type"`
	Label WorldLabel `json:"label"`
}

func NewLabelSet(label WorldLabel) LabelSet {
	return LabelSet{Type: TypeLabelSet, Label: label}
}

type LabelRemoved struct {
	Type    string `json:"type"`
	LabelID string `json:"labelId"`
}

func NewLabelRemoved(labelID string) LabelRemoved {
	return LabelRemoved{Type: TypeLabelRemoved, LabelID: labelID}
}

type MemoAck struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Key     string `json:"key"`
}

func NewMemoAck(agentID, key string) MemoAck {
	return MemoAck{Type: TypeMemoAck, AgentID: agentID, Key: key}
}

type MemoData struct {
	Type    string  `json:"type"`
	AgentID string  `json:"agentId"`
	Key     string  `json:"key"`
	Value   *string `json:"value"`
}

func NewMemoData(agentID, key string, value *string) MemoData {
	return MemoData{Type: TypeMemoData, AgentID: agentID, Key: key, Value: value}
}

type CopyAck struct {
	Type       string `json:"type"`
	AgentID    string `json:"agentId"`
	Label      string `json:"label"`
	BlockCount int    `json:"blockCount"`
}

func NewCopyAck(agentID, label string, blockCount int) CopyAck {
	return CopyAck{Type: TypeCopyAck, AgentID: agentID, Label: label, BlockCount: blockCount}
}

type PasteAck struct {
	Type       string `json:"type"`
	AgentID    string `json:"agentId"`
	BlockCount int    `json:"blockCount"`
}

func NewPasteAck(agentID string, blockCount int) PasteAck {
	return PasteAck{Type: TypePasteAck, AgentID: agentID, BlockCount: blockCount}
}
