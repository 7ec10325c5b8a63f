package world

import (
	"sync"
	"time"

	"fioworld.ai/internal/sim/materials"
)

// Limits on per-agent scratch state.
const (
	MaxMemoKeyLen   = 64
	MaxMemoValueLen = 4096
)

// ClipboardBlock is one copied cell, keyed relative to the copied region's
// minimum corner. Air cells are never recorded; clipboards are sparse.
type ClipboardBlock struct {
	DX       int          `json:"dx"`
	DY       int          `json:"dy"`
	DZ       int          `json:"dz"`
	Material materials.ID `json:"material"`
}

type memoEntry struct {
	Value     string
	ExpiresAt time.Time // zero means forever
}

// AgentStores holds the process-wide per-agent scratch state: named clipboard
// slots and key/value memos. Owned by the registry and shared across worlds;
// it has its own lock and is only ever touched while the acting world's lock
// is already held, so copy/paste from one agent can never tear.
type AgentStores struct {
	mu         sync.Mutex
	clipboards map[string]map[string][]ClipboardBlock
	memos      map[string]map[string]memoEntry
}

func NewAgentStores() *AgentStores {
	return &AgentStores{
		clipboards: map[string]map[string][]ClipboardBlock{},
		memos:      map[string]map[string]memoEntry{},
	}
}

// SetClipboard replaces the named slot for an agent. Slot count per agent is
// unbounded by design.
func (s *AgentStores) SetClipboard(agentID, label string, blocks []ClipboardBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.clipboards[agentID]
	if slots == nil {
		slots = map[string][]ClipboardBlock{}
		s.clipboards[agentID] = slots
	}
	slots[label] = blocks
}

// Clipboard returns the blocks in the named slot, or nil if the slot is empty
// or missing.
func (s *AgentStores) Clipboard(agentID, label string) []ClipboardBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboards[agentID][label]
}

// SetMemo stores a memo. Key and value are assumed already truncated by the
// pipeline. ttl <= 0 means the memo never expires.
func (s *AgentStores) SetMemo(agentID, key, value string, ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	memos := s.memos[agentID]
	if memos == nil {
		memos = map[string]memoEntry{}
		s.memos[agentID] = memos
	}
	e := memoEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	memos[key] = e
}

// Memo reads a memo with lazy expiry: an entry past its expiry is deleted on
// read and reported as missing.
func (s *AgentStores) Memo(agentID, key string, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.memos[agentID][key]
	if !ok {
		return "", false
	}
	if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
		delete(s.memos[agentID], key)
		return "", false
	}
	return e.Value, true
}

// SweepMemos removes every expired memo. Expiry is lazy on read; this keeps
// memory bounded for memos nobody reads again.
func (s *AgentStores) SweepMemos(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for agentID, memos := range s.memos {
		for key, e := range memos {
			if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
				delete(memos, key)
				removed++
			}
		}
		if len(memos) == 0 {
			delete(s.memos, agentID)
		}
	}
	return removed
}
