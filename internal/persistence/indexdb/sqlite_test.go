package indexdb

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fioworld.ai/internal/protocol"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleAction(id, worldID string, ts time.Time) protocol.WorldAction {
	return protocol.WorldAction{
		ID:        id,
		WorldID:   worldID,
		ActorID:   "agent-1",
		ActorType: protocol.ActorAgent,
		Type:      protocol.ActionPlaceBlock,
		Timestamp: ts,
		Status:    protocol.StatusApplied,
	}
}

func TestRecordAndQueryActions(t *testing.T) {
	idx := openTestIndex(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	idx.RecordAction(sampleAction("a1", "main", base))
	idx.RecordAction(sampleAction("a2", "main", base.Add(time.Second)))
	idx.RecordAction(sampleAction("a3", "other", base))

	// RecentActions runs behind the queued inserts, so it observes them.
	got, err := idx.RecentActions("main", 10)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].ID != "a2" {
		t.Fatalf("newest first, got %s", got[0].ID)
	}

	n, err := idx.ActionCount("other")
	if err != nil {
		t.Fatalf("ActionCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestRecordAction_Idempotent(t *testing.T) {
	idx := openTestIndex(t)
	ts := time.Now().UTC()
	idx.RecordAction(sampleAction("a1", "main", ts))
	idx.RecordAction(sampleAction("a1", "main", ts))

	n, err := idx.ActionCount("main")
	if err != nil {
		t.Fatalf("ActionCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d after duplicate insert, want 1", n)
	}
}

func TestCloseRacesQueries(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordAction(sampleAction("a1", "main", time.Now()))

	// Writers and readers racing Close must fail fast, never panic on a
	// closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				idx.RecordAction(sampleAction(fmt.Sprintf("r%d-%d", n, j), "main", time.Now()))
				_, _ = idx.RecentActions("main", 5)
				_, _ = idx.ActionCount("main")
			}
		}(i)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	if _, err := idx.RecentActions("main", 1); err == nil {
		t.Fatalf("query after close succeeded")
	}
}

func TestCloseStopsIntake(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordSnapshot(SnapshotRow{Path: "/tmp/x", SavedAt: time.Now(), Worlds: 1, Chunks: 9})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// After close, writes and queries fail fast instead of panicking.
	idx.RecordAction(sampleAction("late", "main", time.Now()))
	if _, err := idx.RecentActions("main", 1); err == nil {
		t.Fatalf("query after close succeeded")
	}
	_ = idx.Close()
}
