package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/offsitehq/fieldsync/internal/models"
)

func pendingChange(id models.UUID, priority int, createdAt int64) *models.Change {
	return &models.Change{
		ID:         id,
		EntityType: "Issue",
		EntityID:   string(id),
		Operation:  models.OperationUpdate,
		Payload:    []byte(`{"v":1}`),
		CreatedAt:  createdAt,
		DeviceID:   "device-1",
		Status:     models.ChangeStatusPending,
		Priority:   priority,
		Version:    1,
	}
}

func TestEnqueueAndGetPending(t *testing.T) {
	s := newTestStore(t)

	if !s.EnqueueChange(pendingChange("c1", 1, 1000)) {
		t.Fatal("Enqueue should succeed")
	}

	pending := s.GetPendingChanges()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending change, got %d", len(pending))
	}
	if pending[0].ID != "c1" {
		t.Errorf("Expected change c1, got %s", pending[0].ID)
	}
}

func TestQueueOrdering(t *testing.T) {
	s := newTestStore(t)
	// Enqueue out of order: routine old, urgent new, routine new
	s.EnqueueChange(pendingChange("routine-old", 1, 1000))
	s.EnqueueChange(pendingChange("urgent-new", 0, 3000))
	s.EnqueueChange(pendingChange("routine-new", 1, 2000))

	pending := s.GetPendingChanges()
	if len(pending) != 3 {
		t.Fatalf("Expected 3 pending changes, got %d", len(pending))
	}
	want := []models.UUID{"urgent-new", "routine-old", "routine-new"}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, pending[i].ID)
		}
	}
}

func TestQueueCapacity(t *testing.T) {
	s, err := New(t.TempDir(), 2, 10*1024*1024)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if !s.EnqueueChange(pendingChange("c1", 1, 1000)) {
		t.Fatal("First enqueue should succeed")
	}
	if !s.EnqueueChange(pendingChange("c2", 1, 2000)) {
		t.Fatal("Second enqueue should succeed")
	}
	if s.EnqueueChange(pendingChange("c3", 1, 3000)) {
		t.Error("Enqueue past capacity should be rejected")
	}
	if got := s.PendingChangeCount(); got != 2 {
		t.Errorf("Expected 2 pending changes, got %d", got)
	}
}

func TestQueueCapacityFreedBySyncedRemoval(t *testing.T) {
	s, err := New(t.TempDir(), 1, 10*1024*1024)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s.EnqueueChange(pendingChange("c1", 1, 1000))

	if _, ok := s.UpdateChangeStatus("c1", models.ChangeStatusSynced, ""); !ok {
		t.Fatal("Status update should succeed")
	}
	if !s.EnqueueChange(pendingChange("c2", 1, 2000)) {
		t.Error("Slot freed by a synced change should be reusable")
	}
}

func TestStorageBudget(t *testing.T) {
	s, err := New(t.TempDir(), 100, 64)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if s.EnqueueChange(pendingChange("c1", 1, 1000)) {
		t.Error("Enqueue past the storage budget should be rejected")
	}
}

func TestUpdateChangeStatusRetrying(t *testing.T) {
	s := newTestStore(t)
	s.EnqueueChange(pendingChange("c1", 1, 1000))

	change, ok := s.UpdateChangeStatus("c1", models.ChangeStatusRetrying, "connection reset")
	if !ok {
		t.Fatal("Status update should succeed")
	}
	if change.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", change.RetryCount)
	}
	if change.LastError != "connection reset" {
		t.Errorf("Expected last error to be recorded, got %q", change.LastError)
	}

	change, _ = s.UpdateChangeStatus("c1", models.ChangeStatusRetrying, "connection reset")
	if change.RetryCount != 2 {
		t.Errorf("Retry count should accumulate, got %d", change.RetryCount)
	}
}

func TestUpdateChangeStatusSyncedRemovesRecord(t *testing.T) {
	s := newTestStore(t)
	s.EnqueueChange(pendingChange("c1", 1, 1000))

	change, ok := s.UpdateChangeStatus("c1", models.ChangeStatusSynced, "")
	if !ok {
		t.Fatal("Status update should succeed")
	}
	if change.SyncedAt == 0 {
		t.Error("Synced change should carry a sync timestamp")
	}
	if _, ok := s.GetChange("c1"); ok {
		t.Error("Synced change should be removed from the queue")
	}
	if got := s.PendingChangeCount(); got != 0 {
		t.Errorf("Expected empty queue, got %d", got)
	}
}

func TestFailedChangesKeptForInspection(t *testing.T) {
	s := newTestStore(t)
	s.EnqueueChange(pendingChange("c1", 1, 1000))

	if _, ok := s.UpdateChangeStatus("c1", models.ChangeStatusFailed, "server rejected"); !ok {
		t.Fatal("Status update should succeed")
	}

	if got := len(s.GetPendingChanges()); got != 0 {
		t.Errorf("Failed change should not be pending, got %d", got)
	}
	failed := s.FailedChanges()
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed change, got %d", len(failed))
	}
	if failed[0].LastError != "server rejected" {
		t.Errorf("Expected failure reason kept, got %q", failed[0].LastError)
	}
}

func TestRetryingChangesStayPending(t *testing.T) {
	// A session interrupted mid-retry leaves changes in the retrying
	// state; the next session must pick them up again.
	s := newTestStore(t)
	s.EnqueueChange(pendingChange("c1", 1, 1000))
	s.UpdateChangeStatus("c1", models.ChangeStatusRetrying, "timeout")

	pending := s.GetPendingChanges()
	if len(pending) != 1 {
		t.Fatalf("Expected retrying change in pending set, got %d", len(pending))
	}
	if pending[0].Status != models.ChangeStatusRetrying {
		t.Errorf("Expected retrying status, got %s", pending[0].Status)
	}
}

func TestUpdateChangeStatusUnknownID(t *testing.T) {
	s := newTestStore(t)
	if _, ok := s.UpdateChangeStatus("missing", models.ChangeStatusSyncing, ""); ok {
		t.Error("Updating an unknown change should fail")
	}
}

func TestRemoveChange(t *testing.T) {
	s := newTestStore(t)
	s.EnqueueChange(pendingChange("c1", 1, 1000))

	if !s.RemoveChange("c1") {
		t.Fatal("RemoveChange should succeed")
	}
	if _, ok := s.GetChange("c1"); ok {
		t.Error("Removed change should be gone")
	}
	if !s.RemoveChange("c1") {
		t.Error("Removing an absent change should still succeed")
	}
}

func TestCorruptQueueRecordSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 100, 10*1024*1024)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s.EnqueueChange(pendingChange("good", 1, 1000))

	bad := filepath.Join(dir, "queue", "bad.json")
	if err := os.WriteFile(bad, []byte("{truncated"), 0644); err != nil {
		t.Fatal(err)
	}

	pending := s.GetPendingChanges()
	if len(pending) != 1 {
		t.Fatalf("Corrupt record should be skipped, got %d changes", len(pending))
	}
	if pending[0].ID != "good" {
		t.Errorf("Expected the valid change, got %s", pending[0].ID)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir, 100, 10*1024*1024)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s1.EnqueueChange(pendingChange("c1", 1, 1000))

	s2, err := New(dir, 100, 10*1024*1024)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	if got := s2.PendingChangeCount(); got != 1 {
		t.Errorf("Reopened store should see queued change, got %d", got)
	}
}
