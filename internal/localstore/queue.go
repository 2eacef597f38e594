// Package localstore provides the durable offline-first local store.
package localstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/offsitehq/fieldsync/internal/errors"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/models"
)

// changePath returns the queue record path for a change id.
func (s *LocalStore) changePath(id models.UUID) string {
	return filepath.Join(s.root, queueDir, id.String()+".json")
}

// EnqueueChange appends a durable change record to the pending queue.
// Returns false when the queue is at capacity, the storage budget is
// exhausted, or the write failed; failures are logged, never thrown.
func (s *LocalStore) EnqueueChange(change *models.Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queueCount >= s.maxQueueSize {
		logging.ErrorWithCode("Change queue is full", string(errors.ErrQueueFull), nil,
			map[string]interface{}{"max_queue_size": s.maxQueueSize, "change_id": change.ID.String()})
		return false
	}

	encoded, err := json.MarshalIndent(change, "", "  ")
	if err != nil {
		logging.ErrorWithCode("Failed to encode change", string(errors.ErrStoreIO), err,
			map[string]interface{}{"change_id": change.ID.String()})
		return false
	}

	if s.bytesUsed+int64(len(encoded)) > s.maxStorageBytes {
		logging.ErrorWithCode("Storage budget exceeded", string(errors.ErrStorageBudget), nil,
			map[string]interface{}{"bytes_used": s.bytesUsed, "max_storage_bytes": s.maxStorageBytes})
		return false
	}

	if !s.writeAtomic(s.changePath(change.ID), encoded) {
		return false
	}

	s.bytesUsed += int64(len(encoded))
	s.queueCount++
	return true
}

// GetPendingChanges scans the queue and returns changes awaiting push in
// (priority ascending, created_at ascending) order. Changes left in the
// retrying state by an interrupted session are included; they never went
// terminal and must not be orphaned. Corrupt records are skipped with a
// warning so one bad file cannot wedge the whole queue.
func (s *LocalStore) GetPendingChanges() []*models.Change {
	entries, err := os.ReadDir(filepath.Join(s.root, queueDir))
	if err != nil {
		logging.ErrorWithCode("Failed to scan change queue", string(errors.ErrStoreIO), err)
		return nil
	}

	var pending []*models.Change
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		change, ok := s.readChange(filepath.Join(s.root, queueDir, entry.Name()))
		if !ok {
			continue
		}
		if change.Status == models.ChangeStatusPending || change.Status == models.ChangeStatusRetrying {
			pending = append(pending, change)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Less(pending[j])
	})
	return pending
}

// GetChange returns a single queued change by id.
func (s *LocalStore) GetChange(id models.UUID) (*models.Change, bool) {
	return s.readChange(s.changePath(id))
}

// FailedChanges returns permanently failed changes kept for inspection.
func (s *LocalStore) FailedChanges() []*models.Change {
	entries, err := os.ReadDir(filepath.Join(s.root, queueDir))
	if err != nil {
		logging.ErrorWithCode("Failed to scan change queue", string(errors.ErrStoreIO), err)
		return nil
	}

	var failed []*models.Change
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		change, ok := s.readChange(filepath.Join(s.root, queueDir, entry.Name()))
		if !ok {
			continue
		}
		if change.Status == models.ChangeStatusFailed {
			failed = append(failed, change)
		}
	}

	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].Less(failed[j])
	})
	return failed
}

// UpdateChangeStatus advances a change through its lifecycle and persists
// the record. Retrying increments the retry count; Synced stamps the sync
// time and removes the record from the queue (terminal, successful).
// Failed records stay on disk for operator inspection. The updated change
// is returned so callers can journal the transition.
func (s *LocalStore) UpdateChangeStatus(id models.UUID, status models.ChangeStatus, errMsg string) (*models.Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.changePath(id)
	change, ok := s.readChange(path)
	if !ok {
		logging.ErrorWithCode("Change not found for status update", string(errors.ErrChangeNotFound), nil,
			map[string]interface{}{"change_id": id.String(), "status": string(status)})
		return nil, false
	}

	change.Status = status
	change.LastError = errMsg
	switch status {
	case models.ChangeStatusRetrying:
		change.RetryCount++
	case models.ChangeStatusSynced:
		change.SyncedAt = models.NowMillis()
	}

	if status == models.ChangeStatusSynced {
		size := fileSize(path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.ErrorWithCode("Failed to dequeue synced change", string(errors.ErrStoreIO), err,
				map[string]interface{}{"change_id": id.String()})
			return change, false
		}
		s.bytesUsed -= size
		s.queueCount--
		return change, true
	}

	prev := fileSize(path)
	encoded, err := json.MarshalIndent(change, "", "  ")
	if err != nil {
		logging.ErrorWithCode("Failed to encode change", string(errors.ErrStoreIO), err,
			map[string]interface{}{"change_id": id.String()})
		return nil, false
	}
	if !s.writeAtomic(path, encoded) {
		return nil, false
	}
	s.bytesUsed += int64(len(encoded)) - prev
	return change, true
}

// RemoveChange deletes a queued change outright. Used when a pull makes a
// pending local change moot (the conflict resolution already decided the
// entity's final state).
func (s *LocalStore) RemoveChange(id models.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.changePath(id)
	size := fileSize(path)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return true
		}
		logging.ErrorWithCode("Failed to remove change", string(errors.ErrStoreIO), err,
			map[string]interface{}{"change_id": id.String()})
		return false
	}
	s.bytesUsed -= size
	s.queueCount--
	return true
}

// PendingChangeCount returns the number of changes awaiting push.
func (s *LocalStore) PendingChangeCount() int {
	return len(s.GetPendingChanges())
}

// readChange loads one queue record, tolerating corruption.
func (s *LocalStore) readChange(path string) (*models.Change, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Unreadable change record", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		}
		return nil, false
	}
	var change models.Change
	if err := json.Unmarshal(data, &change); err != nil {
		logging.Warn("Skipping corrupt change record", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return nil, false
	}
	return &change, true
}
