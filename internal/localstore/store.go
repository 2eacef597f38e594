// Package localstore provides the durable offline-first local store:
// entity snapshots, the pending-change queue, and sync metadata live in
// three namespaces under one storage root. Records are field-labeled JSON
// so a stuck device can be inspected with a text editor.
package localstore

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/offsitehq/fieldsync/internal/errors"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/models"
)

const (
	entitiesDir = "entities"
	queueDir    = "queue"
	metaDir     = "meta"

	lastSyncFile = "last_sync.json"
)

// LocalStore is the durable key→snapshot store plus pending-change queue.
// One exclusive lock serializes all mutations; reads are served from the
// cache without the lock and always observe a complete prior write because
// snapshots are published to the cache only after the disk write finished.
type LocalStore struct {
	root            string
	maxQueueSize    int
	maxStorageBytes int64

	mu    sync.Mutex // serializes all mutating calls
	cache sync.Map   // models.EntityKey -> []byte, lock-free reads

	bytesUsed  int64 // guarded by mu
	queueCount int   // guarded by mu
}

// snapshotRecord is the on-disk envelope for one entity snapshot.
type snapshotRecord struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	StoredAt   int64           `json:"stored_at"`
}

// metaRecord is the on-disk envelope for sync metadata.
type metaRecord struct {
	LastSyncAt int64 `json:"last_sync_at"`
}

// New opens (or creates) a LocalStore rooted at root. Existing snapshots
// are loaded into the cache and the queue is counted so capacity checks
// and stats are correct from the first call.
func New(root string, maxQueueSize int, maxStorageBytes int64) (*LocalStore, error) {
	s := &LocalStore{
		root:            root,
		maxQueueSize:    maxQueueSize,
		maxStorageBytes: maxStorageBytes,
	}

	for _, dir := range []string{entitiesDir, queueDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, errors.Wrap(errors.ErrStoreIO, "failed to create storage directory", err)
		}
	}

	if err := s.warmUp(); err != nil {
		return nil, err
	}

	return s, nil
}

// warmUp loads existing snapshots into the cache and tallies disk usage.
func (s *LocalStore) warmUp() error {
	var bytesUsed int64

	entitiesRoot := filepath.Join(s.root, entitiesDir)
	err := filepath.Walk(entitiesRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		bytesUsed += info.Size()

		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn("Skipping unreadable snapshot", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
			return nil
		}
		var rec snapshotRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.Warn("Skipping corrupt snapshot", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
			return nil
		}
		key := models.NewEntityKey(rec.EntityType, rec.EntityID)
		s.cache.Store(key, []byte(rec.Data))
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrStoreIO, "failed to scan entity snapshots", err)
	}

	queueRoot := filepath.Join(s.root, queueDir)
	entries, err := os.ReadDir(queueRoot)
	if err != nil {
		return errors.Wrap(errors.ErrStoreIO, "failed to scan change queue", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		s.queueCount++
		if info, err := entry.Info(); err == nil {
			bytesUsed += info.Size()
		}
	}

	s.bytesUsed = bytesUsed
	return nil
}

// snapshotPath returns the fan-out path for an entity key. Keys are
// escaped to be filename-safe and sharded by a two-character prefix.
func (s *LocalStore) snapshotPath(key models.EntityKey) string {
	name := url.QueryEscape(key.String())
	prefix := name
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, entitiesDir, prefix, name+".json")
}

// Store writes an entity snapshot, overwriting any previous value.
// The snapshot is published to the cache only after the disk write
// succeeded. I/O failures are logged and reported as false, never thrown.
func (s *LocalStore) Store(key models.EntityKey, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := snapshotRecord{
		EntityType: key.Type,
		EntityID:   key.ID,
		Data:       json.RawMessage(data),
		StoredAt:   models.NowMillis(),
	}
	encoded, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		logging.ErrorWithCode("Failed to encode snapshot", string(errors.ErrStoreIO), err,
			map[string]interface{}{"entity_key": key.String()})
		return false
	}

	path := s.snapshotPath(key)
	prev := fileSize(path)

	if !s.writeAtomic(path, encoded) {
		return false
	}

	s.bytesUsed += int64(len(encoded)) - prev
	s.cache.Store(key, append([]byte(nil), data...))
	return true
}

// Retrieve returns the snapshot for a key, or nil and false if absent.
// Cache hits never touch the lock or the disk.
func (s *LocalStore) Retrieve(key models.EntityKey) ([]byte, bool) {
	if v, ok := s.cache.Load(key); ok {
		return v.([]byte), true
	}

	data, err := os.ReadFile(s.snapshotPath(key))
	if err != nil {
		return nil, false
	}
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Warn("Corrupt snapshot on read", map[string]interface{}{
			"entity_key": key.String(), "error": err.Error(),
		})
		return nil, false
	}
	s.cache.Store(key, []byte(rec.Data))
	return rec.Data, true
}

// Delete removes an entity snapshot from cache and disk. Deleting an
// absent key is a no-op that still reports success.
func (s *LocalStore) Delete(key models.EntityKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(key)
	size := fileSize(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.ErrorWithCode("Failed to delete snapshot", string(errors.ErrStoreIO), err,
			map[string]interface{}{"entity_key": key.String()})
		return false
	}
	s.bytesUsed -= size
	s.cache.Delete(key)
	return true
}

// LastSyncAt returns the timestamp of the last successful sync, or the
// zero time if the device has never synced.
func (s *LocalStore) LastSyncAt() time.Time {
	data, err := os.ReadFile(filepath.Join(s.root, metaDir, lastSyncFile))
	if err != nil {
		return time.Time{}
	}
	var rec metaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Warn("Corrupt sync metadata", map[string]interface{}{"error": err.Error()})
		return time.Time{}
	}
	if rec.LastSyncAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, rec.LastSyncAt*int64(time.Millisecond))
}

// SetLastSyncAt persists the last successful sync timestamp.
func (s *LocalStore) SetLastSyncAt(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(&metaRecord{LastSyncAt: t.UnixMilli()}, "", "  ")
	if err != nil {
		logging.ErrorWithCode("Failed to encode sync metadata", string(errors.ErrStoreIO), err)
		return false
	}
	return s.writeAtomic(filepath.Join(s.root, metaDir, lastSyncFile), encoded)
}

// Stats reports storage usage, queue depth, and the last sync time.
func (s *LocalStore) Stats() models.StoreStats {
	s.mu.Lock()
	bytesUsed := s.bytesUsed
	s.mu.Unlock()
	pending := s.PendingChangeCount()

	entityCount := 0
	s.cache.Range(func(_, _ interface{}) bool {
		entityCount++
		return true
	})

	available := s.maxStorageBytes - bytesUsed
	if available < 0 {
		available = 0
	}

	return models.StoreStats{
		BytesUsed:      bytesUsed,
		BytesAvailable: available,
		EntityCount:    entityCount,
		PendingCount:   pending,
		LastSyncAt:     s.LastSyncAt(),
	}
}

// Clear wipes all snapshots, queued changes, and metadata. This is the
// destructive reset behind ForceResync and is never invoked internally.
func (s *LocalStore) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{entitiesDir, queueDir, metaDir} {
		path := filepath.Join(s.root, dir)
		if err := os.RemoveAll(path); err != nil {
			logging.ErrorWithCode("Failed to clear storage namespace", string(errors.ErrStoreIO), err,
				map[string]interface{}{"namespace": dir})
			return false
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			logging.ErrorWithCode("Failed to recreate storage namespace", string(errors.ErrStoreIO), err,
				map[string]interface{}{"namespace": dir})
			return false
		}
	}

	s.cache.Range(func(k, _ interface{}) bool {
		s.cache.Delete(k)
		return true
	})
	s.bytesUsed = 0
	s.queueCount = 0
	return true
}

// writeAtomic writes data via a temp file and rename so a crashed write
// never leaves a partial record behind. Caller holds the lock.
func (s *LocalStore) writeAtomic(path string, data []byte) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logging.ErrorWithCode("Failed to create directory", string(errors.ErrStoreIO), err,
			map[string]interface{}{"path": path})
		return false
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logging.ErrorWithCode("Failed to write record", string(errors.ErrStoreIO), err,
			map[string]interface{}{"path": path})
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.ErrorWithCode("Failed to publish record", string(errors.ErrStoreIO), err,
			map[string]interface{}{"path": path})
		os.Remove(tmp)
		return false
	}
	return true
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
