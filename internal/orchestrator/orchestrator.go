// Package orchestrator owns the offline-first sync lifecycle: the
// Save/Get/Delete API application code writes through, connectivity
// state, per-entity version counters, and the sync session state
// machine driving push/pull cycles against the remote authority.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offsitehq/fieldsync/internal/config"
	"github.com/offsitehq/fieldsync/internal/conflict"
	"github.com/offsitehq/fieldsync/internal/errors"
	"github.com/offsitehq/fieldsync/internal/events"
	"github.com/offsitehq/fieldsync/internal/journal"
	"github.com/offsitehq/fieldsync/internal/localstore"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/models"
	"github.com/offsitehq/fieldsync/internal/remote"
	"github.com/offsitehq/fieldsync/internal/uuid"
)

// Orchestrator coordinates the local store, the conflict resolver, and
// the remote endpoint. One instance owns one device id, one change
// queue, one version map, and one snapshot set; divergence between
// devices is resolved only through the remote authority.
type Orchestrator struct {
	cfg      *config.Config
	store    *localstore.LocalStore
	resolver *conflict.Resolver
	endpoint remote.Endpoint
	journal  *journal.Journal // optional; best-effort history
	hub      *events.Hub

	deviceID string

	online    atomic.Bool
	isSyncing atomic.Bool
	syncGate  chan struct{} // binary semaphore serializing sessions
	versions  sync.Map      // models.EntityKey -> int

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoWG     sync.WaitGroup
}

// New creates an Orchestrator. The device starts offline; call
// SetOnline(true) once connectivity is confirmed.
func New(cfg *config.Config, store *localstore.LocalStore, resolver *conflict.Resolver, endpoint remote.Endpoint) *Orchestrator {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = uuid.New()
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		endpoint: endpoint,
		hub:      events.NewHub(),
		deviceID: deviceID,
		syncGate: make(chan struct{}, 1),
	}
	o.syncGate <- struct{}{}
	return o
}

// SetJournal attaches the optional SQLite history journal. Journal
// failures are logged and never fail a sync.
func (o *Orchestrator) SetJournal(j *journal.Journal) {
	o.journal = j
}

// Events returns the hub carrying the observable event feed.
func (o *Orchestrator) Events() *events.Hub {
	return o.hub
}

// DeviceID returns this instance's device id.
func (o *Orchestrator) DeviceID() string {
	return o.deviceID
}

// Resolver exposes the conflict resolver, e.g. for listing unresolved
// manual conflicts.
func (o *Orchestrator) Resolver() *conflict.Resolver {
	return o.resolver
}

// IsOnline reports the current connectivity state.
func (o *Orchestrator) IsOnline() bool {
	return o.online.Load()
}

// IsSyncing reports whether a sync session is currently active.
func (o *Orchestrator) IsSyncing() bool {
	return o.isSyncing.Load()
}

// LastSyncAt returns the time of the last successful sync.
func (o *Orchestrator) LastSyncAt() time.Time {
	return o.store.LastSyncAt()
}

// Stats reports local storage usage and queue depth.
func (o *Orchestrator) Stats() models.StoreStats {
	return o.store.Stats()
}

// SetOnline toggles connectivity. Every transition emits a
// connectivity-changed event; coming back online fires a background
// sync attempt.
func (o *Orchestrator) SetOnline(online bool) {
	was := o.online.Swap(online)
	if was == online {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{
		"device_id": o.deviceID,
		"online":    online,
	})
	o.hub.Publish(events.TypeConnectivityChanged, map[string]interface{}{
		"online": online,
	})

	if online {
		go o.syncQuietly()
	}
}

// EntityVersion returns the current version counter for an entity, or 0
// if the entity has never been written on this device.
func (o *Orchestrator) EntityVersion(key models.EntityKey) int {
	if v, ok := o.versions.Load(key); ok {
		return v.(int)
	}
	return 0
}

// bumpVersion increments an entity's version counter by exactly one and
// returns the new value.
func (o *Orchestrator) bumpVersion(key models.EntityKey) int {
	for {
		current, _ := o.versions.LoadOrStore(key, 0)
		next := current.(int) + 1
		if o.versions.CompareAndSwap(key, current, next) {
			return next
		}
	}
}

// advanceVersion raises an entity's version counter to at least v.
// Counters never decrement.
func (o *Orchestrator) advanceVersion(key models.EntityKey, v int) {
	for {
		current, _ := o.versions.LoadOrStore(key, 0)
		if current.(int) >= v {
			return
		}
		if o.versions.CompareAndSwap(key, current, v) {
			return
		}
	}
}

// Save persists an entity locally and queues a change for push. The
// local write always succeeds or fails on its own; connectivity only
// decides whether a background sync is attempted afterwards.
func (o *Orchestrator) Save(entityType, entityID string, data []byte, userID, projectID string) error {
	key := models.NewEntityKey(entityType, entityID)

	op := models.OperationUpdate
	if _, exists := o.store.Retrieve(key); !exists {
		op = models.OperationCreate
	}

	if !o.store.Store(key, data) {
		return errors.New(errors.ErrStoreIO, "failed to persist entity snapshot")
	}

	version := o.bumpVersion(key)

	change := &models.Change{
		ID:          models.UUID(uuid.New()),
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		Payload:     json.RawMessage(data),
		ContentHash: models.HashPayload(data),
		CreatedAt:   models.NowMillis(),
		CreatedBy:   userID,
		DeviceID:    o.deviceID,
		ProjectID:   projectID,
		Status:      models.ChangeStatusPending,
		Version:     version,
		Priority:    o.priorityFor(entityType),
	}
	if !o.store.EnqueueChange(change) {
		return errors.New(errors.ErrQueueFull, "failed to enqueue change")
	}

	logging.Debug("Entity saved", map[string]interface{}{
		"entity_key": key.String(),
		"version":    version,
		"operation":  string(op),
	})

	if o.online.Load() && !o.isSyncing.Load() {
		go o.syncQuietly()
	}
	return nil
}

// Get returns the local snapshot for an entity, offline or not.
func (o *Orchestrator) Get(entityType, entityID string) ([]byte, bool) {
	return o.store.Retrieve(models.NewEntityKey(entityType, entityID))
}

// Delete removes the local snapshot and queues a delete change.
func (o *Orchestrator) Delete(entityType, entityID, userID string) error {
	key := models.NewEntityKey(entityType, entityID)

	if !o.store.Delete(key) {
		return errors.New(errors.ErrStoreIO, "failed to delete entity snapshot")
	}

	version := o.bumpVersion(key)

	change := &models.Change{
		ID:          models.UUID(uuid.New()),
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   models.OperationDelete,
		ContentHash: models.HashPayload(nil),
		CreatedAt:   models.NowMillis(),
		CreatedBy:   userID,
		DeviceID:    o.deviceID,
		Status:      models.ChangeStatusPending,
		Version:     version,
		Priority:    o.priorityFor(entityType),
	}
	if !o.store.EnqueueChange(change) {
		return errors.New(errors.ErrQueueFull, "failed to enqueue delete change")
	}

	if o.online.Load() && !o.isSyncing.Load() {
		go o.syncQuietly()
	}
	return nil
}

// GetPendingChanges returns queued changes awaiting push.
func (o *Orchestrator) GetPendingChanges() []*models.Change {
	return o.store.GetPendingChanges()
}

// ManualResolve completes a manually-parked conflict, applies the
// operator-supplied payload locally, and journals the outcome.
func (o *Orchestrator) ManualResolve(conflictID models.UUID, payload json.RawMessage, resolvedBy string) error {
	resolved, err := o.resolver.ManualResolve(conflictID, payload, resolvedBy)
	if err != nil {
		return err
	}

	key := resolved.Key()
	if !o.store.Store(key, resolved.ResolvedPayload) {
		return errors.New(errors.ErrStoreIO, "failed to apply resolved payload")
	}
	o.advanceVersion(key, resolved.ServerVersion)
	o.journalConflict(resolved)
	return nil
}

// ForceResync wipes all local state (snapshots, queue, versions, parked
// conflicts, last sync time) and performs a full sync. This is the designated recovery
// path for corrupted local state and the only destructive operation.
func (o *Orchestrator) ForceResync(ctx context.Context) *models.SyncResult {
	logging.Warn("Force resync requested, clearing local state", map[string]interface{}{
		"device_id": o.deviceID,
	})

	if !o.store.Clear() {
		result := &models.SyncResult{
			SessionID:   models.UUID(uuid.New()),
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
		}
		result.AddError("failed to clear local state")
		return result
	}

	o.versions.Range(func(k, _ interface{}) bool {
		o.versions.Delete(k)
		return true
	})
	o.resolver.DiscardUnresolved()

	return o.Sync(ctx)
}

// priorityFor maps an entity type to its queue priority band: 0 for
// configured priority types, 1 for everything else.
func (o *Orchestrator) priorityFor(entityType string) int {
	if o.cfg.IsPriorityType(entityType) {
		return 0
	}
	return 1
}

// syncQuietly runs a background sync attempt and logs the outcome.
// Used for opportunistic syncs after writes and connectivity changes.
func (o *Orchestrator) syncQuietly() {
	result := o.Sync(context.Background())
	if !result.Success {
		logging.Debug("Background sync attempt did not complete", map[string]interface{}{
			"errors": result.Errors,
		})
	}
}

// journalChange records a change transition, best-effort.
func (o *Orchestrator) journalChange(change *models.Change) {
	if o.journal == nil || change == nil {
		return
	}
	if err := o.journal.RecordChange(change); err != nil {
		logging.ErrorWithCode("Failed to journal change", string(errors.ErrJournal), err,
			map[string]interface{}{"change_id": change.ID.String()})
	}
}

// journalConflict records a conflict outcome, best-effort.
func (o *Orchestrator) journalConflict(c *models.Conflict) {
	if o.journal == nil || c == nil {
		return
	}
	if err := o.journal.RecordConflict(c); err != nil {
		logging.ErrorWithCode("Failed to journal conflict", string(errors.ErrJournal), err,
			map[string]interface{}{"conflict_id": c.ID.String()})
	}
}

// journalSession records a session result, best-effort.
func (o *Orchestrator) journalSession(result *models.SyncResult) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordSession(result); err != nil {
		logging.ErrorWithCode("Failed to journal session", string(errors.ErrJournal), err,
			map[string]interface{}{"session_id": result.SessionID.String()})
	}
}
