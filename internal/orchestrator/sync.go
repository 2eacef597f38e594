// Package orchestrator owns the offline-first sync lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/offsitehq/fieldsync/internal/events"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/models"
	"github.com/offsitehq/fieldsync/internal/uuid"
)

// Sync runs one full push/pull session. Sessions are mutually exclusive:
// a call while another session holds the semaphore returns an explicit
// "already syncing" failure immediately, never blocks or queues. The
// session itself never panics or returns an error; every failure is
// collected in the result's error list and success means that list is
// empty.
func (o *Orchestrator) Sync(ctx context.Context) *models.SyncResult {
	result := &models.SyncResult{
		SessionID: models.UUID(uuid.New()),
		Success:   true,
		StartedAt: time.Now(),
	}

	select {
	case <-o.syncGate:
	default:
		result.AddError("sync already in progress")
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
		return result
	}

	o.isSyncing.Store(true)
	defer func() {
		o.isSyncing.Store(false)
		o.syncGate <- struct{}{}
	}()

	if !o.online.Load() {
		result.AddError("device is offline")
		o.finishSession(result)
		return result
	}

	logging.Info("Sync session started", map[string]interface{}{
		"session_id": result.SessionID.String(),
		"device_id":  o.deviceID,
	})

	o.pushPending(ctx, result)

	// The pull window only advances when the pull phase ran clean.
	// Otherwise the next session re-pulls from the same point and the
	// server changes missed in the failed window are delivered again.
	if o.pullRemote(ctx, result) {
		if !o.store.SetLastSyncAt(time.Now()) {
			result.AddError("failed to persist last sync time")
		}
	}

	o.finishSession(result)
	return result
}

// finishSession stamps the result, journals it, and emits the
// sync-completed event.
func (o *Orchestrator) finishSession(result *models.SyncResult) {
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = len(result.Errors) == 0

	o.journalSession(result)
	o.hub.Publish(events.TypeSyncCompleted, map[string]interface{}{
		"session_id":         result.SessionID.String(),
		"success":            result.Success,
		"changes_pushed":     result.ChangesPushed,
		"changes_pulled":     result.ChangesPulled,
		"changes_failed":     result.ChangesFailed,
		"conflicts_detected": result.ConflictsDetected,
		"conflicts_resolved": result.ConflictsResolved,
		"bytes_pushed":       result.BytesPushed,
		"bytes_pulled":       result.BytesPulled,
		"duration_ms":        result.Duration.Milliseconds(),
		"errors":             result.Errors,
	})

	logging.Info("Sync session finished", map[string]interface{}{
		"session_id":     result.SessionID.String(),
		"success":        result.Success,
		"changes_pushed": result.ChangesPushed,
		"changes_pulled": result.ChangesPulled,
		"error_count":    len(result.Errors),
	})
}

// pushPending drains the pending queue in (priority, creation-time)
// order, pushing one change at a time. Cancellation halts further queue
// iteration; changes already pushed stay pushed.
func (o *Orchestrator) pushPending(ctx context.Context, result *models.SyncResult) {
	pending := o.store.GetPendingChanges()
	for _, change := range pending {
		if ctx.Err() != nil {
			result.AddError(fmt.Sprintf("push phase cancelled: %v", ctx.Err()))
			return
		}
		o.pushOne(ctx, change, result)
	}
}

// pushOne pushes a single change, looping through the bounded
// retrying -> syncing cycle until ack, cancellation, or the retry
// budget is spent. The retry count is persisted with the change, so a
// change that burned retries in an earlier session keeps its tally.
func (o *Orchestrator) pushOne(ctx context.Context, change *models.Change, result *models.SyncResult) {
	if updated, ok := o.store.UpdateChangeStatus(change.ID, models.ChangeStatusSyncing, ""); ok {
		change = updated
	}

	for {
		acks, err := o.endpoint.Push(ctx, o.deviceID, []*models.Change{change})

		var pushErr string
		switch {
		case err != nil:
			pushErr = err.Error()
		case len(acks) == 0:
			pushErr = "remote returned no ack"
		case !acks[0].OK:
			pushErr = acks[0].Error
		}

		if pushErr == "" {
			synced, _ := o.store.UpdateChangeStatus(change.ID, models.ChangeStatusSynced, "")
			o.journalChange(synced)
			result.ChangesPushed++
			result.BytesPushed += int64(len(change.Payload))
			return
		}

		retried, ok := o.store.UpdateChangeStatus(change.ID, models.ChangeStatusRetrying, pushErr)
		if ok {
			change = retried
		} else {
			change.RetryCount++
		}

		if change.RetryCount > o.cfg.MaxRetries {
			failed, _ := o.store.UpdateChangeStatus(change.ID, models.ChangeStatusFailed, pushErr)
			o.journalChange(failed)
			result.ChangesFailed++
			result.AddError(fmt.Sprintf("push failed for change %s (%s) after %d retries: %s",
				change.ID, change.Key(), change.RetryCount-1, pushErr))
			return
		}

		logging.Warn("Push failed, will retry", map[string]interface{}{
			"change_id":   change.ID.String(),
			"entity_key":  change.Key().String(),
			"retry_count": change.RetryCount,
			"max_retries": o.cfg.MaxRetries,
			"error":       pushErr,
		})

		select {
		case <-ctx.Done():
			// Left in retrying; the next session picks it up.
			result.AddError(fmt.Sprintf("push retry cancelled for change %s: %v", change.ID, ctx.Err()))
			return
		case <-time.After(o.cfg.RetryDelay):
		}

		if updated, ok := o.store.UpdateChangeStatus(change.ID, models.ChangeStatusSyncing, ""); ok {
			change = updated
		}
	}
}

// pullRemote fetches server changes since the last sync, following
// continuation tokens until the page stream ends, and applies them in
// server-delivery order. Pull failures are session errors but do not
// undo the completed push phase. Returns true only when every delivered
// change was handled, so the caller knows whether the pull window may
// advance.
func (o *Orchestrator) pullRemote(ctx context.Context, result *models.SyncResult) bool {
	since := o.store.LastSyncAt()

	// Still-pending local changes overlap detection runs against. An
	// entity with several queued writes is represented by its newest one;
	// that is the local state a server change has to beat.
	pendingByKey := make(map[models.EntityKey]*models.Change)
	for _, change := range o.store.GetPendingChanges() {
		if prev, seen := pendingByKey[change.Key()]; !seen || change.Version > prev.Version {
			pendingByKey[change.Key()] = change
		}
	}

	versions := make(map[models.EntityKey]int)
	o.versions.Range(func(k, v interface{}) bool {
		versions[k.(models.EntityKey)] = v.(int)
		return true
	})

	clean := true
	token := ""
	for {
		if ctx.Err() != nil {
			result.AddError(fmt.Sprintf("pull phase cancelled: %v", ctx.Err()))
			return false
		}

		resp, err := o.endpoint.Pull(ctx, o.deviceID, since, versions, token)
		if err != nil {
			result.AddError(fmt.Sprintf("pull failed: %v", err))
			return false
		}

		for _, sc := range resp.Changes {
			if ctx.Err() != nil {
				result.AddError(fmt.Sprintf("pull phase cancelled: %v", ctx.Err()))
				return false
			}
			if !o.applyServerChange(sc, pendingByKey, result) {
				clean = false
			}
		}

		if !resp.HasMore {
			return clean
		}
		token = resp.ContinuationToken
	}
}

// applyServerChange reconciles one incoming server change against local
// state. Re-applying the same server change is idempotent because the
// snapshot store overwrites by key. Returns false when the change could
// not be applied and must be redelivered by a later session.
func (o *Orchestrator) applyServerChange(sc *models.ServerChange, pendingByKey map[models.EntityKey]*models.Change, result *models.SyncResult) bool {
	key := sc.Key()

	if local, overlaps := pendingByKey[key]; overlaps {
		if conf := o.resolver.Detect(local, sc); conf != nil {
			return o.reconcileConflict(conf, local, sc, pendingByKey, result)
		}
		// No divergence. If the local side already dominates the server
		// version, the pending change supersedes this delivery; skip it
		// rather than clobber newer local data.
		if local.Version >= sc.Version && local.ContentHash != sc.ContentHash {
			logging.Debug("Skipping stale server change", map[string]interface{}{
				"entity_key":     key.String(),
				"local_version":  local.Version,
				"server_version": sc.Version,
			})
			return true
		}
	}

	if sc.Operation == models.OperationDelete {
		if !o.store.Delete(key) {
			result.AddError(fmt.Sprintf("failed to apply server delete for %s", key))
			return false
		}
	} else {
		if !o.store.Store(key, sc.Payload) {
			result.AddError(fmt.Sprintf("failed to apply server change for %s", key))
			return false
		}
	}

	o.advanceVersion(key, sc.Version)
	result.ChangesPulled++
	result.BytesPulled += int64(len(sc.Payload))
	return true
}

// reconcileConflict emits the conflict-detected event, resolves with the
// configured default strategy, and applies the resolved payload. Manual
// conflicts stay parked: nothing is applied until ManualResolve. When
// the resolution settles on anything other than the local payload, the
// queued local changes for the entity are dropped; pushing them later
// would re-diverge the entity the resolution just settled.
func (o *Orchestrator) reconcileConflict(conf *models.Conflict, local *models.Change, sc *models.ServerChange, pendingByKey map[models.EntityKey]*models.Change, result *models.SyncResult) bool {
	key := conf.Key()
	result.ConflictsDetected++

	o.hub.Publish(events.TypeConflictDetected, map[string]interface{}{
		"conflict_id":    conf.ID.String(),
		"entity_type":    conf.EntityType,
		"entity_id":      conf.EntityID,
		"local_version":  conf.LocalVersion,
		"server_version": conf.ServerVersion,
	})
	o.journalConflict(conf)

	resolved, err := o.resolver.Resolve(conf, o.cfg.DefaultStrategy)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to resolve conflict for %s: %v", key, err))
		return false
	}

	if resolved.ResolutionStrategy == models.ResolutionManual && !resolved.IsResolved() {
		return true
	}

	if !o.store.Store(key, resolved.ResolvedPayload) {
		result.AddError(fmt.Sprintf("failed to apply resolved payload for %s", key))
		return false
	}

	if models.HashPayload(resolved.ResolvedPayload) != local.ContentHash {
		o.dropSupersededChanges(key)
		delete(pendingByKey, key)
	}

	o.advanceVersion(key, sc.Version)
	o.journalConflict(resolved)
	result.ConflictsResolved++
	result.ChangesPulled++
	result.BytesPulled += int64(len(sc.Payload))
	return true
}

// dropSupersededChanges removes every queued change for an entity whose
// final state a resolution has already decided.
func (o *Orchestrator) dropSupersededChanges(key models.EntityKey) {
	for _, pending := range o.store.GetPendingChanges() {
		if pending.Key() != key {
			continue
		}
		if !o.store.RemoveChange(pending.ID) {
			continue
		}
		logging.Info("Dropped superseded local change", map[string]interface{}{
			"change_id":  pending.ID.String(),
			"entity_key": key.String(),
		})
	}
}
