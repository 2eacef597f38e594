// Package journal provides the SQLite-backed sync journal.
package journal

import (
	"database/sql"
	"strings"
	"time"

	"github.com/offsitehq/fieldsync/internal/models"
)

// RecordSession stores one completed sync session.
func (j *Journal) RecordSession(result *models.SyncResult) error {
	query := `
	INSERT INTO sync_sessions (id, success, changes_pushed, changes_pulled, changes_failed,
		conflicts_detected, conflicts_resolved, bytes_pushed, bytes_pulled, errors,
		started_at, completed_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := j.prepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(result.SessionID, result.Success, result.ChangesPushed, result.ChangesPulled,
		result.ChangesFailed, result.ConflictsDetected, result.ConflictsResolved,
		result.BytesPushed, result.BytesPulled, strings.Join(result.Errors, "\n"),
		result.StartedAt.UnixMilli(), result.CompletedAt.UnixMilli(), result.Duration.Milliseconds())
	return err
}

// RecordChange stores (or updates) a change's terminal transition.
func (j *Journal) RecordChange(change *models.Change) error {
	query := `
	INSERT INTO change_log (id, entity_type, entity_id, operation, content_hash, status,
		retry_count, last_error, version, priority, device_id, created_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		retry_count = excluded.retry_count,
		last_error = excluded.last_error,
		synced_at = excluded.synced_at
	`
	stmt, err := j.prepareStmt(query)
	if err != nil {
		return err
	}
	var syncedAt interface{}
	if change.SyncedAt != 0 {
		syncedAt = change.SyncedAt
	}
	_, err = stmt.Exec(change.ID, change.EntityType, change.EntityID, string(change.Operation),
		change.ContentHash, string(change.Status), change.RetryCount, change.LastError,
		change.Version, change.Priority, change.DeviceID, change.CreatedAt, syncedAt)
	return err
}

// RecordConflict stores a detected conflict and its resolution outcome.
// Payloads are deliberately not journaled; only the metadata needed to
// audit what happened.
func (j *Journal) RecordConflict(c *models.Conflict) error {
	query := `
	INSERT INTO conflict_log (id, entity_type, entity_id, local_version, server_version,
		local_modified_at, server_modified_at, local_modified_by, server_modified_by,
		resolution_strategy, detected_at, resolved_at, resolved_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		resolution_strategy = excluded.resolution_strategy,
		resolved_at = excluded.resolved_at,
		resolved_by = excluded.resolved_by
	`
	stmt, err := j.prepareStmt(query)
	if err != nil {
		return err
	}
	var resolvedAt interface{}
	if c.ResolvedAt != 0 {
		resolvedAt = c.ResolvedAt
	}
	_, err = stmt.Exec(c.ID, c.EntityType, c.EntityID, c.LocalVersion, c.ServerVersion,
		c.LocalModifiedAt, c.ServerModifiedAt, c.LocalModifiedBy, c.ServerModifiedBy,
		string(c.ResolutionStrategy), c.DetectedAt, resolvedAt, c.ResolvedBy)
	return err
}

// RecentSessions returns the n most recent sync sessions, newest first.
func (j *Journal) RecentSessions(n int) ([]*models.SyncResult, error) {
	query := `
	SELECT id, success, changes_pushed, changes_pulled, changes_failed,
		   conflicts_detected, conflicts_resolved, bytes_pushed, bytes_pulled, errors,
		   started_at, completed_at, duration_ms
	FROM sync_sessions ORDER BY started_at DESC LIMIT ?
	`
	rows, err := j.db.Query(query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.SyncResult
	for rows.Next() {
		var r models.SyncResult
		var errs string
		var startedAt, completedAt, durationMs int64
		if err := rows.Scan(&r.SessionID, &r.Success, &r.ChangesPushed, &r.ChangesPulled,
			&r.ChangesFailed, &r.ConflictsDetected, &r.ConflictsResolved,
			&r.BytesPushed, &r.BytesPulled, &errs,
			&startedAt, &completedAt, &durationMs); err != nil {
			return nil, err
		}
		if errs != "" {
			r.Errors = strings.Split(errs, "\n")
		}
		r.StartedAt = time.UnixMilli(startedAt)
		r.CompletedAt = time.UnixMilli(completedAt)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		sessions = append(sessions, &r)
	}
	return sessions, rows.Err()
}

// FailedChanges returns journaled changes that ended permanently failed.
func (j *Journal) FailedChanges() ([]*models.Change, error) {
	query := `
	SELECT id, entity_type, entity_id, operation, content_hash, status,
		   retry_count, last_error, version, priority, device_id, created_at, synced_at
	FROM change_log WHERE status = ? ORDER BY created_at
	`
	rows, err := j.db.Query(query, string(models.ChangeStatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChanges(rows)
}

// ConflictHistory returns every journaled conflict for one entity,
// oldest first.
func (j *Journal) ConflictHistory(key models.EntityKey) ([]*models.Conflict, error) {
	query := `
	SELECT id, entity_type, entity_id, local_version, server_version,
		   local_modified_at, server_modified_at, local_modified_by, server_modified_by,
		   resolution_strategy, detected_at, resolved_at, resolved_by
	FROM conflict_log WHERE entity_type = ? AND entity_id = ? ORDER BY detected_at
	`
	rows, err := j.db.Query(query, key.Type, key.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		var c models.Conflict
		var localBy, serverBy, strategy, resolvedBy sql.NullString
		var resolvedAt sql.NullInt64
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.LocalVersion, &c.ServerVersion,
			&c.LocalModifiedAt, &c.ServerModifiedAt, &localBy, &serverBy,
			&strategy, &c.DetectedAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, err
		}
		c.LocalModifiedBy = localBy.String
		c.ServerModifiedBy = serverBy.String
		c.ResolutionStrategy = models.ResolutionStrategy(strategy.String)
		c.ResolvedAt = resolvedAt.Int64
		c.ResolvedBy = resolvedBy.String
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

func scanChanges(rows *sql.Rows) ([]*models.Change, error) {
	var changes []*models.Change
	for rows.Next() {
		var c models.Change
		var lastError sql.NullString
		var syncedAt sql.NullInt64
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, (*string)(&c.Operation),
			&c.ContentHash, (*string)(&c.Status), &c.RetryCount, &lastError,
			&c.Version, &c.Priority, &c.DeviceID, &c.CreatedAt, &syncedAt); err != nil {
			return nil, err
		}
		c.LastError = lastError.String
		c.SyncedAt = syncedAt.Int64
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}
