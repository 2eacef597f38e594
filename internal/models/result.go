// Package models provides data model definitions for the FieldSync core.
package models

import "time"

// NowMillis returns the current wall clock as unix milliseconds, the
// timestamp representation used across all persisted records.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SyncResult summarizes one sync session. A session never fails by
// throwing; every failure lands in Errors and Success reflects whether
// the list ended up empty.
type SyncResult struct {
	SessionID         UUID          `json:"session_id"`
	Success           bool          `json:"success"`
	ChangesPushed     int           `json:"changes_pushed"`
	ChangesPulled     int           `json:"changes_pulled"`
	ChangesFailed     int           `json:"changes_failed"`
	ConflictsDetected int           `json:"conflicts_detected"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	BytesPushed       int64         `json:"bytes_pushed"`
	BytesPulled       int64         `json:"bytes_pulled"`
	Errors            []string      `json:"errors,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       time.Time     `json:"completed_at"`
	Duration          time.Duration `json:"duration"`
}

// AddError records a session error and flips Success off.
func (r *SyncResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}

// StoreStats reports local storage usage and queue depth.
type StoreStats struct {
	BytesUsed      int64     `json:"bytes_used"`
	BytesAvailable int64     `json:"bytes_available"`
	EntityCount    int       `json:"entity_count"`
	PendingCount   int       `json:"pending_count"`
	LastSyncAt     time.Time `json:"last_sync_at"`
}
