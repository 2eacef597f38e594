// Package models provides data model definitions for the FieldSync core.
package models

import (
	"encoding/json"
	"time"
)

// Operation describes the kind of mutation a change carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ChangeStatus tracks a change through its push lifecycle.
// Transitions only move forward, except the bounded retrying -> syncing loop.
// A change never returns to pending once syncing has begun.
type ChangeStatus string

const (
	ChangeStatusPending  ChangeStatus = "pending"
	ChangeStatusSyncing  ChangeStatus = "syncing"
	ChangeStatusSynced   ChangeStatus = "synced"
	ChangeStatusConflict ChangeStatus = "conflict"
	ChangeStatusFailed   ChangeStatus = "failed"
	ChangeStatusRetrying ChangeStatus = "retrying"
)

// IsTerminal reports whether the status ends the push lifecycle.
func (s ChangeStatus) IsTerminal() bool {
	return s == ChangeStatusSynced || s == ChangeStatusFailed
}

// Change represents a queued local mutation awaiting push to the remote
// authority. Queue order is (priority ascending, created_at ascending).
type Change struct {
	ID          UUID            `db:"id" json:"id"`
	EntityType  string          `db:"entity_type" json:"entity_type"`
	EntityID    string          `db:"entity_id" json:"entity_id"`
	Operation   Operation       `db:"operation" json:"operation"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	ContentHash string          `db:"content_hash" json:"content_hash"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	CreatedBy   string          `db:"created_by" json:"created_by,omitempty"`
	DeviceID    string          `db:"device_id" json:"device_id"`
	ProjectID   string          `db:"project_id" json:"project_id,omitempty"`
	Status      ChangeStatus    `db:"status" json:"status"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	SyncedAt    int64           `db:"synced_at" json:"synced_at,omitempty"`
	Version     int             `db:"version" json:"version"`
	Priority    int             `db:"priority" json:"priority"`
}

// TableName returns the journal table name for Change.
func (Change) TableName() string {
	return "change_log"
}

// Key returns the entity key this change targets.
func (c *Change) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *Change) CreatedAtTime() time.Time {
	return time.Unix(0, c.CreatedAt*int64(time.Millisecond))
}

// SyncedAtTime returns the SyncedAt as time.Time, or zero if never synced.
func (c *Change) SyncedAtTime() time.Time {
	if c.SyncedAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, c.SyncedAt*int64(time.Millisecond))
}

// Less reports queue ordering: priority ascending, then creation time.
func (c *Change) Less(other *Change) bool {
	if c.Priority != other.Priority {
		return c.Priority < other.Priority
	}
	return c.CreatedAt < other.CreatedAt
}
