// Package models provides data model definitions for the FieldSync core.
package models

import (
	"encoding/json"
	"time"
)

// ResolutionStrategy selects how a detected conflict is resolved.
type ResolutionStrategy string

const (
	// ResolutionServerWins keeps the server payload.
	ResolutionServerWins ResolutionStrategy = "server_wins"
	// ResolutionClientWins keeps the local payload.
	ResolutionClientWins ResolutionStrategy = "client_wins"
	// ResolutionLatestWins keeps the side with the later modification time.
	// Equal timestamps resolve to the server side.
	ResolutionLatestWins ResolutionStrategy = "latest_wins"
	// ResolutionMerge starts from the server fields and adds local fields
	// absent on the server. Overlapping fields keep the server value.
	ResolutionMerge ResolutionStrategy = "merge"
	// ResolutionManual parks the conflict until an operator resolves it.
	ResolutionManual ResolutionStrategy = "manual"
)

// Valid reports whether the strategy is one of the five known strategies.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolutionServerWins, ResolutionClientWins, ResolutionLatestWins,
		ResolutionMerge, ResolutionManual:
		return true
	}
	return false
}

// Conflict records a detected divergence between a pending local change and
// an incoming remote change for the same entity. Auto-resolved conflicts are
// discarded after resolution; manual conflicts stay queryable until resolved.
type Conflict struct {
	ID                 UUID               `db:"id" json:"id"`
	EntityType         string             `db:"entity_type" json:"entity_type"`
	EntityID           string             `db:"entity_id" json:"entity_id"`
	LocalPayload       json.RawMessage    `db:"local_payload" json:"local_payload,omitempty"`
	ServerPayload      json.RawMessage    `db:"server_payload" json:"server_payload,omitempty"`
	LocalVersion       int                `db:"local_version" json:"local_version"`
	ServerVersion      int                `db:"server_version" json:"server_version"`
	LocalModifiedAt    int64              `db:"local_modified_at" json:"local_modified_at"`
	ServerModifiedAt   int64              `db:"server_modified_at" json:"server_modified_at"`
	LocalModifiedBy    string             `db:"local_modified_by" json:"local_modified_by,omitempty"`
	ServerModifiedBy   string             `db:"server_modified_by" json:"server_modified_by,omitempty"`
	ResolutionStrategy ResolutionStrategy `db:"resolution_strategy" json:"resolution_strategy,omitempty"`
	ResolvedPayload    json.RawMessage    `db:"resolved_payload" json:"resolved_payload,omitempty"`
	DetectedAt         int64              `db:"detected_at" json:"detected_at"`
	ResolvedAt         int64              `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy         string             `db:"resolved_by" json:"resolved_by,omitempty"`
}

// TableName returns the journal table name for Conflict.
func (Conflict) TableName() string {
	return "conflict_log"
}

// Key returns the entity key both sides of the conflict refer to.
func (c *Conflict) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// IsResolved reports whether the conflict has been resolved.
func (c *Conflict) IsResolved() bool {
	return c.ResolvedAt != 0
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *Conflict) DetectedAtTime() time.Time {
	return time.Unix(0, c.DetectedAt*int64(time.Millisecond))
}
