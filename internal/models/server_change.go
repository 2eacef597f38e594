// Package models provides data model definitions for the FieldSync core.
package models

import (
	"encoding/json"
	"time"
)

// ServerChange is an incoming change delivered by the remote authority
// during pull. Server-delivery order is trusted and never re-ordered
// locally.
type ServerChange struct {
	ID          UUID            `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Operation   Operation       `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ContentHash string          `json:"content_hash"`
	Version     int             `json:"version"`
	ModifiedAt  int64           `json:"modified_at"`
	ModifiedBy  string          `json:"modified_by,omitempty"`
}

// Key returns the entity key this change targets.
func (c *ServerChange) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// ModifiedAtTime returns the ModifiedAt as time.Time.
func (c *ServerChange) ModifiedAtTime() time.Time {
	return time.Unix(0, c.ModifiedAt*int64(time.Millisecond))
}
