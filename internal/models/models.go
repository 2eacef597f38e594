// Package models provides data model definitions for the FieldSync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// EntityKey identifies one synchronized entity. It is a value type with
// structural equality so it can be used directly as a map key; the joined
// "Type:ID" form only appears at the storage layer.
type EntityKey struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// NewEntityKey creates an EntityKey from its two parts.
func NewEntityKey(entityType, entityID string) EntityKey {
	return EntityKey{Type: entityType, ID: entityID}
}

// String returns the joined "Type:ID" storage form.
func (k EntityKey) String() string {
	return k.Type + ":" + k.ID
}

// IsZero reports whether the key is empty.
func (k EntityKey) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// ParseEntityKey parses the joined "Type:ID" storage form back into a key.
// The ID part may itself contain colons; only the first separator splits.
func ParseEntityKey(s string) (EntityKey, error) {
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return EntityKey{}, fmt.Errorf("malformed entity key: %q", s)
	}
	return EntityKey{Type: s[:idx], ID: s[idx+1:]}, nil
}
