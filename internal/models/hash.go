// Package models provides data model definitions for the FieldSync core.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashPayload calculates the SHA-256 content hash of a serialized payload.
// The payload is canonicalized first (JSON re-marshal with sorted object
// keys) so two value-equal payloads hash identically regardless of the
// field order they were written with. Non-JSON payloads hash as raw bytes.
func HashPayload(payload []byte) string {
	canonical := canonicalize(payload)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalize round-trips JSON through interface{} so maps re-marshal
// with deterministic key order. Invalid JSON is returned unchanged.
func canonicalize(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}
