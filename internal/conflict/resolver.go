// Package conflict provides conflict detection and resolution for
// multi-device synchronization. Detection and the automatic strategies are
// pure functions over a (local change, server change) pair; the only
// shared state is the table of conflicts awaiting manual resolution.
package conflict

import (
	"encoding/json"
	"sync"

	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/models"
	"github.com/offsitehq/fieldsync/internal/uuid"
)

// Resolver detects divergence between pending local changes and incoming
// server changes and applies a resolution strategy. Safe for concurrent
// use; detect/resolve calls on distinct conflicts never block each other.
type Resolver struct {
	defaultStrategy models.ResolutionStrategy
	unresolved      sync.Map // models.UUID -> *models.Conflict
}

// NewResolver creates a Resolver with the given default strategy.
func NewResolver(defaultStrategy models.ResolutionStrategy) *Resolver {
	if !defaultStrategy.Valid() {
		defaultStrategy = models.ResolutionLatestWins
	}
	return &Resolver{defaultStrategy: defaultStrategy}
}

// DefaultStrategy returns the strategy used when Resolve is handed an
// invalid one.
func (r *Resolver) DefaultStrategy() models.ResolutionStrategy {
	return r.defaultStrategy
}

// Detect compares a pending local change against an incoming server
// change for the same entity and returns a Conflict if they diverge.
// Returns nil when:
//   - the two sides target different entities,
//   - the local version already dominates (local.Version >= server.Version),
//   - the content hashes match (value-equivalent despite version skew).
func (r *Resolver) Detect(local *models.Change, server *models.ServerChange) *models.Conflict {
	if local == nil || server == nil {
		return nil
	}
	if local.Key() != server.Key() {
		return nil
	}
	if local.Version >= server.Version {
		return nil
	}
	if local.ContentHash == server.ContentHash {
		return nil
	}

	c := &models.Conflict{
		ID:               models.UUID(uuid.New()),
		EntityType:       local.EntityType,
		EntityID:         local.EntityID,
		LocalPayload:     local.Payload,
		ServerPayload:    server.Payload,
		LocalVersion:     local.Version,
		ServerVersion:    server.Version,
		LocalModifiedAt:  local.CreatedAt,
		ServerModifiedAt: server.ModifiedAt,
		LocalModifiedBy:  local.CreatedBy,
		ServerModifiedBy: server.ModifiedBy,
		DetectedAt:       models.NowMillis(),
	}

	logging.Warn("Sync conflict detected", map[string]interface{}{
		"conflict_id":    c.ID.String(),
		"entity_key":     c.Key().String(),
		"local_version":  c.LocalVersion,
		"server_version": c.ServerVersion,
	})

	return c
}

// Resolve applies a strategy to a detected conflict and fills in its
// resolution fields. Automatic strategies stamp ResolvedAt; Manual parks
// the conflict in the unresolved table until ManualResolve is called.
// An unknown strategy falls back to the resolver's default.
func (r *Resolver) Resolve(c *models.Conflict, strategy models.ResolutionStrategy) (*models.Conflict, error) {
	if c == nil {
		return nil, ErrInvalidConflict
	}
	if !strategy.Valid() {
		strategy = r.defaultStrategy
	}
	c.ResolutionStrategy = strategy

	switch strategy {
	case models.ResolutionServerWins:
		c.ResolvedPayload = c.ServerPayload
	case models.ResolutionClientWins:
		c.ResolvedPayload = c.LocalPayload
	case models.ResolutionLatestWins:
		// Tie on modification time resolves to the server side.
		if c.LocalModifiedAt > c.ServerModifiedAt {
			c.ResolvedPayload = c.LocalPayload
		} else {
			c.ResolvedPayload = c.ServerPayload
		}
	case models.ResolutionMerge:
		c.ResolvedPayload = r.mergePayloads(c)
	case models.ResolutionManual:
		r.unresolved.Store(c.ID, c)
		logging.Warn("Conflict queued for manual resolution", map[string]interface{}{
			"conflict_id": c.ID.String(),
			"entity_key":  c.Key().String(),
		})
		return c, nil
	}

	c.ResolvedAt = models.NowMillis()
	c.ResolvedBy = "system"

	logging.Info("Conflict resolved", map[string]interface{}{
		"conflict_id": c.ID.String(),
		"entity_key":  c.Key().String(),
		"strategy":    string(c.ResolutionStrategy),
	})

	return c, nil
}

// mergePayloads implements the merge strategy: start from the server's
// fields, then add any field present locally but absent on the server.
// A field present on both sides keeps the server value; local edits to
// overlapping fields are dropped. Payloads that fail to parse as JSON
// objects degrade to server-wins.
func (r *Resolver) mergePayloads(c *models.Conflict) json.RawMessage {
	var serverFields, localFields map[string]interface{}

	if err := json.Unmarshal(c.ServerPayload, &serverFields); err != nil {
		logging.Warn("Merge degraded to server-wins: malformed server payload",
			map[string]interface{}{"conflict_id": c.ID.String(), "error": err.Error()})
		return c.ServerPayload
	}
	if err := json.Unmarshal(c.LocalPayload, &localFields); err != nil {
		logging.Warn("Merge degraded to server-wins: malformed local payload",
			map[string]interface{}{"conflict_id": c.ID.String(), "error": err.Error()})
		return c.ServerPayload
	}

	merged := make(map[string]interface{}, len(serverFields)+len(localFields))
	for k, v := range serverFields {
		merged[k] = v
	}
	for k, v := range localFields {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		logging.Warn("Merge degraded to server-wins: failed to encode merge",
			map[string]interface{}{"conflict_id": c.ID.String(), "error": err.Error()})
		return c.ServerPayload
	}
	return out
}

// GetUnresolved returns all conflicts awaiting manual resolution.
func (r *Resolver) GetUnresolved() []*models.Conflict {
	var out []*models.Conflict
	r.unresolved.Range(func(_, v interface{}) bool {
		out = append(out, v.(*models.Conflict))
		return true
	})
	return out
}

// GetUnresolvedByID returns one parked conflict by id.
func (r *Resolver) GetUnresolvedByID(id models.UUID) (*models.Conflict, bool) {
	v, ok := r.unresolved.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*models.Conflict), true
}

// DiscardUnresolved empties the manual-resolution table. Used when local
// state is wiped and the parked conflicts no longer reference any
// existing snapshot or version.
func (r *Resolver) DiscardUnresolved() {
	r.unresolved.Range(func(k, _ interface{}) bool {
		r.unresolved.Delete(k)
		return true
	})
}

// ManualResolve completes a manually-parked conflict with an operator
// supplied payload and removes it from the unresolved table.
func (r *Resolver) ManualResolve(id models.UUID, payload json.RawMessage, resolvedBy string) (*models.Conflict, error) {
	v, ok := r.unresolved.LoadAndDelete(id)
	if !ok {
		return nil, ErrConflictNotFound
	}
	c := v.(*models.Conflict)
	c.ResolvedPayload = payload
	c.ResolvedAt = models.NowMillis()
	c.ResolvedBy = resolvedBy

	logging.Info("Conflict resolved manually", map[string]interface{}{
		"conflict_id": c.ID.String(),
		"entity_key":  c.Key().String(),
		"resolved_by": resolvedBy,
	})

	return c, nil
}

// Errors
var (
	ErrInvalidConflict  = &ConflictError{Message: "invalid conflict: must be non-nil"}
	ErrConflictNotFound = &ConflictError{Message: "conflict not found in unresolved table"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
