// Package remote defines the transport boundary to the remote sync
// authority. The orchestrator only ever talks to the Endpoint interface;
// the wire protocol behind it is interchangeable.
package remote

import (
	"context"
	"time"

	"github.com/offsitehq/fieldsync/internal/models"
)

// PushAck is the per-change outcome of a push. Pushes are idempotent by
// change id: re-pushing an acknowledged change acks again without effect.
type PushAck struct {
	ChangeID models.UUID `json:"change_id"`
	OK       bool        `json:"ok"`
	Error    string      `json:"error,omitempty"`
}

// PullResponse carries one page of server changes. When HasMore is set
// the caller resumes with ContinuationToken until the page stream ends.
type PullResponse struct {
	Changes           []*models.ServerChange `json:"changes"`
	Conflicts         []*models.Conflict     `json:"conflicts,omitempty"`
	HasMore           bool                   `json:"has_more"`
	ContinuationToken string                 `json:"continuation_token,omitempty"`
}

// Endpoint is the remote sync collaborator.
type Endpoint interface {
	// Push delivers pending local changes and returns one ack per change.
	Push(ctx context.Context, deviceID string, changes []*models.Change) ([]PushAck, error)

	// Pull fetches server changes since the given time. entityVersions
	// advertises the device's current per-entity versions so the server
	// can skip changes the device already has. An empty token starts a
	// fresh pull; a non-empty one resumes a paged pull.
	Pull(ctx context.Context, deviceID string, since time.Time, entityVersions map[models.EntityKey]int, token string) (*PullResponse, error)
}
