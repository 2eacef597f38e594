// Package remote defines the transport boundary to the remote sync
// authority.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/offsitehq/fieldsync/internal/models"
)

// MemoryEndpoint is an in-process Endpoint used by tests and the demo
// binary. It simulates network latency and per-change push failures and
// records every accepted change so tests can assert push ordering.
type MemoryEndpoint struct {
	mu sync.Mutex

	latency  time.Duration
	pageSize int

	// server-side state
	serverChanges []*models.ServerChange // pending deliveries, in server order
	accepted      []*models.Change       // every change acked, in arrival order
	ackedIDs      map[models.UUID]bool   // idempotency by change id

	failPush map[models.UUID]int // change id -> remaining failures to inject
	downErr  error               // non-nil simulates total unavailability
}

// NewMemoryEndpoint creates an empty simulated endpoint.
func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{
		pageSize: 100,
		ackedIDs: make(map[models.UUID]bool),
		failPush: make(map[models.UUID]int),
	}
}

// SetLatency makes every Push/Pull sleep for d before answering.
func (m *MemoryEndpoint) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetPageSize limits how many changes one Pull page carries.
func (m *MemoryEndpoint) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

// SetDown makes the endpoint fail every call with err (nil restores it).
func (m *MemoryEndpoint) SetDown(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downErr = err
}

// FailPush injects n consecutive per-change failures for a change id.
func (m *MemoryEndpoint) FailPush(id models.UUID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPush[id] = n
}

// SeedServerChanges queues server changes for delivery on the next pull.
func (m *MemoryEndpoint) SeedServerChanges(changes ...*models.ServerChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverChanges = append(m.serverChanges, changes...)
}

// AcceptedChanges returns every change acked so far, in arrival order.
func (m *MemoryEndpoint) AcceptedChanges() []*models.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Change, len(m.accepted))
	copy(out, m.accepted)
	return out
}

// Push implements Endpoint.
func (m *MemoryEndpoint) Push(ctx context.Context, deviceID string, changes []*models.Change) ([]PushAck, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downErr != nil {
		return nil, m.downErr
	}

	acks := make([]PushAck, 0, len(changes))
	for _, change := range changes {
		if remaining := m.failPush[change.ID]; remaining > 0 {
			m.failPush[change.ID] = remaining - 1
			acks = append(acks, PushAck{
				ChangeID: change.ID,
				OK:       false,
				Error:    fmt.Sprintf("simulated push failure for %s", change.ID),
			})
			continue
		}
		if !m.ackedIDs[change.ID] {
			m.ackedIDs[change.ID] = true
			m.accepted = append(m.accepted, change)
		}
		acks = append(acks, PushAck{ChangeID: change.ID, OK: true})
	}
	return acks, nil
}

// Pull implements Endpoint. Delivery order is the order changes were
// seeded; pages are cut at the configured page size. Delivered changes
// are consumed.
func (m *MemoryEndpoint) Pull(ctx context.Context, deviceID string, since time.Time, entityVersions map[models.EntityKey]int, token string) (*PullResponse, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downErr != nil {
		return nil, m.downErr
	}

	n := m.pageSize
	if n > len(m.serverChanges) {
		n = len(m.serverChanges)
	}
	page := m.serverChanges[:n]
	m.serverChanges = m.serverChanges[n:]

	resp := &PullResponse{
		Changes: append([]*models.ServerChange(nil), page...),
		HasMore: len(m.serverChanges) > 0,
	}
	if resp.HasMore {
		resp.ContinuationToken = fmt.Sprintf("page-%d", len(m.serverChanges))
	}
	return resp, nil
}

func (m *MemoryEndpoint) sleep(ctx context.Context) error {
	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()
	if latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}
