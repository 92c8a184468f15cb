// Package locks provides the exclusive resource ownership table.
package locks

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// DefaultLockTimeoutMs is applied to resources that do not declare their own
// lock timeout.
const DefaultLockTimeoutMs = 60_000

// Manager owns the resource table. At most one agent holds a resource's lock
// at any time, and only the owner may release it. An optional background
// sweeper releases locks whose timeout has elapsed.
type Manager struct {
	mu        sync.RWMutex
	resources map[string]*shared.Resource

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a lock Manager.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		resources: make(map[string]*shared.Resource),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddResource registers a lockable resource. An existing resource with the
// same id is overwritten; its lock state is reset.
func (m *Manager) AddResource(res shared.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res.Locked = false
	res.OwnerID = ""
	res.LockedAt = 0
	if res.LockTimeoutMs == 0 {
		res.LockTimeoutMs = DefaultLockTimeoutMs
	}
	m.resources[res.ID] = shared.CloneResource(&res)
}

// RemoveResource deletes a resource from the table.
func (m *Manager) RemoveResource(resourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, resourceID)
}

// Request attempts to lock a resource for an agent. A lock held by another
// agent yields false without error; a lock already held by the requester is
// an idempotent no-op that yields true without touching the lock metadata.
func (m *Manager) Request(resourceID, agentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, exists := m.resources[resourceID]
	if !exists {
		return false, shared.NewError(shared.ErrResourceNotAvailable, "resource %s not found", resourceID)
	}

	if res.Locked {
		return res.OwnerID == agentID, nil
	}

	res.Locked = true
	res.OwnerID = agentID
	res.LockedAt = shared.Now()

	m.logger.Debug("resource locked",
		zap.String("resource_id", resourceID),
		zap.String("owner", agentID),
	)
	return true, nil
}

// Release unlocks a resource. Only the current owner may release.
func (m *Manager) Release(resourceID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, exists := m.resources[resourceID]
	if !exists {
		return shared.NewError(shared.ErrResourceNotAvailable, "resource %s not found", resourceID)
	}
	if !res.Locked {
		return nil
	}
	if res.OwnerID != agentID {
		return shared.NewError(shared.ErrPermissionDenied,
			"resource %s is owned by %s, not %s", resourceID, res.OwnerID, agentID)
	}

	res.Locked = false
	res.OwnerID = ""
	res.LockedAt = 0

	m.logger.Debug("resource released",
		zap.String("resource_id", resourceID),
		zap.String("agent_id", agentID),
	)
	return nil
}

// ReleaseAllOwnedBy force-releases every lock held by an agent. Used when an
// agent is unregistered or evicted.
func (m *Manager) ReleaseAllOwnedBy(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, res := range m.resources {
		if res.Locked && res.OwnerID == agentID {
			res.Locked = false
			res.OwnerID = ""
			res.LockedAt = 0
			released++
		}
	}
	return released
}

// Get returns a copy of a resource record.
func (m *Manager) Get(resourceID string) (*shared.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, exists := m.resources[resourceID]
	if !exists {
		return nil, shared.NewError(shared.ErrResourceNotAvailable, "resource %s not found", resourceID)
	}
	return shared.CloneResource(res), nil
}

// List returns copies of all resources, sorted by id.
func (m *Manager) List() []*shared.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*shared.Resource, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, shared.CloneResource(res))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartSweeper launches the background loop that releases expired locks.
func (m *Manager) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.sweepExpired()
			}
		}
	}()
}

// sweepExpired releases locks whose timeout has elapsed.
func (m *Manager) sweepExpired() {
	now := shared.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, res := range m.resources {
		if res.Locked && res.LockTimeoutMs > 0 && now-res.LockedAt > res.LockTimeoutMs {
			m.logger.Warn("lock expired, force releasing",
				zap.String("resource_id", id),
				zap.String("owner", res.OwnerID),
				zap.Int64("held_ms", now-res.LockedAt),
			)
			res.Locked = false
			res.OwnerID = ""
			res.LockedAt = 0
		}
	}
}

// Shutdown stops the sweeper and waits for it to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
