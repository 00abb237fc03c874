package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// lockTable is the lock state shared by every instance created with Peer,
// standing in for the Redis keys or the Postgres locks table.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]lease
}

type lease struct {
	owner  string
	expiry time.Time
}

// MockDistributedLock is an in-memory DistributedLock owned by one instance.
// Like the Redis and Postgres adapters it is re-entrant: the owner may
// acquire a lease it already holds, which refreshes the TTL.
type MockDistributedLock struct {
	table *lockTable
	owner string

	// AcquireFn replaces Acquire when set
	AcquireFn func(name string, ttl time.Duration) (bool, error)
}

// NewMockDistributedLock creates a lock instance with its own lock table.
func NewMockDistributedLock(owner string) *MockDistributedLock {
	return &MockDistributedLock{
		table: &lockTable{locks: make(map[string]lease)},
		owner: owner,
	}
}

// Peer returns another instance sharing this lock table, as a second
// process would share the backend.
func (m *MockDistributedLock) Peer(owner string) *MockDistributedLock {
	return &MockDistributedLock{table: m.table, owner: owner}
}

// Owner returns the identity this instance takes leases under
func (m *MockDistributedLock) Owner() string {
	return m.owner
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	now := time.Now()
	if l, ok := m.table.locks[name]; ok && now.Before(l.expiry) && l.owner != m.owner {
		return false, nil
	}
	m.table.locks[name] = lease{owner: m.owner, expiry: now.Add(ttl)}
	return true, nil
}

// Release drops the lease only if this instance holds it.
func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	if l, ok := m.table.locks[name]; ok && l.owner == m.owner {
		delete(m.table.locks, name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	l, ok := m.table.locks[name]
	if !ok || l.owner != m.owner || time.Now().After(l.expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.table.locks[name] = lease{owner: m.owner, expiry: time.Now().Add(ttl)}
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return nil
}

// HeldBy returns the owner of an unexpired lease, or "" when it is free.
func (m *MockDistributedLock) HeldBy(name string) string {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	l, ok := m.table.locks[name]
	if !ok || !time.Now().Before(l.expiry) {
		return ""
	}
	return l.owner
}
