// Package storagetest provides an in-memory storage.EntityStore fake shared
// by the versioncontrol, recalc, and syncengine test suites, following the
// same mock-repository shape the service package's tests use.
package storagetest

import (
	"context"
	"sort"
	"time"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

// MemoryEntityStore is a single-process, non-concurrent-safe stand-in for
// CouchEntityStore, sufficient for driving the sync engine's state machine
// and recalc logic in tests without a CouchDB instance.
type MemoryEntityStore struct {
	rows map[string]*domain.Entity
}

func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{rows: make(map[string]*domain.Entity)}
}

func key(entityType, entityID string) string { return entityType + ":" + entityID }

func (m *MemoryEntityStore) Get(ctx context.Context, entityType, entityID string) (*domain.Entity, error) {
	e, ok := m.rows[key(entityType, entityID)]
	if !ok {
		return nil, storage.ErrEntityNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryEntityStore) Put(ctx context.Context, e *domain.Entity) error {
	m.rows[key(string(e.EntityType), e.EntityID)] = e.Clone()
	return nil
}

func (m *MemoryEntityStore) HardDelete(ctx context.Context, entityType, entityID string) error {
	delete(m.rows, key(entityType, entityID))
	return nil
}

func (m *MemoryEntityStore) ListByWallet(ctx context.Context, walletID string, entityType domain.EntityType) ([]*domain.Entity, error) {
	var out []*domain.Entity
	for _, e := range m.rows {
		if e.WalletID == walletID && e.EntityType == entityType {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryEntityStore) Range(ctx context.Context, walletID string, afterCursor time.Time, limit int) ([]*domain.Entity, error) {
	var out []*domain.Entity
	for _, e := range m.rows {
		if e.WalletID == walletID && e.ServerModified.After(afterCursor) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServerModified.Equal(out[j].ServerModified) {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].ServerModified.Before(out[j].ServerModified)
	})
	if limit > 0 && len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out, nil
}

var _ storage.EntityStore = (*MemoryEntityStore)(nil)

// MemoryLedgerStore is an in-memory stand-in for CouchLedgerStore.
type MemoryLedgerStore struct {
	rows map[string]*domain.LedgerRow
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{rows: make(map[string]*domain.LedgerRow)}
}

func ledgerKey(userID, deviceID, opID string) string { return userID + ":" + deviceID + ":" + opID }

func (m *MemoryLedgerStore) Lookup(ctx context.Context, userID, deviceID, opID string) (*domain.LedgerRow, error) {
	row, ok := m.rows[ledgerKey(userID, deviceID, opID)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *MemoryLedgerStore) Record(ctx context.Context, row *domain.LedgerRow) (*domain.LedgerRow, error) {
	k := ledgerKey(row.UserID, row.DeviceID, row.OpID)
	if existing, ok := m.rows[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *row
	m.rows[k] = &cp
	return &cp, nil
}

var _ storage.LedgerStore = (*MemoryLedgerStore)(nil)

// MemoryConflictStore is an in-memory stand-in for CouchConflictStore.
type MemoryConflictStore struct {
	conflicts []*domain.Conflict
}

func NewMemoryConflictStore() *MemoryConflictStore {
	return &MemoryConflictStore{}
}

func (m *MemoryConflictStore) Record(ctx context.Context, c *domain.Conflict) error {
	m.conflicts = append(m.conflicts, c)
	return nil
}

func (m *MemoryConflictStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.Conflict, error) {
	var out []*domain.Conflict
	for _, c := range m.conflicts {
		if c.WalletID == walletID {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ storage.ConflictStore = (*MemoryConflictStore)(nil)
