// Package recalc is the Recalc Dispatcher: after every accepted mutation it
// expands the registry's recalc tasks and runs the mandatory recalculators
// (account balance, budget spent, goal progress, debt remaining, bucket
// allocations, jameya status) against fully-recomputing, idempotent queries
// so concurrent batches can never corrupt a derived aggregate.
package recalc

import (
	"context"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/storage"
)

type Dispatcher struct {
	store storage.EntityStore
	reg   *registry.Registry
	clock *cursorclock.Clock
}

func New(store storage.EntityStore, reg *registry.Registry, clock *cursorclock.Clock) *Dispatcher {
	return &Dispatcher{store: store, reg: reg, clock: clock}
}

// Run executes every deduped task in the batch. A target entity that no
// longer exists (raced with a concurrent hard delete) is skipped rather
// than failing the batch.
func (d *Dispatcher) Run(ctx context.Context, walletID string, tasks []registry.RecalcTask) error {
	for _, task := range tasks {
		ids, err := d.expand(ctx, walletID, task)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := d.runOne(ctx, walletID, task.Kind, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) expand(ctx context.Context, walletID string, task registry.RecalcTask) ([]string, error) {
	if !registry.ScanAll(task.TargetID) {
		return []string{task.TargetID}, nil
	}
	rows, err := d.store.ListByWallet(ctx, walletID, task.TargetType)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.IsDeleted {
			continue
		}
		ids = append(ids, r.EntityID)
	}
	return ids, nil
}

func (d *Dispatcher) runOne(ctx context.Context, walletID string, kind registry.RecalcTaskKind, targetID string) error {
	switch kind {
	case registry.RecalcAccountBalance:
		return d.recalcAccountBalance(ctx, walletID, targetID)
	case registry.RecalcBudgetSpent:
		return d.recalcBudgetSpent(ctx, walletID, targetID)
	case registry.RecalcGoalProgress:
		return d.recalcGoalProgress(ctx, walletID, targetID)
	case registry.RecalcDebtRemaining:
		return d.recalcDebtRemaining(ctx, walletID, targetID)
	case registry.RecalcBucketAllocation:
		return d.recalcBucketAllocation(ctx, walletID, targetID)
	case registry.RecalcJameyaStatus:
		return d.recalcJameyaStatus(ctx, walletID, targetID)
	}
	return nil
}

// bumpAndSave stamps a derived-aggregate write with a fresh server_modified
// so pulls deliver it. doc_version is left as it is: a recalc write is not a
// client mutation, so a client's base_version for the row stays valid.
func (d *Dispatcher) bumpAndSave(ctx context.Context, e *domain.Entity) error {
	e.ServerModified = d.clock.Next(e.WalletID)
	return d.store.Put(ctx, e)
}

func asFloat(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0
	}
	v, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return v
}

func asString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
