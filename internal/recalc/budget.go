package recalc

import (
	"context"
	"errors"
	"time"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

// recalcBudgetSpent sums non-deleted expense transactions matching the
// budget's scope (total or single category) within [start_date, end_date].
func (d *Dispatcher) recalcBudgetSpent(ctx context.Context, walletID, budgetID string) error {
	budget, err := d.store.Get(ctx, string(domain.EntityBudget), budgetID)
	if errors.Is(err, storage.ErrEntityNotFound) || (budget != nil && budget.IsDeleted) {
		return nil
	}
	if err != nil {
		return err
	}

	start, errStart := time.Parse(time.RFC3339, asString(budget.Payload, "start_date"))
	end, errEnd := time.Parse(time.RFC3339, asString(budget.Payload, "end_date"))
	if errStart != nil || errEnd != nil {
		return nil
	}
	scope := asString(budget.Payload, "scope")
	categoryID := asString(budget.Payload, "category_id")

	txs, err := d.store.ListByWallet(ctx, walletID, domain.EntityTransaction)
	if err != nil {
		return err
	}

	var spent float64
	for _, tx := range txs {
		if tx.IsDeleted {
			continue
		}
		if asString(tx.Payload, "kind") != "expense" {
			continue
		}
		occurred, err := time.Parse(time.RFC3339, asString(tx.Payload, "occurred_at"))
		if err != nil || occurred.Before(start) || occurred.After(end) {
			continue
		}
		if scope == "category" && asString(tx.Payload, "category_id") != categoryID {
			continue
		}
		spent += asFloat(tx.Payload, "amount")
	}

	budget.Payload["spent_amount"] = spent
	return d.bumpAndSave(ctx, budget)
}
