package recalc

import (
	"context"
	"errors"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

// recalcDebtRemaining computes principal minus the sum of paid installments
// and flips the debt to closed once nothing remains.
func (d *Dispatcher) recalcDebtRemaining(ctx context.Context, walletID, debtID string) error {
	debt, err := d.store.Get(ctx, string(domain.EntityDebt), debtID)
	if errors.Is(err, storage.ErrEntityNotFound) || (debt != nil && debt.IsDeleted) {
		return nil
	}
	if err != nil {
		return err
	}

	remaining, err := debtRemaining(ctx, d, walletID, debtID, asFloat(debt.Payload, "principal"))
	if err != nil {
		return err
	}

	debt.Payload["remaining_amount"] = remaining
	if remaining <= 0 {
		debt.Payload["status"] = "closed"
	} else {
		debt.Payload["status"] = "open"
	}
	return d.bumpAndSave(ctx, debt)
}

func debtRemaining(ctx context.Context, d *Dispatcher, walletID, debtID string, principal float64) (float64, error) {
	installments, err := d.store.ListByWallet(ctx, walletID, domain.EntityInstallment)
	if err != nil {
		return 0, err
	}
	var paid float64
	for _, inst := range installments {
		if inst.IsDeleted {
			continue
		}
		if asString(inst.Payload, "debt_id") != debtID {
			continue
		}
		if asString(inst.Payload, "status") != "paid" {
			continue
		}
		paid += asFloat(inst.Payload, "amount")
	}
	return principal - paid, nil
}

// recalcGoalProgress computes a save goal's progress from its linked
// account balance, or a pay_debt goal's progress from its linked debt's
// remaining balance.
func (d *Dispatcher) recalcGoalProgress(ctx context.Context, walletID, goalID string) error {
	goal, err := d.store.Get(ctx, string(domain.EntityGoal), goalID)
	if errors.Is(err, storage.ErrEntityNotFound) || (goal != nil && goal.IsDeleted) {
		return nil
	}
	if err != nil {
		return err
	}

	target := asFloat(goal.Payload, "target_amount")
	var progress float64

	switch asString(goal.Payload, "goal_type") {
	case "save":
		accID := asString(goal.Payload, "linked_account_id")
		if accID != "" {
			account, err := d.store.Get(ctx, string(domain.EntityAccount), accID)
			if err == nil {
				progress = asFloat(account.Payload, "current_balance")
			}
		}
		goal.Payload["progress_amount"] = progress
		if target > 0 {
			goal.Payload["progress_percent"] = progress / target * 100
		} else {
			goal.Payload["progress_percent"] = 0.0
		}

	case "pay_debt":
		debtID := asString(goal.Payload, "linked_debt_id")
		if debtID != "" {
			debt, err := d.store.Get(ctx, string(domain.EntityDebt), debtID)
			if err == nil {
				remaining, rErr := debtRemaining(ctx, d, walletID, debtID, asFloat(debt.Payload, "principal"))
				if rErr == nil {
					// Amount paid down so far, not amount still owed —
					// mirrors recalc_engine.py's pay_debt branch
					// (current_amount = target_amount - remaining_amount)
					// so progress_amount and progress_percent agree.
					progress = target - remaining
				}
			}
		}
		goal.Payload["progress_amount"] = progress
		if target > 0 {
			goal.Payload["progress_percent"] = progress / target * 100
		} else {
			goal.Payload["progress_percent"] = 0.0
		}
	}

	return d.bumpAndSave(ctx, goal)
}
