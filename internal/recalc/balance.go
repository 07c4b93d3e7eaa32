package recalc

import (
	"context"
	"errors"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

// recalcAccountBalance sums non-deleted transactions touching the account,
// honoring transfer dual-leg (source decreases, destination increases).
func (d *Dispatcher) recalcAccountBalance(ctx context.Context, walletID, accountID string) error {
	account, err := d.store.Get(ctx, string(domain.EntityAccount), accountID)
	if errors.Is(err, storage.ErrEntityNotFound) || (account != nil && account.IsDeleted) {
		return nil
	}
	if err != nil {
		return err
	}

	txs, err := d.store.ListByWallet(ctx, walletID, domain.EntityTransaction)
	if err != nil {
		return err
	}

	balance := asFloat(account.Payload, "opening_balance")
	for _, tx := range txs {
		if tx.IsDeleted {
			continue
		}
		kind := asString(tx.Payload, "kind")
		accID := asString(tx.Payload, "account_id")
		toID := asString(tx.Payload, "to_account_id")
		amount := asFloat(tx.Payload, "amount")

		switch kind {
		case "income":
			if accID == accountID {
				balance += amount
			}
		case "expense":
			if accID == accountID {
				balance -= amount
			}
		case "transfer":
			if accID == accountID {
				balance -= amount
			}
			if toID == accountID {
				balance += amount
			}
		}
	}

	account.Payload["current_balance"] = balance
	return d.bumpAndSave(ctx, account)
}
