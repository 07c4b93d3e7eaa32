package recalc

import (
	"context"
	"errors"
	"time"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

// recalcJameyaStatus rolls a rotating-savings (jameya) circle's payment
// schedule up into a per-payment status and an overall circle status.
// Mirrors hisabi_backend's recalc_jameya_status: a payment that was paid
// out of turn is marked paid, a due payment whose turn has arrived and
// whose due date has passed is marked received, and the circle itself
// flips to completed once no payment is left in the due state.
func (d *Dispatcher) recalcJameyaStatus(ctx context.Context, walletID, jameyaID string) error {
	jameya, err := d.store.Get(ctx, string(domain.EntityJameya), jameyaID)
	if errors.Is(err, storage.ErrEntityNotFound) || (jameya != nil && jameya.IsDeleted) {
		return nil
	}
	if err != nil {
		return err
	}

	payments, err := d.store.ListByWallet(ctx, walletID, domain.EntityJameyaPayment)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	completed := true
	sawPayment := false

	for _, payment := range payments {
		if payment.IsDeleted || asString(payment.Payload, "jameya_id") != jameyaID {
			continue
		}
		sawPayment = true

		status := asString(payment.Payload, "status")
		isMyTurn, _ := payment.Payload["is_my_turn"].(bool)
		paidAt := asString(payment.Payload, "paid_at")
		dueDate, dueErr := time.Parse(time.RFC3339, asString(payment.Payload, "due_date"))

		if paidAt != "" && status != "paid" && !isMyTurn {
			status = "paid"
		}
		if isMyTurn && dueErr == nil && !dueDate.After(now) && status != "received" {
			status = "received"
		}
		if status == "due" {
			completed = false
		}

		if status != asString(payment.Payload, "status") {
			payment.Payload["status"] = status
			if err := d.bumpAndSave(ctx, payment); err != nil {
				return err
			}
		}
	}

	monthlyAmount := asFloat(jameya.Payload, "monthly_amount")
	totalMembers := asFloat(jameya.Payload, "total_members")
	jameya.Payload["total_amount"] = monthlyAmount * totalMembers

	if sawPayment && completed {
		jameya.Payload["status"] = "completed"
	} else if s := asString(jameya.Payload, "status"); s == "" {
		jameya.Payload["status"] = "active"
	}

	return d.bumpAndSave(ctx, jameya)
}
