package recalc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/storage"
)

type percentLine struct {
	BucketID string  `json:"bucket_id"`
	Percent  float64 `json:"percent"`
}

// recalcBucketAllocation derives allocation rows for an income transaction
// from the applicable bucket rule (by-account beats by-income-category
// beats global-default), hard-deleting and recreating the engine-owned
// rows wholesale. Manual allocations are never touched.
func (d *Dispatcher) recalcBucketAllocation(ctx context.Context, walletID, transactionID string) error {
	tx, err := d.store.Get(ctx, string(domain.EntityTransaction), transactionID)
	if errors.Is(err, storage.ErrEntityNotFound) || (tx != nil && tx.IsDeleted) {
		return d.clearAutoAllocations(ctx, walletID, transactionID)
	}
	if err != nil {
		return err
	}
	if asString(tx.Payload, "kind") != "income" {
		return nil
	}

	rules, err := d.store.ListByWallet(ctx, walletID, domain.EntityBucketRule)
	if err != nil {
		return err
	}

	accountID := asString(tx.Payload, "account_id")
	categoryID := asString(tx.Payload, "category_id")

	rule := selectRule(rules, accountID, categoryID)
	if err := d.clearAutoAllocations(ctx, walletID, transactionID); err != nil {
		return err
	}
	if rule == nil {
		return nil
	}

	lines, ok := rule.Payload["percent_lines"].([]interface{})
	if !ok || len(lines) == 0 {
		return nil
	}
	parsed := make([]percentLine, 0, len(lines))
	for _, raw := range lines {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		parsed = append(parsed, percentLine{
			BucketID: asString(m, "bucket_id"),
			Percent:  asFloat(m, "percent"),
		})
	}
	if len(parsed) == 0 {
		return nil
	}

	amount := asFloat(tx.Payload, "amount")
	amounts := make([]float64, len(parsed))
	var allocated float64
	for i, line := range parsed {
		a := math.Round(amount*line.Percent/100*100) / 100
		amounts[i] = a
		allocated += a
	}
	remainder := math.Round((amount-allocated)*100) / 100
	if remainder != 0 {
		highest := 0
		for i := range parsed {
			if parsed[i].Percent > parsed[highest].Percent {
				highest = i
			}
		}
		amounts[highest] += remainder
	}

	now := d.clock.Next(walletID)
	for i, line := range parsed {
		if line.BucketID == "" {
			continue
		}
		entity := &domain.Entity{
			EntityType:     domain.EntityBucketAllocation,
			EntityID:       fmt.Sprintf("auto:%s:%s", transactionID, line.BucketID),
			WalletID:       walletID,
			DocVersion:     1,
			ServerModified: now,
			Payload: map[string]interface{}{
				"transaction_id": transactionID,
				"bucket_id":      line.BucketID,
				"amount":         amounts[i],
				"auto_generated": true,
			},
		}
		if err := d.store.Put(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) clearAutoAllocations(ctx context.Context, walletID, transactionID string) error {
	existing, err := d.store.ListByWallet(ctx, walletID, domain.EntityBucketAllocation)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if asString(a.Payload, "transaction_id") != transactionID {
			continue
		}
		auto, _ := a.Payload["auto_generated"].(bool)
		if !auto {
			continue
		}
		if err := d.store.HardDelete(ctx, string(domain.EntityBucketAllocation), a.EntityID); err != nil {
			return err
		}
	}
	return nil
}

func selectRule(rules []*domain.Entity, accountID, categoryID string) *domain.Entity {
	var byAccount, byCategory, global []*domain.Entity
	for _, r := range rules {
		if r.IsDeleted {
			continue
		}
		switch asString(r.Payload, "priority_scope") {
		case "account":
			if asString(r.Payload, "account_id") == accountID && accountID != "" {
				byAccount = append(byAccount, r)
			}
		case "income_category":
			if asString(r.Payload, "income_category_id") == categoryID && categoryID != "" {
				byCategory = append(byCategory, r)
			}
		case "global":
			global = append(global, r)
		}
	}
	if r := pickLatest(byAccount); r != nil {
		return r
	}
	if r := pickLatest(byCategory); r != nil {
		return r
	}
	return pickLatest(global)
}

func pickLatest(rules []*domain.Entity) *domain.Entity {
	if len(rules) == 0 {
		return nil
	}
	best := rules[0]
	for _, r := range rules[1:] {
		if r.ServerModified.After(best.ServerModified) {
			best = r
			continue
		}
		if r.ServerModified.Equal(best.ServerModified) && r.DocVersion > best.DocVersion {
			best = r
		}
	}
	return best
}
