package recalc

import (
	"context"
	"testing"
	"time"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/storagetest"
)

func newTestDispatcher() (*Dispatcher, *storagetest.MemoryEntityStore) {
	store := storagetest.NewMemoryEntityStore()
	reg := registry.New()
	clock := cursorclock.New()
	return New(store, reg, clock), store
}

func putEntity(t *testing.T, store *storagetest.MemoryEntityStore, e *domain.Entity) {
	t.Helper()
	if e.ServerModified.IsZero() {
		e.ServerModified = time.Now().UTC()
	}
	if err := store.Put(context.Background(), e); err != nil {
		t.Fatalf("put failed: %v", err)
	}
}

func TestRecalcAccountBalance_TransfersAndExpenses(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityAccount, EntityID: "acc-a", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"opening_balance": 100.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityAccount, EntityID: "acc-b", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"opening_balance": 0.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityTransaction, EntityID: "tx-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"kind": "expense", "account_id": "acc-a", "amount": 30.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityTransaction, EntityID: "tx-2", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"kind": "transfer", "account_id": "acc-a", "to_account_id": "acc-b", "amount": 20.0},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: "acc-a"},
		{Kind: registry.RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: "acc-b"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	accA, _ := store.Get(context.Background(), string(domain.EntityAccount), "acc-a")
	accB, _ := store.Get(context.Background(), string(domain.EntityAccount), "acc-b")

	if got := accA.Payload["current_balance"].(float64); got != 50.0 {
		t.Errorf("expected acc-a balance 50 (100-30-20), got %v", got)
	}
	if got := accB.Payload["current_balance"].(float64); got != 20.0 {
		t.Errorf("expected acc-b balance 20, got %v", got)
	}
}

func TestRecalcAccountBalance_ExcludesDeletedTransactions(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityAccount, EntityID: "acc-a", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"opening_balance": 100.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityTransaction, EntityID: "tx-1", WalletID: wallet, DocVersion: 1,
		IsDeleted: true,
		Payload:   map[string]interface{}{"kind": "expense", "account_id": "acc-a", "amount": 30.0},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: "acc-a"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	accA, _ := store.Get(context.Background(), string(domain.EntityAccount), "acc-a")
	if got := accA.Payload["current_balance"].(float64); got != 100.0 {
		t.Errorf("expected deleted transaction excluded, balance 100, got %v", got)
	}
}

func TestRecalcDebtRemaining_ClosesWhenPaidOff(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityDebt, EntityID: "debt-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"principal": 500.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityInstallment, EntityID: "inst-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"debt_id": "debt-1", "amount": 500.0, "status": "paid"},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcDebtRemaining, TargetType: domain.EntityDebt, TargetID: "debt-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	debt, _ := store.Get(context.Background(), string(domain.EntityDebt), "debt-1")
	if got := debt.Payload["remaining_amount"].(float64); got != 0 {
		t.Errorf("expected remaining 0, got %v", got)
	}
	if debt.Payload["status"] != "closed" {
		t.Errorf("expected status closed, got %v", debt.Payload["status"])
	}
}

func TestRecalcGoalProgress_SaveGoalFollowsAccountBalance(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityAccount, EntityID: "acc-a", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"current_balance": 250.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityGoal, EntityID: "goal-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"goal_type": "save", "target_amount": 500.0, "linked_account_id": "acc-a"},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: "goal-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	goal, _ := store.Get(context.Background(), string(domain.EntityGoal), "goal-1")
	if got := goal.Payload["progress_percent"].(float64); got != 50.0 {
		t.Errorf("expected progress 50%%, got %v", got)
	}
}

func TestRecalcGoalProgress_PayDebtGoalTracksAmountPaidNotRemaining(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityDebt, EntityID: "debt-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"principal": 1000.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityInstallment, EntityID: "inst-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"debt_id": "debt-1", "amount": 300.0, "status": "paid"},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityGoal, EntityID: "goal-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"goal_type": "pay_debt", "target_amount": 1000.0, "linked_debt_id": "debt-1"},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: "goal-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	goal, _ := store.Get(context.Background(), string(domain.EntityGoal), "goal-1")
	// principal 1000, 300 paid off -> remaining 700, amount paid 300.
	if got := goal.Payload["progress_amount"].(float64); got != 300.0 {
		t.Errorf("expected progress_amount to track amount paid (300), got %v", got)
	}
	if got := goal.Payload["progress_percent"].(float64); got != 30.0 {
		t.Errorf("expected progress_percent 30%% to agree with progress_amount, got %v", got)
	}
}

func TestRecalcBucketAllocation_SplitsByPercentWithRemainderOnHighest(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityBucketRule, EntityID: "rule-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{
			"priority_scope": "global",
			"percent_lines": []interface{}{
				map[string]interface{}{"bucket_id": "needs", "percent": 60.0},
				map[string]interface{}{"bucket_id": "wants", "percent": 30.0},
				map[string]interface{}{"bucket_id": "save", "percent": 10.0},
			},
		},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityTransaction, EntityID: "tx-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"kind": "income", "account_id": "acc-a", "amount": 100.03},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcBucketAllocation, TargetType: domain.EntityTransaction, TargetID: "tx-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	allocs, _ := store.ListByWallet(context.Background(), wallet, domain.EntityBucketAllocation)
	if len(allocs) != 3 {
		t.Fatalf("expected 3 allocation rows, got %d", len(allocs))
	}
	var total float64
	for _, a := range allocs {
		total += a.Payload["amount"].(float64)
	}
	if total != 100.03 {
		t.Errorf("expected allocations to sum to the income amount, got %v", total)
	}
}

func TestRecalcBucketAllocation_ManualAllocationNeverOverwritten(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityTransaction, EntityID: "tx-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"kind": "income", "account_id": "acc-a", "amount": 100.0},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityBucketAllocation, EntityID: "manual-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"transaction_id": "tx-1", "bucket_id": "custom", "amount": 100.0, "auto_generated": false},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcBucketAllocation, TargetType: domain.EntityTransaction, TargetID: "tx-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	allocs, _ := store.ListByWallet(context.Background(), wallet, domain.EntityBucketAllocation)
	if len(allocs) != 1 {
		t.Fatalf("expected manual allocation left untouched with no rule, got %d rows", len(allocs))
	}
	if allocs[0].EntityID != "manual-1" {
		t.Errorf("expected the manual row to survive, got %s", allocs[0].EntityID)
	}
}

func TestRecalcJameyaStatus_PaidOutOfTurnIsMarkedPaid(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameya, EntityID: "jam-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"monthly_amount": 100.0, "total_members": 3.0, "status": "active"},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameyaPayment, EntityID: "jam-1:1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"jameya_id": "jam-1", "amount": 100.0, "status": "due", "paid_at": "2024-01-15T10:00:00Z", "is_my_turn": false},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcJameyaStatus, TargetType: domain.EntityJameya, TargetID: "jam-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	payment, _ := store.Get(context.Background(), string(domain.EntityJameyaPayment), "jam-1:1")
	if payment.Payload["status"] != "paid" {
		t.Errorf("expected out-of-turn paid payment marked paid, got %v", payment.Payload["status"])
	}

	jameya, _ := store.Get(context.Background(), string(domain.EntityJameya), "jam-1")
	if got := jameya.Payload["total_amount"].(float64); got != 300.0 {
		t.Errorf("expected total_amount 300 (100*3), got %v", got)
	}
}

func TestRecalcJameyaStatus_MyTurnPastDueIsReceived(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameya, EntityID: "jam-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"monthly_amount": 100.0, "total_members": 2.0, "status": "active"},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameyaPayment, EntityID: "jam-1:1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"jameya_id": "jam-1", "amount": 100.0, "status": "due", "due_date": "2020-01-01T00:00:00Z", "is_my_turn": true},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcJameyaStatus, TargetType: domain.EntityJameya, TargetID: "jam-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	payment, _ := store.Get(context.Background(), string(domain.EntityJameyaPayment), "jam-1:1")
	if payment.Payload["status"] != "received" {
		t.Errorf("expected past-due turn payment marked received, got %v", payment.Payload["status"])
	}
}

func TestRecalcJameyaStatus_CompletesWhenNoPaymentDue(t *testing.T) {
	d, store := newTestDispatcher()
	wallet := "w1"

	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameya, EntityID: "jam-1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"monthly_amount": 50.0, "total_members": 1.0, "status": "active"},
	})
	putEntity(t, store, &domain.Entity{
		EntityType: domain.EntityJameyaPayment, EntityID: "jam-1:1", WalletID: wallet, DocVersion: 1,
		Payload: map[string]interface{}{"jameya_id": "jam-1", "amount": 50.0, "status": "received", "is_my_turn": true},
	})

	if err := d.Run(context.Background(), wallet, []registry.RecalcTask{
		{Kind: registry.RecalcJameyaStatus, TargetType: domain.EntityJameya, TargetID: "jam-1"},
	}); err != nil {
		t.Fatalf("recalc failed: %v", err)
	}

	jameya, _ := store.Get(context.Background(), string(domain.EntityJameya), "jam-1")
	if jameya.Payload["status"] != "completed" {
		t.Errorf("expected circle marked completed once no payment is due, got %v", jameya.Payload["status"])
	}
}
