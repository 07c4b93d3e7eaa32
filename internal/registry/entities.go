package registry

import "inkdown-sync-server/internal/domain"

// scanAll is the sentinel TargetID meaning "recompute every row of
// TargetType in the wallet" rather than one specific row. The recalc
// dispatcher expands it via storage. Over-approximating this way keeps
// recalc fully-recomputing and idempotent (§5) at the cost of some
// redundant work, which is acceptable at wallet scale.
const scanAll = "*"

func str(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// New builds the static Entity Registry used by the whole sync engine.
func New() *Registry {
	d := map[domain.EntityType]*Descriptor{}

	d[domain.EntityAccount] = &Descriptor{
		Type: domain.EntityAccount,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "account_type", Kind: KindString, Required: true},
			{Name: "currency", Kind: KindString, Required: true},
			{Name: "opening_balance", Kind: KindNumber, Required: true},
		},
		Aliases:     map[string]string{"type": "account_type"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"current_balance": true},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			return []RecalcTask{
				{Kind: RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: id},
				{Kind: RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: scanAll},
			}
		},
	}

	d[domain.EntityCategory] = &Descriptor{
		Type: domain.EntityCategory,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "kind", Kind: KindString, Required: true},
			{Name: "icon", Kind: KindString},
			{Name: "color", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
	}

	d[domain.EntityTransaction] = &Descriptor{
		Type: domain.EntityTransaction,
		Fields: []FieldSpec{
			{Name: "account_id", Kind: KindString, Required: true},
			{Name: "to_account_id", Kind: KindString},
			{Name: "category_id", Kind: KindString},
			{Name: "amount", Kind: KindNumber, Required: true},
			{Name: "currency", Kind: KindString, Required: true},
			{Name: "kind", Kind: KindString, Required: true},
			{Name: "occurred_at", Kind: KindString, Required: true},
			{Name: "note", Kind: KindString},
		},
		Aliases:     map[string]string{"accountId": "account_id", "toAccountId": "to_account_id", "categoryId": "category_id"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			var tasks []RecalcTask
			touch := func(p map[string]interface{}) {
				if p == nil {
					return
				}
				if acc := str(p, "account_id"); acc != "" {
					tasks = append(tasks, RecalcTask{Kind: RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: acc})
				}
				if to := str(p, "to_account_id"); to != "" {
					tasks = append(tasks, RecalcTask{Kind: RecalcAccountBalance, TargetType: domain.EntityAccount, TargetID: to})
				}
			}
			touch(oldPayload)
			touch(newPayload)

			kind := str(newPayload, "kind")
			if kind == "" {
				kind = str(oldPayload, "kind")
			}
			if kind == "expense" || kind == "" {
				tasks = append(tasks, RecalcTask{Kind: RecalcBudgetSpent, TargetType: domain.EntityBudget, TargetID: scanAll})
			}
			if kind == "income" && newPayload != nil {
				tasks = append(tasks, RecalcTask{Kind: RecalcBucketAllocation, TargetType: domain.EntityTransaction, TargetID: id})
			}
			tasks = append(tasks, RecalcTask{Kind: RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: scanAll})
			return tasks
		},
	}

	d[domain.EntityBudget] = &Descriptor{
		Type: domain.EntityBudget,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "scope", Kind: KindString, Required: true},
			{Name: "category_id", Kind: KindString},
			{Name: "start_date", Kind: KindString, Required: true},
			{Name: "end_date", Kind: KindString, Required: true},
			{Name: "limit_amount", Kind: KindNumber, Required: true},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"spent_amount": true},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			return []RecalcTask{{Kind: RecalcBudgetSpent, TargetType: domain.EntityBudget, TargetID: id}}
		},
	}

	d[domain.EntityGoal] = &Descriptor{
		Type: domain.EntityGoal,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "goal_type", Kind: KindString, Required: true},
			{Name: "target_amount", Kind: KindNumber, Required: true},
			{Name: "linked_account_id", Kind: KindString},
			{Name: "linked_debt_id", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"progress_amount": true, "progress_percent": true},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			return []RecalcTask{{Kind: RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: id}}
		},
	}

	d[domain.EntityDebt] = &Descriptor{
		Type: domain.EntityDebt,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "principal", Kind: KindNumber, Required: true},
			{Name: "counterparty", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"remaining_amount": true, "status": true},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			return []RecalcTask{
				{Kind: RecalcDebtRemaining, TargetType: domain.EntityDebt, TargetID: id},
				{Kind: RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: scanAll},
			}
		},
	}

	d[domain.EntityInstallment] = &Descriptor{
		Type: domain.EntityInstallment,
		Fields: []FieldSpec{
			{Name: "debt_id", Kind: KindString, Required: true},
			{Name: "amount", Kind: KindNumber, Required: true},
			{Name: "due_date", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			var tasks []RecalcTask
			debt := str(newPayload, "debt_id")
			if debt == "" {
				debt = str(oldPayload, "debt_id")
			}
			if debt != "" {
				tasks = append(tasks, RecalcTask{Kind: RecalcDebtRemaining, TargetType: domain.EntityDebt, TargetID: debt})
			}
			tasks = append(tasks, RecalcTask{Kind: RecalcGoalProgress, TargetType: domain.EntityGoal, TargetID: scanAll})
			return tasks
		},
	}

	d[domain.EntityBucketRule] = &Descriptor{
		Type: domain.EntityBucketRule,
		Fields: []FieldSpec{
			{Name: "priority_scope", Kind: KindString, Required: true},
			{Name: "account_id", Kind: KindString},
			{Name: "income_category_id", Kind: KindString},
			{Name: "percent_lines", Kind: KindJSON, Required: true},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
	}

	d[domain.EntityBucket] = &Descriptor{
		Type: domain.EntityBucket,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "icon", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
	}

	d[domain.EntityBucketAllocation] = &Descriptor{
		Type: domain.EntityBucketAllocation,
		Fields: []FieldSpec{
			{Name: "transaction_id", Kind: KindString, Required: true},
			{Name: "bucket_id", Kind: KindString, Required: true},
			{Name: "amount", Kind: KindNumber, Required: true},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"auto_generated": true},
		SoftDelete:  false,
	}

	// Wallet, Wallet Member, Debt Request, Jameya, Jameya Payment, and
	// Attachment mirror hisabi_backend's SYNC_PUSH_ALLOWLIST beyond the six
	// entities spec.md itself names for the recalculators.

	d[domain.EntityWallet] = &Descriptor{
		Type: domain.EntityWallet,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "currency", Kind: KindString, Required: true},
			{Name: "icon", Kind: KindString},
		},
		Aliases:     map[string]string{"wallet_name": "name"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  false, // administrative hard-delete only, per SPEC_FULL §4.
	}

	d[domain.EntityWalletMember] = &Descriptor{
		Type: domain.EntityWalletMember,
		Fields: []FieldSpec{
			{Name: "user_id", Kind: KindString, Required: true},
			{Name: "role", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "joined_at", Kind: KindString},
			{Name: "removed_at", Kind: KindString},
		},
		Aliases:     map[string]string{"user": "user_id"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
	}

	d[domain.EntityDebtRequest] = &Descriptor{
		Type: domain.EntityDebtRequest,
		Fields: []FieldSpec{
			{Name: "from_phone", Kind: KindString},
			{Name: "to_phone", Kind: KindString},
			{Name: "debt_payload", Kind: KindJSON},
			{Name: "status", Kind: KindString},
		},
		Aliases:     map[string]string{},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true, // no fields required on create, matching sync.py's empty required set for this doctype.
	}

	d[domain.EntityJameya] = &Descriptor{
		Type: domain.EntityJameya,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "currency", Kind: KindString},
			{Name: "monthly_amount", Kind: KindNumber, Required: true},
			{Name: "total_members", Kind: KindNumber, Required: true},
			{Name: "my_turn", Kind: KindNumber, Required: true},
			{Name: "period", Kind: KindString},
			{Name: "start_date", Kind: KindString, Required: true},
			{Name: "note", Kind: KindString},
		},
		Aliases:     map[string]string{"jameya_name": "name"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{"total_amount": true, "status": true},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			return []RecalcTask{{Kind: RecalcJameyaStatus, TargetType: domain.EntityJameya, TargetID: id}}
		},
	}

	d[domain.EntityJameyaPayment] = &Descriptor{
		Type: domain.EntityJameyaPayment,
		Fields: []FieldSpec{
			{Name: "jameya_id", Kind: KindString, Required: true},
			{Name: "period_number", Kind: KindNumber},
			{Name: "due_date", Kind: KindString},
			{Name: "amount", Kind: KindNumber, Required: true},
			{Name: "is_my_turn", Kind: KindBool},
			{Name: "status", Kind: KindString},
			{Name: "paid_at", Kind: KindString},
		},
		Aliases:     map[string]string{"jameya": "jameya_id"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true,
		Recalc: func(id string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask {
			jameyaID := str(newPayload, "jameya_id")
			if jameyaID == "" {
				jameyaID = str(oldPayload, "jameya_id")
			}
			if jameyaID == "" {
				return nil
			}
			return []RecalcTask{{Kind: RecalcJameyaStatus, TargetType: domain.EntityJameya, TargetID: jameyaID}}
		},
	}

	d[domain.EntityAttachment] = &Descriptor{
		Type: domain.EntityAttachment,
		Fields: []FieldSpec{
			{Name: "owner_entity_type", Kind: KindString, Required: true},
			{Name: "owner_client_id", Kind: KindString, Required: true},
			{Name: "file_id", Kind: KindString},
			{Name: "file_url", Kind: KindString},
			{Name: "file_name", Kind: KindString},
			{Name: "mime_type", Kind: KindString, Required: true},
			{Name: "file_size", Kind: KindNumber, Required: true},
			{Name: "sha256", Kind: KindString},
		},
		Aliases:     map[string]string{"file_mime": "mime_type"},
		Denylist:    map[string]bool{"password": true, "secret": true, "token": true},
		ServerOwned: map[string]bool{},
		SoftDelete:  true, // metadata-only per spec.md §1; the blob itself never flows through sync.
	}

	return &Registry{descriptors: d}
}

// ScanAll reports whether a RecalcTask's TargetID is the wallet-wide scan
// sentinel rather than one specific row.
func ScanAll(id string) bool { return id == scanAll }
