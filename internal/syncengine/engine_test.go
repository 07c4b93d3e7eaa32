package syncengine

import (
	"context"
	"testing"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/recalc"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/storagetest"
	"inkdown-sync-server/internal/versioncontrol"
)

func newTestEngine() *Engine {
	reg := registry.New()
	entities := storagetest.NewMemoryEntityStore()
	ledger := storagetest.NewMemoryLedgerStore()
	conflicts := storagetest.NewMemoryConflictStore()
	clock := cursorclock.New()
	controller := versioncontrol.New(entities, reg, clock)
	dispatcher := recalc.New(entities, reg, clock)
	return New(reg, entities, ledger, conflicts, controller, dispatcher, clock)
}

func accountPushItem(opID, entityID, op string, baseVersion int64, extra map[string]interface{}) domain.PushItem {
	payload := map[string]interface{}{
		"client_id":       entityID,
		"name":            "Cash",
		"account_type":    "checking",
		"currency":        "SAR",
		"opening_balance": 0.0,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return domain.PushItem{
		OpID:           opID,
		EntityType:     string(domain.EntityAccount),
		EntityID:       entityID,
		Operation:      op,
		BaseVersion:    baseVersion,
		HasBaseVersion: true,
		Payload:        payload,
	}
}

func TestPush_CreateAccepted(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}
	req := domain.PushRequest{
		DeviceID: "d1",
		WalletID: "w1",
		Items:    []domain.PushItem{accountPushItem("o1", "acc-1", "create", 0, nil)},
	}

	resp, err := e.Push(context.Background(), scope, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	r := resp.Results[0]
	if r.Status != domain.StatusAccepted || r.DocVersion != 1 {
		t.Fatalf("expected accepted doc_version 1, got %+v", r)
	}
}

func TestPush_ReplayIsIdempotent(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}
	item := accountPushItem("o1", "acc-1", "create", 0, nil)
	req := domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{item}}

	first, err := e.Push(context.Background(), scope, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Push(context.Background(), scope, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Results[0].DocVersion != second.Results[0].DocVersion {
		t.Fatalf("replay must not allocate a new doc_version: %+v vs %+v", first.Results[0], second.Results[0])
	}
	if second.Results[0].Status != domain.StatusAccepted {
		t.Fatalf("expected replay to return the recorded result verbatim, got %+v", second.Results[0])
	}
}

func TestPush_ConflictDoesNotAdvanceRow(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}

	create := domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{
		accountPushItem("o1", "acc-1", "create", 0, nil),
	}}
	if _, err := e.Push(context.Background(), scope, create); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	staleUpdate := domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{
		{OpID: "o2", EntityType: string(domain.EntityAccount), EntityID: "acc-1", Operation: "update", BaseVersion: 0, HasBaseVersion: true, Payload: map[string]interface{}{"name": "Wallet"}},
	}}
	resp, err := e.Push(context.Background(), scope, staleUpdate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := resp.Results[0]
	if r.Status != domain.StatusConflict {
		t.Fatalf("expected conflict, got %+v", r)
	}
	if r.ServerRecord["name"] != "Cash" {
		t.Errorf("expected server_record to carry the untouched row, got %v", r.ServerRecord["name"])
	}

	pullResp, err := e.Pull(context.Background(), scope, domain.PullRequest{DeviceID: "d1", WalletID: "w1"})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pullResp.Items) != 1 || pullResp.Items[0].DocVersion != 1 {
		t.Fatalf("expected pull to still show doc_version 1 after conflict, got %+v", pullResp.Items)
	}
}

func TestPush_SoftDeleteVisibleInPull(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}

	create := domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{
		accountPushItem("o1", "acc-1", "create", 0, nil),
	}}
	if _, err := e.Push(context.Background(), scope, create); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	del := domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{
		{OpID: "o2", EntityType: string(domain.EntityAccount), EntityID: "acc-1", Operation: "delete", BaseVersion: 1, HasBaseVersion: true},
	}}
	resp, err := e.Push(context.Background(), scope, del)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results[0].Status != domain.StatusAccepted {
		t.Fatalf("expected delete accepted, got %+v", resp.Results[0])
	}

	pullResp, err := e.Pull(context.Background(), scope, domain.PullRequest{DeviceID: "d1", WalletID: "w1"})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pullResp.Items) != 1 || !pullResp.Items[0].IsDeleted || pullResp.Items[0].DeletedAt == nil {
		t.Fatalf("expected pull to show is_deleted with deleted_at, got %+v", pullResp.Items)
	}
}

func TestPush_BatchTooLargeRejected(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}
	items := make([]domain.PushItem, 201)
	for i := range items {
		items[i] = accountPushItem("o", "acc", "create", 0, nil)
	}
	_, err := e.Push(context.Background(), scope, domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: items})
	if err == nil {
		t.Fatal("expected batch-too-large error")
	}
}

func TestPush_ItemErrorDoesNotBlockOtherItems(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}
	badItem := domain.PushItem{
		OpID: "bad", EntityType: string(domain.EntityAccount), EntityID: "acc-bad", Operation: "create",
		Payload: map[string]interface{}{"client_id": "acc-bad"}, // missing required fields
	}
	goodItem := accountPushItem("good", "acc-good", "create", 0, nil)

	resp, err := e.Push(context.Background(), scope, domain.PushRequest{
		DeviceID: "d1", WalletID: "w1", Items: []domain.PushItem{badItem, goodItem},
	})
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if resp.Results[0].Status != domain.StatusError {
		t.Errorf("expected first item error, got %+v", resp.Results[0])
	}
	if resp.Results[1].Status != domain.StatusAccepted {
		t.Errorf("expected second item accepted despite first item's error, got %+v", resp.Results[1])
	}
}

func TestPull_PaginationNoOverlapNoGap(t *testing.T) {
	e := newTestEngine()
	scope := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "w1"}

	items := make([]domain.PushItem, 5)
	for i, id := range []string{"acc-a", "acc-b", "acc-c", "acc-d", "acc-e"} {
		items[i] = accountPushItem("o-"+id, id, "create", 0, nil)
	}
	if _, err := e.Push(context.Background(), scope, domain.PushRequest{DeviceID: "d1", WalletID: "w1", Items: items}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		resp, err := e.Pull(context.Background(), scope, domain.PullRequest{DeviceID: "d1", WalletID: "w1", Cursor: cursor, Limit: 2})
		if err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		for _, it := range resp.Items {
			if seen[it.EntityID] {
				t.Fatalf("duplicate item across pages: %s", it.EntityID)
			}
			seen[it.EntityID] = true
		}
		cursor = resp.NextCursor
		if !resp.HasMore {
			break
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected all 5 items covered across pages, got %d", len(seen))
	}

	final, err := e.Pull(context.Background(), scope, domain.PullRequest{DeviceID: "d1", WalletID: "w1", Cursor: cursor})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(final.Items) != 0 {
		t.Fatalf("expected repeat pull at final cursor to be empty, got %+v", final.Items)
	}
}

func TestPull_WalletIsolation(t *testing.T) {
	e := newTestEngine()
	scopeA := domain.Scope{UserID: "u1", DeviceID: "d1", WalletID: "wallet-a"}
	scopeB := domain.Scope{UserID: "u2", DeviceID: "d2", WalletID: "wallet-b"}

	if _, err := e.Push(context.Background(), scopeA, domain.PushRequest{
		DeviceID: "d1", WalletID: "wallet-a", Items: []domain.PushItem{accountPushItem("o1", "acc-1", "create", 0, nil)},
	}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	resp, err := e.Pull(context.Background(), scopeB, domain.PullRequest{DeviceID: "d2", WalletID: "wallet-b"})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Fatalf("expected wallet-b to see no rows from wallet-a, got %+v", resp.Items)
	}
}
