// Package syncengine composes the Identity & Scope Resolver, Operation
// Ledger, Payload Normalizer, Version Controller, and Recalc Dispatcher
// into the public Push and Pull Orchestrators.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/normalizer"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/storage"
	"inkdown-sync-server/internal/versioncontrol"
)

// ErrBatch is a request-level failure: the whole batch is rejected before
// any item is processed.
type ErrBatch struct {
	Message string
}

func (e *ErrBatch) Error() string { return e.Message }

const defaultMaxBatchItems = 200

type Engine struct {
	reg           *registry.Registry
	entities      storage.EntityStore
	ledger        storage.LedgerStore
	conflicts     storage.ConflictStore
	controller    *versioncontrol.Controller
	recalc        Recalculator
	clock         *cursorclock.Clock
	maxBatchItems int
	maxPullLimit  int
}

// Recalculator is the subset of recalc.Dispatcher the engine depends on,
// kept as an interface so push/pull can be tested without real storage.
type Recalculator interface {
	Run(ctx context.Context, walletID string, tasks []registry.RecalcTask) error
}

func New(
	reg *registry.Registry,
	entities storage.EntityStore,
	ledger storage.LedgerStore,
	conflicts storage.ConflictStore,
	controller *versioncontrol.Controller,
	recalc Recalculator,
	clock *cursorclock.Clock,
) *Engine {
	return &Engine{
		reg:           reg,
		entities:      entities,
		ledger:        ledger,
		conflicts:     conflicts,
		controller:    controller,
		recalc:        recalc,
		clock:         clock,
		maxBatchItems: defaultMaxBatchItems,
		maxPullLimit:  defaultMaxPullLimit,
	}
}

// WithLimits overrides the batch/page caps from the ambient Sync config,
// keeping the protocol-mandated defaults (§6: ≤200 push items, ≤500 pull
// items) when either argument is non-positive.
func (e *Engine) WithLimits(maxBatchItems, maxPullLimit int) *Engine {
	if maxBatchItems > 0 {
		e.maxBatchItems = maxBatchItems
	}
	if maxPullLimit > 0 {
		e.maxPullLimit = maxPullLimit
	}
	return e
}

// Push is the top-level push orchestrator. It validates the batch shape,
// then applies items strictly in order, isolating each item's failure from
// its neighbors.
func (e *Engine) Push(ctx context.Context, scope domain.Scope, req domain.PushRequest) (*domain.PushResponse, error) {
	if req.DeviceID == "" || req.WalletID == "" {
		return nil, &ErrBatch{Message: "device_id and wallet_id are required"}
	}
	if req.DeviceID != scope.DeviceID || req.WalletID != scope.WalletID {
		return nil, &ErrBatch{Message: "device_id/wallet_id do not match resolved scope"}
	}
	if len(req.Items) == 0 {
		return nil, &ErrBatch{Message: "items must be a non-empty list"}
	}
	if len(req.Items) > e.maxBatchItems {
		return nil, &ErrBatch{Message: fmt.Sprintf("items exceeds the %d item batch limit", e.maxBatchItems)}
	}
	for _, item := range req.Items {
		if item.EntityType == "" {
			continue
		}
		if _, ok := e.reg.Get(item.EntityType); !ok {
			return nil, &ErrBatch{Message: "unsupported_entity_type: " + item.EntityType}
		}
	}

	results := make([]domain.PushItemResult, 0, len(req.Items))
	for _, item := range req.Items {
		result, err := e.applyItem(ctx, scope, item)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return &domain.PushResponse{Results: results, ServerTime: time.Now().UTC()}, nil
}

func (e *Engine) applyItem(ctx context.Context, scope domain.Scope, item domain.PushItem) (*domain.PushItemResult, error) {
	if hit, err := e.ledger.Lookup(ctx, scope.UserID, scope.DeviceID, item.OpID); err != nil {
		return nil, err
	} else if hit != nil {
		return &hit.Result, nil
	}

	result := e.process(ctx, scope, item)

	row := &domain.LedgerRow{
		UserID:   scope.UserID,
		DeviceID: scope.DeviceID,
		OpID:     item.OpID,
		Result:   *result,
		StoredAt: time.Now().UTC(),
	}
	stored, err := e.ledger.Record(ctx, row)
	if err != nil {
		return nil, err
	}
	return &stored.Result, nil
}

func (e *Engine) process(ctx context.Context, scope domain.Scope, item domain.PushItem) *domain.PushItemResult {
	canonical, createdMs, modifiedMs, err := normalizer.Normalize(e.reg, item, scope.WalletID)
	if err != nil {
		var nerr *normalizer.Error
		if errors.As(err, &nerr) {
			return errorResult(item, nerr.Code)
		}
		return errorResult(item, "invalid_field_type")
	}

	outcome, err := e.controller.Apply(ctx, scope, item, canonical, createdMs, modifiedMs)
	if err != nil {
		return errorResult(item, "internal_error")
	}

	switch outcome.Kind {
	case versioncontrol.OutcomeError:
		return errorResult(item, outcome.ErrorCode)

	case versioncontrol.OutcomeConflict:
		e.recordConflict(ctx, scope, item, outcome)
		return &domain.PushItemResult{
			Status:            domain.StatusConflict,
			EntityType:        item.EntityType,
			ClientID:          item.EntityID,
			DocVersion:        outcome.Entity.DocVersion,
			ServerModified:    cursorclock.Format(outcome.Entity.ServerModified),
			ClientBaseVersion: outcome.ClientBaseVersion,
			ServerDocVersion:  outcome.Entity.DocVersion,
			ServerRecord:      outcome.Entity.Clone().Payload,
		}

	case versioncontrol.OutcomeDuplicate:
		return &domain.PushItemResult{
			Status:         domain.StatusDuplicate,
			EntityType:     item.EntityType,
			ClientID:       item.EntityID,
			DocVersion:     outcome.Entity.DocVersion,
			ServerModified: cursorclock.Format(outcome.Entity.ServerModified),
		}

	case versioncontrol.OutcomeAccepted:
		desc, _ := e.reg.Get(item.EntityType)
		if desc != nil && desc.Recalc != nil {
			var newPayload map[string]interface{}
			if !isHardGone(item.Operation, desc.SoftDelete) {
				newPayload = outcome.Entity.Payload
			}
			tasks := registry.MergeTasks(desc.Recalc(item.EntityID, domain.OperationKind(item.Operation), outcome.PriorPayload, newPayload))
			if err := e.recalc.Run(ctx, scope.WalletID, tasks); err != nil {
				return errorResult(item, "internal_error")
			}
		}
		return &domain.PushItemResult{
			Status:         domain.StatusAccepted,
			EntityType:     item.EntityType,
			ClientID:       item.EntityID,
			DocVersion:     outcome.Entity.DocVersion,
			ServerModified: cursorclock.Format(outcome.Entity.ServerModified),
		}
	}

	return errorResult(item, "internal_error")
}

func isHardGone(operation string, softDelete bool) bool {
	return domain.OperationKind(operation) == domain.OpDelete && !softDelete
}

func (e *Engine) recordConflict(ctx context.Context, scope domain.Scope, item domain.PushItem, outcome *versioncontrol.Outcome) {
	_ = e.conflicts.Record(ctx, &domain.Conflict{
		WalletID:   scope.WalletID,
		DeviceID:   scope.DeviceID,
		OpID:       item.OpID,
		EntityType: item.EntityType,
		ClientID:   item.EntityID,
		Result: domain.PushItemResult{
			Status:            domain.StatusConflict,
			EntityType:        item.EntityType,
			ClientID:          item.EntityID,
			DocVersion:        outcome.Entity.DocVersion,
			ServerModified:    cursorclock.Format(outcome.Entity.ServerModified),
			ClientBaseVersion: outcome.ClientBaseVersion,
			ServerDocVersion:  outcome.Entity.DocVersion,
			ServerRecord:      outcome.Entity.Clone().Payload,
		},
		CreatedAt: time.Now().UTC(),
	})
}

func errorResult(item domain.PushItem, code string) *domain.PushItemResult {
	return &domain.PushItemResult{
		Status:       domain.StatusError,
		EntityType:   item.EntityType,
		ClientID:     item.EntityID,
		ErrorCode:    code,
		ErrorMessage: code,
		Error:        code,
	}
}
