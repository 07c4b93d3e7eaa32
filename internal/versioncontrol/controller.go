// Package versioncontrol applies create/update/delete mutations under
// optimistic base_version concurrency, the state machine described for the
// Version Controller.
package versioncontrol

import (
	"context"
	"errors"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/storage"
)

type OutcomeKind string

const (
	OutcomeAccepted  OutcomeKind = "accepted"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeConflict  OutcomeKind = "conflict"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is the result of applying one push item, before the Recalc
// Dispatcher or the response builder touch it.
type Outcome struct {
	Kind              OutcomeKind
	Entity            *domain.Entity // resulting row (accepted/duplicate), or current row (conflict)
	PriorPayload      map[string]interface{}
	ClientBaseVersion int64
	ErrorCode         string
	ErrorMessage      string
}

type Controller struct {
	store storage.EntityStore
	reg   *registry.Registry
	clock *cursorclock.Clock
}

func New(store storage.EntityStore, reg *registry.Registry, clock *cursorclock.Clock) *Controller {
	return &Controller{store: store, reg: reg, clock: clock}
}

func errOutcome(code string) *Outcome {
	return &Outcome{Kind: OutcomeError, ErrorCode: code}
}

// Apply runs one normalized push item through the state machine. op and
// entityType are taken from the item; canonicalPayload has already passed
// the normalizer.
func (c *Controller) Apply(
	ctx context.Context,
	scope domain.Scope,
	item domain.PushItem,
	canonicalPayload map[string]interface{},
	createdMs, modifiedMs int64,
) (*Outcome, error) {
	desc, ok := c.reg.Get(item.EntityType)
	if !ok {
		return errOutcome("unsupported_entity_type"), nil
	}

	current, err := c.store.Get(ctx, item.EntityType, item.EntityID)
	notFound := errors.Is(err, storage.ErrEntityNotFound)
	if err != nil && !notFound {
		return nil, err
	}

	op := domain.OperationKind(item.Operation)

	switch op {
	case domain.OpCreate:
		if !notFound {
			// live row already exists with this client_id: duplicate create.
			return &Outcome{Kind: OutcomeDuplicate, Entity: current}, nil
		}
		now := c.clock.Next(scope.WalletID)
		entity := &domain.Entity{
			EntityType:      domain.EntityType(item.EntityType),
			EntityID:        item.EntityID,
			WalletID:        scope.WalletID,
			DocVersion:      1,
			ServerModified:  now,
			ClientCreatedMs: createdMs,
			ClientModMs:     modifiedMs,
			IsDeleted:       false,
			Payload:         canonicalPayload,
		}
		if err := c.store.Put(ctx, entity); err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeAccepted, Entity: entity}, nil

	case domain.OpUpdate:
		if notFound || current.IsDeleted {
			return errOutcome("not_found"), nil
		}
		if item.BaseVersion != current.DocVersion {
			return &Outcome{Kind: OutcomeConflict, Entity: current, ClientBaseVersion: item.BaseVersion}, nil
		}
		prior := current.Payload
		updated := current.Clone()
		for k, v := range canonicalPayload {
			updated.Payload[k] = v
		}
		updated.DocVersion = current.DocVersion + 1
		updated.ServerModified = c.clock.Next(scope.WalletID)
		updated.ClientModMs = modifiedMs
		if err := c.store.Put(ctx, updated); err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeAccepted, Entity: updated, PriorPayload: prior}, nil

	case domain.OpDelete:
		if notFound || current.IsDeleted {
			return errOutcome("not_found"), nil
		}
		if item.BaseVersion != current.DocVersion {
			return &Outcome{Kind: OutcomeConflict, Entity: current, ClientBaseVersion: item.BaseVersion}, nil
		}
		prior := current.Payload
		now := c.clock.Next(scope.WalletID)
		if desc.SoftDelete {
			updated := current.Clone()
			updated.IsDeleted = true
			updated.DeletedAt = &now
			updated.DocVersion = current.DocVersion + 1
			updated.ServerModified = now
			if err := c.store.Put(ctx, updated); err != nil {
				return nil, err
			}
			return &Outcome{Kind: OutcomeAccepted, Entity: updated, PriorPayload: prior}, nil
		}

		preVersion := current.DocVersion
		if err := c.store.HardDelete(ctx, item.EntityType, item.EntityID); err != nil {
			return nil, err
		}
		result := &domain.Entity{
			EntityType:     domain.EntityType(item.EntityType),
			EntityID:       item.EntityID,
			WalletID:       scope.WalletID,
			DocVersion:     preVersion,
			ServerModified: now,
		}
		return &Outcome{Kind: OutcomeAccepted, Entity: result, PriorPayload: prior}, nil

	default:
		return errOutcome("invalid_operation"), nil
	}
}
