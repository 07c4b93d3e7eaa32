// Package scope implements the Identity & Scope Resolver: given a user
// already authenticated by the bearer middleware plus the request's
// device_id and wallet_id, it verifies device ownership and wallet
// membership and produces the explicit Scope record every later stage
// consumes. No ambient request state is read past this point.
package scope

import (
	"context"
	"errors"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/repository"
	"inkdown-sync-server/internal/walletacl"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type Resolver struct {
	acl     walletacl.WalletAcl
	devices repository.DeviceRepository
}

func New(acl walletacl.WalletAcl, devices repository.DeviceRepository) *Resolver {
	return &Resolver{acl: acl, devices: devices}
}

// Resolve binds (userID, deviceID, walletID) into a Scope, or fails with
// ErrUnauthorized (unknown/revoked/foreign device) or ErrForbidden (not a
// wallet member).
func (r *Resolver) Resolve(ctx context.Context, userID, deviceID, walletID string) (domain.Scope, error) {
	device, err := r.devices.FindByID(deviceID)
	if err != nil || device.IsRevoked || device.UserID != userID {
		return domain.Scope{}, ErrUnauthorized
	}

	isMember, role := r.acl.IsMember(ctx, walletID, userID)
	if !isMember {
		return domain.Scope{}, ErrForbidden
	}

	return domain.Scope{
		UserID:   userID,
		DeviceID: deviceID,
		WalletID: walletID,
		Role:     role,
	}, nil
}
