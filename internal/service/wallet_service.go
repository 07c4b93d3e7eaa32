package service

import (
	"context"
	"fmt"
	"time"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/repository"
	"inkdown-sync-server/internal/walletacl"

	"github.com/google/uuid"
)

// WalletService creates wallets and lists the ones a user belongs to. It is
// the ambient collaborator SPEC_FULL §5 describes: wallet membership CRUD
// lives here, outside the sync engine proper, since the engine only ever
// needs to ask WalletAcl "is this user a member".
type WalletService struct {
	repo repository.WalletRepository
	acl  walletacl.WalletAcl
}

func NewWalletService(repo repository.WalletRepository, acl walletacl.WalletAcl) *WalletService {
	return &WalletService{repo: repo, acl: acl}
}

func (s *WalletService) Create(userID string, req *domain.CreateWalletRequest) (*domain.WalletResponse, error) {
	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		Name:      req.Name,
		Currency:  req.Currency,
		Icon:      req.Icon,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(wallet); err != nil {
		return nil, err
	}

	if err := s.acl.AddMember(context.Background(), wallet.ID, userID, domain.RoleOwner); err != nil {
		return nil, fmt.Errorf("add wallet owner: %w", err)
	}

	return &domain.WalletResponse{
		ID:        wallet.ID,
		Name:      wallet.Name,
		Currency:  wallet.Currency,
		Icon:      wallet.Icon,
		Role:      string(domain.RoleOwner),
		CreatedAt: wallet.CreatedAt,
		UpdatedAt: wallet.UpdatedAt,
	}, nil
}

func (s *WalletService) List(userID string) ([]*domain.WalletResponse, error) {
	memberships, err := s.acl.WalletsForUser(context.Background(), userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(memberships))
	roleByID := make(map[string]domain.WalletRole, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.WalletID)
		roleByID[m.WalletID] = m.Role
	}

	wallets, err := s.repo.ListByIDs(ids)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.WalletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, &domain.WalletResponse{
			ID:        w.ID,
			Name:      w.Name,
			Currency:  w.Currency,
			Icon:      w.Icon,
			Role:      string(roleByID[w.ID]),
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
		})
	}
	return out, nil
}

func (s *WalletService) Get(userID, walletID string) (*domain.WalletResponse, error) {
	isMember, role := s.acl.IsMember(context.Background(), walletID, userID)
	if !isMember {
		return nil, walletacl.ErrNotMember
	}

	wallet, err := s.repo.FindByID(walletID)
	if err != nil {
		return nil, err
	}

	return &domain.WalletResponse{
		ID:        wallet.ID,
		Name:      wallet.Name,
		Currency:  wallet.Currency,
		Icon:      wallet.Icon,
		Role:      string(role),
		CreatedAt: wallet.CreatedAt,
		UpdatedAt: wallet.UpdatedAt,
	}, nil
}
