// Package walletacl is the in-process WalletAcl collaborator: wallet
// membership and role lookup, backed by the same CouchDB database as the
// rest of the ambient domain (kivik-typed, following the teacher's
// workspace repository shape).
package walletacl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkdown-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var ErrNotMember = errors.New("user is not a member of wallet")

type WalletAcl interface {
	AddMember(ctx context.Context, walletID, userID string, role domain.WalletRole) error
	RoleOf(ctx context.Context, walletID, userID string) (domain.WalletRole, error)
	IsMember(ctx context.Context, walletID, userID string) (bool, domain.WalletRole)
	WalletsForUser(ctx context.Context, userID string) ([]domain.WalletMember, error)
}

type CouchWalletAcl struct {
	db *kivik.DB
}

func New(client *kivik.Client, dbName string) *CouchWalletAcl {
	return &CouchWalletAcl{db: client.DB(dbName)}
}

type memberDoc struct {
	ID       string `json:"_id"`
	Rev      string `json:"_rev,omitempty"`
	DocType  string `json:"doc_type"`
	WalletID string `json:"wallet_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

func memberID(walletID, userID string) string {
	return fmt.Sprintf("wallet_member:%s:%s", walletID, userID)
}

func (a *CouchWalletAcl) AddMember(ctx context.Context, walletID, userID string, role domain.WalletRole) error {
	doc := memberDoc{
		ID:       memberID(walletID, userID),
		DocType:  "wallet_member",
		WalletID: walletID,
		UserID:   userID,
		Role:     string(role),
		JoinedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := a.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("add wallet member: %w", err)
	}
	return nil
}

func (a *CouchWalletAcl) RoleOf(ctx context.Context, walletID, userID string) (domain.WalletRole, error) {
	row := a.db.Get(ctx, memberID(walletID, userID))
	var doc memberDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("get wallet member: %w", err)
	}
	return domain.WalletRole(doc.Role), nil
}

func (a *CouchWalletAcl) IsMember(ctx context.Context, walletID, userID string) (bool, domain.WalletRole) {
	role, err := a.RoleOf(ctx, walletID, userID)
	if err != nil {
		return false, ""
	}
	return true, role
}

// WalletsForUser enumerates every wallet userID belongs to, for the wallet
// listing endpoint. Order is unspecified; callers sort or join against the
// wallet repository as needed.
func (a *CouchWalletAcl) WalletsForUser(ctx context.Context, userID string) ([]domain.WalletMember, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "wallet_member",
			"user_id":  userID,
		},
		"limit": 1000,
	}
	rows := a.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wallets for user: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletMember
	for rows.Next() {
		var doc memberDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		joinedAt, _ := time.Parse(time.RFC3339, doc.JoinedAt)
		out = append(out, domain.WalletMember{
			WalletID: doc.WalletID,
			UserID:   doc.UserID,
			Role:     domain.WalletRole(doc.Role),
			JoinedAt: joinedAt,
		})
	}
	return out, nil
}
