package repository

import (
	"context"
	"fmt"

	"inkdown-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type WalletRepository interface {
	Create(wallet *domain.Wallet) error
	FindByID(id string) (*domain.Wallet, error)
	ListByIDs(ids []string) ([]*domain.Wallet, error)
}

type walletRepository struct {
	client *kivik.Client
	dbName string
}

func NewWalletRepository(client *kivik.Client, dbName string) WalletRepository {
	return &walletRepository{
		client: client,
		dbName: dbName,
	}
}

// walletDocID is deliberately namespaced apart from the entity store's
// "{entity_type}:{entity_id}" convention (storage/entity_store.go's
// docID), which already owns the bare "wallet:<id>" doc for the syncable
// Wallet entity registered in internal/registry/entities.go. This repo
// only ever holds the administrative name/currency/icon row written at
// wallet-creation time; the "wallet:<id>" document a device pushes and
// pulls through the ordinary sync path is a distinct physical document.
func walletDocID(id string) string {
	return fmt.Sprintf("wallet_meta:%s", id)
}

func (r *walletRepository) Create(wallet *domain.Wallet) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(context.Background(), walletDocID(wallet.ID), wallet)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

func (r *walletRepository) FindByID(id string) (*domain.Wallet, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), walletDocID(id))

	var wallet domain.Wallet
	if err := row.ScanDoc(&wallet); err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}

	return &wallet, nil
}

func (r *walletRepository) ListByIDs(ids []string) ([]*domain.Wallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = walletDocID(id)
	}

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"_id": map[string]interface{}{"$in": docIDs},
		},
		"limit": len(docIDs),
	}

	db := r.client.DB(r.dbName)
	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		var wallet domain.Wallet
		if err := rows.ScanDoc(&wallet); err != nil {
			continue
		}
		wallets = append(wallets, &wallet)
	}

	return wallets, nil
}
