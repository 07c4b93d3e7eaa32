// Package storage is the generic entity store the sync engine reads and
// writes through. Unlike the teacher's one-repository-per-doc-type layout,
// every syncable row is stored under a single database keyed by
// "{entity_type}:{entity_id}", following the workspaceDoc/docToWorkspace
// envelope convention (discriminator field, RFC3339 string timestamps).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"inkdown-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var ErrEntityNotFound = errors.New("entity not found")

// entityDoc is the on-the-wire Couch document for one Entity.
type entityDoc struct {
	ID              string                 `json:"_id"`
	Rev             string                 `json:"_rev,omitempty"`
	DocType         string                 `json:"doc_type"`
	EntityType      string                 `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	WalletID        string                 `json:"wallet_id"`
	DocVersion      int64                  `json:"doc_version"`
	ServerModified  string                 `json:"server_modified"`
	ClientCreatedMs int64                  `json:"client_created_ms,omitempty"`
	ClientModMs     int64                  `json:"client_modified_ms,omitempty"`
	IsDeleted       bool                   `json:"is_deleted"`
	DeletedAt       string                 `json:"deleted_at,omitempty"`
	Payload         map[string]interface{} `json:"payload"`
}

func docID(entityType, entityID string) string {
	return fmt.Sprintf("%s:%s", entityType, entityID)
}

func toDoc(e *domain.Entity, rev string) entityDoc {
	doc := entityDoc{
		ID:              docID(string(e.EntityType), e.EntityID),
		Rev:             rev,
		DocType:         "entity",
		EntityType:      string(e.EntityType),
		EntityID:        e.EntityID,
		WalletID:        e.WalletID,
		DocVersion:      e.DocVersion,
		ServerModified:  e.ServerModified.UTC().Format(time.RFC3339Nano),
		ClientCreatedMs: e.ClientCreatedMs,
		ClientModMs:     e.ClientModMs,
		IsDeleted:       e.IsDeleted,
		Payload:         e.Payload,
	}
	if e.DeletedAt != nil {
		doc.DeletedAt = e.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func fromDoc(doc *entityDoc) (*domain.Entity, error) {
	modified, err := time.Parse(time.RFC3339Nano, doc.ServerModified)
	if err != nil {
		return nil, fmt.Errorf("parse server_modified: %w", err)
	}
	e := &domain.Entity{
		EntityType:      domain.EntityType(doc.EntityType),
		EntityID:        doc.EntityID,
		WalletID:        doc.WalletID,
		DocVersion:      doc.DocVersion,
		ServerModified:  modified,
		ClientCreatedMs: doc.ClientCreatedMs,
		ClientModMs:     doc.ClientModMs,
		IsDeleted:       doc.IsDeleted,
		Payload:         doc.Payload,
	}
	if doc.DeletedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, doc.DeletedAt)
		if err == nil {
			e.DeletedAt = &t
		}
	}
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	return e, nil
}

// EntityStore is the storage collaborator the Version Controller, Recalc
// Dispatcher, and Delta Producer all use.
type EntityStore interface {
	Get(ctx context.Context, entityType, entityID string) (*domain.Entity, error)
	Put(ctx context.Context, e *domain.Entity) error
	HardDelete(ctx context.Context, entityType, entityID string) error
	ListByWallet(ctx context.Context, walletID string, entityType domain.EntityType) ([]*domain.Entity, error)
	// Range returns entities for walletID with ServerModified strictly after
	// afterCursor, ordered ascending by (ServerModified, EntityID), capped at
	// limit+1 rows so the caller can detect has_more without a second query.
	Range(ctx context.Context, walletID string, afterCursor time.Time, limit int) ([]*domain.Entity, error)
}

type CouchEntityStore struct {
	db *kivik.DB
}

func NewCouchEntityStore(client *kivik.Client, dbName string) *CouchEntityStore {
	return &CouchEntityStore{db: client.DB(dbName)}
}

func (s *CouchEntityStore) Get(ctx context.Context, entityType, entityID string) (*domain.Entity, error) {
	row := s.db.Get(ctx, docID(entityType, entityID))
	var doc entityDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return fromDoc(&doc)
}

func (s *CouchEntityStore) currentRev(ctx context.Context, id string) string {
	row := s.db.Get(ctx, id)
	var doc entityDoc
	if err := row.ScanDoc(&doc); err != nil {
		return ""
	}
	return doc.Rev
}

func (s *CouchEntityStore) Put(ctx context.Context, e *domain.Entity) error {
	id := docID(string(e.EntityType), e.EntityID)
	rev := s.currentRev(ctx, id)
	doc := toDoc(e, rev)
	if _, err := s.db.Put(ctx, id, doc); err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

func (s *CouchEntityStore) HardDelete(ctx context.Context, entityType, entityID string) error {
	id := docID(entityType, entityID)
	rev := s.currentRev(ctx, id)
	if rev == "" {
		return nil
	}
	if _, err := s.db.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	return nil
}

func (s *CouchEntityStore) ListByWallet(ctx context.Context, walletID string, entityType domain.EntityType) ([]*domain.Entity, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":    "entity",
			"wallet_id":   walletID,
			"entity_type": string(entityType),
		},
		"limit": 10000,
	}
	rows := s.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list by wallet: %w", err)
	}
	defer rows.Close()

	var out []*domain.Entity
	for rows.Next() {
		var doc entityDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		e, err := fromDoc(&doc)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *CouchEntityStore) Range(ctx context.Context, walletID string, afterCursor time.Time, limit int) ([]*domain.Entity, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  "entity",
			"wallet_id": walletID,
			"server_modified": map[string]interface{}{
				"$gt": afterCursor.UTC().Format(time.RFC3339Nano),
			},
		},
		"sort":  []map[string]string{{"server_modified": "asc"}},
		"limit": limit + 1,
	}
	rows := s.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range: %w", err)
	}
	defer rows.Close()

	var out []*domain.Entity
	for rows.Next() {
		var doc entityDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		e, err := fromDoc(&doc)
		if err != nil {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ServerModified.Equal(out[j].ServerModified) {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].ServerModified.Before(out[j].ServerModified)
	})
	return out, nil
}
