package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"inkdown-sync-server/internal/domain"
)

// ConflictStore records wallet-scoped conflicts so a device that dropped a
// push response can later enumerate what happened, grounded in the same
// append-mostly raw-HTTP texture as LedgerStore.
type ConflictStore interface {
	Record(ctx context.Context, c *domain.Conflict) error
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.Conflict, error)
}

type CouchConflictStore struct {
	baseURL string
	dbName  string
	client  *http.Client
}

func NewCouchConflictStore(baseURL, dbName string) *CouchConflictStore {
	return &CouchConflictStore{
		baseURL: baseURL,
		dbName:  dbName,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type conflictDoc struct {
	ID         string               `json:"_id"`
	DocType    string               `json:"doc_type"`
	WalletID   string               `json:"wallet_id"`
	DeviceID   string               `json:"device_id"`
	OpID       string               `json:"op_id"`
	EntityType string               `json:"entity_type"`
	ClientID   string               `json:"client_id"`
	Result     domain.PushItemResult `json:"result"`
	CreatedAt  string               `json:"created_at"`
}

func (s *CouchConflictStore) Record(ctx context.Context, c *domain.Conflict) error {
	doc := conflictDoc{
		ID:         fmt.Sprintf("conflict:%s:%s", c.WalletID, uuid.NewString()),
		DocType:    "conflict",
		WalletID:   c.WalletID,
		DeviceID:   c.DeviceID,
		OpID:       c.OpID,
		EntityType: c.EntityType,
		ClientID:   c.ClientID,
		Result:     c.Result,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/%s/%s", s.baseURL, s.dbName, doc.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("record conflict: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *CouchConflictStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.Conflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  "conflict",
			"wallet_id": walletID,
		},
		"sort":  []map[string]string{{"created_at": "desc"}},
		"limit": limit,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/_find", s.baseURL, s.dbName), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list conflicts: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Docs []conflictDoc `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("list conflicts decode: %w", err)
	}

	out := make([]*domain.Conflict, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		createdAt, err := time.Parse(time.RFC3339Nano, doc.CreatedAt)
		if err != nil {
			continue
		}
		out = append(out, &domain.Conflict{
			WalletID:   doc.WalletID,
			DeviceID:   doc.DeviceID,
			OpID:       doc.OpID,
			EntityType: doc.EntityType,
			ClientID:   doc.ClientID,
			Result:     doc.Result,
			CreatedAt:  createdAt,
		})
	}
	return out, nil
}
