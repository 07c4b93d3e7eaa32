package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inkdown-sync-server/internal/domain"
)

// LedgerStore persists the Operation Ledger: a unique (user, device, op_id)
// row recorded once per push item. It talks to CouchDB over raw net/http
// rather than kivik, matching the teacher's split between typed and
// untyped repositories for its secondary, append-mostly collections.
type LedgerStore interface {
	Lookup(ctx context.Context, userID, deviceID, opID string) (*domain.LedgerRow, error)
	Record(ctx context.Context, row *domain.LedgerRow) (*domain.LedgerRow, error)
}

type CouchLedgerStore struct {
	baseURL string
	dbName  string
	client  *http.Client
}

func NewCouchLedgerStore(baseURL, dbName string) *CouchLedgerStore {
	return &CouchLedgerStore{
		baseURL: baseURL,
		dbName:  dbName,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func ledgerDocID(userID, deviceID, opID string) string {
	return fmt.Sprintf("ledger:%s:%s:%s", userID, deviceID, opID)
}

type ledgerDoc struct {
	ID       string               `json:"_id"`
	Rev      string               `json:"_rev,omitempty"`
	DocType  string               `json:"doc_type"`
	UserID   string               `json:"user_id"`
	DeviceID string               `json:"device_id"`
	OpID     string               `json:"op_id"`
	Result   domain.PushItemResult `json:"result"`
	StoredAt string               `json:"stored_at"`
}

func (s *CouchLedgerStore) docURL(id string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.dbName, id)
}

func (s *CouchLedgerStore) Lookup(ctx context.Context, userID, deviceID, opID string) (*domain.LedgerRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.docURL(ledgerDocID(userID, deviceID, opID)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger lookup: status %d: %s", resp.StatusCode, string(body))
	}

	var doc ledgerDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("ledger lookup decode: %w", err)
	}
	return ledgerDocToRow(&doc)
}

// Record inserts the ledger row for (user, device, op_id). On collision
// (the op_id was already recorded, possibly by a concurrent request) it
// returns the row that actually won, never overwriting it.
func (s *CouchLedgerStore) Record(ctx context.Context, row *domain.LedgerRow) (*domain.LedgerRow, error) {
	id := ledgerDocID(row.UserID, row.DeviceID, row.OpID)
	doc := ledgerDoc{
		ID:       id,
		DocType:  "ledger",
		UserID:   row.UserID,
		DeviceID: row.DeviceID,
		OpID:     row.OpID,
		Result:   row.Result,
		StoredAt: row.StoredAt.UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.docURL(id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		existing, lookupErr := s.Lookup(ctx, row.UserID, row.DeviceID, row.OpID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, fmt.Errorf("ledger record: conflict with no readable prior row")
		}
		return existing, nil
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger record: status %d: %s", resp.StatusCode, string(respBody))
	}

	return row, nil
}

func ledgerDocToRow(doc *ledgerDoc) (*domain.LedgerRow, error) {
	storedAt, err := time.Parse(time.RFC3339Nano, doc.StoredAt)
	if err != nil {
		return nil, fmt.Errorf("parse stored_at: %w", err)
	}
	return &domain.LedgerRow{
		UserID:   doc.UserID,
		DeviceID: doc.DeviceID,
		OpID:     doc.OpID,
		Result:   doc.Result,
		StoredAt: storedAt,
	}, nil
}
