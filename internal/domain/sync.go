package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Scope is the explicit record threaded through every sync-path call,
// carrying the identity resolved for one request. No ambient request state
// is used anywhere below this point.
type Scope struct {
	UserID   string
	DeviceID string
	WalletID string
	Role     WalletRole
}

// PushItem is one operation inside a push batch, as received from a client.
//
// Payload and BaseVersion are decoded through UnmarshalJSON below rather
// than as plain struct fields, so a payload that isn't a JSON object or a
// base_version that isn't a JSON number becomes this item's own stable
// error code instead of failing the whole batch decode the way a typed
// map[string]interface{}/int64 field would.
type PushItem struct {
	OpID        string                 `json:"op_id" validate:"required"`
	EntityType  string                 `json:"entity_type" validate:"required"`
	EntityID    string                 `json:"entity_id" validate:"required"`
	Operation   string                 `json:"operation" validate:"required"`
	Payload     map[string]interface{} `json:"-"`
	BaseVersion int64                  `json:"-"`

	// HasBaseVersion distinguishes an omitted base_version from an
	// explicit 0, which a plain int64 field cannot: both decode to the
	// zero value otherwise, making base_version_required unreachable.
	HasBaseVersion bool `json:"-"`
	// BaseVersionInvalid marks a base_version that was present but not a
	// JSON number (e.g. a string).
	BaseVersionInvalid bool `json:"-"`
	// PayloadInvalid marks a payload that was present but not a JSON
	// object (e.g. a bare string or array).
	PayloadInvalid bool `json:"-"`
}

// pushItemWire mirrors PushItem's JSON shape but defers decoding Payload
// and BaseVersion so UnmarshalJSON can classify them instead of letting
// encoding/json reject the whole item outright.
type pushItemWire struct {
	OpID        string          `json:"op_id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	BaseVersion json.RawMessage `json:"base_version"`
}

func rawPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && string(trimmed) != "null"
}

func (p *PushItem) UnmarshalJSON(data []byte) error {
	var wire pushItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	p.OpID = wire.OpID
	p.EntityType = wire.EntityType
	p.EntityID = wire.EntityID
	p.Operation = wire.Operation

	if rawPresent(wire.BaseVersion) {
		p.HasBaseVersion = true
		if err := json.Unmarshal(wire.BaseVersion, &p.BaseVersion); err != nil {
			p.BaseVersionInvalid = true
		}
	}

	if rawPresent(wire.Payload) {
		trimmed := bytes.TrimSpace(wire.Payload)
		if trimmed[0] != '{' {
			p.PayloadInvalid = true
		} else if err := json.Unmarshal(wire.Payload, &p.Payload); err != nil {
			p.PayloadInvalid = true
		}
	}

	return nil
}

// PushRequest is the decoded body of the push endpoint.
type PushRequest struct {
	DeviceID string     `json:"device_id" validate:"required"`
	WalletID string     `json:"wallet_id" validate:"required"`
	Items    []PushItem `json:"items" validate:"required,min=1,max=200,dive"`
}

// ResultStatus is the outcome of a single push item.
type ResultStatus string

const (
	StatusAccepted  ResultStatus = "accepted"
	StatusDuplicate ResultStatus = "duplicate"
	StatusConflict  ResultStatus = "conflict"
	StatusError     ResultStatus = "error"
)

// PushItemResult is the per-item outcome returned in push responses and
// recorded verbatim in the Operation Ledger.
type PushItemResult struct {
	Status         ResultStatus           `json:"status"`
	EntityType     string                 `json:"entity_type"`
	ClientID       string                 `json:"client_id"`
	DocVersion     int64                  `json:"doc_version,omitempty"`
	ServerModified string                 `json:"server_modified,omitempty"`

	ClientBaseVersion int64                  `json:"client_base_version,omitempty"`
	ServerDocVersion  int64                  `json:"server_doc_version,omitempty"`
	ServerRecord      map[string]interface{} `json:"server_record,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        string `json:"error,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// PushResponse is the envelope returned from the push endpoint.
type PushResponse struct {
	Results    []PushItemResult `json:"results"`
	ServerTime time.Time        `json:"server_time"`
}

// LedgerRow is the persisted record of a completed push item, keyed by
// (user, device, op_id). A replay of op_id returns this row's Result
// unmodified.
type LedgerRow struct {
	UserID   string         `json:"user_id"`
	DeviceID string         `json:"device_id"`
	OpID     string         `json:"op_id"`
	Result   PushItemResult `json:"result"`
	StoredAt time.Time      `json:"stored_at"`
}

// Conflict is a recorded wallet-scoped version mismatch, kept so a device
// that dropped the push response can re-discover what happened.
type Conflict struct {
	WalletID   string    `json:"wallet_id"`
	DeviceID   string    `json:"device_id"`
	OpID       string    `json:"op_id"`
	EntityType string    `json:"entity_type"`
	ClientID   string    `json:"client_id"`
	Result     PushItemResult `json:"result"`
	CreatedAt  time.Time `json:"created_at"`
}

// PullItem is one entity projected into the pull response shape.
type PullItem struct {
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	ClientID       string                 `json:"client_id"`
	DocVersion     int64                  `json:"doc_version"`
	ServerModified string                 `json:"server_modified"`
	Payload        map[string]interface{} `json:"payload"`
	IsDeleted      bool                   `json:"is_deleted"`
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`
}

// PullRequest is the decoded query/body of the pull endpoint. Cursor and
// Since are both accepted on input; only Cursor (or the opaque next_cursor
// from a prior response) should normally be sent by a well-behaved client.
type PullRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	WalletID string `json:"wallet_id" validate:"required"`
	Cursor   string `json:"cursor,omitempty"`
	Since    string `json:"since,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PullResponse is the envelope returned from the pull endpoint.
type PullResponse struct {
	Items      []PullItem `json:"items"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
	ServerTime time.Time  `json:"server_time"`
}
