package websocket

import (
	"encoding/json"
	"time"
)

// CursorLayout is the wire format used inside WalletAdvancedPayload.NextCursor,
// matching cursorclock.Format's canonical output.
const CursorLayout = time.RFC3339Nano

type MessageType string

const (
	// TypeWalletAdvanced notifies a user's other connected devices that an
	// accepted push batch moved a wallet's cursor forward, so an idle
	// client knows to pull instead of polling.
	TypeWalletAdvanced MessageType = "wallet_advanced"
	TypeConflict       MessageType = "conflict"
	TypeAck            MessageType = "ack"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WalletAdvancedPayload is broadcast after a push batch accepts at least
// one mutation, carrying the cursor a subsequent pull should start from.
type WalletAdvancedPayload struct {
	WalletID   string `json:"wallet_id"`
	NextCursor string `json:"next_cursor"`
}

// ConflictPayload mirrors a single push-item conflict result so a
// connected device can react without waiting for its own push response.
type ConflictPayload struct {
	WalletID       string                 `json:"wallet_id"`
	EntityType     string                 `json:"entity_type"`
	ClientID       string                 `json:"client_id"`
	ServerDocVersion int64                `json:"server_doc_version"`
	ServerRecord   map[string]interface{} `json:"server_record"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
