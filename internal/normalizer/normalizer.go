// Package normalizer implements the Payload Normalizer: the ordered rule
// pipeline that turns a raw push-item payload into a canonical one, or
// rejects it with a stable error code.
package normalizer

import (
	"encoding/json"
	"math"
	"time"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/registry"
)

// MaxPayloadBytes is the per-item payload size cap (§4.3 rule 13). main.go
// overrides it from the ambient Sync config at startup; the literal here is
// only the fallback default.
var MaxPayloadBytes = 64 * 1024

// Error is a normalization failure carrying the stable item-level error
// code from §6 of the protocol.
type Error struct {
	Code string
}

func (e *Error) Error() string { return e.Code }

func fail(code string) (map[string]interface{}, int64, int64, error) {
	return nil, 0, 0, &Error{Code: code}
}

var dateFields = map[string]bool{
	"occurred_at": true,
	"start_date":  true,
	"end_date":    true,
	"due_date":    true,
	"joined_at":   true,
	"removed_at":  true,
	"paid_at":     true,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// Normalize runs the 14-step rule pipeline and returns the canonical
// payload plus the clamped client timestamps, or a stable error code.
func Normalize(reg *registry.Registry, item domain.PushItem, requestWallet string) (map[string]interface{}, int64, int64, error) {
	// 1. entity_type present in the registry.
	if item.EntityType == "" {
		return fail("entity_type_required")
	}
	desc, ok := reg.Get(item.EntityType)
	if !ok {
		return fail("unsupported_entity_type")
	}

	// 2. operation is one of the three known kinds.
	op := domain.OperationKind(item.Operation)
	switch op {
	case domain.OpCreate, domain.OpUpdate, domain.OpDelete:
	default:
		return fail("invalid_operation")
	}

	// 2b. base_version is mandatory on update/delete, and must have been a
	// JSON number if present at all — an absent field and a malformed one
	// are distinct stable error codes.
	if op == domain.OpUpdate || op == domain.OpDelete {
		if item.BaseVersionInvalid {
			return fail("base_version_invalid")
		}
		if !item.HasBaseVersion {
			return fail("base_version_required")
		}
	}

	// 3. entity_id present, equal to payload.client_id.
	if item.EntityID == "" {
		return fail("entity_id_required")
	}

	// 3b. a Wallet row is self-scoped: its own entity_id doubles as the
	// wallet_id every other entity type is scoped by (spec §3 invariant 6).
	if item.EntityType == string(domain.EntityWallet) && item.EntityID != requestWallet {
		return fail("wallet_id_must_equal_client_id")
	}

	// 4. payload is a map.
	if item.PayloadInvalid {
		return fail("payload_must_be_object")
	}
	raw := item.Payload
	if raw == nil {
		raw = map[string]interface{}{}
	}
	clientID, hasClientID := raw["client_id"]
	if hasClientID {
		idStr, isStr := clientID.(string)
		if !isStr || idStr == "" {
			return fail("invalid_client_id")
		}
		if idStr != item.EntityID {
			return fail("entity_id_mismatch")
		}
	}

	canonical := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		canonical[k] = v
	}

	// 5. wallet scoping.
	if wid, ok := canonical["wallet_id"]; ok {
		s, isStr := wid.(string)
		if !isStr || s != requestWallet {
			return fail("wallet_id_mismatch")
		}
	}
	canonical["wallet_id"] = requestWallet

	// 6. field aliases rewritten to canonical names.
	for alias, canonicalName := range desc.Aliases {
		if v, ok := canonical[alias]; ok {
			if _, already := canonical[canonicalName]; !already {
				canonical[canonicalName] = v
			}
			delete(canonical, alias)
		}
	}

	// 7. sensitive/denied fields rejected.
	for field := range desc.Denylist {
		if _, ok := canonical[field]; ok {
			return fail("sensitive_field_not_allowed")
		}
	}

	// 8. required fields present on create.
	if op == domain.OpCreate {
		for _, name := range desc.RequiredFields() {
			if v, ok := canonical[name]; !ok || v == nil {
				return fail("missing_required_fields")
			}
		}
	}

	// 9. field type checks.
	for _, spec := range desc.Fields {
		v, ok := canonical[spec.Name]
		if !ok || v == nil {
			continue
		}
		if !typeMatches(spec.Kind, v) {
			return fail("invalid_field_type")
		}
	}

	// 10. strip server-authoritative fields.
	delete(canonical, "doc_version")
	delete(canonical, "server_modified")
	delete(canonical, "is_deleted")
	delete(canonical, "deleted_at")
	for field := range desc.ServerOwned {
		delete(canonical, field)
	}

	// 11. datetime strings normalized to canonical representation.
	for field := range dateFields {
		v, ok := canonical[field]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			return fail("invalid_field_type")
		}
		t, err := parseAnyDate(s)
		if err != nil {
			return fail("invalid_field_type")
		}
		canonical[field] = t.UTC().Format(time.RFC3339)
	}

	// 12. JSON-typed fields parsed.
	for _, spec := range desc.Fields {
		if spec.Kind != registry.KindJSON {
			continue
		}
		v, ok := canonical[spec.Name]
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return fail("invalid_field_type")
			}
			canonical[spec.Name] = parsed
		}
	}

	canonical["client_id"] = item.EntityID

	// 13. payload size cap.
	encoded, err := json.Marshal(canonical)
	if err != nil || len(encoded) > MaxPayloadBytes {
		return fail("payload_too_large")
	}

	// 14. client_created_ms/client_modified_ms clamped to int32.
	createdMs := clampInt32(popMs(canonical, "client_created_ms"))
	modifiedMs := clampInt32(popMs(canonical, "client_modified_ms"))

	return canonical, createdMs, modifiedMs, nil
}

func popMs(m map[string]interface{}, key string) int64 {
	v, ok := m[key]
	delete(m, key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func clampInt32(v int64) int64 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return v
}

func typeMatches(kind registry.FieldKind, v interface{}) bool {
	switch kind {
	case registry.KindString:
		_, ok := v.(string)
		return ok
	case registry.KindNumber:
		_, ok := v.(float64)
		return ok
	case registry.KindBool:
		_, ok := v.(bool)
		return ok
	case registry.KindJSON:
		switch v.(type) {
		case string, []interface{}, map[string]interface{}:
			return true
		}
		return false
	}
	return true
}

func parseAnyDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
