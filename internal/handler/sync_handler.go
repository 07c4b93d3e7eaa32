// Package handler's SyncHandler is the HTTP front door onto the Push and
// Pull Orchestrators: it decodes the envelope, resolves the request's
// Scope, and translates orchestrator failures into the status codes §6
// of the protocol specifies.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/middleware"
	"inkdown-sync-server/internal/scope"
	"inkdown-sync-server/internal/storage"
	"inkdown-sync-server/internal/syncengine"
	ws "inkdown-sync-server/internal/websocket"
	"inkdown-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

// statusExpectationFailed (417) carries request-level shape errors per §6:
// missing/invalid device_id or wallet_id, items not a list, batch too
// large, an unknown entity_type in the pre-scan.
const statusExpectationFailed = http.StatusExpectationFailed

type SyncHandler struct {
	resolver  *scope.Resolver
	engine    *syncengine.Engine
	conflicts storage.ConflictStore
	wsManager *ws.Manager
	validate  *validator.Validate
}

func NewSyncHandler(resolver *scope.Resolver, engine *syncengine.Engine, conflicts storage.ConflictStore, wsManager *ws.Manager) *SyncHandler {
	return &SyncHandler{resolver: resolver, engine: engine, conflicts: conflicts, wsManager: wsManager, validate: validator.New()}
}

func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, statusExpectationFailed, "malformed push request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, statusExpectationFailed, err.Error())
		return
	}

	userID := middleware.GetUserID(r)
	sc, err := h.resolver.Resolve(r.Context(), userID, req.DeviceID, req.WalletID)
	if err != nil {
		writeScopeError(w, err)
		return
	}
	middleware.SetSyncFields(r, sc.DeviceID, sc.WalletID)

	resp, err := h.engine.Push(r.Context(), sc, req)
	if err != nil {
		var batchErr *syncengine.ErrBatch
		if errors.As(err, &batchErr) {
			response.Error(w, statusExpectationFailed, batchErr.Message)
			return
		}
		response.InternalError(w, "push failed")
		return
	}

	h.notifyOtherDevices(sc, resp)

	response.JSON(w, http.StatusOK, map[string]interface{}{"message": resp})
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	req, err := decodePullRequest(r)
	if err != nil {
		response.Error(w, statusExpectationFailed, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, statusExpectationFailed, err.Error())
		return
	}

	userID := middleware.GetUserID(r)
	sc, err := h.resolver.Resolve(r.Context(), userID, req.DeviceID, req.WalletID)
	if err != nil {
		writeScopeError(w, err)
		return
	}
	middleware.SetSyncFields(r, sc.DeviceID, sc.WalletID)

	resp, err := h.engine.Pull(r.Context(), sc, req)
	if err != nil {
		var batchErr *syncengine.ErrBatch
		if errors.As(err, &batchErr) {
			response.Error(w, statusExpectationFailed, batchErr.Message)
			return
		}
		response.InternalError(w, "pull failed")
		return
	}

	w.Header().Set("X-Sync-Next-Cursor", resp.NextCursor)
	response.JSON(w, http.StatusOK, map[string]interface{}{"message": resp})
}

// ListConflicts lets a device that dropped a push response re-discover
// what happened to its wallet, per SPEC_FULL §5.
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	walletID := r.URL.Query().Get("wallet_id")
	deviceID := r.URL.Query().Get("device_id")
	if walletID == "" || deviceID == "" {
		response.Error(w, statusExpectationFailed, "wallet_id and device_id are required")
		return
	}

	userID := middleware.GetUserID(r)
	if _, err := h.resolver.Resolve(r.Context(), userID, deviceID, walletID); err != nil {
		writeScopeError(w, err)
		return
	}
	middleware.SetSyncFields(r, deviceID, walletID)

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	conflicts, err := h.conflicts.ListByWallet(r.Context(), walletID, limit)
	if err != nil {
		response.InternalError(w, "failed to list conflicts")
		return
	}

	response.Success(w, map[string]interface{}{"conflicts": conflicts})
}

func decodePullRequest(r *http.Request) (domain.PullRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return domain.PullRequest{}, errors.New("invalid limit")
			}
			limit = n
		}
		return domain.PullRequest{
			DeviceID: q.Get("device_id"),
			WalletID: q.Get("wallet_id"),
			Cursor:   q.Get("cursor"),
			Since:    q.Get("since"),
			Limit:    limit,
		}, nil
	}

	var req domain.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.PullRequest{}, errors.New("malformed pull request body")
	}
	return req, nil
}

func writeScopeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scope.ErrUnauthorized):
		response.Unauthorized(w, "unauthorized")
	case errors.Is(err, scope.ErrForbidden):
		response.Forbidden(w, "forbidden")
	default:
		response.InternalError(w, "scope resolution failed")
	}
}

// notifyOtherDevices pings a user's other connected devices once a push
// batch lands, so an idle client knows to pull instead of polling. Best
// effort: a missing or silent websocket manager never fails the push.
func (h *SyncHandler) notifyOtherDevices(sc domain.Scope, resp *domain.PushResponse) {
	if h.wsManager == nil {
		return
	}
	advanced := false
	for _, result := range resp.Results {
		if result.Status == domain.StatusAccepted {
			advanced = true
			break
		}
	}
	if !advanced {
		return
	}

	msg, err := ws.NewMessage(ws.TypeWalletAdvanced, &ws.WalletAdvancedPayload{
		WalletID:   sc.WalletID,
		NextCursor: resp.ServerTime.Format(ws.CursorLayout),
	})
	if err != nil {
		return
	}
	_ = h.wsManager.BroadcastToUser(sc.UserID, msg, sc.DeviceID)
}
