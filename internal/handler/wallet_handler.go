package handler

import (
	"encoding/json"
	"net/http"

	"inkdown-sync-server/internal/domain"
	"inkdown-sync-server/internal/middleware"
	"inkdown-sync-server/internal/service"
	"inkdown-sync-server/internal/walletacl"
	"inkdown-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type WalletHandler struct {
	service  *service.WalletService
	validate *validator.Validate
}

func NewWalletHandler(service *service.WalletService) *WalletHandler {
	return &WalletHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *WalletHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	wallet, err := h.service.Create(userID, &req)
	if err != nil {
		response.InternalError(w, "Failed to create wallet")
		return
	}

	response.Created(w, wallet)
}

func (h *WalletHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	wallets, err := h.service.List(userID)
	if err != nil {
		response.InternalError(w, "Failed to list wallets")
		return
	}

	response.Success(w, wallets)
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	walletID := vars["id"]
	if walletID == "" {
		response.BadRequest(w, "wallet id is required")
		return
	}

	userID := middleware.GetUserID(r)

	wallet, err := h.service.Get(userID, walletID)
	if err != nil {
		if err == walletacl.ErrNotMember {
			response.Forbidden(w, "not a member of this wallet")
			return
		}
		response.NotFound(w, "wallet not found")
		return
	}

	response.Success(w, wallet)
}
