package fleet

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/platform/httpx"
)

// Handler exposes fleet management over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fleet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/vehicles", h.registerVehicle)
	r.Get("/vehicles/{id}", h.getVehicle)
	r.Delete("/vehicles/{id}", h.removeVehicle)
	r.Get("/dispatchers/{id}/vehicles", h.listVehicles)
	r.Post("/bank-accounts", h.addBankAccount)
	r.Get("/identities/{id}/bank-accounts", h.listBankAccounts)
	r.Delete("/bank-accounts/{id}", h.removeBankAccount)
}

func (h *Handler) registerVehicle(w http.ResponseWriter, r *http.Request) {
	var req RegisterVehicleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	v, err := h.service.RegisterVehicle(r.Context(), req)
	if err != nil {
		h.fail(w, "register vehicle", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Vehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get vehicle", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) removeVehicle(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveVehicle(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "remove vehicle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.VehiclesByDispatcher(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list vehicles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

func (h *Handler) addBankAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdentityID    string `json:"identity_id"`
		BankName      string `json:"bank_name"`
		AccountName   string `json:"account_name"`
		AccountNumber string `json:"account_number"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	a, err := h.service.AddBankAccount(r.Context(), entity.BankAccount{
		IdentityID:    req.IdentityID,
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		h.fail(w, "add bank account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.BankAccounts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list bank accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bank_accounts": accounts})
}

func (h *Handler) removeBankAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveBankAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "remove bank account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
