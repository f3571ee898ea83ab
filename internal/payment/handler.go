package payment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tanklink/tanklink/internal/platform/httpx"
)

// Handler exposes payment bookkeeping over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bookings/{id}/collect", h.collect)
	r.Post("/bookings/{id}/settle", h.settle)
	r.Post("/expenses", h.recordExpense)
	r.Get("/expenses/{driverID}", h.listExpenses)
}

func (h *Handler) collect(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.CollectCash(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "collect cash", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "settle payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) recordExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID    string  `json:"driver_id"`
		BookingID   *string `json:"booking_id,omitempty"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	e, err := h.service.RecordExpense(r.Context(), req.DriverID, req.BookingID, req.Amount, req.Description)
	if err != nil {
		h.fail(w, "record expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.service.Expenses(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		h.fail(w, "list expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
