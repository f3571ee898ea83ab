package booking

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/platform/httpx"
)

// Handler exposes booking operations over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers booking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/accept", h.accept)
	r.Post("/{id}/start", h.start)
	r.Post("/{id}/deliver", h.deliver)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	b, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, "create booking", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{Limit: 100}
	if s := r.URL.Query().Get("status"); s != "" {
		status := entity.BookingStatus(s)
		req.Status = &status
	}
	if c := r.URL.Query().Get("customer_id"); c != "" {
		req.CustomerID = &c
	}
	if d := r.URL.Query().Get("driver_id"); d != "" {
		req.DriverID = &d
	}
	bookings, err := h.service.List(r.Context(), req)
	if err != nil {
		h.fail(w, "list bookings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	b, err := h.service.Accept(r.Context(), chi.URLParam(r, "id"), req.DriverID)
	if err != nil {
		h.fail(w, "accept booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "start booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Deliver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "deliver booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	b, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, "cancel booking", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
