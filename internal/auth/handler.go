package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/platform/httpx"
)

// Handler exposes account and session endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
	r.Delete("/me", h.removeMe)
}

type registerPayload struct {
	Email    string                  `json:"email"`
	Name     string                  `json:"name"`
	Phone    string                  `json:"phone"`
	Password string                  `json:"password"`
	Role     entity.Role             `json:"role"`
	Customer *entity.CustomerProfile `json:"customer,omitempty"`
	Driver   *entity.DriverProfile   `json:"driver,omitempty"`
	Admin    *entity.AdminProfile    `json:"admin,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	user, err := h.service.Register(r.Context(), RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     req.Role,
		Customer: req.Customer,
		Driver:   req.Driver,
		Admin:    req.Admin,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		h.fail(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userView(user))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Role     entity.Role `json:"role"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	token, user, err := h.service.Login(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		h.fail(w, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"token": token, "user": userView(user)})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	projections, err := h.service.GetCurrentUser(r.Context(), bearerToken(r))
	if err != nil {
		h.fail(w, "current user", err)
		return
	}
	views := make([]map[string]any, len(projections))
	for i, p := range projections {
		views[i] = userView(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projections": views})
}

func (h *Handler) removeMe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveUser(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, "remove user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userView strips the password hash from responses.
func userView(u entity.User) map[string]any {
	view := map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"phone":      u.Phone,
		"role":       u.Role,
		"created_at": u.CreatedAt,
	}
	switch u.Role {
	case entity.RoleCustomer:
		view["customer"] = u.Customer
	case entity.RoleDriver:
		view["driver"] = u.Driver
	case entity.RoleAdmin:
		view["admin"] = u.Admin
	}
	return view
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
