package users

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/platform/httpx"
	"github.com/campus-rp/paas/internal/rbac"
)

// Handler manages user directory endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ResourceUsers, rbac.ActionRead))
		r.Get("/", h.searchUsers)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ResourceUsers, rbac.ActionWrite))
		r.Post("/", h.createUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ResourceUsers, rbac.ActionAdminister))
		r.Put("/{id}/roles", h.updateRoles)
	})
}

type createUserRequest struct {
	Email       string         `json:"email" validate:"required,email"`
	DisplayName string         `json:"display_name" validate:"max=200"`
	Roles       []string       `json:"roles" validate:"omitempty,dive,required"`
	Metadata    map[string]any `json:"metadata"`
}

type updateRolesRequest struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SearchFilter{Query: q.Get("q")}
	for _, raw := range q["role"] {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				filter.Roles = append(filter.Roles, role)
			}
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	list, err := h.service.SearchUsers(r.Context(), filter)
	if err != nil {
		h.logger.Error("search users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.CreateUser(r.Context(), CreateUserInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Roles:       req.Roles,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateRoles(w http.ResponseWriter, r *http.Request) {
	actor := auth.IdentityFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req updateRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateUserRoles(r.Context(), chi.URLParam(r, "id"), req.Roles, actor.UserID)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Info("update roles rejected", slog.String("actor", actor.UserID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) validate(v any) error {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, "; "))
}
