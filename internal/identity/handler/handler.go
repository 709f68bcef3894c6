package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"commandbridge/internal/identity/models"
	"commandbridge/internal/identity/service"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// Service is the user directory surface used over HTTP.
type Service interface {
	Me(ctx context.Context, caller domain.Caller) (*models.User, error)
	List(ctx context.Context, caller domain.Caller) ([]*models.User, error)
	Create(ctx context.Context, caller domain.Caller, cmd service.CreateCommand) (*models.User, error)
	Disable(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error)
	Enable(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error)
	SetRole(ctx context.Context, caller domain.Caller, email domain.Email, role domain.Role) (*models.User, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts /me.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me", h.HandleMe)
}

// RegisterAdmin mounts the user administration routes. The router wraps
// them in a level-3 gate; the service checks again.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/users", h.HandleList)
	r.Post("/admin/users", h.HandleCreate)
	r.Post("/admin/users/{email}/disable", h.HandleDisable)
	r.Post("/admin/users/{email}/enable", h.HandleEnable)
	r.Post("/admin/users/{email}/role", h.HandleSetRole)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	user, err := h.service.Me(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProfileResponse(user))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	users, err := h.service.List(ctx, caller)
	if err != nil {
		h.logger.ErrorContext(ctx, "list users failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &UserListResponse{Users: users})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateUserRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := h.service.Create(ctx, caller, service.CreateCommand{
		Email: domain.Email(req.Email),
		Name:  req.Name,
		Role:  domain.Role(req.Role),
		Team:  req.Team,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "create user failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, &UserMutationResponse{
		Message: fmt.Sprintf("User %s created. A temporary password has been sent to their email address.", user.Email),
		User:    user,
	})
}

func (h *Handler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "disabled", func(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error) {
		return h.service.Disable(ctx, caller, email)
	})
}

func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "enabled", func(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error) {
		return h.service.Enable(ctx, caller, email)
	})
}

func (h *Handler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	email, err := emailParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetRoleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := h.service.SetRole(ctx, caller, email, domain.Role(req.Role))
	if err != nil {
		h.logger.ErrorContext(ctx, "set role failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &UserMutationResponse{
		Message: fmt.Sprintf("User %s role changed to %s", user.Email, user.Role),
		User:    user,
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, verb string,
	op func(ctx context.Context, caller domain.Caller, email domain.Email) (*models.User, error)) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	email, err := emailParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := op(ctx, caller, email)
	if err != nil {
		h.logger.ErrorContext(ctx, "user update failed",
			"error", err,
			"op", verb,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &UserMutationResponse{
		Message: fmt.Sprintf("User %s %s", user.Email, verb),
		User:    user,
	})
}

func emailParam(r *http.Request) (domain.Email, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email format")
	}
	return domain.ParseEmail(raw)
}
