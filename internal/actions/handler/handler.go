package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"commandbridge/internal/actions/models"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// Service is the action state machine as exposed over HTTP.
type Service interface {
	Permissions(ctx context.Context, caller domain.Caller) []rbac.ActionView
	Execute(ctx context.Context, caller domain.Caller, cmd models.Command) (*models.ExecutionResult, error)
	Request(ctx context.Context, caller domain.Caller, cmd models.Command) (*models.RequestReceipt, error)
	ListPending(ctx context.Context, caller domain.Caller) ([]models.PendingRequest, error)
	Approve(ctx context.Context, caller domain.Caller, requestID domain.RecordID) (*models.ExecutionResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/actions/permissions", h.HandlePermissions)
	r.Post("/actions/execute", h.HandleExecute)
	r.Post("/actions/request", h.HandleRequest)
	r.Get("/actions/pending", h.HandlePending)
	r.Post("/actions/approve", h.HandleApprove)
}

// HandlePermissions lists every action with the caller's resolved permission.
// The browser uses it only to hide affordances.
func (h *Handler) HandlePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &PermissionsResponse{Actions: h.service.Permissions(ctx, caller)})
}

func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Execute(ctx, caller, req.toCommand())
	if err != nil {
		h.logger.WarnContext(ctx, "action execute rejected",
			"error", err,
			"action", req.Action,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	receipt, err := h.service.Request(ctx, caller, req.toCommand())
	if err != nil {
		h.logger.WarnContext(ctx, "action request rejected",
			"error", err,
			"action", req.Action,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, receipt)
}

func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pending, err := h.service.ListPending(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &PendingResponse{Requests: pending, Count: len(pending)})
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	id, err := domain.ParseRecordID(req.RequestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Approve(ctx, caller, id)
	if err != nil {
		h.logger.WarnContext(ctx, "approval rejected",
			"error", err,
			"approval_of", id.String(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
