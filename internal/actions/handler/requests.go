package handler

import (
	"encoding/json"
	"strings"

	"commandbridge/internal/actions/models"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
)

// ActionRequest is the body of /actions/execute and /actions/request.
type ActionRequest struct {
	Action string          `json:"action"`
	Ticket string          `json:"ticket"`
	Reason string          `json:"reason"`
	Target string          `json:"target"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (r *ActionRequest) Normalize() {
	if r == nil {
		return
	}
	r.Action = strings.TrimSpace(r.Action)
	r.Ticket = strings.TrimSpace(r.Ticket)
	r.Reason = strings.TrimSpace(r.Reason)
	r.Target = strings.TrimSpace(r.Target)
}

func (r *ActionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Action == "" || r.Ticket == "" || r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "action, ticket, and reason are required")
	}
	return nil
}

func (r *ActionRequest) toCommand() models.Command {
	return models.Command{
		ActionID: domain.ActionID(r.Action),
		Ticket:   r.Ticket,
		Reason:   r.Reason,
		Target:   r.Target,
		Params:   r.Params,
	}
}

type ApproveRequest struct {
	RequestID string `json:"request_id"`
}

func (r *ApproveRequest) Normalize() {
	if r == nil {
		return
	}
	r.RequestID = strings.TrimSpace(r.RequestID)
}

func (r *ApproveRequest) Validate() error {
	if r == nil || r.RequestID == "" {
		return dErrors.New(dErrors.CodeValidation, "request_id is required")
	}
	return nil
}
