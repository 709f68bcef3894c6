package models

import (
	"encoding/json"

	auditmodels "commandbridge/internal/audit/models"
	"commandbridge/pkg/domain"
)

// Command is a caller's request to run or queue an action.
type Command struct {
	ActionID domain.ActionID `validate:"required"`
	Ticket   string          `validate:"required,ticket"`
	Reason   string          `validate:"notblank,max=1000"`
	Target   string          `validate:"max=512"`
	Params   json.RawMessage
}

// StoredRequest is the payload kept on a requested audit record so an
// approver can replay it verbatim.
type StoredRequest struct {
	Action    domain.ActionID `json:"action"`
	Target    string          `json:"target"`
	Ticket    string          `json:"ticket"`
	Reason    string          `json:"reason"`
	Params    json.RawMessage `json:"params,omitempty"`
	Requester domain.Email    `json:"requester"`
}

// Detail keys on action audit records.
const (
	DetailRequest    = "request"
	DetailReason     = "reason"
	DetailOutput     = "output"
	DetailError      = "error"
	DetailApprovalOf = "approval_of"
)

// ExecutionResult is returned when an action ran.
type ExecutionResult struct {
	RequestID domain.RecordID    `json:"request_id"`
	Action    domain.ActionID    `json:"action"`
	Status    auditmodels.Result `json:"status"`
	Message   string             `json:"message"`
	Output    map[string]any     `json:"result"`
}

// RequestReceipt acknowledges a queued approval request.
type RequestReceipt struct {
	RequestID domain.RecordID `json:"request_id"`
	Action    domain.ActionID `json:"action"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
}

// PendingRequest is a requested record as shown to reviewers. Own marks the
// reviewer's own submissions, which they cannot approve.
type PendingRequest struct {
	auditmodels.Record
	Own bool `json:"own"`
}
