package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"commandbridge/internal/actions/executor"
	"commandbridge/internal/actions/models"
	activitymodels "commandbridge/internal/activity/models"
	auditmodels "commandbridge/internal/audit/models"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/platform/tracer"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/circuit"
	"commandbridge/pkg/platform/privacy"
	"commandbridge/pkg/platform/validation"
	"commandbridge/pkg/requestcontext"
	pkgvalidation "commandbridge/pkg/validation"
)

// Catalogue resolves what a role may do with an action.
type Catalogue interface {
	Lookup(actionID string) (rbac.ActionDefinition, bool)
	Resolve(role domain.Role, actionID string) rbac.Permission
	CanApprove(role domain.Role, actionID string) bool
	ActionsForRole(role domain.Role) []rbac.ActionView
}

// Executors finds the executor for an action id.
type Executors interface {
	Get(actionID string) (executor.Executor, bool)
}

// AuditTrail is the slice of the audit service the action flow writes to.
type AuditTrail interface {
	Append(ctx context.Context, rec *auditmodels.Record) (*auditmodels.Record, error)
	Record(ctx context.Context, rec *auditmodels.Record)
	Get(ctx context.Context, id domain.RecordID) (*auditmodels.Record, error)
	Transition(ctx context.Context, id domain.RecordID, from, to auditmodels.Result, approver domain.Email, detail map[string]any) (*auditmodels.Record, error)
	Search(ctx context.Context, filter auditmodels.Filter, limit int, rawCursor string) (*auditmodels.Page, error)
}

// ActivityRecorder queues server-side activity. It must never block.
type ActivityRecorder interface {
	Enqueue(ev activitymodels.Event) bool
}

// maxPending bounds a single pending-approvals listing.
const maxPending = 1000

// Service runs the action state machine: validate, resolve, then execute,
// queue for approval, or deny. Every decision past validation is audited.
type Service struct {
	catalogue Catalogue
	executors Executors
	audit     AuditTrail
	activity  ActivityRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	timeout   time.Duration
	dryRun    bool

	breakerOpts []circuit.Option
	mu          sync.Mutex
	breakers    map[string]*circuit.Breaker
}

func New(catalogue Catalogue, executors Executors, audit AuditTrail, opts ...Option) *Service {
	cfg := &serviceConfig{
		tracer:  tracer.NewNoop(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		catalogue: catalogue,
		executors: executors,
		audit:     audit,
		activity:  cfg.activity,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		tracer:    cfg.tracer,
		timeout:   cfg.timeout,
		dryRun:    cfg.dryRun,
		breakerOpts: []circuit.Option{
			circuit.WithFailureThreshold(cfg.failureThreshold),
			circuit.WithCooldown(cfg.cooldown),
		},
		breakers: make(map[string]*circuit.Breaker),
	}
}

// Permissions projects the catalogue for the caller's role.
func (s *Service) Permissions(_ context.Context, caller domain.Caller) []rbac.ActionView {
	return s.catalogue.ActionsForRole(caller.Role)
}

// Execute runs an action the caller holds run permission on.
func (s *Service) Execute(ctx context.Context, caller domain.Caller, cmd models.Command) (*models.ExecutionResult, error) {
	exec, inv, err := s.prepare(caller, cmd)
	if err != nil {
		return nil, err
	}

	switch s.catalogue.Resolve(caller.Role, inv.ActionID) {
	case rbac.PermissionRun:
	case rbac.PermissionRequest:
		s.deny(ctx, caller, cmd, map[string]any{models.DetailReason: "approval_required"})
		return nil, dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("Action %s requires approval. Submit it via /actions/request", cmd.ActionID))
	default:
		s.deny(ctx, caller, cmd, map[string]any{models.DetailReason: "not_permitted"})
		return nil, dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("Your role cannot run %s", cmd.ActionID))
	}

	output, runErr := s.dispatch(ctx, exec, inv)
	if runErr != nil {
		s.observe(inv.ActionID, auditmodels.ResultFailed)
		s.audit.Record(ctx, &auditmodels.Record{
			UserEmail: caller.Email,
			ActionID:  cmd.ActionID,
			Target:    cmd.Target,
			Ticket:    cmd.Ticket,
			Result:    auditmodels.ResultFailed,
			Detail:    map[string]any{models.DetailReason: cmd.Reason, models.DetailError: runErr.Error()},
		})
		s.track(ctx, caller.Email, activitymodels.EventActionExecute, cmd, auditmodels.ResultFailed)
		return nil, executorErr(runErr, "Action failed. Check audit log for details.")
	}

	rec, err := s.audit.Append(ctx, &auditmodels.Record{
		UserEmail: caller.Email,
		ActionID:  cmd.ActionID,
		Target:    cmd.Target,
		Ticket:    cmd.Ticket,
		Result:    auditmodels.ResultSuccess,
		Detail:    map[string]any{models.DetailReason: cmd.Reason, models.DetailOutput: map[string]any(output)},
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "action executed but audit write failed",
				"error", err,
				"action", inv.ActionID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "Action executed but could not be recorded; check with an administrator before retrying")
	}
	s.observe(inv.ActionID, auditmodels.ResultSuccess)
	s.track(ctx, caller.Email, activitymodels.EventActionExecute, cmd, auditmodels.ResultSuccess)

	return &models.ExecutionResult{
		RequestID: rec.ID,
		Action:    cmd.ActionID,
		Status:    auditmodels.ResultSuccess,
		Message:   fmt.Sprintf("Action %s executed successfully.", cmd.ActionID),
		Output:    output,
	}, nil
}

// Request queues an action the caller may only request. The full payload is
// stored on the record so an approver replays exactly what was asked for.
func (s *Service) Request(ctx context.Context, caller domain.Caller, cmd models.Command) (*models.RequestReceipt, error) {
	_, inv, err := s.prepare(caller, cmd)
	if err != nil {
		return nil, err
	}

	switch s.catalogue.Resolve(caller.Role, inv.ActionID) {
	case rbac.PermissionRequest:
	case rbac.PermissionRun:
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("Action %s can be run directly; use /actions/execute", cmd.ActionID))
	default:
		s.deny(ctx, caller, cmd, map[string]any{models.DetailReason: "not_permitted"})
		return nil, dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("Your role cannot request %s", cmd.ActionID))
	}

	payload, err := encodeRequest(models.StoredRequest{
		Action:    cmd.ActionID,
		Target:    cmd.Target,
		Ticket:    cmd.Ticket,
		Reason:    cmd.Reason,
		Params:    cmd.Params,
		Requester: caller.Email,
	})
	if err != nil {
		return nil, err
	}
	rec, err := s.audit.Append(ctx, &auditmodels.Record{
		UserEmail: caller.Email,
		ActionID:  cmd.ActionID,
		Target:    cmd.Target,
		Ticket:    cmd.Ticket,
		Result:    auditmodels.ResultRequested,
		Detail:    map[string]any{models.DetailReason: cmd.Reason, models.DetailRequest: payload},
	})
	if err != nil {
		return nil, err
	}
	s.observe(inv.ActionID, auditmodels.ResultRequested)
	s.track(ctx, caller.Email, activitymodels.EventActionRequest, cmd, auditmodels.ResultRequested)

	return &models.RequestReceipt{
		RequestID: rec.ID,
		Action:    cmd.ActionID,
		Status:    "pending_approval",
		Message:   fmt.Sprintf("Approval request submitted for %s. An L2/L3 operator will review.", cmd.ActionID),
	}, nil
}

// ListPending returns requested records newest first, without their stored
// payloads. The reviewer's own requests stay in the list, flagged Own.
func (s *Service) ListPending(ctx context.Context, caller domain.Caller) ([]models.PendingRequest, error) {
	if !rbac.CanReviewRequests(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to view pending approvals")
	}

	pending := make([]models.PendingRequest, 0)
	cursor := ""
	for len(pending) < maxPending {
		page, err := s.audit.Search(ctx, auditmodels.Filter{Result: auditmodels.ResultRequested}, validation.MaxAuditLimit, cursor)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			view := rec.Clone()
			delete(view.Detail, models.DetailRequest)
			if len(view.Detail) == 0 {
				view.Detail = nil
			}
			pending = append(pending, models.PendingRequest{Record: *view, Own: rec.UserEmail.EqualFold(caller.Email)})
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(pending) > maxPending {
		pending = pending[:maxPending]
	}
	s.metrics.SetPendingApprovals(len(pending))
	return pending, nil
}

// Approve claims a requested record, replays its payload, and records the
// outcome on the same record. The claim is a conditional transition, so
// concurrent approvers cannot both execute.
func (s *Service) Approve(ctx context.Context, caller domain.Caller, requestID domain.RecordID) (*models.ExecutionResult, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "request_id is required")
	}
	rec, err := s.audit.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.Result != auditmodels.ResultRequested {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("Request is already '%s'", rec.Result))
	}

	actionID := rec.ActionID.String()
	if rec.UserEmail.EqualFold(caller.Email) {
		s.denyApproval(ctx, caller, rec, "self_approval")
		return nil, dErrors.New(dErrors.CodeForbidden, "Cannot approve your own request")
	}
	if !rbac.CanReviewRequests(caller) {
		s.denyApproval(ctx, caller, rec, "not_reviewer")
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to approve requests")
	}
	if !s.catalogue.CanApprove(caller.Role, actionID) {
		s.denyApproval(ctx, caller, rec, "not_permitted")
		return nil, dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("Your role cannot approve '%s'", actionID))
	}

	stored, err := decodeRequest(rec.Detail[models.DetailRequest])
	if err != nil {
		return nil, err
	}
	exec, ok := s.executors.Get(actionID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("no executor registered for %s", actionID))
	}

	claimed, err := s.audit.Transition(ctx, rec.ID, auditmodels.ResultRequested, auditmodels.ResultApproved, caller.Email, nil)
	if err != nil {
		return nil, err
	}

	inv := executor.Invocation{
		ActionID: actionID,
		Target:   stored.Target,
		Ticket:   stored.Ticket,
		Reason:   stored.Reason,
		Caller:   caller.Email,
		Params:   stored.Params,
	}
	output, runErr := s.dispatch(ctx, exec, inv)
	if runErr != nil {
		s.observe(actionID, auditmodels.ResultFailed)
		if _, err := s.audit.Transition(ctx, claimed.ID, auditmodels.ResultApproved, auditmodels.ResultFailed, "",
			map[string]any{models.DetailError: runErr.Error()}); err != nil {
			s.logUnfinalized(ctx, claimed, caller.Email, auditmodels.ResultFailed, err, "executor_error", runErr.Error())
		}
		s.trackApproval(ctx, caller.Email, rec, auditmodels.ResultFailed)
		return nil, executorErr(runErr, "Action failed after approval. Check audit log for details.")
	}

	if _, err := s.audit.Transition(ctx, claimed.ID, auditmodels.ResultApproved, auditmodels.ResultSuccess, "",
		map[string]any{models.DetailOutput: map[string]any(output)}); err != nil {
		s.logUnfinalized(ctx, claimed, caller.Email, auditmodels.ResultSuccess, err, "output", map[string]any(output))
		return nil, &dErrors.Error{
			Code:    dErrors.CodeUnavailable,
			Message: "Action executed but could not be recorded; check with an administrator before retrying",
			Err:     err,
		}
	}
	s.observe(actionID, auditmodels.ResultSuccess)
	s.trackApproval(ctx, caller.Email, rec, auditmodels.ResultSuccess)

	return &models.ExecutionResult{
		RequestID: rec.ID,
		Action:    rec.ActionID,
		Status:    auditmodels.ResultSuccess,
		Message:   fmt.Sprintf("Action %s approved and executed.", actionID),
		Output:    output,
	}, nil
}

// prepare validates cmd before any permission check. Nothing here is audited.
func (s *Service) prepare(caller domain.Caller, cmd models.Command) (executor.Executor, executor.Invocation, error) {
	if err := pkgvalidation.Validate(cmd); err != nil {
		return nil, executor.Invocation{}, err
	}
	actionID := cmd.ActionID.String()
	if _, ok := s.catalogue.Lookup(actionID); !ok {
		return nil, executor.Invocation{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("Unknown action: %s", actionID))
	}
	exec, ok := s.executors.Get(actionID)
	if !ok {
		return nil, executor.Invocation{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("no executor registered for %s", actionID))
	}
	inv := executor.Invocation{
		ActionID: actionID,
		Target:   cmd.Target,
		Ticket:   cmd.Ticket,
		Reason:   cmd.Reason,
		Caller:   caller.Email,
		Params:   cmd.Params,
	}
	if err := exec.Validate(inv); err != nil {
		return nil, executor.Invocation{}, err
	}
	return exec, inv, nil
}

// dispatch runs one executor call behind the action's breaker, under the
// executor timeout, inside a span. There is no retry.
func (s *Service) dispatch(ctx context.Context, exec executor.Executor, inv executor.Invocation) (executor.Output, error) {
	breaker := s.breaker(inv.ActionID)
	ctx, span := s.tracer.Start(ctx, tracer.ExecutorSpan(inv.ActionID),
		tracer.String(tracer.AttrActionID, inv.ActionID),
		tracer.String(tracer.AttrTicket, inv.Ticket),
		tracer.String(tracer.AttrCaller, tracer.HashEmail(inv.Caller.String())),
		tracer.Bool(tracer.AttrDryRun, s.dryRun),
	)
	if !breaker.Allow() {
		span.SetAttributes(tracer.Bool(tracer.AttrBreaker, true))
		err := dErrors.New(dErrors.CodeExecutor, fmt.Sprintf("executor for %s is temporarily unavailable", inv.ActionID))
		span.End(err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	output, err := exec.Execute(ctx, inv)
	s.metrics.ObserveExecutor(inv.ActionID, time.Since(start))
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	span.End(err)

	if err != nil {
		if change := breaker.RecordFailure(); change.Opened {
			s.metrics.SetBreakerOpen(inv.ActionID, true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "executor breaker opened", "action", inv.ActionID)
			}
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "executor failed",
				"error", err,
				"action", inv.ActionID,
				"caller", privacy.MaskEmail(inv.Caller.String()),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	if change := breaker.RecordSuccess(); change.Closed {
		s.metrics.SetBreakerOpen(inv.ActionID, false)
	}
	if output == nil {
		output = executor.Output{}
	}
	return output, nil
}

func (s *Service) breaker(actionID string) *circuit.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[actionID]
	if !ok {
		b = circuit.New(actionID, s.breakerOpts...)
		s.breakers[actionID] = b
	}
	return b
}

func (s *Service) deny(ctx context.Context, caller domain.Caller, cmd models.Command, detail map[string]any) {
	s.observe(cmd.ActionID.String(), auditmodels.ResultDenied)
	s.audit.Record(ctx, &auditmodels.Record{
		UserEmail: caller.Email,
		ActionID:  cmd.ActionID,
		Target:    cmd.Target,
		Ticket:    cmd.Ticket,
		Result:    auditmodels.ResultDenied,
		Detail:    detail,
	})
}

func (s *Service) denyApproval(ctx context.Context, caller domain.Caller, rec *auditmodels.Record, reason string) {
	s.observe(rec.ActionID.String(), auditmodels.ResultDenied)
	s.audit.Record(ctx, &auditmodels.Record{
		UserEmail: caller.Email,
		ActionID:  rec.ActionID,
		Target:    rec.Target,
		Ticket:    rec.Ticket,
		Result:    auditmodels.ResultDenied,
		Detail: map[string]any{
			models.DetailApprovalOf: rec.ID.String(),
			models.DetailReason:     reason,
		},
	})
}

// logUnfinalized records the outcome of an approved request whose record
// could not leave the approved state. Such a record is no longer pending.
func (s *Service) logUnfinalized(ctx context.Context, rec *auditmodels.Record, approver domain.Email, outcome auditmodels.Result, err error, extra ...any) {
	if s.logger == nil {
		return
	}
	args := []any{
		"event", "approval_unfinalized",
		"log_type", "audit",
		"record_id", rec.ID.String(),
		"action", rec.ActionID.String(),
		"ticket", rec.Ticket,
		"requester", privacy.MaskEmail(rec.UserEmail.String()),
		"approver", privacy.MaskEmail(approver.String()),
		"outcome", outcome.String(),
		"error", err,
	}
	s.logger.ErrorContext(ctx, "approved request could not be finalized", append(args, extra...)...)
}

func (s *Service) observe(actionID string, result auditmodels.Result) {
	s.metrics.ObserveAction(actionID, result.String())
}

func (s *Service) track(ctx context.Context, user domain.Email, typ activitymodels.EventType, cmd models.Command, result auditmodels.Result) {
	if s.activity == nil {
		return
	}
	s.activity.Enqueue(activitymodels.NewEvent(user, typ, map[string]any{
		"action": cmd.ActionID.String(),
		"ticket": cmd.Ticket,
		"result": result.String(),
	}, requestcontext.Now(ctx)))
}

func (s *Service) trackApproval(ctx context.Context, user domain.Email, rec *auditmodels.Record, result auditmodels.Result) {
	if s.activity == nil {
		return
	}
	s.activity.Enqueue(activitymodels.NewEvent(user, activitymodels.EventActionApprove, map[string]any{
		"action":     rec.ActionID.String(),
		"request_id": rec.ID.String(),
		"result":     result.String(),
	}, requestcontext.Now(ctx)))
}

// encodeRequest turns the payload into plain JSON values so it reads back
// the same from every store.
func encodeRequest(req models.StoredRequest) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "params must be a JSON object")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request payload")
	}
	return out, nil
}

func decodeRequest(v any) (models.StoredRequest, error) {
	var req models.StoredRequest
	if v == nil {
		return req, dErrors.New(dErrors.CodeValidation, "No request body stored for this record; cannot replay")
	}
	raw, err := json.Marshal(v)
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		return req, dErrors.Wrap(err, dErrors.CodeInternal, "stored request payload is unreadable")
	}
	return req, nil
}

// executorErr keeps validation and breaker errors as they are and classes
// everything else as an executor failure, whatever the port reported.
func executorErr(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) && (de.Code == dErrors.CodeValidation || de.Code == dErrors.CodeExecutor) {
		return err
	}
	return &dErrors.Error{Code: dErrors.CodeExecutor, Message: msg, Err: err}
}
