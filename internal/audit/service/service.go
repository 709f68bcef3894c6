package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commandbridge/internal/audit/models"
	"commandbridge/internal/platform/kafka/producer"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/privacy"
	"commandbridge/pkg/platform/sentinel"
	"commandbridge/pkg/platform/validation"
	"commandbridge/pkg/requestcontext"
)

// Store is the persistence contract for audit records.
type Store interface {
	Append(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id domain.RecordID) (*models.Record, error)
	Transition(ctx context.Context, id domain.RecordID, from, to models.Result, approver domain.Email, detail map[string]any) (*models.Record, error)
	Query(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Record, error)
}

// Service owns the audit trail: durable appends, the conditional approval
// transitions, and role-scoped queries.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	mirror  producer.Publisher
	topic   string
}

func New(store Store, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		store:   store,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		mirror:  cfg.mirror,
		topic:   cfg.topic,
	}
}

// Append assigns identity and time to rec and persists it. The error is
// surfaced so callers can refuse to report success without an audit row.
func (s *Service) Append(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if rec == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "audit record is required")
	}
	if !rec.Result.IsValid() {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("invalid audit result %q", rec.Result))
	}
	if rec.ID.IsNil() {
		rec.ID = domain.NewRecordID()
	}
	rec.Timestamp = requestcontext.Now(ctx).UTC()
	rec.MonthBucket = models.MonthBucket(rec.Timestamp)

	if err := s.store.Append(ctx, rec); err != nil {
		s.metrics.IncrementAuditWrite(false)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit write failed")
	}
	s.metrics.IncrementAuditWrite(true)
	s.logRecord(ctx, "audit_appended", rec)
	s.publish(ctx, rec)
	return rec, nil
}

// Record is the best-effort form of Append, used on paths that already
// carry an error. A failed write is logged and counted, never returned.
func (s *Service) Record(ctx context.Context, rec *models.Record) {
	if rec == nil {
		return
	}
	if _, err := s.Append(ctx, rec); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"error", err,
			"action", rec.ActionID,
			"result", rec.Result,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) Get(ctx context.Context, id domain.RecordID) (*models.Record, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "request_id is required")
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrapRecordErr(err, "failed to read audit record")
	}
	return rec, nil
}

// Transition moves a record from one result to another if nobody else has.
// A lost race reports the state the record is actually in.
func (s *Service) Transition(ctx context.Context, id domain.RecordID, from, to models.Result, approver domain.Email, detail map[string]any) (*models.Record, error) {
	rec, err := s.store.Transition(ctx, id, from, to, approver, detail)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			msg := "request is no longer " + from.String()
			if current, getErr := s.store.Get(ctx, id); getErr == nil {
				msg = fmt.Sprintf("request is already '%s'", current.Result)
			}
			return nil, dErrors.New(dErrors.CodeConflict, msg)
		}
		return nil, wrapRecordErr(err, "audit transition failed")
	}
	s.logRecord(ctx, "audit_transitioned", rec, "from", from)
	s.publish(ctx, rec)
	return rec, nil
}

// QueryParams are the caller-supplied filters for a history query.
type QueryParams struct {
	User   domain.Email
	Action domain.ActionID
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
}

// Query applies the history access rules before reading:
// a caller may always read their own history; reviewers may filter by
// action or list everything; only administrators may read another user.
func (s *Service) Query(ctx context.Context, caller domain.Caller, q QueryParams) (*models.Page, error) {
	if !caller.HasRole() {
		return nil, dErrors.New(dErrors.CodeForbidden, "user not found or inactive")
	}
	// Stored emails are lower case.
	q.User = domain.NormalizeEmail(q.User.String())
	if q.User != "" && !q.User.EqualFold(caller.Email) && !rbac.CanAdminister(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "L3 admin access required to view another user's audit history")
	}
	if q.Action != "" && !rbac.CanQueryAllAudit(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to query by action type")
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}

	filter := models.Filter{User: q.User, Action: q.Action, From: q.From, To: q.To}
	if filter.User == "" && filter.Action == "" && !rbac.CanQueryAllAudit(caller) {
		filter.User = caller.Email
	}
	if filter.User != "" && filter.Action != "" {
		// One index per query: a user filter wins.
		filter.Action = ""
	}
	limit := validation.ClampLimit(q.Limit, validation.DefaultAuditLimit, validation.MaxAuditLimit)
	return s.Search(ctx, filter, limit, q.Cursor)
}

// Search reads a page without access checks. Internal callers (pending
// approvals, exports) use it directly.
func (s *Service) Search(ctx context.Context, filter models.Filter, limit int, rawCursor string) (*models.Page, error) {
	if limit <= 0 {
		limit = validation.MaxAuditLimit
	}
	cursor, err := pagination.Decode(rawCursor)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Query(ctx, filter, limit+1, cursor)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to query audit records")
	}

	page := &models.Page{Records: records}
	if len(records) > limit {
		last := records[limit-1]
		page.Records = records[:limit]
		page.NextCursor = pagination.Encode(&pagination.Cursor{Time: last.Timestamp, Key: last.ID.String()})
	}
	return page, nil
}

func (s *Service) logRecord(ctx context.Context, event string, rec *models.Record, extra ...any) {
	if s.logger == nil {
		return
	}
	args := []any{
		"event", event,
		"log_type", "audit",
		"record_id", rec.ID.String(),
		"user", privacy.MaskEmail(rec.UserEmail.String()),
		"action", rec.ActionID.String(),
		"result", rec.Result.String(),
		"request_id", requestcontext.RequestID(ctx),
	}
	s.logger.InfoContext(ctx, event, append(args, extra...)...)
}

// publish mirrors rec to the stream. It never blocks the caller on broker
// round-trips and never fails the parent operation.
func (s *Service) publish(ctx context.Context, rec *models.Record) {
	if s.mirror == nil {
		return
	}
	value, err := json.Marshal(rec)
	if err != nil {
		s.dropMirror(ctx, rec, err)
		return
	}
	msg := &producer.Message{
		Topic: s.topic,
		Key:   []byte(rec.ID.String()),
		Value: value,
		Headers: map[string]string{
			"action": rec.ActionID.String(),
			"result": rec.Result.String(),
		},
	}
	if err := s.mirror.ProduceAsync(msg, func(error) { s.metrics.IncrementAuditMirrorDropped() }); err != nil {
		s.dropMirror(ctx, rec, err)
	}
}

func (s *Service) dropMirror(ctx context.Context, rec *models.Record, err error) {
	s.metrics.IncrementAuditMirrorDropped()
	if s.logger != nil {
		s.logger.WarnContext(ctx, "audit mirror publish failed",
			"error", err,
			"record_id", rec.ID.String(),
		)
	}
}

func wrapRecordErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, action)
}
