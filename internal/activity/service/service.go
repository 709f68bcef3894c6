package service

import (
	"context"
	"log/slog"
	"time"

	"commandbridge/internal/activity/device"
	"commandbridge/internal/activity/models"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/validation"
	"commandbridge/pkg/requestcontext"
)

// Store persists activity events keyed by (user, timestamp).
type Store interface {
	PutBatch(ctx context.Context, events []*models.Event) (int, error)
	Query(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Event, error)
	ActiveUsers(ctx context.Context, since int64) ([]models.ActiveUser, error)
}

const (
	defaultActiveWindow = 15
	maxActiveWindow     = 24 * 60

	// maxClockSkew bounds how far in the future a client timestamp may be.
	maxClockSkew = 24 * time.Hour
)

// QueryParams selects a page of events. User and Type are optional.
type QueryParams struct {
	User   domain.Email
	Type   models.EventType
	Start  int64
	End    int64
	Limit  int
	Cursor string
}

// Service ingests and queries user activity. Ingestion is best effort:
// malformed events are dropped individually rather than failing the batch.
type Service struct {
	store     Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retention time.Duration
}

func New(store Store, opts ...Option) *Service {
	cfg := &serviceConfig{retention: models.Retention}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		store:     store,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		retention: cfg.retention,
	}
}

// Ingest stores a client batch under the caller's identity. At most
// validation.MaxActivityBatch events are considered; events sharing a
// timestamp are spread 1ms apart so none overwrite each other.
func (s *Service) Ingest(ctx context.Context, caller domain.Caller, batch []models.Submission) (*models.IngestResult, error) {
	if len(batch) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "events must be a non-empty array")
	}
	result := &models.IngestResult{}
	if len(batch) > validation.MaxActivityBatch {
		result.Dropped = len(batch) - validation.MaxActivityBatch
		s.metrics.AddActivityDropped("batch_cap", result.Dropped)
		batch = batch[:validation.MaxActivityBatch]
	}

	now := requestcontext.Now(ctx)
	label := device.Label(requestcontext.UserAgent(ctx))
	events := make([]*models.Event, 0, len(batch))
	malformed := 0
	for _, sub := range batch {
		ts, ok := s.timestamp(sub, now)
		if !ok {
			malformed++
			continue
		}
		events = append(events, &models.Event{
			User:      caller.Email,
			Timestamp: ts,
			Type:      sub.Type,
			Data:      sub.Data,
			Device:    label,
			ExpiresAt: now.Add(s.retention),
		})
	}
	if malformed > 0 {
		result.Dropped += malformed
		s.metrics.AddActivityDropped("malformed", malformed)
		if s.logger != nil {
			s.logger.DebugContext(ctx, "dropped malformed activity events",
				"user", caller.Email.String(),
				"count", malformed,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "No valid events in batch")
	}

	models.Spread(events)
	n, err := s.store.PutBatch(ctx, events)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store activity")
	}
	s.metrics.AddActivityIngested(n)
	result.Ingested = n
	return result, nil
}

func (s *Service) timestamp(sub models.Submission, now time.Time) (int64, bool) {
	if !sub.Type.IsValid() {
		return 0, false
	}
	switch {
	case sub.Timestamp == 0:
		return now.UnixMilli(), true
	case sub.Timestamp < 0:
		return 0, false
	case sub.Timestamp > now.Add(maxClockSkew).UnixMilli():
		return 0, false
	case sub.Timestamp <= now.Add(-s.retention).UnixMilli():
		return 0, false
	}
	return sub.Timestamp, true
}

// Query returns events newest first. Callers below level 3 only ever see
// their own events; level 3 may query any user or a type across users.
func (s *Service) Query(ctx context.Context, caller domain.Caller, params QueryParams) (*models.Page, error) {
	if params.Type != "" && !params.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown event_type")
	}
	if params.Start < 0 || params.End < 0 || (params.Start > 0 && params.End > 0 && params.Start > params.End) {
		return nil, dErrors.New(dErrors.CodeValidation, "start and end must be ordered millisecond timestamps")
	}

	filter := models.Filter{User: params.User, Type: params.Type, Start: params.Start, End: params.End}
	if !rbac.CanQueryAllActivity(caller) {
		filter.User = caller.Email
	} else if filter.User == "" && filter.Type == "" {
		filter.User = caller.Email
	}

	limit := validation.ClampLimit(params.Limit, validation.DefaultActivityLimit, validation.MaxActivityLimit)
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, err
	}
	events, err := s.store.Query(ctx, filter, limit+1, cursor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to query activity")
	}

	page := &models.Page{Events: events}
	if len(events) > limit {
		last := events[limit-1]
		page.Events = events[:limit]
		page.NextCursor = pagination.Encode(&pagination.Cursor{Time: time.UnixMilli(last.Timestamp).UTC(), Key: last.User.String()})
	}
	return page, nil
}

// ActiveUsers lists users seen in the last sinceMinutes minutes. Level 3 only.
func (s *Service) ActiveUsers(ctx context.Context, caller domain.Caller, sinceMinutes int) ([]models.ActiveUser, error) {
	if !rbac.CanQueryAllActivity(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "L3 admin access required for cross-user queries")
	}
	switch {
	case sinceMinutes <= 0:
		sinceMinutes = defaultActiveWindow
	case sinceMinutes > maxActiveWindow:
		sinceMinutes = maxActiveWindow
	}
	since := requestcontext.Now(ctx).Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
	users, err := s.store.ActiveUsers(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to query active users")
	}
	return users, nil
}
