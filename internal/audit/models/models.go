package models

import (
	"time"

	"commandbridge/pkg/domain"
)

// Result is the recorded outcome of an audited operation.
type Result string

const (
	ResultSuccess   Result = "success"
	ResultRequested Result = "requested"
	ResultApproved  Result = "approved"
	ResultDenied    Result = "denied"
	ResultFailed    Result = "failed"
)

// IsValid reports whether r is a known result.
func (r Result) IsValid() bool {
	switch r {
	case ResultSuccess, ResultRequested, ResultApproved, ResultDenied, ResultFailed:
		return true
	}
	return false
}

func (r Result) String() string { return string(r) }

// Record is one immutable audit row. Only Result, ApprovedBy, and Detail ever
// change, and only through a conditional transition.
type Record struct {
	ID          domain.RecordID `json:"id"`
	UserEmail   domain.Email    `json:"user"`
	ActionID    domain.ActionID `json:"action"`
	Target      string          `json:"target"`
	Ticket      string          `json:"ticket"`
	Result      Result          `json:"result"`
	ApprovedBy  domain.Email    `json:"approved_by,omitempty"`
	Detail      map[string]any  `json:"details,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	MonthBucket string          `json:"month_bucket"`
}

// Clone returns a copy whose Detail map can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Detail != nil {
		cp.Detail = make(map[string]any, len(r.Detail))
		for k, v := range r.Detail {
			cp.Detail[k] = v
		}
	}
	return &cp
}

// MonthBucket formats t as the "YYYY-MM" partition key.
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Filter selects records for a query. At most one of User, Action, and
// Result is expected; From and To bound the timestamp (inclusive, exclusive)
// and may combine with any of them.
type Filter struct {
	User   domain.Email
	Action domain.ActionID
	Result Result
	From   time.Time
	To     time.Time
}

// Matches reports whether rec satisfies every set field of f.
func (f Filter) Matches(rec *Record) bool {
	if f.User != "" && rec.UserEmail != f.User {
		return false
	}
	if f.Action != "" && rec.ActionID != f.Action {
		return false
	}
	if f.Result != "" && rec.Result != f.Result {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Page is one page of records, newest first.
type Page struct {
	Records    []*Record `json:"records"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
