package models

import (
	"time"

	"commandbridge/pkg/domain"
)

// Retention is how long activity events are kept.
const Retention = 90 * 24 * time.Hour

// EventType names a kind of user activity.
type EventType string

const (
	EventPageView      EventType = "page_view"
	EventButtonClick   EventType = "button_click"
	EventSearch        EventType = "search"
	EventActionExecute EventType = "action_execute"
	EventActionRequest EventType = "action_request"
	EventActionApprove EventType = "action_approve"
	EventKBView        EventType = "kb_view"
	EventKBEdit        EventType = "kb_edit"
	EventAdminAction   EventType = "admin_action"
	EventLogin         EventType = "login"
	EventLogout        EventType = "logout"
	EventError         EventType = "error"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventPageView, EventButtonClick, EventSearch, EventActionExecute, EventActionRequest,
		EventActionApprove, EventKBView, EventKBEdit, EventAdminAction, EventLogin, EventLogout, EventError:
		return true
	}
	return false
}

// Event is one activity row keyed by (User, Timestamp). Timestamp is in
// milliseconds since the epoch.
type Event struct {
	User      domain.Email   `json:"user"`
	Timestamp int64          `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Device    string         `json:"device,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// NewEvent stamps a server-side event at now.
func NewEvent(user domain.Email, typ EventType, data map[string]any, now time.Time) Event {
	return Event{
		User:      user,
		Timestamp: now.UnixMilli(),
		Type:      typ,
		Data:      data,
		ExpiresAt: now.Add(Retention),
	}
}

// Spread moves events that share a (User, Timestamp) key forward 1ms at a
// time until every key in events is unique. Events are updated in place.
func Spread(events []*Event) {
	type key struct {
		user domain.Email
		ts   int64
	}
	seen := make(map[key]struct{}, len(events))
	for _, ev := range events {
		k := key{ev.User, ev.Timestamp}
		for {
			if _, dup := seen[k]; !dup {
				break
			}
			k.ts++
		}
		seen[k] = struct{}{}
		ev.Timestamp = k.ts
	}
}

// Filter selects events. Start and End are inclusive millisecond bounds;
// zero leaves that side open.
type Filter struct {
	User  domain.Email
	Type  EventType
	Start int64
	End   int64
}

func (f Filter) Matches(e *Event) bool {
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Start > 0 && e.Timestamp < f.Start {
		return false
	}
	if f.End > 0 && e.Timestamp > f.End {
		return false
	}
	return true
}

// Page is one page of events, newest first.
type Page struct {
	Events     []*Event `json:"events"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// ActiveUser summarises a user seen within a window.
type ActiveUser struct {
	User       domain.Email `json:"user"`
	LastSeen   int64        `json:"last_seen"`
	EventCount int          `json:"event_count"`
}

// Submission is one client-reported event before validation. A zero
// Timestamp means "now"; negative values mark an unparseable timestamp.
type Submission struct {
	Type      EventType
	Timestamp int64
	Data      map[string]any
}

// IngestResult reports how much of a batch was stored.
type IngestResult struct {
	Ingested int `json:"ingested"`
	Dropped  int `json:"dropped"`
}
