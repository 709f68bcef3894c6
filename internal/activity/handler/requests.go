package handler

import (
	"encoding/json"
	"strings"

	"commandbridge/internal/activity/models"
	dErrors "commandbridge/pkg/domain-errors"
)

// IngestRequest carries a batch of client events. Elements are decoded one
// at a time so a single bad event does not reject the batch.
type IngestRequest struct {
	Events []json.RawMessage `json:"events"`
}

func (r *IngestRequest) Validate() error {
	if r == nil || len(r.Events) == 0 {
		return dErrors.New(dErrors.CodeValidation, "events must be a non-empty array")
	}
	return nil
}

type clientEvent struct {
	EventType string         `json:"event_type"`
	Timestamp json.Number    `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// toSubmissions maps raw elements onto submissions. Undecodable elements
// become submissions without a type, which the service drops.
func (r *IngestRequest) toSubmissions() []models.Submission {
	subs := make([]models.Submission, 0, len(r.Events))
	for _, raw := range r.Events {
		var ev clientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			subs = append(subs, models.Submission{})
			continue
		}
		subs = append(subs, models.Submission{
			Type:      models.EventType(strings.TrimSpace(ev.EventType)),
			Timestamp: parseMillis(ev.Timestamp),
			Data:      ev.Data,
		})
	}
	return subs
}

// parseMillis returns 0 for a missing timestamp and -1 for one that is not
// a number.
func parseMillis(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil && f >= 0 {
		return int64(f)
	}
	return -1
}
