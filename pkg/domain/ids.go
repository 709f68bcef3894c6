// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"

	dErrors "commandbridge/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing an Email where an ActionID is expected.
type (
	// Email identifies a user. Always lower-cased and trimmed.
	Email string
	// ActionID is the catalogue key of an operational action (e.g. "restart-pods").
	ActionID string
	// ArticleID is the slug of a knowledge-base article.
	ArticleID string
	// RecordID identifies an audit record.
	RecordID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

// ParseEmail normalizes and validates an email address.
func ParseEmail(s string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email cannot be empty")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized || !strings.Contains(normalized, "@") {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email format")
	}
	return Email(normalized), nil
}

// NormalizeEmail lower-cases and trims without validating. Used for values that
// already passed through a verified token.
func NormalizeEmail(s string) Email {
	return Email(strings.ToLower(strings.TrimSpace(s)))
}

func ParseArticleID(s string) (ArticleID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "article id is required")
	}
	return ArticleID(s), nil
}

func ParseRecordID(s string) (RecordID, error) {
	if s == "" {
		return RecordID(uuid.Nil), dErrors.New(dErrors.CodeValidation, "request_id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return RecordID(uuid.Nil), dErrors.New(dErrors.CodeValidation, "invalid request_id format")
	}
	return RecordID(id), nil
}

// NewRecordID returns a fresh random audit record ID.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// EqualFold compares two emails case-insensitively.
func (e Email) EqualFold(other Email) bool {
	return strings.EqualFold(string(e), string(other))
}

func (e Email) String() string     { return string(e) }
func (a ActionID) String() string  { return string(a) }
func (a ArticleID) String() string { return string(a) }
func (r RecordID) String() string  { return uuid.UUID(r).String() }

func (e Email) IsNil() bool    { return e == "" }
func (r RecordID) IsNil() bool { return uuid.UUID(r) == uuid.Nil }

// MarshalText renders the canonical UUID form so records serialize as strings.
func (r RecordID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RecordID) UnmarshalText(b []byte) error {
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*r = RecordID(id)
	return nil
}
