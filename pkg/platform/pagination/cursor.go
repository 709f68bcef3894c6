// Package pagination encodes keyset positions as opaque, URL-safe cursors.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"

	dErrors "commandbridge/pkg/domain-errors"
)

// Cursor marks the last row a client has seen. Rows sort by (Time, Key);
// either part may be zero when a listing orders by the other alone.
type Cursor struct {
	Time time.Time `json:"ts,omitempty"`
	Key  string    `json:"id"`
}

// IsZero reports whether the cursor points at the start of a listing.
func (c *Cursor) IsZero() bool {
	return c == nil || (c.Time.IsZero() && c.Key == "")
}

// Encode returns base64url(JSON(c)). A nil cursor encodes to "".
func Encode(c *Cursor) string {
	if c.IsZero() {
		return ""
	}
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode parses a cursor produced by Encode. The empty string decodes to nil.
func Decode(raw string) (*Cursor, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.Key == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	return &c, nil
}

// After reports whether a row at (t, key) sorts strictly after c in
// descending (t, key) order, i.e. whether it belongs on the next page.
func (c *Cursor) After(t time.Time, key string) bool {
	if c.IsZero() {
		return true
	}
	if !t.Equal(c.Time) {
		return t.Before(c.Time)
	}
	return key < c.Key
}
