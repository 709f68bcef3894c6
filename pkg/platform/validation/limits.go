package validation

import (
	"fmt"

	dErrors "commandbridge/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize bounds every JSON request body (64 KB).
	MaxBodySize = 64 * 1024

	// MaxArticleBodySize bounds knowledge-base writes, which carry markdown.
	MaxArticleBodySize = 512 * 1024
)

// Slice element count limits
const (
	MaxActivityBatch = 100
	MaxTags          = 20
	MaxParams        = 20
)

// String element length limits
const (
	MaxReasonLength  = 1000
	MaxTargetLength  = 512
	MaxTicketLength  = 64
	MaxTitleLength   = 200
	MaxTagLength     = 50
	MaxEmailLength   = 255
	MaxContentLength = 256 * 1024
)

// Page size limits
const (
	DefaultAuditLimit    = 50
	MaxAuditLimit        = 200
	DefaultArticleLimit  = 25
	MaxArticleLimit      = 100
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates every element of values against max.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if err := CheckStringLength(fieldName, v, max); err != nil {
			return err
		}
	}
	return nil
}

// ClampLimit applies a default for zero and caps at max.
func ClampLimit(requested, def, max int) int {
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}
