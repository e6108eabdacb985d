package models

import "strings"

// Violation reason codes. Stable machine-readable strings rendered to users
// by the adapter layer.
const (
	ReasonRequired        = "required"
	ReasonInvalidHostname = "invalid_hostname"
	ReasonWildcard        = "wildcard_misplaced"
	ReasonTooLong         = "too_long"
	ReasonInvalidLength   = "invalid_length"
	ReasonNotDigits       = "not_digits"
	ReasonInvalidChecksum = "invalid_checksum"
	ReasonDateOrder       = "date_order"
	ReasonSpanExceeded    = "span_exceeded"
	ReasonBelowMinimum    = "below_minimum"
	ReasonAboveLimit      = "users_above_limit"
)

// Violation is a single field-level rule failure.
type Violation struct {
	Field   string
	Code    string
	Message string
}

// ValidationErrors collects every violation found in a request. Validation
// never stops at the first failure: callers need the full list for user
// feedback.
type ValidationErrors []Violation

func (v ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	for i, violation := range v {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(violation.Field)
		b.WriteString(": ")
		b.WriteString(violation.Code)
	}
	return b.String()
}
