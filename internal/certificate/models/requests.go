package models

import "time"

// CreateRequest carries the caller-supplied fields for issuing a
// certificate. The acting principal arrives separately from the auth layer.
type CreateRequest struct {
	Domain     string
	TaxID      string
	ValidFrom  time.Time
	ValidTo    time.Time
	UsersCount int
}
