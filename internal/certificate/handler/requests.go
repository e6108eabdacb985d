package handler

import (
	"fmt"
	"time"

	"certmint/internal/certificate/models"
	dErrors "certmint/pkg/domain-errors"
)

// CreateCertificateRequest is the HTTP request body for POST /certificates.
type CreateCertificateRequest struct {
	Domain     string `json:"domain"`
	TaxID      string `json:"taxId"`
	ValidFrom  string `json:"validFrom"`
	ValidTo    string `json:"validTo"`
	UsersCount int    `json:"usersCount"`

	// Parsed values (populated by Validate)
	parsedValidFrom time.Time
	parsedValidTo   time.Time
}

// Validate parses the date fields.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
// Business rules run in the service validator, which reports every violation
// at once; absent dates pass through as zero values so they join that report.
func (r *CreateCertificateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	var err error
	if r.parsedValidFrom, err = parseDate(r.ValidFrom, "validFrom"); err != nil {
		return err
	}
	if r.parsedValidTo, err = parseDate(r.ValidTo, "validTo"); err != nil {
		return err
	}
	return nil
}

// ToModel builds the domain create request.
func (r *CreateCertificateRequest) ToModel() models.CreateRequest {
	return models.CreateRequest{
		Domain:     r.Domain,
		TaxID:      r.TaxID,
		ValidFrom:  r.parsedValidFrom,
		ValidTo:    r.parsedValidTo,
		UsersCount: r.UsersCount,
	}
}

// UpdateDatesRequest is the HTTP request body for
// PATCH /certificates/{certificateID}/dates.
type UpdateDatesRequest struct {
	ValidFrom string `json:"validFrom"`
	ValidTo   string `json:"validTo"`

	parsedValidFrom time.Time
	parsedValidTo   time.Time
}

// Validate parses the date fields.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *UpdateDatesRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	var err error
	if r.parsedValidFrom, err = parseDate(r.ValidFrom, "validFrom"); err != nil {
		return err
	}
	if r.parsedValidTo, err = parseDate(r.ValidTo, "validTo"); err != nil {
		return err
	}
	return nil
}

// ParsedValidFrom returns the parsed lower bound.
func (r *UpdateDatesRequest) ParsedValidFrom() time.Time { return r.parsedValidFrom }

// ParsedValidTo returns the parsed upper bound.
func (r *UpdateDatesRequest) ParsedValidTo() time.Time { return r.parsedValidTo }

// parseDate reads a YYYY-MM-DD value. Empty strings parse to the zero time
// so the service validator can flag them as missing alongside every other
// violation; anything else unparseable is a structural 400.
func parseDate(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s must be a YYYY-MM-DD date", field))
	}
	return t, nil
}
