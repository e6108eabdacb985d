// Package validator holds the stateless business-rule checks applied to
// certificate requests before any storage interaction. Checks accumulate
// every violation instead of failing fast so adapters can show users the
// complete list.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"certmint/internal/certificate/models"
)

const (
	maxDomainLen = 255
	maxLabelLen  = 63

	// maxPeriod is five years measured as 1825 days.
	maxPeriod = 5 * 365 * 24 * time.Hour

	minUsers = 1
)

var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// Policy carries the configurable validation knobs.
type Policy struct {
	// MaxUsers caps usersCount when positive; zero means unbounded.
	MaxUsers int
}

// Validator applies field-level rules under a policy. Safe for concurrent use.
type Validator struct {
	policy Policy
}

// New builds a Validator with the given policy.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// ValidateCreate checks every field of a create request and returns the full
// violation list, or nil when the request is clean.
func (v *Validator) ValidateCreate(req models.CreateRequest) models.ValidationErrors {
	var violations models.ValidationErrors
	violations = append(violations, v.checkDomain(req.Domain)...)
	violations = append(violations, v.checkTaxID(req.TaxID)...)
	violations = append(violations, v.checkPeriod(req.ValidFrom, req.ValidTo)...)
	violations = append(violations, v.checkUsers(req.UsersCount)...)
	if len(violations) == 0 {
		return nil
	}
	return violations
}

// ValidatePeriod checks only the validity-window rules. Used when amending
// dates on an issued certificate, where domain and tax-id stay untouched.
func (v *Validator) ValidatePeriod(validFrom, validTo time.Time) models.ValidationErrors {
	violations := v.checkPeriod(validFrom, validTo)
	if len(violations) == 0 {
		return nil
	}
	return violations
}

func (v *Validator) checkDomain(domain string) []models.Violation {
	if domain == "" {
		return []models.Violation{{
			Field:   "domain",
			Code:    models.ReasonRequired,
			Message: "domain must not be empty",
		}}
	}
	if len(domain) > maxDomainLen {
		return []models.Violation{{
			Field:   "domain",
			Code:    models.ReasonTooLong,
			Message: fmt.Sprintf("domain must not exceed %d characters", maxDomainLen),
		}}
	}

	host := domain
	if rest, ok := strings.CutPrefix(host, "*."); ok {
		host = rest
	}
	// A second wildcard, or one anywhere past the prefix, fails the label
	// pattern below along with every other malformed shape.
	if host == "" || !labelPattern.MatchString(host) {
		return []models.Violation{{
			Field:   "domain",
			Code:    models.ReasonInvalidHostname,
			Message: "domain is not a valid hostname",
		}}
	}

	for _, label := range strings.Split(host, ".") {
		if len(label) > maxLabelLen {
			return []models.Violation{{
				Field:   "domain",
				Code:    models.ReasonTooLong,
				Message: fmt.Sprintf("domain label must not exceed %d characters", maxLabelLen),
			}}
		}
	}
	return nil
}

func (v *Validator) checkTaxID(taxID string) []models.Violation {
	if taxID == "" {
		return []models.Violation{{
			Field:   "taxId",
			Code:    models.ReasonRequired,
			Message: "tax-id must not be empty",
		}}
	}
	for _, c := range taxID {
		if c < '0' || c > '9' {
			return []models.Violation{{
				Field:   "taxId",
				Code:    models.ReasonNotDigits,
				Message: "tax-id must contain only digits",
			}}
		}
	}
	if len(taxID) != 10 && len(taxID) != 12 {
		return []models.Violation{{
			Field:   "taxId",
			Code:    models.ReasonInvalidLength,
			Message: "tax-id must be 10 or 12 digits",
		}}
	}

	if !checksumValid(taxID) {
		return []models.Violation{{
			Field:   "taxId",
			Code:    models.ReasonInvalidChecksum,
			Message: "tax-id checksum does not match",
		}}
	}
	return nil
}

func (v *Validator) checkPeriod(validFrom, validTo time.Time) []models.Violation {
	var violations []models.Violation
	if validFrom.IsZero() {
		violations = append(violations, models.Violation{
			Field:   "validFrom",
			Code:    models.ReasonRequired,
			Message: "validFrom must be a calendar date",
		})
	}
	if validTo.IsZero() {
		violations = append(violations, models.Violation{
			Field:   "validTo",
			Code:    models.ReasonRequired,
			Message: "validTo must be a calendar date",
		})
	}
	if len(violations) > 0 {
		return violations
	}

	from := models.DateOnly(validFrom)
	to := models.DateOnly(validTo)
	if !from.Before(to) {
		return []models.Violation{{
			Field:   "period",
			Code:    models.ReasonDateOrder,
			Message: "validFrom must be before validTo",
		}}
	}
	if to.Sub(from) > maxPeriod {
		return []models.Violation{{
			Field:   "period",
			Code:    models.ReasonSpanExceeded,
			Message: "validity period must not exceed 5 years",
		}}
	}
	return nil
}

func (v *Validator) checkUsers(usersCount int) []models.Violation {
	if usersCount < minUsers {
		return []models.Violation{{
			Field:   "usersCount",
			Code:    models.ReasonBelowMinimum,
			Message: "usersCount must be at least 1",
		}}
	}
	if v.policy.MaxUsers > 0 && usersCount > v.policy.MaxUsers {
		return []models.Violation{{
			Field:   "usersCount",
			Code:    models.ReasonAboveLimit,
			Message: fmt.Sprintf("usersCount must not exceed %d", v.policy.MaxUsers),
		}}
	}
	return nil
}

// checksumValid applies the weighted INN checksums: one check digit for the
// 10-digit form, two for the 12-digit form.
func checksumValid(taxID string) bool {
	switch len(taxID) {
	case 10:
		return checkDigit(taxID, coefficients10) == int(taxID[9]-'0')
	case 12:
		return checkDigit(taxID, coefficients12first) == int(taxID[10]-'0') &&
			checkDigit(taxID, coefficients12second) == int(taxID[11]-'0')
	default:
		return false
	}
}

var (
	coefficients10       = []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	coefficients12first  = []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	coefficients12second = []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
)

func checkDigit(taxID string, coefficients []int) int {
	sum := 0
	for i, c := range coefficients {
		sum += int(taxID[i]-'0') * c
	}
	return sum % 11 % 10
}
