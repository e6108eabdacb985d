package certificate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	PATCH(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
}

// RegisterSteps registers certificate lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	// Issuance steps
	ctx.Step(`^I issue a certificate for a fresh "([^"]*)" domain with tax-id "([^"]*)" valid for (\d+) years? and (\d+) users$`, steps.issueFreshDomain)
	ctx.Step(`^I issue another certificate for the same domain$`, steps.issueSameDomain)
	ctx.Step(`^I issue a certificate for domain "([^"]*)" with tax-id "([^"]*)" from "([^"]*)" to "([^"]*)" and (\d+) users$`, steps.issueExplicit)
	ctx.Step(`^I save the certificate id$`, steps.saveCertificateID)

	// Lifecycle steps
	ctx.Step(`^I verify the saved certificate$`, steps.verifySaved)
	ctx.Step(`^I verify certificate "([^"]*)"$`, steps.verifyExplicit)
	ctx.Step(`^I deactivate the saved certificate$`, steps.deactivateSaved)
	ctx.Step(`^I move the saved certificate validity (\d+) years? into the future$`, steps.moveSavedValidity)
	ctx.Step(`^I search active certificates for the issued domain$`, steps.searchIssuedDomain)
	ctx.Step(`^I fetch the history of the saved certificate$`, steps.fetchSavedHistory)
}

type certificateSteps struct {
	tc TestContext

	domain        string
	taxID         string
	users         int
	validFrom     string
	validTo       string
	certificateID string
}

// issueFreshDomain issues for a domain that cannot collide with earlier runs.
// The random suffix keeps scenarios repeatable against a long-lived server
// where previously issued certificates survive.
func (s *certificateSteps) issueFreshDomain(ctx context.Context, label, taxID string, years, users int) error {
	nonce := make([]byte, 4)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate domain nonce: %w", err)
	}
	s.domain = fmt.Sprintf("%s-%s.example.com", label, hex.EncodeToString(nonce))
	s.taxID = taxID
	s.users = users

	now := time.Now().UTC()
	s.validFrom = now.Format(time.DateOnly)
	s.validTo = now.AddDate(years, 0, 0).Format(time.DateOnly)
	return s.issue()
}

func (s *certificateSteps) issueSameDomain(ctx context.Context) error {
	if s.domain == "" {
		return fmt.Errorf("no certificate has been issued in this scenario")
	}
	return s.issue()
}

func (s *certificateSteps) issue() error {
	body := map[string]interface{}{
		"domain":     s.domain,
		"taxId":      s.taxID,
		"validFrom":  s.validFrom,
		"validTo":    s.validTo,
		"usersCount": s.users,
	}
	return s.tc.POST("/api/v1/certificates", body)
}

func (s *certificateSteps) issueExplicit(ctx context.Context, domain, taxID, from, to string, users int) error {
	body := map[string]interface{}{
		"domain":     domain,
		"taxId":      taxID,
		"validFrom":  from,
		"validTo":    to,
		"usersCount": users,
	}
	return s.tc.POST("/api/v1/certificates", body)
}

func (s *certificateSteps) saveCertificateID(ctx context.Context) error {
	val, err := s.tc.GetResponseField("certificateId")
	if err != nil {
		return err
	}
	id, ok := val.(string)
	if !ok || id == "" {
		return fmt.Errorf("certificateId is not a non-empty string: %v", val)
	}
	s.certificateID = id
	return nil
}

func (s *certificateSteps) verifySaved(ctx context.Context) error {
	if s.certificateID == "" {
		return fmt.Errorf("no certificate id has been saved in this scenario")
	}
	return s.verify(s.certificateID)
}

func (s *certificateSteps) verifyExplicit(ctx context.Context, certificateID string) error {
	return s.verify(certificateID)
}

func (s *certificateSteps) verify(certificateID string) error {
	return s.tc.POST("/api/v1/certificates/"+url.PathEscape(certificateID)+"/verify", nil)
}

func (s *certificateSteps) deactivateSaved(ctx context.Context) error {
	if s.certificateID == "" {
		return fmt.Errorf("no certificate id has been saved in this scenario")
	}
	return s.tc.POST("/api/v1/certificates/"+url.PathEscape(s.certificateID)+"/deactivate", nil)
}

// moveSavedValidity shifts the window relative to the wall clock so the
// scenario keeps passing no matter when it runs.
func (s *certificateSteps) moveSavedValidity(ctx context.Context, years int) error {
	if s.certificateID == "" {
		return fmt.Errorf("no certificate id has been saved in this scenario")
	}
	from := time.Now().UTC().AddDate(years, 0, 0)
	body := map[string]interface{}{
		"validFrom": from.Format(time.DateOnly),
		"validTo":   from.AddDate(1, 0, 0).Format(time.DateOnly),
	}
	return s.tc.PATCH("/api/v1/certificates/"+url.PathEscape(s.certificateID)+"/dates", body)
}

func (s *certificateSteps) searchIssuedDomain(ctx context.Context) error {
	if s.domain == "" {
		return fmt.Errorf("no certificate has been issued in this scenario")
	}
	query := url.Values{"domain": {s.domain}, "activeOnly": {"true"}}
	return s.tc.GET("/api/v1/certificates?"+query.Encode(), nil)
}

func (s *certificateSteps) fetchSavedHistory(ctx context.Context) error {
	if s.certificateID == "" {
		return fmt.Errorf("no certificate id has been saved in this scenario")
	}
	return s.tc.GET("/api/v1/certificates/"+url.PathEscape(s.certificateID)+"/history", nil)
}
