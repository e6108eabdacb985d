package common

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	GETWithoutCredentials(path string) error
	StatusCode() int
	ResponseBody() string
	GetResponseField(field string) (interface{}, error)
	ResponseContains(field string) bool
}

// RegisterSteps registers background, generic request, and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Generic request steps
	ctx.Step(`^the service is healthy$`, steps.serviceIsHealthy)
	ctx.Step(`^I request "([^"]*)"$`, steps.request)
	ctx.Step(`^I request "([^"]*)" without credentials$`, steps.requestWithoutCredentials)

	// Response assertion steps
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsHealthy(ctx context.Context) error {
	if err := s.tc.GET("/healthz", nil); err != nil {
		return err
	}
	if s.tc.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check returned %d: %s", s.tc.StatusCode(), s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) request(ctx context.Context, path string) error {
	return s.tc.GET(path, nil)
}

func (s *commonSteps) requestWithoutCredentials(ctx context.Context, path string) error {
	return s.tc.GETWithoutCredentials(path)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, status int) error {
	if s.tc.StatusCode() != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, s.tc.StatusCode(), s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) responseShouldContain(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain %q: %s", field, s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBe(ctx context.Context, field, expected string) error {
	val, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", val); got != expected {
		return fmt.Errorf("expected field %q to be %q, got %q", field, expected, got)
	}
	return nil
}
