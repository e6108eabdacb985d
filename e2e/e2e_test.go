package e2e

import (
	"os"
	"testing"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	server := os.Getenv("CERTMINT_E2E_SERVER")
	if server == "" {
		t.Skip("set CERTMINT_E2E_SERVER to run the end-to-end suite against a live server")
	}
	apiKey := os.Getenv("CERTMINT_E2E_API_KEY")

	suite := godog.TestSuite{
		Name: "certmint",
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			tc := NewTestContext(server, apiKey)
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("end-to-end suite failed")
	}
}
