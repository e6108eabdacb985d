package e2e

import (
	"github.com/cucumber/godog"

	"certmint/e2e/steps/certificate"
	"certmint/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register certificate lifecycle steps
	certificate.RegisterSteps(ctx, tc)
}
