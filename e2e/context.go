// Package e2e drives the certificate API end to end with godog. The suite
// talks to a running server over plain HTTP and never imports server code,
// so it can target any deployment: a local binary, a compose stack, or a
// staging environment.
//
// Configuration comes from the environment:
//
//	CERTMINT_E2E_SERVER   base URL of the server under test (required)
//	CERTMINT_E2E_API_KEY  credential in principal:secret form (optional)
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries the HTTP client and the last request/response exchange
// between steps. Every scenario gets a fresh context, so nothing leaks from
// one scenario into the next.
type TestContext struct {
	baseURL string
	apiKey  string
	client  *http.Client

	lastStatus int
	lastBody   []byte
	lastJSON   map[string]interface{}
}

// NewTestContext returns a context aimed at the server under test. apiKey may
// be empty; unauthenticated scenarios still work, authenticated ones will
// fail with 401 responses.
func NewTestContext(baseURL, apiKey string) *TestContext {
	return &TestContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// POST sends a JSON body to path and records the response.
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body, nil, true)
}

// PATCH sends a JSON body to path and records the response.
func (tc *TestContext) PATCH(path string, body interface{}) error {
	return tc.do(http.MethodPatch, path, body, nil, true)
}

// GET requests path with optional extra headers and records the response.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers, true)
}

// GETWithoutCredentials requests path with no API key attached.
func (tc *TestContext) GETWithoutCredentials(path string) error {
	return tc.do(http.MethodGet, path, nil, nil, false)
}

func (tc *TestContext) do(method, path string, body interface{}, headers map[string]string, authenticated bool) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated && tc.apiKey != "" {
		req.Header.Set("X-API-Key", tc.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	tc.lastStatus = resp.StatusCode
	tc.lastBody = raw
	tc.lastJSON = nil
	if len(raw) > 0 {
		var parsed map[string]interface{}
		if json.Unmarshal(raw, &parsed) == nil {
			tc.lastJSON = parsed
		}
	}
	return nil
}

// StatusCode returns the status code of the last response.
func (tc *TestContext) StatusCode() int {
	return tc.lastStatus
}

// ResponseBody returns the raw body of the last response.
func (tc *TestContext) ResponseBody() string {
	return string(tc.lastBody)
}

// GetResponseField resolves a dot-separated path such as
// "certificate.isActive" against the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastJSON == nil {
		return nil, fmt.Errorf("last response is not a JSON object: %s", tc.lastBody)
	}
	var current interface{} = tc.lastJSON
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: segment %q is not an object", field, part)
		}
		val, ok := obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q is missing from response: %s", field, tc.lastBody)
		}
		current = val
	}
	return current, nil
}

// ResponseContains reports whether the dot-separated field is present in the
// last JSON response.
func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}
