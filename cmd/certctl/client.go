package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient is the thin HTTP client behind every server subcommand. Calls
// authenticate with the configured API key.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends one request and decodes the JSON response into out on a 2xx
// status. API errors come back as "<code>: <description>" with one line per
// validation violation.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError renders the server's JSON error envelope, falling back to the raw
// body when the response is not JSON.
func apiError(status int, body []byte) error {
	var envelope struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Violations       []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"violations"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
	}

	msg := envelope.Error
	if envelope.ErrorDescription != "" {
		msg += ": " + envelope.ErrorDescription
	}
	for _, violation := range envelope.Violations {
		msg += fmt.Sprintf("\n  %s: %s", violation.Field, violation.Message)
	}
	return errors.New(msg)
}

// printJSON pretty-prints a decoded API response to stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
