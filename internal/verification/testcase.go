package verification

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

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/probe"
)

// TestCase is one functional request against the backend with its expected response
type TestCase struct {
	Name     string            `yaml:"name"`
	Category domain.Category   `yaml:"category"`
	Method   string            `yaml:"method"`
	Path     string            `yaml:"path"`
	Headers  map[string]string `yaml:"headers"`
	Payload  map[string]any    `yaml:"payload"`

	ExpectStatus int `yaml:"expect_status"`
	// ExpectFields must be present in the JSON response object
	ExpectFields []string `yaml:"expect_fields"`
	// ExpectValues must match the response fields exactly
	ExpectValues map[string]string `yaml:"expect_values"`
}

func (tc TestCase) withDefaults() TestCase {
	if tc.Method == "" {
		tc.Method = http.MethodGet
	}
	tc.Method = strings.ToUpper(tc.Method)
	if tc.Category == "" {
		tc.Category = domain.CategoryBackend
	}
	return tc
}

func (tc TestCase) validate() error {
	switch {
	case tc.Name == "":
		return fmt.Errorf("%w: test case without a name", domain.ErrInvalidPlan)
	case tc.Path == "":
		return fmt.Errorf("%w: test %q has no path", domain.ErrInvalidPlan, tc.Name)
	case tc.ExpectStatus < 100 || tc.ExpectStatus > 599:
		return fmt.Errorf("%w: test %q has no valid expect_status", domain.ErrInvalidPlan, tc.Name)
	case !tc.Category.Valid():
		return fmt.Errorf("%w: test %q has unknown category %q", domain.ErrInvalidPlan, tc.Name, tc.Category)
	}
	return nil
}

// Outcome is the result of one attempt at a test case
type Outcome struct {
	Status   int
	Body     map[string]any
	Duration time.Duration
	Passed   bool
	// Kind is empty when the test passed
	Kind domain.FailureKind
	// Field is the field named by a structured error response, if any
	Field string
	Err   error
}

// Transient reports whether another attempt could change the outcome. A 4xx
// with a structured error body is a definitive answer.
func (o Outcome) Transient() bool {
	switch o.Kind {
	case domain.FailureConnectivity, domain.FailureTimeout, domain.FailureServerError:
		return true
	}
	return false
}

// Execute sends the request once and evaluates the response
func (tc TestCase) Execute(ctx context.Context, client *http.Client, baseURL string) Outcome {
	start := time.Now()
	out := tc.execute(ctx, client, baseURL)
	out.Duration = time.Since(start)
	return out
}

func (tc TestCase) execute(ctx context.Context, client *http.Client, baseURL string) Outcome {
	var body io.Reader
	if tc.Payload != nil {
		data, err := json.Marshal(tc.Payload)
		if err != nil {
			return Outcome{Kind: domain.FailureTestFailed, Err: fmt.Errorf("failed to encode payload: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, tc.Method, resolve(baseURL, tc.Path), body)
	if err != nil {
		return Outcome{Kind: domain.FailureTestFailed, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range tc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Kind: domain.FailureTimeout, Err: fmt.Errorf("%w: %v", domain.ErrProbeTimeout, err)}
		}
		return Outcome{Kind: probe.Classify(err), Err: fmt.Errorf("%w: %v", domain.ErrProbeConnectivity, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Status: resp.StatusCode, Kind: domain.FailureConnectivity, Err: fmt.Errorf("%w: %v", domain.ErrProbeConnectivity, err)}
	}

	out := Outcome{Status: resp.StatusCode}
	_ = json.Unmarshal(raw, &out.Body)
	out.Field = stringField(out.Body, "field")

	if err := tc.evaluate(out); err != nil {
		out.Err = err
		out.Kind = domain.FailureTestFailed
		if resp.StatusCode >= 500 && tc.ExpectStatus < 500 {
			out.Kind = domain.FailureServerError
		}
		return out
	}
	out.Passed = true
	return out
}

func (tc TestCase) evaluate(out Outcome) error {
	if out.Status != tc.ExpectStatus {
		msg := fmt.Sprintf("expected status %d, got %d", tc.ExpectStatus, out.Status)
		if detail := stringField(out.Body, "message"); detail != "" {
			msg += ": " + detail
		} else if detail := stringField(out.Body, "error"); detail != "" {
			msg += ": " + detail
		}
		return errors.New(msg)
	}
	for _, field := range tc.ExpectFields {
		if _, ok := out.Body[field]; !ok {
			return &domain.ValidationError{Field: field, Message: "missing from response"}
		}
	}
	for field, want := range tc.ExpectValues {
		if got := stringField(out.Body, field); got != want {
			return &domain.ValidationError{Field: field, Message: fmt.Sprintf("expected %q, got %q", want, got)}
		}
	}
	return nil
}

func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case string:
		return v
	case bool, float64:
		return fmt.Sprint(v)
	}
	return ""
}
