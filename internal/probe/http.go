package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// healthyIndicators are the status values a health endpoint may report when up
var healthyIndicators = map[string]bool{
	"ok":      true,
	"ready":   true,
	"healthy": true,
	"up":      true,
	"pass":    true,
}

const maxBodyBytes = 1 << 20

// HTTPProbe GETs a health endpoint and expects 2xx plus a healthy status indicator
type HTTPProbe struct {
	base
	url    string
	client *http.Client
	// RequireStatus fails the probe when the body has no status indicator
	RequireStatus bool
}

func NewHTTPProbe(name string, component domain.Component, url string, client *http.Client, opts Options) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{
		base:   base{name: name, component: component, opts: opts.withDefaults()},
		url:    url,
		client: client,
	}
}

func (p *HTTPProbe) Run(ctx context.Context) domain.HealthCheckResult {
	return p.run(ctx, func(ctx context.Context) error {
		body, err := get(ctx, p.client, p.url, "application/json")
		if err != nil {
			return err
		}
		return p.validate(body)
	})
}

func (p *HTTPProbe) validate(body []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if p.RequireStatus {
			return &domain.ValidationError{Field: "status", Message: "health response is not a JSON object"}
		}
		return nil
	}

	raw, ok := payload["status"]
	if !ok {
		if p.RequireStatus {
			return &domain.ValidationError{Field: "status", Message: "health response has no status"}
		}
		return nil
	}
	status, _ := raw.(string)
	if !healthyIndicators[strings.ToLower(status)] {
		return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("health status is %q", status)}
	}
	return nil
}

// get fetches url and returns the body of a 2xx response
func get(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, connectivity(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, connectivity(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
