// Package verification loads verification plans and executes functional test cases.
package verification

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/probe"
)

const (
	ProbeSQL      = "sql"
	ProbeRedis    = "redis"
	ProbeHTTP     = "http"
	ProbeFrontend = "frontend"
)

// File is the YAML form of a plan
type File struct {
	BackendURL  string      `yaml:"backend_url"`
	FrontendURL string      `yaml:"frontend_url"`
	Probes      []ProbeSpec `yaml:"probes"`
	Tests       []TestCase  `yaml:"tests"`
}

type ProbeSpec struct {
	Name      string           `yaml:"name"`
	Type      string           `yaml:"type"`
	Component domain.Component `yaml:"component"`
	// URL may be relative to the backend or frontend base URL
	URL             string   `yaml:"url"`
	RequireStatus   bool     `yaml:"require_status"`
	RequiredIDs     []string `yaml:"required_ids"`
	RequiredScripts []string `yaml:"required_scripts"`
}

// Deps are the live handles probes are built from
type Deps struct {
	DB           *sqlx.DB
	Redis        probe.Pinger
	HTTPClient   *http.Client
	ProbeOptions probe.Options
}

// Plan is a runnable set of probes and functional tests
type Plan struct {
	BackendURL string
	Probes     []probe.Probe
	Tests      []TestCase
}

// Load reads and parses a YAML plan
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPlan, err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan, rejecting unknown keys
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPlan, err)
	}
	return &f, nil
}

// DefaultFile is the built-in plan used when no plan file is configured. Its
// tests only exercise requests that leave the active session untouched.
func DefaultFile(backendURL, frontendURL string) *File {
	return &File{
		BackendURL:  backendURL,
		FrontendURL: frontendURL,
		Probes: []ProbeSpec{
			{Name: "database", Type: ProbeSQL, Component: domain.ComponentDatabase},
			{Name: "backend health", Type: ProbeHTTP, Component: domain.ComponentBackend, URL: "/health", RequireStatus: true},
			{Name: "backend readiness", Type: ProbeHTTP, Component: domain.ComponentBackend, URL: "/ready", RequireStatus: true},
			{Name: "frontend entry", Type: ProbeFrontend, Component: domain.ComponentFrontend, URL: "/", RequiredIDs: []string{"root"}},
		},
		Tests: []TestCase{
			{
				Name:         "setup rejects missing api key",
				Category:     domain.CategoryBackend,
				Method:       http.MethodPost,
				Path:         "/api/v1/broker/oauth/setup",
				Payload:      map[string]any{"api_secret": "verification"},
				ExpectStatus: http.StatusBadRequest,
				ExpectFields: []string{"error", "field", "message"},
				ExpectValues: map[string]string{"error": "validation_error", "field": "api_key"},
			},
			{
				Name:         "session status is readable",
				Category:     domain.CategoryIntegration,
				Method:       http.MethodGet,
				Path:         "/api/v1/broker/session",
				ExpectStatus: http.StatusOK,
				ExpectFields: []string{"connected"},
			},
		},
	}
}

// Build turns the file into a runnable plan. The result is validated.
func (f *File) Build(deps Deps) (*Plan, error) {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	plan := &Plan{BackendURL: strings.TrimRight(f.BackendURL, "/")}
	for _, spec := range f.Probes {
		var p probe.Probe
		switch spec.Type {
		case ProbeSQL:
			if deps.DB == nil {
				return nil, fmt.Errorf("%w: probe %q needs a database connection", domain.ErrInvalidPlan, spec.Name)
			}
			p = probe.NewSQLProbe(spec.Name, deps.DB, deps.ProbeOptions)
		case ProbeRedis:
			if deps.Redis == nil {
				return nil, fmt.Errorf("%w: probe %q needs a redis client", domain.ErrInvalidPlan, spec.Name)
			}
			p = probe.NewRedisProbe(spec.Name, deps.Redis, deps.ProbeOptions)
		case ProbeHTTP:
			component := spec.Component
			if component == "" {
				component = domain.ComponentBackend
			}
			base := f.BackendURL
			if component == domain.ComponentFrontend {
				base = f.FrontendURL
			}
			hp := probe.NewHTTPProbe(spec.Name, component, resolve(base, spec.URL), client, deps.ProbeOptions)
			hp.RequireStatus = spec.RequireStatus
			p = hp
		case ProbeFrontend:
			fp := probe.NewFrontendProbe(spec.Name, resolve(f.FrontendURL, spec.URL), client, deps.ProbeOptions)
			fp.RequiredIDs = spec.RequiredIDs
			fp.RequiredScripts = spec.RequiredScripts
			p = fp
		default:
			return nil, fmt.Errorf("%w: probe %q has unknown type %q", domain.ErrInvalidPlan, spec.Name, spec.Type)
		}
		plan.Probes = append(plan.Probes, p)
	}

	for _, tc := range f.Tests {
		plan.Tests = append(plan.Tests, tc.withDefaults())
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate rejects plans that cannot produce a complete report
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: no plan", domain.ErrInvalidPlan)
	}

	covered := make(map[domain.Component]bool)
	names := make(map[string]bool)
	for _, pr := range p.Probes {
		if !pr.Component().Valid() {
			return fmt.Errorf("%w: probe %q has unknown component %q", domain.ErrInvalidPlan, pr.Name(), pr.Component())
		}
		if names[pr.Name()] {
			return fmt.Errorf("%w: duplicate probe name %q", domain.ErrInvalidPlan, pr.Name())
		}
		names[pr.Name()] = true
		covered[pr.Component()] = true
	}
	for _, c := range domain.Components {
		if !covered[c] {
			return fmt.Errorf("%w: no probe covers the %s component", domain.ErrInvalidPlan, c)
		}
	}

	tests := make(map[string]bool)
	for _, tc := range p.Tests {
		if err := tc.validate(); err != nil {
			return err
		}
		if tests[tc.Name] {
			return fmt.Errorf("%w: duplicate test name %q", domain.ErrInvalidPlan, tc.Name)
		}
		tests[tc.Name] = true
	}
	if len(p.Tests) > 0 && p.BackendURL == "" {
		return fmt.Errorf("%w: functional tests need a backend url", domain.ErrInvalidPlan)
	}
	return nil
}

func resolve(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
