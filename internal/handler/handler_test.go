package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/handler/middleware"
	"github.com/andressep95/broker-auth-service/internal/probe"
	"github.com/andressep95/broker-auth-service/internal/repository/memory"
	"github.com/andressep95/broker-auth-service/internal/service"
	"github.com/andressep95/broker-auth-service/internal/verification"
	"github.com/andressep95/broker-auth-service/pkg/hash"
	"github.com/andressep95/broker-auth-service/pkg/jwt"
	"github.com/andressep95/broker-auth-service/pkg/kvstore"
	"github.com/andressep95/broker-auth-service/pkg/metrics"
	"github.com/andressep95/broker-auth-service/pkg/validator"
)

const operatorToken = "operator-test-token"

var cheapParams = hash.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeKite struct{}

func (fakeKite) LoginURL(apiKey, state string) string {
	return "https://kite.example/connect/login?api_key=" + apiKey + "&state=" + state
}

func (fakeKite) ExchangeToken(_ context.Context, apiKey, _, _ string) (map[string]any, error) {
	return map[string]any{"data": map[string]any{"user_id": "XY9876", "api_key": apiKey, "access_token": "kite-access"}}, nil
}

func (fakeKite) Profile(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"status": "success"}, nil
}

type healthyProbe struct {
	name      string
	component domain.Component
}

func (p healthyProbe) Name() string                { return p.name }
func (p healthyProbe) Component() domain.Component { return p.component }
func (p healthyProbe) Run(context.Context) domain.HealthCheckResult {
	return domain.HealthCheckResult{
		Component:  p.component,
		Probe:      p.name,
		Status:     domain.HealthStatusHealthy,
		Metrics:    domain.HealthMetrics{ResponseTimeMs: 3, Availability: 1},
		ObservedAt: time.Now().UTC(),
		Issues:     []domain.Issue{},
	}
}

func newTestApp(t *testing.T, checks map[string]ReadinessCheck) *fiber.App {
	t.Helper()
	logger := zap.NewNop()

	signer, err := jwt.NewStateSigner([]byte("handler-test-secret-0123456789"), time.Hour, "broker-auth-test")
	require.NoError(t, err)
	store := service.NewSessionStore(kvstore.NewMemoryStore(), signer, nil, logger, service.SessionStoreOptions{})

	m := metrics.New()
	v := validator.NewValidator()
	oauth := service.NewOAuthService(store, fakeKite{}, m, logger)

	classifier := service.NewIssueClassifier(memory.NewIssueRepository(), logger)
	verifier := service.NewVerificationService(classifier, service.NewReportGenerator(), memory.NewReportRepository(), m, nil, logger,
		service.VerificationOptions{Deadline: 5 * time.Second})
	plans := func() (*verification.Plan, error) {
		return &verification.Plan{Probes: []probe.Probe{
			healthyProbe{"postgres", domain.ComponentDatabase},
			healthyProbe{"api-health", domain.ComponentBackend},
			healthyProbe{"dashboard", domain.ComponentFrontend},
		}}, nil
	}

	tokenHash, err := hash.HashToken(operatorToken, cheapParams)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Use(middleware.RecoveryMiddleware(logger))
	SetupRoutes(app,
		NewBrokerHandler(oauth, v, logger),
		NewVerificationHandler(verifier, classifier, plans, v, logger),
		NewHealthHandler(checks),
		adaptor.HTTPHandler(m.Handler()),
		middleware.OperatorAuth(tokenHash, logger),
	)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string, auth bool) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+operatorToken)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestSetup_MissingAPIKey(t *testing.T) {
	app := newTestApp(t, nil)

	resp, body := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_secret":"s"}`, false)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "api_key", body["field"])
	assert.NotEmpty(t, body["message"])
}

func TestSetup_ActiveSessionNeedsUserID(t *testing.T) {
	app := newTestApp(t, nil)

	resp, _ := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"k","api_secret":"s"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"k","api_secret":"s"}`, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "user_id", body["field"])
}

func TestOAuthRoundTrip(t *testing.T) {
	app := newTestApp(t, nil)

	resp, setup := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"kite-key","api_secret":"kite-secret"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, setup["oauth_url"], "api_key=kite-key")
	state, _ := setup["state"].(string)
	require.NotEmpty(t, state)

	resp, body := do(t, app, http.MethodGet, "/api/v1/broker/oauth/callback?status=success&request_token=rt&state="+state, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])

	resp, body = do(t, app, http.MethodGet, "/api/v1/broker/session", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])
	session, ok := body["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "XY9876", session["userId"])
	assert.Equal(t, "valid", session["tokenStatus"])
	assert.NotContains(t, session, "accessToken")
	assert.NotContains(t, session, "csrfState")

	resp, body = do(t, app, http.MethodPost, "/api/v1/broker/session/check", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "valid", body["tokenStatus"])

	resp, _ = do(t, app, http.MethodDelete, "/api/v1/broker/session", "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = do(t, app, http.MethodGet, "/api/v1/broker/session", "", false)
	assert.Equal(t, false, body["connected"])
}

func TestCallback_StateMismatch(t *testing.T) {
	app := newTestApp(t, nil)

	resp, _ := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"k","api_secret":"s"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, app, http.MethodGet, "/api/v1/broker/oauth/callback?request_token=rt&state=forged", "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "csrf_mismatch", body["error"])

	_, body = do(t, app, http.MethodGet, "/api/v1/broker/session", "", false)
	assert.Equal(t, false, body["connected"])
	assert.NotContains(t, body, "session")
}

func TestTokenUpdate(t *testing.T) {
	app := newTestApp(t, nil)

	resp, body := do(t, app, http.MethodPost, "/api/v1/broker/token/update", `{"user_id":"AB1234"}`, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "access_token", body["field"])

	resp, body = do(t, app, http.MethodPost, "/api/v1/broker/token/update",
		`{"user_id":"AB1234","access_token":"tok","expires_in":null,"expires_at":null,"source":"automation"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["updated"])

	resp, body = do(t, app, http.MethodPost, "/api/v1/broker/token/update", `{"user_id":"ZZ0000","access_token":"tok"}`, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "user_mismatch", body["error"])
}

func TestCheckSession_NoSession(t *testing.T) {
	app := newTestApp(t, nil)

	resp, body := do(t, app, http.MethodPost, "/api/v1/broker/session/check", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_session", body["error"])
}

func TestSessionMutationsRequireOperatorToken(t *testing.T) {
	app := newTestApp(t, nil)

	resp, _ := do(t, app, http.MethodPost, "/api/v1/broker/token/update", `{"user_id":"AB1234","access_token":"tok"}`, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, app, http.MethodDelete, "/api/v1/broker/session", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/api/v1/broker/session/check", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body := do(t, app, http.MethodGet, "/api/v1/broker/session", "", false)
	assert.Equal(t, true, body["connected"])
}

func TestCallback_ReplayKeepsSession(t *testing.T) {
	app := newTestApp(t, nil)

	_, setup := do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"k","api_secret":"s"}`, false)
	state, _ := setup["state"].(string)
	require.NotEmpty(t, state)

	callback := "/api/v1/broker/oauth/callback?status=success&request_token=rt&state=" + state
	resp, _ := do(t, app, http.MethodGet, callback, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, app, http.MethodGet, callback, "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "csrf_mismatch", body["error"])

	_, body = do(t, app, http.MethodGet, "/api/v1/broker/session", "", false)
	assert.Equal(t, true, body["connected"])
}

func TestHealthAndReady(t *testing.T) {
	app := newTestApp(t, map[string]ReadinessCheck{
		"session_store": func(context.Context) error { return nil },
		"database":      func(context.Context) error { return errors.New("connection refused") },
	})

	resp, body := do(t, app, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, app, http.MethodGet, "/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]any{"session_store": "ok", "database": "connection refused"}, body["checks"])
}

func TestVerificationRequiresOperatorToken(t *testing.T) {
	app := newTestApp(t, nil)

	resp, _ := do(t, app, http.MethodPost, "/api/v1/verification/run", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verification/run", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	wrong, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
}

func TestVerificationRunAndReports(t *testing.T) {
	app := newTestApp(t, nil)

	resp, run := do(t, app, http.MethodPost, "/api/v1/verification/run", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pass", run["overallStatus"])
	id, _ := run["id"].(string)
	require.NotEmpty(t, id)

	resp, list := do(t, app, http.MethodGet, "/api/v1/verification/reports", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, list["count"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verification/reports/"+id+"?format=markdown", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	md, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, md.StatusCode)
	assert.Contains(t, md.Header.Get("Content-Type"), "text/markdown")

	resp, body := do(t, app, http.MethodGet, "/api/v1/verification/reports/"+id+"?format=xml", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "format", body["field"])

	resp, _ = do(t, app, http.MethodGet, "/api/v1/verification/reports/missing", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerificationIssues(t *testing.T) {
	app := newTestApp(t, nil)

	resp, body := do(t, app, http.MethodGet, "/api/v1/verification/issues?status=open", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	resp, body = do(t, app, http.MethodGet, "/api/v1/verification/issues?category=network", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "category", body["field"])

	resp, body = do(t, app, http.MethodPatch, "/api/v1/verification/issues/abc", `{"status":"closed"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "status", body["field"])

	resp, _ = do(t, app, http.MethodPatch, "/api/v1/verification/issues/abc", `{"status":"resolved"}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	do(t, app, http.MethodPost, "/api/v1/broker/oauth/setup", `{"api_key":"k","api_secret":"s"}`, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "broker_auth_session_operations_total")
}
