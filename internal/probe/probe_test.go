package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestHTTPProbe(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      domain.HealthStatus
		kind      domain.FailureKind
		transient bool
	}{
		{"healthy", http.StatusOK, `{"status":"ok"}`, domain.HealthStatusHealthy, "", false},
		{"indicator is case insensitive", http.StatusOK, `{"status":"READY"}`, domain.HealthStatusHealthy, "", false},
		{"bad indicator", http.StatusOK, `{"status":"starting"}`, domain.HealthStatusDegraded, domain.FailureValidationMismatch, false},
		{"server error", http.StatusServiceUnavailable, `{"status":"down"}`, domain.HealthStatusUnhealthy, domain.FailureServerError, true},
		{"client error", http.StatusNotFound, `{"error":"not_found"}`, domain.HealthStatusUnhealthy, domain.FailureUnexpectedStatus, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(jsonHandler(tt.status, tt.body))
			defer srv.Close()

			res := NewHTTPProbe("backend health", domain.ComponentBackend, srv.URL, srv.Client(), Options{}).Run(context.Background())

			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, domain.ComponentBackend, res.Component)
			assert.Equal(t, "backend health", res.Probe)
			if tt.kind == "" {
				assert.Nil(t, res.Failure)
				assert.Empty(t, res.Issues)
				assert.Equal(t, 1.0, res.Metrics.Availability)
				return
			}
			require.NotNil(t, res.Failure)
			assert.Equal(t, tt.kind, res.Failure.Kind)
			assert.Equal(t, tt.transient, res.Failure.Transient())
			require.Len(t, res.Issues, 1)
			assert.Equal(t, domain.CategoryBackend, res.Issues[0].Category)
		})
	}
}

func TestHTTPProbe_RequireStatus(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	defer srv.Close()

	p := NewHTTPProbe("backend health", domain.ComponentBackend, srv.URL, srv.Client(), Options{})
	assert.Equal(t, domain.HealthStatusHealthy, p.Run(context.Background()).Status)

	p.RequireStatus = true
	res := p.Run(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.SeverityMedium, res.Issues[0].Severity)
}

func TestHTTPProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := NewHTTPProbe("backend health", domain.ComponentBackend, srv.URL, srv.Client(), Options{Timeout: 50 * time.Millisecond}).Run(context.Background())

	assert.Equal(t, domain.HealthStatusUnhealthy, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureTimeout, res.Failure.Kind)
	assert.ErrorIs(t, res.Failure.Err, domain.ErrProbeTimeout)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.SeverityCritical, res.Issues[0].Severity)
	assert.Equal(t, "backend health timed out", res.Issues[0].Title)
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
	url := srv.URL
	srv.Close()

	res := NewHTTPProbe("backend health", domain.ComponentBackend, url, nil, Options{}).Run(context.Background())

	assert.Equal(t, domain.HealthStatusUnhealthy, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureConnectivity, res.Failure.Kind)
	assert.ErrorIs(t, res.Failure.Err, domain.ErrProbeConnectivity)
	assert.True(t, res.Failure.Transient())
	assert.Equal(t, 0.0, res.Metrics.Availability)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.SeverityCritical, res.Issues[0].Severity)
}

func TestHTTPProbe_DegradedLatency(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
	defer srv.Close()

	res := NewHTTPProbe("backend health", domain.ComponentBackend, srv.URL, srv.Client(), Options{DegradedLatency: time.Nanosecond}).Run(context.Background())

	assert.Equal(t, domain.HealthStatusDegraded, res.Status)
	require.NotNil(t, res.Failure)
	assert.False(t, res.Failure.Transient())
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.SeverityMedium, res.Issues[0].Severity)
	assert.False(t, res.Failed())
}

func TestFrontendProbe(t *testing.T) {
	page := `<!doctype html><html><head><title>Broker</title>
		<script type="module" src="/assets/index-3f2a.js"></script></head>
		<body><div id="root"></div></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	p := NewFrontendProbe("frontend entry", srv.URL, srv.Client(), Options{})
	p.RequiredIDs = []string{"root"}
	p.RequiredScripts = []string{"/assets/index"}

	res := p.Run(context.Background())
	assert.Equal(t, domain.HealthStatusHealthy, res.Status)
	assert.Equal(t, domain.ComponentFrontend, res.Component)

	p.RequiredIDs = []string{"root", "broker-login"}
	res = p.Run(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, domain.CategoryFrontend, res.Issues[0].Category)
	assert.Equal(t, domain.SeverityLow, res.Issues[0].Severity)
	assert.Contains(t, res.Issues[0].Description, "#broker-login")
}

func TestFrontendProbe_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res := NewFrontendProbe("frontend entry", srv.URL, srv.Client(), Options{}).Run(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Description, "page content")
}

type fakePinger struct {
	reply string
	err   error
	block bool
}

func (f fakePinger) Ping(ctx context.Context) *redis.StatusCmd {
	if f.block {
		<-ctx.Done()
		return redis.NewStatusResult("", ctx.Err())
	}
	return redis.NewStatusResult(f.reply, f.err)
}

func TestRedisProbe(t *testing.T) {
	res := NewRedisProbe("redis", fakePinger{reply: "PONG"}, Options{}).Run(context.Background())
	assert.Equal(t, domain.HealthStatusHealthy, res.Status)
	assert.Equal(t, domain.ComponentDatabase, res.Component)

	res = NewRedisProbe("redis", fakePinger{err: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")}, Options{}).Run(context.Background())
	assert.Equal(t, domain.HealthStatusUnhealthy, res.Status)
	assert.Equal(t, domain.FailureConnectivity, res.Failure.Kind)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "redis unreachable", res.Issues[0].Title)

	res = NewRedisProbe("redis", fakePinger{block: true}, Options{Timeout: 20 * time.Millisecond}).Run(context.Background())
	assert.Equal(t, domain.HealthStatusUnhealthy, res.Status)
	assert.Equal(t, domain.FailureTimeout, res.Failure.Kind)
}

func TestSQLProbe(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)

	p := NewSQLProbe("sqlite", db, Options{})
	assert.Equal(t, domain.HealthStatusHealthy, p.Run(context.Background()).Status)

	require.NoError(t, db.Close())
	res := p.Run(context.Background())
	assert.Equal(t, domain.HealthStatusUnhealthy, res.Status)
	assert.Equal(t, domain.FailureConnectivity, res.Failure.Kind)
	assert.Equal(t, domain.CategoryDatabase, res.Issues[0].Category)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.FailureKind(""), Classify(nil))
	assert.Equal(t, domain.FailureTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, domain.FailureServerError, Classify(&StatusError{Code: 502}))
	assert.Equal(t, domain.FailureUnexpectedStatus, Classify(&StatusError{Code: 401}))
	assert.Equal(t, domain.FailureValidationMismatch, Classify(&domain.ValidationError{Field: "state"}))
	assert.Equal(t, domain.FailureConnectivity, Classify(errors.New("boom")))
}
