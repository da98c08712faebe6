package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/pkg/broker"
	"github.com/andressep95/broker-auth-service/pkg/metrics"
)

// BrokerClient is the part of the Kite API the OAuth flow needs
type BrokerClient interface {
	LoginURL(apiKey, state string) string
	ExchangeToken(ctx context.Context, apiKey, apiSecret, requestToken string) (map[string]any, error)
	Profile(ctx context.Context, apiKey, accessToken string) (map[string]any, error)
}

type SetupRequest struct {
	APIKey     string `json:"api_key" validate:"required"`
	APISecret  string `json:"api_secret" validate:"required"`
	UserID     string `json:"user_id,omitempty"`
	BrokerName string `json:"broker_name,omitempty"`
}

type SetupResponse struct {
	OAuthURL string `json:"oauth_url"`
	UserID   string `json:"user_id"`
	State    string `json:"state"`
}

type CallbackRequest struct {
	RequestToken string
	State        string
	Status       string
}

// TokenUpdateRequest is posted by the login automation after it obtains a fresh token
type TokenUpdateRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
	ExpiresIn   *int64 `json:"expires_in,omitempty" validate:"omitempty,gte=0"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Source      string `json:"source,omitempty"`
}

// OAuthService drives the broker login round trip on top of the session store
type OAuthService struct {
	sessions *SessionStore
	broker   BrokerClient
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewOAuthService(sessions *SessionStore, client BrokerClient, m *metrics.Metrics, logger *zap.Logger) *OAuthService {
	return &OAuthService{
		sessions: sessions,
		broker:   client,
		metrics:  m,
		logger:   logger.Named("oauth"),
		now:      time.Now,
	}
}

// Setup stores the app credentials and returns the login URL carrying a fresh state
func (s *OAuthService) Setup(ctx context.Context, req SetupRequest) (resp *SetupResponse, err error) {
	defer func() { s.observe("setup", err) }()

	payload := map[string]any{
		"api_key":    req.APIKey,
		"api_secret": req.APISecret,
	}
	if req.UserID != "" {
		payload["user_id"] = req.UserID
	}
	if req.BrokerName != "" {
		payload["broker_name"] = req.BrokerName
	}

	session, err := s.sessions.Persist(ctx, payload)
	if err != nil {
		return nil, err
	}

	state, err := s.sessions.IssueCsrfState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to issue oauth state: %w", err)
	}

	return &SetupResponse{
		OAuthURL: s.broker.LoginURL(session.APIKey, state),
		UserID:   session.UserID,
		State:    state,
	}, nil
}

// Callback finishes the login. A state mismatch on a pending login clears the
// session so the operator has to start over from setup. A callback with no
// login pending is rejected without touching the session.
func (s *OAuthService) Callback(ctx context.Context, req CallbackRequest) (session *domain.BrokerSession, err error) {
	defer func() { s.observe("callback", err) }()

	ok, err := s.sessions.ValidateCsrfState(ctx, req.State)
	if errors.Is(err, domain.ErrNoPendingState) {
		s.logger.Warn("callback without a pending login")
		return nil, fmt.Errorf("%w: %w", domain.ErrCSRFMismatch, err)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.sessions.Clear(ctx); err != nil {
			s.logger.Error("failed to clear session after csrf mismatch", zap.Error(err))
		}
		return nil, domain.ErrCSRFMismatch
	}

	if req.Status != "" && req.Status != "success" {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("broker reported login status %q", req.Status)}
	}
	if strings.TrimSpace(req.RequestToken) == "" {
		return nil, &domain.ValidationError{Field: "request_token", Message: "request_token is required"}
	}

	current, err := s.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNoSession
	}
	if current.APIKey == "" || current.APISecret == "" {
		return nil, &domain.ValidationError{Field: "api_key", Message: "session has no app credentials, run setup again"}
	}

	resp, err := s.broker.ExchangeToken(ctx, current.APIKey, current.APISecret, req.RequestToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange request token: %w", err)
	}

	// Kite does not report an expiry
	if _, ok := resp["expires_at"]; !ok {
		resp["expires_at"] = NextTokenExpiry(s.now()).Format(time.RFC3339)
	}

	// The session may have been disconnected or replaced during the exchange
	return s.sessions.CompleteLogin(ctx, current.ConfigID, resp)
}

// Session returns the active session, or nil when none is persisted
func (s *OAuthService) Session(ctx context.Context) (*domain.BrokerSession, error) {
	return s.sessions.Load(ctx)
}

// CheckStatus asks the broker whether the stored token still works and records the answer
func (s *OAuthService) CheckStatus(ctx context.Context) (session *domain.BrokerSession, err error) {
	defer func() { s.observe("status_check", err) }()

	current, err := s.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNoSession
	}

	status := domain.TokenStatusUnknown
	switch {
	case current.AccessToken == "":
	case current.IsTokenExpired(s.now()):
		status = domain.TokenStatusExpired
	default:
		_, perr := s.broker.Profile(ctx, current.APIKey, current.AccessToken)
		switch {
		case perr == nil:
			status = domain.TokenStatusValid
		case broker.IsTokenError(perr):
			status = domain.TokenStatusExpired
		default:
			s.logger.Warn("token status check inconclusive", zap.Error(perr))
		}
	}

	return s.sessions.RecordStatusCheck(ctx, status)
}

// UpdateToken installs a token obtained outside the callback. Without a
// session the update is persisted as a fresh one.
func (s *OAuthService) UpdateToken(ctx context.Context, req TokenUpdateRequest) (session *domain.BrokerSession, err error) {
	defer func() { s.observe("token_update", err) }()

	now := s.now()
	expiresAt := NextTokenExpiry(now)
	switch {
	case req.ExpiresAt != "":
		parsed, perr := parseExpiry(req.ExpiresAt)
		if perr != nil {
			return nil, &domain.ValidationError{Field: "expires_at", Message: "expires_at must be RFC3339 or YYYY-MM-DD HH:MM:SS"}
		}
		expiresAt = parsed
	case req.ExpiresIn != nil && *req.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(*req.ExpiresIn) * time.Second).UTC()
	}

	session, err = s.sessions.Refresh(ctx, req.UserID, req.AccessToken, &expiresAt)
	if errors.Is(err, domain.ErrNoSession) {
		session, err = s.sessions.Persist(ctx, map[string]any{
			"user_id":      req.UserID,
			"access_token": req.AccessToken,
			"expires_at":   expiresAt.Format(time.RFC3339),
		})
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("access token updated",
		zap.String("user_id", session.UserID),
		zap.String("source", req.Source),
		zap.Time("expires_at", expiresAt))
	return session, nil
}

// Disconnect removes the session
func (s *OAuthService) Disconnect(ctx context.Context) (err error) {
	defer func() { s.observe("disconnect", err) }()
	return s.sessions.Disconnect(ctx)
}

func (s *OAuthService) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.SessionOperation(operation, outcome)
}

var ist = time.FixedZone("IST", 5*60*60+30*60)

// NextTokenExpiry is the next 06:00 IST after now, when Kite invalidates every session
func NextTokenExpiry(now time.Time) time.Time {
	local := now.In(ist)
	expiry := time.Date(local.Year(), local.Month(), local.Day(), 6, 0, 0, 0, ist)
	if !expiry.After(local) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry.UTC()
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, ist)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
