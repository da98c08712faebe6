package domain

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusNeedsReauth  SessionStatus = "needs_reauth"
	SessionStatusError        SessionStatus = "error"
)

type TokenStatus string

const (
	TokenStatusValid   TokenStatus = "valid"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
	TokenStatusUnknown TokenStatus = "unknown"
)

// IsUsable reports whether the token can still be sent to the broker
func (t TokenStatus) IsUsable() bool {
	return t == TokenStatusValid
}

// BrokerSession is the consumption view of the active broker session.
// Application code and API responses only ever see this shape.
type BrokerSession struct {
	ConfigID         string          `json:"configId"`
	UserID           string          `json:"userId"`
	BrokerName       string          `json:"brokerName"`
	SessionStatus    SessionStatus   `json:"sessionStatus"`
	TokenStatus      TokenStatus     `json:"tokenStatus"`
	CsrfState        string          `json:"csrfState,omitempty"`
	APIKey           string          `json:"apiKey,omitempty"`
	APISecret        string          `json:"-"`
	AccessToken      string          `json:"accessToken,omitempty"`
	TokenExpiresAt   *time.Time      `json:"tokenExpiresAt,omitempty"`
	LastTokenRefresh *time.Time      `json:"lastTokenRefresh,omitempty"`
	LastStatusCheck  *time.Time      `json:"lastStatusCheck,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	UserData         json.RawMessage `json:"userData,omitempty"`
}

// IsTokenExpired checks the known expiry against now
func (s *BrokerSession) IsTokenExpired(now time.Time) bool {
	return s.TokenExpiresAt != nil && !now.Before(*s.TokenExpiresAt)
}

// StoredSession is the persisted record. Its field names follow the broker API
// and are the authoritative on-disk format.
type StoredSession struct {
	ConfigID         string          `json:"config_id"`
	UserID           string          `json:"user_id"`
	BrokerName       string          `json:"broker_name"`
	SessionStatus    string          `json:"session_status"`
	TokenStatus      string          `json:"token_status"`
	CsrfState        string          `json:"csrf_state,omitempty"`
	APIKey           string          `json:"api_key,omitempty"`
	APISecret        string          `json:"api_secret,omitempty"`
	AccessToken      string          `json:"access_token,omitempty"`
	TokenExpiresAt   *time.Time      `json:"token_expires_at,omitempty"`
	LastTokenRefresh *time.Time      `json:"last_token_refresh,omitempty"`
	LastStatusCheck  *time.Time      `json:"last_status_check,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
	UserData         json.RawMessage `json:"user_data,omitempty"`
}
