// Package schema is the only place where session field names are mapped between
// the storage convention (broker API, snake_case) and the consumption convention
// (application, camelCase). The two conventions are separate Go types, so a value's
// convention is always known from its type.
package schema

import (
	"encoding/json"
	"time"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// ToConsumption converts a stored record into the consumption view. nil maps to nil.
func ToConsumption(s *domain.StoredSession) *domain.BrokerSession {
	if s == nil {
		return nil
	}
	return &domain.BrokerSession{
		ConfigID:         s.ConfigID,
		UserID:           s.UserID,
		BrokerName:       s.BrokerName,
		SessionStatus:    domain.SessionStatus(s.SessionStatus),
		TokenStatus:      domain.TokenStatus(s.TokenStatus),
		CsrfState:        s.CsrfState,
		APIKey:           s.APIKey,
		APISecret:        s.APISecret,
		AccessToken:      s.AccessToken,
		TokenExpiresAt:   copyTime(s.TokenExpiresAt),
		LastTokenRefresh: copyTime(s.LastTokenRefresh),
		LastStatusCheck:  copyTime(s.LastStatusCheck),
		UpdatedAt:        s.UpdatedAt,
		UserData:         copyRaw(s.UserData),
	}
}

// ToStorage converts the consumption view into the record that gets persisted. nil maps to nil.
func ToStorage(b *domain.BrokerSession) *domain.StoredSession {
	if b == nil {
		return nil
	}
	return &domain.StoredSession{
		ConfigID:         b.ConfigID,
		UserID:           b.UserID,
		BrokerName:       b.BrokerName,
		SessionStatus:    string(b.SessionStatus),
		TokenStatus:      string(b.TokenStatus),
		CsrfState:        b.CsrfState,
		APIKey:           b.APIKey,
		APISecret:        b.APISecret,
		AccessToken:      b.AccessToken,
		TokenExpiresAt:   copyTime(b.TokenExpiresAt),
		LastTokenRefresh: copyTime(b.LastTokenRefresh),
		LastStatusCheck:  copyTime(b.LastStatusCheck),
		UpdatedAt:        b.UpdatedAt,
		UserData:         copyRaw(b.UserData),
	}
}

// DecodeStored parses persisted JSON. Keys outside the schema are dropped.
func DecodeStored(raw string) (*domain.StoredSession, error) {
	var s domain.StoredSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeStored serializes a stored record for the persistence surface
func EncodeStored(s *domain.StoredSession) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
