package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/schema"
	"github.com/andressep95/broker-auth-service/pkg/jwt"
	"github.com/andressep95/broker-auth-service/pkg/kvstore"
)

const DefaultSessionKey = "active-broker-session"

// StateSigner issues and verifies OAuth state tokens
type StateSigner interface {
	Issue(configID string) (string, error)
	Verify(token string) (*jwt.StateClaims, error)
}

// KeyedMutex serializes work per key. Entries are dropped once nobody holds them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is free and returns the unlock func
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

type SessionStoreOptions struct {
	// Key is the persistence key. One key holds exactly one session (one configId).
	Key        string
	BrokerName string
	Now        func() time.Time
}

// SessionStore owns the persisted broker session. Every read and write crosses
// the schema boundary, and every operation holds the per-key lock.
type SessionStore struct {
	kv         kvstore.Store
	signer     StateSigner
	locks      *KeyedMutex
	key        string
	brokerName string
	now        func() time.Time
	logger     *zap.Logger
}

func NewSessionStore(kv kvstore.Store, signer StateSigner, locks *KeyedMutex, logger *zap.Logger, opts SessionStoreOptions) *SessionStore {
	if opts.Key == "" {
		opts.Key = DefaultSessionKey
	}
	if opts.BrokerName == "" {
		opts.BrokerName = "zerodha"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &SessionStore{
		kv:         kv,
		signer:     signer,
		locks:      locks,
		key:        opts.Key,
		brokerName: opts.BrokerName,
		now:        opts.Now,
		logger:     logger.Named("session_store"),
	}
}

func (s *SessionStore) Key() string {
	return s.key
}

// Persist stores the session described by an OAuth payload and returns the
// consumption view. A payload without a resolvable identifier never touches the
// existing session.
func (s *SessionStore) Persist(ctx context.Context, payload map[string]any) (*domain.BrokerSession, error) {
	p := schema.ParsePayload(payload)

	unlock := s.locks.Lock(s.key)
	defer unlock()

	existing, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return s.persistLocked(ctx, p, existing)
}

// CompleteLogin merges a token exchange response into the session that started
// the login. If that session was cleared or replaced meanwhile, nothing is
// written and ErrNoSession is returned.
func (s *SessionStore) CompleteLogin(ctx context.Context, configID string, payload map[string]any) (*domain.BrokerSession, error) {
	p := schema.ParsePayload(payload)

	unlock := s.locks.Lock(s.key)
	defer unlock()

	existing, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.ConfigID != configID {
		s.logger.Warn("login completed for a session that is gone",
			zap.String("config_id", configID),
			zap.Bool("has_session", existing != nil))
		return nil, fmt.Errorf("%w: login for config %s no longer active", domain.ErrNoSession, configID)
	}

	// The exchange response names the broker user, not the app credentials
	p.ConfigID = existing.ConfigID
	if p.APIKey == "" {
		p.APIKey = existing.APIKey
	}
	if p.APISecret == "" {
		p.APISecret = existing.APISecret
	}
	if p.BrokerName == "" {
		p.BrokerName = existing.BrokerName
	}
	return s.persistLocked(ctx, p, existing)
}

func (s *SessionStore) persistLocked(ctx context.Context, p schema.Payload, existing *domain.StoredSession) (*domain.BrokerSession, error) {
	userID := p.UserID
	if userID == "" {
		// Only a first-time setup carrying app credentials gets a generated id
		if p.APIKey == "" || existing != nil {
			s.logger.Warn("persist rejected, no user identifier",
				zap.Strings("aliases", schema.UserIDAliases()),
				zap.Bool("has_api_key", p.APIKey != ""),
				zap.Bool("has_session", existing != nil))
			return nil, fmt.Errorf("%w: none of %s present", domain.ErrMissingIdentifier, strings.Join(schema.UserIDAliases(), ", "))
		}
		userID = uuid.NewString()
		s.logger.Info("generated user id for setup", zap.String("user_id", userID))
	}

	now := s.now().UTC()

	var session *domain.BrokerSession
	if existing != nil && existing.UserID == userID && (p.ConfigID == "" || p.ConfigID == existing.ConfigID) {
		session = schema.ToConsumption(existing)
	} else {
		configID := p.ConfigID
		if configID == "" {
			configID = uuid.NewString()
		}
		brokerName := p.BrokerName
		if brokerName == "" {
			brokerName = s.brokerName
		}
		session = &domain.BrokerSession{
			ConfigID:   configID,
			UserID:     userID,
			BrokerName: brokerName,
		}
	}

	if p.APIKey != "" {
		session.APIKey = p.APIKey
	}
	if p.APISecret != "" {
		session.APISecret = p.APISecret
	}
	if p.AccessToken != "" {
		session.AccessToken = p.AccessToken
		session.LastTokenRefresh = &now
		session.TokenExpiresAt = nil
	}
	if p.TokenExpiresAt != nil {
		session.TokenExpiresAt = p.TokenExpiresAt
	} else if p.ExpiresIn > 0 {
		expires := now.Add(p.ExpiresIn)
		session.TokenExpiresAt = &expires
	}
	if p.UserData != nil {
		session.UserData = p.UserData
	}

	session.SessionStatus = domain.SessionStatusConnected
	switch {
	case session.AccessToken == "":
		session.TokenStatus = domain.TokenStatusUnknown
	case session.IsTokenExpired(now):
		session.TokenStatus = domain.TokenStatusExpired
		session.SessionStatus = domain.SessionStatusNeedsReauth
	default:
		session.TokenStatus = domain.TokenStatusValid
	}
	session.UpdatedAt = now

	if err := s.writeLocked(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("session persisted",
		zap.String("config_id", session.ConfigID),
		zap.String("user_id", session.UserID),
		zap.String("token_status", string(session.TokenStatus)))

	return session, nil
}

// Load returns the current session, or nil when nothing usable is stored.
// Malformed records are logged and treated as absent.
func (s *SessionStore) Load(ctx context.Context) (*domain.BrokerSession, error) {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	stored, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return schema.ToConsumption(stored), nil
}

// Clear removes the persisted session. Clearing an absent session is a no-op.
func (s *SessionStore) Clear(ctx context.Context) error {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("session cleared")
	return nil
}

// IssueCsrfState creates the single-use state for a new OAuth round trip
func (s *SessionStore) IssueCsrfState(ctx context.Context) (string, error) {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	stored, err := s.loadLocked(ctx)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", domain.ErrNoSession
	}

	state, err := s.signer.Issue(stored.ConfigID)
	if err != nil {
		return "", fmt.Errorf("failed to sign csrf state: %w", err)
	}

	session := schema.ToConsumption(stored)
	session.CsrfState = state
	session.UpdatedAt = s.now().UTC()
	if err := s.writeLocked(ctx, session); err != nil {
		return "", err
	}
	return state, nil
}

// ValidateCsrfState compares the callback state against the stored one. The
// stored state is invalidated whatever the outcome, so a replay always fails.
// ErrNoPendingState means no login was in progress and nothing was written.
func (s *SessionStore) ValidateCsrfState(ctx context.Context, received string) (bool, error) {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	stored, err := s.loadLocked(ctx)
	if err != nil {
		return false, err
	}
	if stored == nil || stored.CsrfState == "" {
		return false, domain.ErrNoPendingState
	}

	expected := stored.CsrfState
	matched := received != "" &&
		subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1

	if matched && s.signer != nil {
		claims, err := s.signer.Verify(received)
		if err != nil || claims.ConfigID != stored.ConfigID {
			s.logger.Warn("csrf state failed verification", zap.Error(err))
			matched = false
		}
	}

	session := schema.ToConsumption(stored)
	session.CsrfState = ""
	session.UpdatedAt = s.now().UTC()
	if err := s.writeLocked(ctx, session); err != nil {
		return false, err
	}

	if !matched {
		s.logger.Warn("csrf state mismatch", zap.String("config_id", stored.ConfigID))
	}
	return matched, nil
}

// RecordStatusCheck stores the outcome of a token status check. An expired or
// revoked token moves a connected session to needs_reauth.
func (s *SessionStore) RecordStatusCheck(ctx context.Context, status domain.TokenStatus) (*domain.BrokerSession, error) {
	return s.mutate(ctx, func(session *domain.BrokerSession, now time.Time) error {
		session.LastStatusCheck = &now
		session.TokenStatus = status
		if (status == domain.TokenStatusExpired || status == domain.TokenStatusRevoked) &&
			session.SessionStatus == domain.SessionStatusConnected {
			session.SessionStatus = domain.SessionStatusNeedsReauth
		}
		return nil
	})
}

// Refresh installs a new access token and reconnects the session
func (s *SessionStore) Refresh(ctx context.Context, userID, accessToken string, expiresAt *time.Time) (*domain.BrokerSession, error) {
	if accessToken == "" {
		return nil, &domain.ValidationError{Field: "access_token", Message: "access_token is required"}
	}
	return s.mutate(ctx, func(session *domain.BrokerSession, now time.Time) error {
		if userID != "" && userID != session.UserID {
			return fmt.Errorf("%w: %s", domain.ErrUserMismatch, userID)
		}
		session.AccessToken = accessToken
		session.TokenExpiresAt = expiresAt
		session.LastTokenRefresh = &now
		session.TokenStatus = domain.TokenStatusValid
		session.SessionStatus = domain.SessionStatusConnected
		return nil
	})
}

// Disconnect ends the session
func (s *SessionStore) Disconnect(ctx context.Context) error {
	return s.Clear(ctx)
}

func (s *SessionStore) mutate(ctx context.Context, fn func(*domain.BrokerSession, time.Time) error) (*domain.BrokerSession, error) {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	stored, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrNoSession
	}

	now := s.now().UTC()
	session := schema.ToConsumption(stored)
	if err := fn(session, now); err != nil {
		return nil, err
	}
	session.UpdatedAt = now

	if err := s.writeLocked(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionStore) loadLocked(ctx context.Context) (*domain.StoredSession, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	stored, err := schema.DecodeStored(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable session",
			zap.Error(fmt.Errorf("%w: %v", domain.ErrMalformedStorage, err)))
		return nil, nil
	}
	if stored.UserID == "" || stored.ConfigID == "" {
		s.logger.Warn("discarding incomplete session",
			zap.Error(fmt.Errorf("%w: missing user_id or config_id", domain.ErrMalformedStorage)))
		return nil, nil
	}
	return stored, nil
}

func (s *SessionStore) writeLocked(ctx context.Context, session *domain.BrokerSession) error {
	raw, err := schema.EncodeStored(schema.ToStorage(session))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}
