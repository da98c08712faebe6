package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/pkg/jwt"
	"github.com/andressep95/broker-auth-service/pkg/kvstore"
)

var fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SessionStore, *kvstore.MemoryStore) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	signer, err := jwt.NewStateSigner([]byte("test-state-secret-0123456789"), time.Hour, "broker-auth-test")
	require.NoError(t, err)
	store := NewSessionStore(kv, signer, NewKeyedMutex(), zap.NewNop(), SessionStoreOptions{
		Now: func() time.Time { return fixedNow },
	})
	return store, kv
}

func TestPersist_SetupWithoutUserIDGeneratesOne(t *testing.T) {
	store, _ := newTestStore(t)

	session, err := store.Persist(context.Background(), map[string]any{"api_key": "k", "api_secret": "s"})
	require.NoError(t, err)

	assert.NotEmpty(t, session.UserID)
	assert.NotEmpty(t, session.ConfigID)
	assert.Equal(t, domain.SessionStatusConnected, session.SessionStatus)
	assert.Equal(t, domain.TokenStatusUnknown, session.TokenStatus)
	assert.Equal(t, "zerodha", session.BrokerName)
	assert.Equal(t, "k", session.APIKey)
}

func TestPersist_MissingAPIKeyAndUserID(t *testing.T) {
	store, _ := newTestStore(t)

	session, err := store.Persist(context.Background(), map[string]any{"api_secret": "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingIdentifier)
	assert.Nil(t, session)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPersist_FailedPersistKeepsExistingSession(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)

	first, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "access_token": "t1"})
	require.NoError(t, err)
	before, _, _ := kv.Get(ctx, store.Key())

	for _, payload := range []map[string]any{
		{"access_token": "t2"},
		{"api_key": "other-key", "api_secret": "s"},
		{"data": map[string]any{"user_name": "no id"}},
	} {
		_, err := store.Persist(ctx, payload)
		assert.ErrorIs(t, err, domain.ErrMissingIdentifier)
	}

	after, _, _ := kv.Get(ctx, store.Key())
	assert.Equal(t, before, after)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, loaded)
}

func TestPersist_NestedIdentifierAndMerge(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	first, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "api_key": "k", "api_secret": "s"})
	require.NoError(t, err)

	second, err := store.Persist(ctx, map[string]any{
		"status": "success",
		"data": map[string]any{
			"user_id":      "AB1234",
			"access_token": "fresh",
			"user_name":    "Trader",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ConfigID, second.ConfigID, "same user keeps its config")
	assert.Equal(t, "k", second.APIKey)
	assert.Equal(t, "s", second.APISecret)
	assert.Equal(t, "fresh", second.AccessToken)
	assert.Equal(t, domain.TokenStatusValid, second.TokenStatus)
	assert.JSONEq(t, `{"user_id":"AB1234","user_name":"Trader"}`, string(second.UserData))

	third, err := store.Persist(ctx, map[string]any{"user_id": "ZZ0001"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ConfigID, third.ConfigID, "different user starts a new session")
	assert.Empty(t, third.APIKey)
}

func TestPersist_ExpiredTokenNeedsReauth(t *testing.T) {
	store, _ := newTestStore(t)

	session, err := store.Persist(context.Background(), map[string]any{
		"user_id":      "AB1234",
		"access_token": "old",
		"expires_at":   fixedNow.Add(-time.Minute).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStatusExpired, session.TokenStatus)
	assert.Equal(t, domain.SessionStatusNeedsReauth, session.SessionStatus)
}

func TestPersist_WritesStorageConvention(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)

	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "api_key": "k"})
	require.NoError(t, err)

	raw, ok, err := kv.Get(ctx, DefaultSessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"user_id":"AB1234"`)
	assert.Contains(t, raw, `"session_status":"connected"`)
	assert.NotContains(t, raw, `"userId"`)
}

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "access_token": "t"})
	require.NoError(t, err)

	a, err := store.Load(ctx)
	require.NoError(t, err)
	b, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoad_MalformedIsAbsent(t *testing.T) {
	ctx := context.Background()

	for name, raw := range map[string]string{
		"broken json":    `{"config_id": "c", `,
		"wrong type":     `["not", "an", "object"]`,
		"missing fields": `{"broker_name":"zerodha"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store, kv := newTestStore(t)
			require.NoError(t, kv.Set(ctx, store.Key(), raw))

			session, err := store.Load(ctx)
			assert.NoError(t, err)
			assert.Nil(t, session)
		})
	}
}

func TestLoad_ReturnsConsumptionView(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.Key(),
		`{"config_id":"c1","user_id":"u1","broker_name":"zerodha","session_status":"connected","token_status":"valid","unexpected":"x"}`))

	session, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, domain.SessionStatusConnected, session.SessionStatus)
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234"})
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	session, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestCsrfState_SingleUse(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"api_key": "k", "api_secret": "s"})
	require.NoError(t, err)

	state, err := store.IssueCsrfState(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	ok, err := store.ValidateCsrfState(ctx, state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ValidateCsrfState(ctx, state)
	assert.ErrorIs(t, err, domain.ErrNoPendingState, "replayed state must be rejected")
	assert.False(t, ok)
}

func TestCsrfState_MismatchStillInvalidates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234"})
	require.NoError(t, err)

	state, err := store.IssueCsrfState(ctx)
	require.NoError(t, err)

	ok, err := store.ValidateCsrfState(ctx, "forged")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ValidateCsrfState(ctx, state)
	assert.ErrorIs(t, err, domain.ErrNoPendingState)
	assert.False(t, ok)

	session, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, session.CsrfState)
}

func TestCsrfState_ConcurrentReplays(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234"})
	require.NoError(t, err)
	state, err := store.IssueCsrfState(ctx)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ValidateCsrfState(ctx, state)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCsrfState_NoSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.IssueCsrfState(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSession)

	ok, err := store.ValidateCsrfState(ctx, "anything")
	assert.ErrorIs(t, err, domain.ErrNoPendingState)
	assert.False(t, ok)
}

func TestCsrfState_NoPendingStateLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "access_token": "t1"})
	require.NoError(t, err)
	before, found, err := kv.Get(ctx, store.Key())
	require.NoError(t, err)
	require.True(t, found)

	ok, err := store.ValidateCsrfState(ctx, "stray")
	assert.ErrorIs(t, err, domain.ErrNoPendingState)
	assert.False(t, ok)

	after, found, err := kv.Get(ctx, store.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before, after)
}

func TestCompleteLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("merges into the session that started the login", func(t *testing.T) {
		store, _ := newTestStore(t)
		started, err := store.Persist(ctx, map[string]any{"api_key": "k", "api_secret": "s"})
		require.NoError(t, err)

		session, err := store.CompleteLogin(ctx, started.ConfigID, map[string]any{
			"data": map[string]any{"user_id": "XY9876", "access_token": "fresh"},
		})
		require.NoError(t, err)
		assert.Equal(t, started.ConfigID, session.ConfigID)
		assert.Equal(t, "XY9876", session.UserID)
		assert.Equal(t, "k", session.APIKey)
		assert.Equal(t, "s", session.APISecret)
		assert.Equal(t, "fresh", session.AccessToken)
	})

	t.Run("session cleared meanwhile", func(t *testing.T) {
		store, _ := newTestStore(t)
		started, err := store.Persist(ctx, map[string]any{"api_key": "k", "api_secret": "s"})
		require.NoError(t, err)
		require.NoError(t, store.Disconnect(ctx))

		_, err = store.CompleteLogin(ctx, started.ConfigID, map[string]any{"user_id": "XY9876", "access_token": "fresh"})
		assert.ErrorIs(t, err, domain.ErrNoSession)

		session, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("session replaced meanwhile", func(t *testing.T) {
		store, _ := newTestStore(t)
		started, err := store.Persist(ctx, map[string]any{"api_key": "k", "api_secret": "s"})
		require.NoError(t, err)
		require.NoError(t, store.Clear(ctx))
		replaced, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "access_token": "other"})
		require.NoError(t, err)

		_, err = store.CompleteLogin(ctx, started.ConfigID, map[string]any{"user_id": "XY9876", "access_token": "fresh"})
		assert.ErrorIs(t, err, domain.ErrNoSession)

		session, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, replaced.ConfigID, session.ConfigID)
		assert.Equal(t, "other", session.AccessToken)
	})
}

func TestLifecycle_StatusCheckAndRefresh(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Persist(ctx, map[string]any{"user_id": "AB1234", "access_token": "t1"})
	require.NoError(t, err)

	session, err := store.RecordStatusCheck(ctx, domain.TokenStatusExpired)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusNeedsReauth, session.SessionStatus)
	require.NotNil(t, session.LastStatusCheck)
	assert.Equal(t, fixedNow, *session.LastStatusCheck)

	_, err = store.Refresh(ctx, "SOMEONE", "t2", nil)
	assert.ErrorIs(t, err, domain.ErrUserMismatch)

	var verr *domain.ValidationError
	_, err = store.Refresh(ctx, "AB1234", "", nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "access_token", verr.Field)

	expires := fixedNow.Add(8 * time.Hour)
	session, err = store.Refresh(ctx, "AB1234", "t2", &expires)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusConnected, session.SessionStatus)
	assert.Equal(t, domain.TokenStatusValid, session.TokenStatus)
	assert.Equal(t, "t2", session.AccessToken)

	require.NoError(t, store.Disconnect(ctx))
	_, err = store.RecordStatusCheck(ctx, domain.TokenStatusValid)
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

type brokenKV struct{ kvstore.MemoryStore }

func (b *brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestLoad_BackendFailureIsReturned(t *testing.T) {
	store := NewSessionStore(&brokenKV{}, nil, nil, zap.NewNop(), SessionStoreOptions{})
	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	locks := NewKeyedMutex()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("cfg")
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, locks.locks)
}
