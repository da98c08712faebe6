package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "verify.db"), zap.NewNop(), OpenOptions{Attempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore(openTestDB(t))

	_, ok, err := kv.Get(ctx, "active-broker-session")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "active-broker-session", `{"user_id":"AB1234"}`))
	require.NoError(t, kv.Set(ctx, "active-broker-session", `{"user_id":"XY9876"}`))

	value, ok, err := kv.Get(ctx, "active-broker-session")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"user_id":"XY9876"}`, value)

	require.NoError(t, kv.Remove(ctx, "active-broker-session"))
	require.NoError(t, kv.Remove(ctx, "active-broker-session"))
	_, ok, err = kv.Get(ctx, "active-broker-session")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, kv.Ping(ctx))
}

func TestIssueRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewIssueRepository(openTestDB(t))

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	dbIssue := domain.NewIssue(domain.CategoryDatabase, domain.SeverityCritical, "Database unreachable", "dial tcp: refused", at)
	feIssue := domain.NewIssue(domain.CategoryFrontend, domain.SeverityLow, "Missing title", "no <title>", at.Add(time.Minute))

	require.NoError(t, repo.Save(ctx, &dbIssue))
	require.NoError(t, repo.Save(ctx, &feIssue))

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	resolved := at.Add(time.Hour)
	dbIssue.Status = domain.IssueStatusResolved
	dbIssue.ResolvedAt = &resolved
	dbIssue.Occurrences = 3
	require.NoError(t, repo.Save(ctx, &dbIssue))

	got, err := repo.Get(ctx, dbIssue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusResolved, got.Status)
	assert.Equal(t, 3, got.Occurrences)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolved.Equal(*got.ResolvedAt))
	assert.True(t, at.Equal(got.FirstDetectedAt))

	open, err := repo.List(ctx, repository.IssueFilter{Statuses: []domain.IssueStatus{domain.IssueStatusOpen}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, feIssue.ID, open[0].ID)

	all, err := repo.List(ctx, repository.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, feIssue.ID, all[0].ID)

	byCategory, err := repo.List(ctx, repository.IssueFilter{Category: domain.CategoryDatabase})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	require.NoError(t, repo.AppendObservation(ctx, domain.IssueObservation{IssueID: dbIssue.ID, RunID: "run-1", Severity: domain.SeverityCritical, Description: "first", ObservedAt: at}))
	require.NoError(t, repo.AppendObservation(ctx, domain.IssueObservation{IssueID: dbIssue.ID, RunID: "run-2", Severity: domain.SeverityCritical, Description: "second", ObservedAt: at.Add(time.Minute)}))

	history, err := repo.Observations(ctx, dbIssue.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Equal(t, "run-2", history[1].RunID)
}

func TestReportRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewReportRepository(openTestDB(t))

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	for i, status := range []domain.OverallStatus{domain.OverallStatusPass, domain.OverallStatusFail, domain.OverallStatusPartial} {
		require.NoError(t, repo.Append(ctx, &domain.VerificationReport{
			ID:              []string{"r1", "r2", "r3"}[i],
			Timestamp:       at.Add(time.Duration(i) * time.Minute),
			OverallStatus:   status,
			Recommendations: []string{"check " + string(status)},
		}))
	}

	got, err := repo.GetByID(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallStatusFail, got.OverallStatus)
	assert.Equal(t, []string{"check fail"}, got.Recommendations)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	latest, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "r3", latest[0].ID)
	assert.Equal(t, "r2", latest[1].ID)

	assert.Error(t, repo.Append(ctx, &domain.VerificationReport{ID: "r1", Timestamp: at}))
}
