package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/pkg/email"
)

type capturingSender struct {
	sent []*email.Message
}

func (s *capturingSender) Send(_ context.Context, msg *email.Message) (string, error) {
	s.sent = append(s.sent, msg)
	return "msg-1", nil
}

func TestEmailNotifier_OnlyFailuresAreSent(t *testing.T) {
	sender := &capturingSender{}
	n := NewEmailNotifier(sender, []string{"ops@example.com"}, zap.NewNop())

	for _, status := range []domain.OverallStatus{domain.OverallStatusPass, domain.OverallStatusPartial} {
		require.NoError(t, n.Notify(context.Background(), &domain.VerificationReport{ID: "r", OverallStatus: status, Timestamp: fixedNow}))
	}
	assert.Empty(t, sender.sent)

	issue := domain.NewIssue(domain.CategoryDatabase, domain.SeverityCritical, "database unreachable", "connection refused", fixedNow)
	require.NoError(t, n.Notify(context.Background(), &domain.VerificationReport{
		ID:              "r-fail",
		OverallStatus:   domain.OverallStatusFail,
		Timestamp:       fixedNow,
		Issues:          []domain.Issue{issue},
		Recommendations: []string{"Restore database connectivity"},
	}))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, sender.sent[0].To)
	assert.Contains(t, sender.sent[0].HTML, "database unreachable")
}
