package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/pkg/email"
)

// ReportNotifier is told about every report; implementations decide what to send
type ReportNotifier interface {
	Notify(ctx context.Context, report *domain.VerificationReport) error
}

// EmailNotifier mails failed reports to the configured recipients
type EmailNotifier struct {
	sender email.Sender
	to     []string
	logger *zap.Logger
}

func NewEmailNotifier(sender email.Sender, to []string, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{sender: sender, to: to, logger: logger.Named("notifier")}
}

func (n *EmailNotifier) Notify(ctx context.Context, report *domain.VerificationReport) error {
	if report.OverallStatus != domain.OverallStatusFail || len(n.to) == 0 {
		return nil
	}

	alert := email.ReportAlert{
		ReportID:        report.ID,
		OverallStatus:   string(report.OverallStatus),
		Timestamp:       report.Timestamp,
		Recommendations: report.Recommendations,
	}
	for _, issue := range report.Issues {
		alert.Issues = append(alert.Issues, email.AlertIssue{
			Severity: string(issue.Severity),
			Category: string(issue.Category),
			Title:    issue.Title,
		})
	}

	msg, err := email.ReportAlertMessage(alert, n.to)
	if err != nil {
		return err
	}
	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	n.logger.Info("failure report sent", zap.String("report_id", report.ID), zap.String("message_id", id))
	return nil
}
