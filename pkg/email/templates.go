package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// ReportAlert is what a failed verification email shows
type ReportAlert struct {
	ReportID        string
	OverallStatus   string
	Timestamp       time.Time
	Issues          []AlertIssue
	Recommendations []string
}

type AlertIssue struct {
	Severity string
	Category string
	Title    string
}

var reportAlertHTML = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Verification {{.OverallStatus}}</title></head>
<body style="margin: 0; padding: 24px; font-family: Arial, sans-serif; background-color: #f4f4f4;">
  <table role="presentation" style="width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px;">
    <tr>
      <td style="padding: 24px 30px; background-color: #B91C1C; border-radius: 8px 8px 0 0;">
        <h1 style="margin: 0; color: #ffffff; font-size: 22px;">Deployment verification: {{.OverallStatus}}</h1>
      </td>
    </tr>
    <tr>
      <td style="padding: 24px 30px; font-size: 14px; color: #333333;">
        <p>Report <code>{{.ReportID}}</code> at {{.Timestamp.Format "2006-01-02 15:04:05 MST"}}</p>
        {{if .Issues}}<ul>{{range .Issues}}
          <li><strong>{{.Severity}}</strong> [{{.Category}}] {{.Title}}</li>{{end}}
        </ul>{{end}}
        {{if .Recommendations}}<p>Recommendations:</p><ol>{{range .Recommendations}}
          <li>{{.}}</li>{{end}}
        </ol>{{end}}
      </td>
    </tr>
  </table>
</body>
</html>`))

// ReportAlertMessage renders the alert as an email body pair
func ReportAlertMessage(alert ReportAlert, to []string) (*Message, error) {
	var html bytes.Buffer
	if err := reportAlertHTML.Execute(&html, alert); err != nil {
		return nil, fmt.Errorf("failed to render report alert: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Deployment verification: %s\nReport %s at %s\n\n",
		alert.OverallStatus, alert.ReportID, alert.Timestamp.Format(time.RFC3339))
	for _, issue := range alert.Issues {
		fmt.Fprintf(&text, "- %s [%s] %s\n", issue.Severity, issue.Category, issue.Title)
	}
	for i, rec := range alert.Recommendations {
		fmt.Fprintf(&text, "%d. %s\n", i+1, rec)
	}

	return &Message{
		To:      to,
		Subject: fmt.Sprintf("[broker-auth] verification %s (%d issues)", alert.OverallStatus, len(alert.Issues)),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
