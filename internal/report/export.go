// Package report serializes verification reports for people and machines.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts the format names used by the CLI and the HTTP API
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// ContentType is the HTTP media type for a format
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

func Export(r *domain.VerificationReport, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatMarkdown:
		return []byte(Markdown(r)), nil
	}
	return nil, fmt.Errorf("unknown report format %q", f)
}

// Markdown renders the report as a readable document
func Markdown(r *domain.VerificationReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deployment verification: %s\n\n", strings.ToUpper(string(r.OverallStatus)))
	fmt.Fprintf(&b, "Report `%s`, %s, took %s.\n\n", r.ID, r.Timestamp.UTC().Format(time.RFC3339),
		(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond))

	b.WriteString("## Components\n\n")
	b.WriteString("| Component | Status | Response time | Availability |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, c := range domain.Components {
		res := r.Components.Get(c)
		fmt.Fprintf(&b, "| %s | %s | %.0f ms | %.0f%% |\n", c, res.Status, res.Metrics.ResponseTimeMs, res.Metrics.Availability*100)
	}

	s := r.Summary
	fmt.Fprintf(&b, "\nProbes: %d run, %d failed. Tests: %d run, %d passed, %d failed.\n",
		s.TotalProbes, s.FailedProbes, s.TotalTests, s.PassedTests, s.FailedTests)

	if len(r.TestResults) > 0 {
		b.WriteString("\n## Functional tests\n\n")
		for _, tr := range r.TestResults {
			mark := "PASS"
			if !tr.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "- **%s** %s (expected %d, got %d)", mark, tr.Name, tr.ExpectedStatus, tr.ActualStatus)
			if tr.Error != "" {
				fmt.Fprintf(&b, ": %s", tr.Error)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Issues\n\n")
	if len(r.Issues) == 0 {
		b.WriteString("None.\n")
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "- **%s** [%s] %s (%s, seen %d times)\n", issue.Severity, issue.Category, issue.Title, issue.Status, issue.Occurrences)
		if issue.Description != "" {
			fmt.Fprintf(&b, "  %s\n", issue.Description)
		}
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\n## Recommendations\n\n")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}
	return b.String()
}

// RenderTerminal styles markdown for a terminal of the given width
func RenderTerminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	return renderer.Render(markdown)
}
