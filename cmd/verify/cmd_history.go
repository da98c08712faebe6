package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

var (
	issueStatuses []string
	issueCategory string
	reportLimit   int
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List tracked issues from the history",
	RunE:  listIssues,
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List recent verification reports from the history",
	RunE:  listReports,
}

func init() {
	issuesCmd.Flags().StringSliceVar(&issueStatuses, "status", []string{"open", "in-progress"}, "Statuses to include")
	issuesCmd.Flags().StringVar(&issueCategory, "category", "", "Only this category")
	reportsCmd.Flags().IntVarP(&reportLimit, "limit", "n", 10, "Number of reports")
}

func listIssues(cmd *cobra.Command, _ []string) error {
	var filter repository.IssueFilter
	for _, s := range issueStatuses {
		status := domain.IssueStatus(strings.TrimSpace(s))
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if issueCategory != "" {
		filter.Category = domain.Category(issueCategory)
		if !filter.Category.Valid() {
			return fmt.Errorf("unknown category %q", issueCategory)
		}
	}

	hist, err := historyFor(cmd)
	if err != nil {
		return err
	}
	defer hist.close()

	issues, err := hist.issues.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tCATEGORY\tSTATUS\tDETECTED\tTITLE")
	for _, issue := range issues {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			issue.ID, issue.Severity, issue.Category, issue.Status,
			issue.DetectedAt.Format("2006-01-02 15:04"), issue.Title)
	}
	return w.Flush()
}

func listReports(cmd *cobra.Command, _ []string) error {
	if reportLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	hist, err := historyFor(cmd)
	if err != nil {
		return err
	}
	defer hist.close()

	reports, err := hist.reports.List(cmd.Context(), reportLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tVERDICT\tISSUES\tDURATION")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0fms\n",
			r.ID, r.Timestamp.Format("2006-01-02 15:04:05"), r.OverallStatus, len(r.Issues), r.DurationMs)
	}
	return w.Flush()
}

func historyFor(cmd *cobra.Command) (*history, error) {
	if historyPath == "" {
		return nil, fmt.Errorf("--history is required to read past runs")
	}
	zl, err := newLogger()
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return openHistory(ctx, zl)
}
