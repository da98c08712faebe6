// Command verify runs deployment verification against a broker auth deployment
// from the command line and inspects the recorded history.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/repository"
	"github.com/andressep95/broker-auth-service/internal/repository/memory"
	"github.com/andressep95/broker-auth-service/internal/repository/sqlstore"
	"github.com/andressep95/broker-auth-service/pkg/logger"
)

var (
	historyPath string
	logLevel    string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "verify",
	Short: "Deployment verification for the broker auth service",
	Long: `Probes the database, backend and frontend of a deployment, runs the
functional test plan and reports a pass, partial or fail verdict.

Issue history is kept in a SQLite file so recurring failures are tracked
across runs. Pass --history "" to keep everything in memory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "verification.db", "SQLite file for issue and report history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(runCmd, issuesCmd, reportsCmd, hashTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// history holds the repositories a command reads and writes
type history struct {
	issues  repository.IssueRepository
	reports repository.ReportRepository
	close   func() error
}

func openHistory(ctx context.Context, zl *zap.Logger) (*history, error) {
	if historyPath == "" {
		return &history{
			issues:  memory.NewIssueRepository(),
			reports: memory.NewReportRepository(),
			close:   func() error { return nil },
		}, nil
	}

	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, historyPath, zl, sqlstore.OpenOptions{Attempts: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", historyPath, err)
	}
	return &history{
		issues:  sqlstore.NewIssueRepository(db),
		reports: sqlstore.NewReportRepository(db),
		close:   db.Close,
	}, nil
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logLevel, "development")
}
