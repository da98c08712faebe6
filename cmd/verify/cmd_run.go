package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/andressep95/broker-auth-service/internal/config"
	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/probe"
	"github.com/andressep95/broker-auth-service/internal/report"
	"github.com/andressep95/broker-auth-service/internal/service"
	"github.com/andressep95/broker-auth-service/internal/verification"
	"github.com/andressep95/broker-auth-service/pkg/metrics"
)

var (
	planPath    string
	backendURL  string
	frontendURL string
	format      string
	outPath     string
	render      bool
	width       int
)

// errVerificationFailed makes a failing verdict exit non-zero
var errVerificationFailed = errors.New("verification failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a verification and print the report",
	Long: `Runs every probe and functional test of the plan in parallel, classifies
the failures and prints the report. Exits non-zero when the verdict is fail.

Without --plan the built-in plan is used. Database and Redis probes connect
with the DB_* and REDIS_* environment settings.`,
	RunE: runVerification,
}

func init() {
	runCmd.Flags().StringVar(&planPath, "plan", "", "YAML verification plan")
	runCmd.Flags().StringVar(&backendURL, "backend-url", "", "Backend base URL (overrides the plan)")
	runCmd.Flags().StringVar(&frontendURL, "frontend-url", "", "Frontend base URL (overrides the plan)")
	runCmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: json, yaml or markdown")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the report to a file instead of stdout")
	runCmd.Flags().BoolVar(&render, "render", false, "Render markdown for the terminal")
	runCmd.Flags().IntVar(&width, "width", 100, "Terminal width for --render")
}

func runVerification(cmd *cobra.Command, _ []string) error {
	outFormat, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	if render && outFormat != report.FormatMarkdown {
		return fmt.Errorf("--render needs --format markdown")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	zl, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	file := verification.DefaultFile(cfg.Verification.BackendURL, cfg.Verification.FrontendURL)
	if planPath != "" {
		if file, err = verification.Load(planPath); err != nil {
			return err
		}
	}
	if backendURL != "" {
		file.BackendURL = backendURL
	}
	if frontendURL != "" {
		file.FrontendURL = frontendURL
	}

	// sqlx.Open does not dial, so an unreachable database surfaces as a probe result
	target, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to prepare database probe: %w", err)
	}
	defer target.Close()

	httpClient := &http.Client{Timeout: cfg.Verification.ProbeTimeout}
	deps := verification.Deps{
		DB:         target,
		HTTPClient: httpClient,
		ProbeOptions: probe.Options{
			Timeout:         cfg.Verification.ProbeTimeout,
			DegradedLatency: cfg.Verification.DegradedLatency,
		},
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		deps.Redis = client
	}

	plan, err := file.Build(deps)
	if err != nil {
		return err
	}

	hist, err := openHistory(ctx, zl)
	if err != nil {
		return err
	}
	defer hist.close()

	verifier := service.NewVerificationService(
		service.NewIssueClassifier(hist.issues, zl),
		service.NewReportGenerator(),
		hist.reports,
		metrics.New(),
		nil,
		zl,
		service.VerificationOptions{
			Deadline:       cfg.Verification.Deadline,
			MaxRetries:     uint64(cfg.Verification.MaxRetries),
			RetryBaseDelay: cfg.Verification.RetryBaseDelay,
			RetryMaxDelay:  cfg.Verification.RetryMaxDelay,
			Parallelism:    cfg.Verification.Parallelism,
			HTTPClient:     httpClient,
		},
	)

	rep, err := verifier.Run(ctx, plan)
	if err != nil {
		return err
	}

	if err := writeReport(cmd, rep, outFormat); err != nil {
		return err
	}
	if rep.OverallStatus == domain.OverallStatusFail {
		return errVerificationFailed
	}
	return nil
}

func writeReport(cmd *cobra.Command, rep *domain.VerificationReport, f report.Format) error {
	var body []byte
	if render {
		out, err := report.RenderTerminal(report.Markdown(rep), width)
		if err != nil {
			return err
		}
		body = []byte(out)
	} else {
		out, err := report.Export(rep, f)
		if err != nil {
			return err
		}
		body = out
	}

	if outPath == "" {
		_, err := cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "report %s written to %s (%s)\n", rep.ID, outPath, rep.OverallStatus)
	return nil
}
