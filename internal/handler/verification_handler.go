package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/report"
	"github.com/andressep95/broker-auth-service/internal/repository"
	"github.com/andressep95/broker-auth-service/internal/service"
	"github.com/andressep95/broker-auth-service/internal/verification"
	"github.com/andressep95/broker-auth-service/pkg/validator"
)

// PlanSource builds the plan a run executes. Probes hold live handles, so the
// plan is rebuilt per run.
type PlanSource func() (*verification.Plan, error)

type VerificationHandler struct {
	verifier   *service.VerificationService
	classifier *service.IssueClassifier
	plans      PlanSource
	validator  *validator.Validator
	logger     *zap.Logger
	now        func() time.Time
}

func NewVerificationHandler(
	verifier *service.VerificationService,
	classifier *service.IssueClassifier,
	plans PlanSource,
	v *validator.Validator,
	logger *zap.Logger,
) *VerificationHandler {
	return &VerificationHandler{
		verifier:   verifier,
		classifier: classifier,
		plans:      plans,
		validator:  v,
		logger:     logger.Named("verification_handler"),
		now:        time.Now,
	}
}

// Run executes a verification run and returns its report
// POST /api/v1/verification/run
func (h *VerificationHandler) Run(c *fiber.Ctx) error {
	plan, err := h.plans()
	if err != nil {
		return writeError(c, err)
	}

	rep, err := h.verifier.Run(c.UserContext(), plan)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(rep)
}

// ListReports returns stored reports, newest first
// GET /api/v1/verification/reports
func (h *VerificationHandler) ListReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return validationError(c, "limit", "limit must be between 1 and 200")
	}

	reports, err := h.verifier.Reports(c.UserContext(), limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport returns one report in the requested format
// GET /api/v1/verification/reports/:id?format=json|yaml|markdown
func (h *VerificationHandler) GetReport(c *fiber.Ctx) error {
	format, err := report.ParseFormat(c.Query("format", string(report.FormatJSON)))
	if err != nil {
		return validationError(c, "format", err.Error())
	}

	rep, err := h.verifier.Report(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	body, err := report.Export(rep, format)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Status(fiber.StatusOK).Send(body)
}

// ListIssues returns tracked issues
// GET /api/v1/verification/issues?status=open,in-progress&category=backend
func (h *VerificationHandler) ListIssues(c *fiber.Ctx) error {
	var filter repository.IssueFilter

	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.IssueStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return validationError(c, "status", "status must be one of: open, in-progress, resolved")
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := c.Query("category"); raw != "" {
		category := domain.Category(raw)
		if !category.Valid() {
			return validationError(c, "category", "category must be one of: database, backend, frontend, integration")
		}
		filter.Category = category
	}

	issues, err := h.classifier.List(c.UserContext(), filter)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"issues": issues,
		"count":  len(issues),
	})
}

type updateIssueRequest struct {
	Status string `json:"status" validate:"required,oneof=open in-progress resolved"`
}

// UpdateIssue moves an issue through open, in-progress and resolved
// PATCH /api/v1/verification/issues/:id
func (h *VerificationHandler) UpdateIssue(c *fiber.Ctx) error {
	var req updateIssueRequest
	if ok, err := bindAndValidate(c, h.validator, &req); !ok {
		return err
	}

	issue, err := h.classifier.UpdateStatus(c.UserContext(), c.Params("id"), domain.IssueStatus(req.Status), h.now().UTC())
	if err != nil {
		return writeError(c, err)
	}

	h.logger.Info("issue status updated",
		zap.String("issue_id", issue.ID),
		zap.String("status", req.Status))
	return c.Status(fiber.StatusOK).JSON(issue)
}
