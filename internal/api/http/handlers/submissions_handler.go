package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-service/internal/api/dto"
	"github.com/spec-kit/verification-service/internal/auth"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/facematch"
	"github.com/spec-kit/verification-service/internal/service"
	"github.com/spec-kit/verification-service/internal/storage"
	apperrors "github.com/spec-kit/verification-service/pkg/util/errorutil"
)

// SubmissionsHandler exposes the submission intake and processing endpoints.
type SubmissionsHandler struct {
	submissions *service.SubmissionService
	verifier    *service.VerificationService
}

// NewSubmissionsHandler constructs handler.
func NewSubmissionsHandler(submissions *service.SubmissionService, verifier *service.VerificationService) *SubmissionsHandler {
	return &SubmissionsHandler{submissions: submissions, verifier: verifier}
}

// Create handles POST /v1/submissions/urls. It registers the submission and
// hands back presigned upload URLs for the evidence the client must provide.
func (h *SubmissionsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	submission, documents, err := h.submissions.CreateSubmission(c.Context(), service.CreateSubmissionInput{
		SubmissionType: domain.SubmissionType(req.SubmissionType),
		SessionID:      req.SessionID,
		UserID:         principal.User.ID,
		NFCData:        req.NFCData,
		RequestData:    req.RequestData,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.NewCreateSubmissionResponse(submission, documents),
	})
}

// Process handles PUT /v1/submissions/urls. It runs the verification
// pipeline synchronously and returns the resulting record.
func (h *SubmissionsHandler) Process(c *fiber.Ctx) error {
	var req dto.ProcessSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.SubmissionID == "" {
		return fiber.NewError(http.StatusBadRequest, "submissionId required")
	}

	submission, err := h.verifier.Process(c.Context(), req.SubmissionID)
	if err != nil {
		switch {
		case errors.Is(err, facematch.ErrTimeout),
			errors.Is(err, facematch.ErrServiceUnavailable),
			errors.Is(err, storage.ErrUnavailable):
			return apperrors.NewUnavailable("verification upstream unavailable, submission will be retried")
		}
		return err
	}

	return c.JSON(fiber.Map{"data": dto.NewSubmissionResponse(submission)})
}

// Status handles GET /v1/submissions/status. Query parameters identify the
// chip and the submission flavor being asked about.
func (h *SubmissionsHandler) Status(c *fiber.Ctx) error {
	submissionType := c.Query("submissionType")
	nfcIdentifier := c.Query("nfcIdentifier")

	verdict, err := h.submissions.Status(c.Context(), domain.SubmissionType(submissionType), nfcIdentifier)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.StatusResponse{Status: verdict}})
}

// Get handles GET /v1/submissions/:id.
func (h *SubmissionsHandler) Get(c *fiber.Ctx) error {
	submission, err := h.submissions.GetSubmission(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSubmissionResponse(submission)})
}

// GetBySession handles GET /v1/submissions/session/:sessionId.
func (h *SubmissionsHandler) GetBySession(c *fiber.Ctx) error {
	submission, err := h.submissions.GetBySession(c.Context(), c.Params("sessionId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSubmissionResponse(submission)})
}
