package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/middleware"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/service"
	"github.com/scaleagents/api/pkg/response"
)

type BatchHandler struct {
	service   *service.AnalysisService
	billing   client.PlanGate
	validator *validator.Validate
}

func NewBatchHandler(svc *service.AnalysisService, billing client.PlanGate, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		billing:   billing,
		validator: v,
	}
}

// Start handles POST /api/batch/cv
func (h *BatchHandler) Start(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req model.BatchCVRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	for _, cand := range req.Candidates {
		if cand.CVText == "" && cand.StorageKey == "" {
			return response.ValidationError(c, "Each candidate needs cvText or storageKey", map[string]interface{}{
				"candidateId": cand.CandidateID,
			})
		}
	}

	allowed, err := h.billing.CheckFeature(c.Context(), userID, model.FeatureCVAnalysis)
	if err != nil {
		return response.ServiceError(c, "Failed to verify plan")
	}
	if !allowed {
		return response.PlanLimit(c, "Your plan does not include CV analysis")
	}

	result, err := h.service.StartBatch(c.Context(), userID, &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/batch/status/:jobId
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), userID, jobID)
	if err != nil {
		if err.Error() == "job not found" {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/batch/result/:jobId
func (h *BatchHandler) Result(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	var summary model.BatchSummary
	if err := h.service.GetResult(c.Context(), userID, jobID, &summary); err != nil {
		if err.Error() == "job not found" {
			return response.NotFound(c, "Job not found")
		}
		if err.Error() == "job not completed" {
			return response.ValidationError(c, "Batch not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, summary)
}
