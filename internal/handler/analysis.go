package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/middleware"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/service"
	"github.com/scaleagents/api/internal/store"
	"github.com/scaleagents/api/pkg/response"
)

type AnalysisHandler struct {
	service   *service.AnalysisService
	store     *store.Store
	billing   client.PlanGate
	validator *validator.Validate
}

func NewAnalysisHandler(svc *service.AnalysisService, st *store.Store, billing client.PlanGate, v *validator.Validate) *AnalysisHandler {
	return &AnalysisHandler{
		service:   svc,
		store:     st,
		billing:   billing,
		validator: v,
	}
}

// SalesCall handles POST /api/analysis/sales-call
func (h *AnalysisHandler) SalesCall(c *fiber.Ctx) error {
	return h.start(c, model.WorkflowSalesCall, model.FeatureCallAnalysis)
}

// ScaleExpert handles POST /api/analysis/scale-expert
func (h *AnalysisHandler) ScaleExpert(c *fiber.Ctx) error {
	return h.start(c, model.WorkflowScaleExpert, model.FeatureCallAnalysis)
}

func (h *AnalysisHandler) start(c *fiber.Ctx, wf model.Workflow, feature string) error {
	userID := middleware.GetUserID(c)

	var req model.StartAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	allowed, err := h.billing.CheckFeature(c.Context(), userID, feature)
	if err != nil {
		return response.ServiceError(c, "Failed to verify plan")
	}
	if !allowed {
		return response.PlanLimit(c, "Your plan does not include this analysis")
	}

	result, err := h.service.StartAnalysis(c.Context(), userID, wf, &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/analysis/status/:jobId
func (h *AnalysisHandler) Status(c *fiber.Ctx) error {
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

// Result handles GET /api/analysis/result/:jobId
func (h *AnalysisHandler) Result(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	var result map[string]interface{}
	if err := h.service.GetResult(c.Context(), userID, jobID, &result); err != nil {
		if err.Error() == "job not found" {
			return response.NotFound(c, "Job not found")
		}
		if err.Error() == "job not completed" {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// GetRecord handles GET /api/analysis/records/:id
func (h *AnalysisHandler) GetRecord(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	recordID := c.Params("id")
	if recordID == "" {
		return response.ValidationError(c, "Record ID is required", nil)
	}

	rec, err := h.store.GetAnalysis(c.Context(), userID, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Record not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, rec)
}
