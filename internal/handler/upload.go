package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scaleagents/api/internal/middleware"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/service"
	"github.com/scaleagents/api/pkg/response"
)

const (
	maxChunkSize   = 10 * 1024 * 1024 // 10MB per chunk
	maxTotalChunks = 500
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Chunk handles POST /api/upload/chunk
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	fileID := c.FormValue("fileId")
	if fileID == "" {
		return response.ValidationError(c, "fileId is required", nil)
	}

	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return response.ValidationError(c, "chunkIndex must be a non-negative integer", nil)
	}

	totalChunks, err := strconv.Atoi(c.FormValue("totalChunks"))
	if err != nil || totalChunks < 1 || totalChunks > maxTotalChunks {
		return response.ValidationError(c, "totalChunks must be between 1 and 500", nil)
	}

	if chunkIndex >= totalChunks {
		return response.ValidationError(c, "chunkIndex out of range", nil)
	}

	isLast := c.FormValue("isLast") == "true"

	workflow := model.Workflow(c.FormValue("workflow"))
	if workflow == "" {
		workflow = model.WorkflowSalesCall
	}
	if workflow != model.WorkflowSalesCall && workflow != model.WorkflowScaleExpert {
		return response.ValidationError(c, "workflow must be sales_call or scale_expert", nil)
	}

	subjectID := c.FormValue("subjectId")
	if isLast && subjectID == "" {
		return response.ValidationError(c, "subjectId is required on the final chunk", nil)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File chunk is required", nil)
	}
	if file.Size > maxChunkSize {
		return response.ValidationError(c, "Chunk exceeds 10MB limit", map[string]interface{}{
			"maxSize":   maxChunkSize,
			"chunkSize": file.Size,
		})
	}

	src, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read chunk")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return response.ServiceError(c, "Failed to read chunk")
	}

	result, err := h.service.ReceiveChunk(c.Context(), userID, fileID, chunkIndex, totalChunks, isLast, data, workflow, subjectID, c.FormValue("language"))
	if err != nil {
		if errors.Is(err, service.ErrMissingChunks) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	if result.Assembled {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}
