package handlers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/textlane/dispatchd/app/dto"
	businessflow "github.com/textlane/dispatchd/business_flow"
)

// QueueHandlerInterface defines the contract for queue handlers
type QueueHandlerInterface interface {
	Enqueue(c fiber.Ctx) error
	ListQueue(c fiber.Ctx) error
	UpdateQueue(c fiber.Ctx) error
	DeleteQueue(c fiber.Ctx) error
	ExportReport(c fiber.Ctx) error
}

// QueueHandler handles dispatch queue HTTP requests
type QueueHandler struct {
	queueFlow businessflow.QueueFlow
	validator *validator.Validate
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queueFlow businessflow.QueueFlow) *QueueHandler {
	return &QueueHandler{
		queueFlow: queueFlow,
		validator: validator.New(),
	}
}

func (h *QueueHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *QueueHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Enqueue queues campaigns for dispatch
// @Summary Queue Campaigns
// @Description Resolve each campaign's audience and create scheduled queue entries
// @Tags Queue
// @Accept json
// @Produce json
// @Param request body dto.EnqueueCampaignsRequest true "Campaigns to queue"
// @Success 201 {object} dto.APIResponse{data=dto.EnqueueCampaignsResponse} "Campaigns queued"
// @Failure 400 {object} dto.APIResponse "Validation error, unknown campaign or empty audience"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/queue [post]
func (h *QueueHandler) Enqueue(c fiber.Ctx) error {
	var req dto.EnqueueCampaignsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	req.UserID = userID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.queueFlow.Enqueue(h.createRequestContext(c, "/api/v1/sms/queue"), &req, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "One or more campaigns not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsEmptyAudience(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign audience is empty", "EMPTY_AUDIENCE", err.Error())
		}
		if businessflow.IsScheduleTimeInPast(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Scheduled start is in the past", "SCHEDULE_IN_PAST", nil)
		}

		log.Println("Enqueue failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to queue campaigns", "QUEUE_ENQUEUE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaigns queued", result)
}

// ListQueue returns the user's queue entries
// @Summary List Queue
// @Description List queue entries owned by the requesting user, newest first
// @Tags Queue
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ListQueueResponse} "Queue entries listed"
// @Failure 400 {object} dto.APIResponse "Invalid filter or pagination"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/queue [get]
func (h *QueueHandler) ListQueue(c fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}

	req := &dto.ListQueueRequest{
		UserID:   userID,
		Status:   c.Query("status"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.queueFlow.ListQueue(h.createRequestContext(c, "/api/v1/sms/queue"), req, metadata)
	if err != nil {
		log.Println("Queue listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue listing failed", "QUEUE_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue entries listed", result)
}

// UpdateQueue applies status transitions to queue entries
// @Summary Update Queue Statuses
// @Description Pause, resume or cancel queue entries. Each update reports its own outcome.
// @Tags Queue
// @Accept json
// @Produce json
// @Param request body dto.UpdateQueueRequest true "Status updates"
// @Success 200 {object} dto.APIResponse{data=dto.UpdateQueueResponse} "Updates processed"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/queue/update [put]
func (h *QueueHandler) UpdateQueue(c fiber.Ctx) error {
	var req dto.UpdateQueueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	req.UserID = userID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.queueFlow.UpdateStatuses(h.createRequestContext(c, "/api/v1/sms/queue/update"), &req, metadata)
	if err != nil {
		log.Println("Queue update failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue update failed", "QUEUE_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Updates processed", result)
}

// DeleteQueue deletes finished queue entries
// @Summary Delete Queue Entries
// @Description Delete finished queue entries and their delivery records. Active entries must be cancelled first.
// @Tags Queue
// @Accept json
// @Produce json
// @Param request body dto.DeleteQueueRequest true "Queue entry UUIDs to delete"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteQueueResponse} "Queue entries deleted"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Entry still active"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/queue [delete]
func (h *QueueHandler) DeleteQueue(c fiber.Ctx) error {
	var req dto.DeleteQueueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	req.UserID = userID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.queueFlow.DeleteEntries(h.createRequestContext(c, "/api/v1/sms/queue"), &req, metadata)
	if err != nil {
		if businessflow.IsEntryStillActive(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Queue entry is still active", "QUEUE_ENTRY_STILL_ACTIVE", err.Error())
		}

		log.Println("Queue deletion failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue deletion failed", "QUEUE_DELETE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue entries deleted", result)
}

// ExportReport streams an xlsx delivery report for one queue entry
// @Summary Export Delivery Report
// @Description Download an xlsx report of every delivery record under the queue entry
// @Tags Queue
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Queue entry UUID"
// @Success 200 {file} file "Delivery report"
// @Failure 404 {object} dto.APIResponse "Queue entry not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/queue/{uuid}/report [get]
func (h *QueueHandler) ExportReport(c fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}

	entryUUID := c.Params("uuid")
	if entryUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Queue entry UUID is required", "MISSING_UUID", nil)
	}

	content, filename, err := h.queueFlow.ExportReport(h.createRequestContext(c, "/api/v1/sms/queue/report"), userID, entryUUID)
	if err != nil {
		if businessflow.IsQueueEntryNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Queue entry not found", "QUEUE_ENTRY_NOT_FOUND", nil)
		}

		log.Println("Report export failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Report export failed", "REPORT_EXPORT_FAILED", nil)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.Send(content)
}

// createRequestContext creates a context with default timeout and request-scoped values
func (h *QueueHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}
