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

// ReceiptHandler handles delivery receipt callbacks from the SMS gateway
type ReceiptHandler struct {
	queueFlow businessflow.QueueFlow
	validator *validator.Validate
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(queueFlow businessflow.QueueFlow) *ReceiptHandler {
	return &ReceiptHandler{
		queueFlow: queueFlow,
		validator: validator.New(),
	}
}

func (h *ReceiptHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ReceiptHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// HandleReceipt applies one gateway delivery receipt
// @Summary Delivery Receipt
// @Description Apply a delivery receipt callback from the SMS gateway
// @Tags Receipts
// @Accept json
// @Produce json
// @Param request body dto.DeliveryReceiptRequest true "Receipt payload"
// @Success 200 {object} dto.APIResponse{data=dto.DeliveryReceiptResponse} "Receipt applied"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Delivery record not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sms/receipts [post]
func (h *ReceiptHandler) HandleReceipt(c fiber.Ctx) error {
	var req dto.DeliveryReceiptRequest
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.queueFlow.HandleReceipt(ctx, &req)
	if err != nil {
		if businessflow.IsDeliveryRecordNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Delivery record not found", "RECEIPT_RECORD_NOT_FOUND", nil)
		}

		log.Println("Receipt handling failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Receipt handling failed", "RECEIPT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Receipt applied", result)
}
