package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"seatlock/internal/seats"
	"seatlock/internal/shared/middleware"
	"seatlock/internal/shared/utils/response"
	"seatlock/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	SignatureHeader = "X-Signature"
	maxWebhookBytes = 64 << 10

	CodeAmountMismatch = "AMOUNT_MISMATCH"
)

type Controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) *Controller {
	return &Controller{
		service:   service,
		validator: validator.New(),
	}
}

func (c *Controller) Checkout(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	var req CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	checkout, err := c.service.Checkout(ctx.Request.Context(), userID, req)
	if err != nil {
		c.respondError(ctx, "Failed to start checkout", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusCreated, "Checkout session created", checkout, nil)
}

// Webhook receives the provider's payment notifications. The raw body is
// authenticated with X-Signature before it is parsed.
func (c *Controller) Webhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBytes))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Failed to read body", nil, err.Error())
		return
	}
	if !c.service.VerifySignature(body, ctx.GetHeader(SignatureHeader)) {
		logger.GetDefault().LogAuthFailure(ctx.Request.Context(), "invalid webhook signature", ctx.ClientIP())
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "Invalid signature", nil, nil)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid webhook payload", nil, err.Error())
		return
	}
	if event.Type != EventPaymentSucceeded {
		response.RespondJSON(ctx, "success", http.StatusOK, "Event ignored", gin.H{"type": event.Type}, nil)
		return
	}
	if err := c.validator.Struct(&event.Data); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	booking, err := c.service.HandlePaymentSucceeded(ctx.Request.Context(), event.Data)
	if err != nil {
		c.respondError(ctx, "Booking failed", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Booking confirmed", booking, nil)
}

func (c *Controller) respondError(ctx *gin.Context, message string, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, seats.ErrInvalidRequest):
		statusCode = http.StatusBadRequest
	case errors.Is(err, seats.ErrSeatNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, seats.ErrLockExpiredOrStolen), errors.Is(err, seats.ErrSeatUnavailable), errors.Is(err, seats.ErrConcurrentUpdate),
		errors.Is(err, ErrAmountMismatch):
		statusCode = http.StatusConflict
	}

	if statusCode == http.StatusInternalServerError {
		logger.GetDefault().LogHTTPError(ctx, err, statusCode)
	}

	data := gin.H{"code": seats.ErrorCode(err)}
	if ids := seats.FailedSeatIDs(err); len(ids) > 0 {
		data["failedSeats"] = ids
	}
	if errors.Is(err, ErrAmountMismatch) {
		data["code"] = CodeAmountMismatch
	}
	if errors.Is(err, seats.ErrLockExpiredOrStolen) || errors.Is(err, ErrAmountMismatch) {
		data["refundRequired"] = true
	}
	response.RespondJSON(ctx, "error", statusCode, message, data, err.Error())
}
