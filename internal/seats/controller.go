package seats

import (
	"errors"
	"net/http"
	"time"

	"seatlock/internal/shared/middleware"
	"seatlock/internal/shared/utils/response"
	"seatlock/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
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

// SEAT MAP

func (c *Controller) GetSeatsByConcert(ctx *gin.Context) {
	concertID := ctx.Param("concertId")
	if concertID == "" {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Concert ID is required", nil, "missing concert ID")
		return
	}

	seats, err := c.service.GetSeats(ctx.Request.Context(), concertID)
	if err != nil {
		c.respondError(ctx, "Failed to get seats", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seats retrieved successfully", SeatMapResponse{
		ConcertID:  concertID,
		Seats:      nonNilSeats(seats),
		ServerTime: time.Now().UTC(),
		TTLSeconds: int(c.service.LockTTL().Seconds()),
	}, nil)
}

func (c *Controller) GetMyHold(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	hold, err := c.service.GetHold(ctx.Request.Context(), ctx.Param("concertId"), userID)
	if err != nil {
		c.respondError(ctx, "Failed to get hold", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Hold retrieved successfully", hold, nil)
}

// LOCKING

func (c *Controller) LockSeats(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	var req LockSeatsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	result, err := c.service.AcquireLocks(ctx.Request.Context(), req.ConcertID, userID, req.SeatIDs)
	if err != nil {
		if errors.Is(err, ErrSeatUnavailable) {
			response.RespondJSON(ctx, "error", http.StatusConflict, "Some seats are no longer available",
				newLockSeatsResponse(result, c.service.LockTTL()), err.Error())
			return
		}
		c.respondError(ctx, "Failed to lock seats", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seats locked successfully",
		newLockSeatsResponse(result, c.service.LockTTL()), nil)
}

func (c *Controller) UnlockSeats(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	var req UnlockSeatsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	released, err := c.service.ReleaseLocks(ctx.Request.Context(), req.ConcertID, userID, req.SeatIDs)
	if err != nil {
		c.respondError(ctx, "Failed to unlock seats", err)
		return
	}
	if released == nil {
		released = []string{}
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seats unlocked successfully", UnlockSeatsResponse{Released: released}, nil)
}

// BOOKINGS

func (c *Controller) GetMyBookings(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return
	}

	bookings, err := c.service.ListBookings(ctx.Request.Context(), userID)
	if err != nil {
		c.respondError(ctx, "Failed to get bookings", err)
		return
	}
	if bookings == nil {
		bookings = []Booking{}
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Bookings retrieved successfully", bookings, nil)
}

// ADMIN

func (c *Controller) CreateSeats(ctx *gin.Context) {
	concertID := ctx.Param("concertId")

	var req CreateSeatsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request data", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	created, err := c.service.CreateSeats(ctx.Request.Context(), concertID, req)
	if err != nil {
		c.respondError(ctx, "Failed to create seats", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusCreated, "Seats created successfully", CreateSeatsResponse{
		ConcertID: concertID,
		Created:   len(created),
		Seats:     created,
	}, nil)
}

func (c *Controller) ExpireLocks(ctx *gin.Context) {
	released, err := c.service.ExpireLocks(ctx.Request.Context(), ctx.Param("concertId"))
	if err != nil {
		c.respondError(ctx, "Failed to expire locks", err)
		return
	}
	if released == nil {
		released = []string{}
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Expired locks released", UnlockSeatsResponse{Released: released}, nil)
}

func (c *Controller) respondError(ctx *gin.Context, message string, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		statusCode = http.StatusBadRequest
	case errors.Is(err, ErrSeatNotFound), errors.Is(err, ErrBookingNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, ErrSeatUnavailable), errors.Is(err, ErrLockExpiredOrStolen), errors.Is(err, ErrConcurrentUpdate):
		statusCode = http.StatusConflict
	}

	if statusCode == http.StatusInternalServerError {
		logger.GetDefault().LogHTTPError(ctx, err, statusCode)
	}

	data := gin.H{"code": ErrorCode(err)}
	if ids := FailedSeatIDs(err); len(ids) > 0 {
		data["failedSeats"] = ids
	}
	if errors.Is(err, ErrLockExpiredOrStolen) {
		data["refundRequired"] = true
	}
	response.RespondJSON(ctx, "error", statusCode, message, data, err.Error())
}

func nonNilSeats(list []Seat) []Seat {
	if list == nil {
		return []Seat{}
	}
	return list
}
