package seats

import (
	"seatlock/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupSeatRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {

	// PUBLIC SEAT MAP

	seats := rg.Group("/seats")
	{
		seats.GET("/concert/:concertId", controller.GetSeatsByConcert) // GET /api/v1/seats/concert/:concertId
	}

	// USER LOCK OPERATIONS

	locks := rg.Group("/seats")
	locks.Use(auth, middleware.RequireRoles(middleware.RoleUser, middleware.RoleAdmin))
	{
		locks.GET("/concert/:concertId/hold", controller.GetMyHold) // GET /api/v1/seats/concert/:concertId/hold
		locks.POST("/lock", controller.LockSeats)                   // POST /api/v1/seats/lock
		locks.POST("/unlock", controller.UnlockSeats)               // POST /api/v1/seats/unlock
	}

	bookings := rg.Group("/bookings")
	bookings.Use(auth, middleware.RequireRoles(middleware.RoleUser, middleware.RoleAdmin))
	{
		bookings.GET("/me", controller.GetMyBookings) // GET /api/v1/bookings/me
	}

	// ADMIN SEAT OPERATIONS

	adminSeats := rg.Group("/admin/seats")
	adminSeats.Use(auth, middleware.RequireAdmin())
	{
		adminSeats.POST("/concert/:concertId", controller.CreateSeats)        // POST /api/v1/admin/seats/concert/:concertId
		adminSeats.POST("/concert/:concertId/expire", controller.ExpireLocks) // POST /api/v1/admin/seats/concert/:concertId/expire
	}
}
