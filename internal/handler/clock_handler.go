package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
)

// ClockHandler handles simulated clock API requests
type ClockHandler struct {
	clockService *service.ClockService
}

// NewClockHandler creates a new ClockHandler
func NewClockHandler(clockService *service.ClockService) *ClockHandler {
	return &ClockHandler{
		clockService: clockService,
	}
}

// GetClock returns the clock of the account
// GET /api/v1/clock/:account_id
func (h *ClockHandler) GetClock(c *gin.Context) {
	state, err := h.clockService.State(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, state)
}

// Pause stops simulated time
// POST /api/v1/clock/:account_id/pause
func (h *ClockHandler) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

// Resume restarts simulated time and clears a latched threshold outcome
// POST /api/v1/clock/:account_id/resume
func (h *ClockHandler) Resume(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *ClockHandler) setPaused(c *gin.Context, paused bool) {
	state, err := h.clockService.SetPaused(c.Request.Context(), c.Param("account_id"), paused)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, state)
}

// SetSpeed changes the simulated-time multiplier
// POST /api/v1/clock/:account_id/speed
func (h *ClockHandler) SetSpeed(c *gin.Context) {
	var req struct {
		Speed float64 `json:"speed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	state, err := h.clockService.SetSpeed(c.Request.Context(), c.Param("account_id"), req.Speed)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, state)
}

// SetStartTime moves the clock to a new start
// POST /api/v1/clock/:account_id/start-time
func (h *ClockHandler) SetStartTime(c *gin.Context) {
	var req struct {
		StartTime time.Time `json:"start_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	state, err := h.clockService.SetStartTime(c.Request.Context(), c.Param("account_id"), req.StartTime)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, state)
}

// EndOfDay runs the fee sweep for the given day, or for the current
// simulated day when none is given
// POST /api/v1/clock/:account_id/end-of-day
func (h *ClockHandler) EndOfDay(c *gin.Context) {
	var req struct {
		Day string `json:"day"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	accountID := c.Param("account_id")
	if req.Day == "" {
		day, err := h.clockService.Today(c.Request.Context(), accountID)
		if err != nil {
			handleError(c, err)
			return
		}
		req.Day = day
	}

	result, err := h.clockService.EndOfDayCharges(c.Request.Context(), accountID, req.Day)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// RegisterRoutes registers clock routes
func (h *ClockHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	clock := rg.Group("/clock")
	clock.Use(authMiddleware, middleware.SettlementLoggerMiddleware())
	{
		clock.GET("/:account_id", h.GetClock)
		clock.POST("/:account_id/pause", h.Pause)
		clock.POST("/:account_id/resume", h.Resume)
		clock.POST("/:account_id/speed", h.SetSpeed)
		clock.POST("/:account_id/start-time", h.SetStartTime)
		clock.POST("/:account_id/end-of-day", middleware.RequireAdmin(), h.EndOfDay)
	}
}
