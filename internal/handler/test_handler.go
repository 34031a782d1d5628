package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// TestHandler serves test schedules and participant results.
type TestHandler struct {
	testService *service.TestService
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService) *TestHandler {
	return &TestHandler{testService: testService}
}

// GetOverview godoc
// GET /api/v1/tests/:slug
// Returns the test's global schedule and whether it can still be joined.
func (h *TestHandler) GetOverview(c *gin.Context) {
	ov, err := h.testService.Overview(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ov)
}

// GetMyResult godoc
// GET /api/v1/tests/:slug/result
// Returns the caller's attempt, with scores once it is finalized.
func (h *TestHandler) GetMyResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	res, err := h.testService.MyResult(c.Request.Context(), c.Param("slug"), userID)
	if err != nil {
		response.FailError(c, err)
		return
	}
	if res == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, res)
}
