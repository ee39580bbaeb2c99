package server

import (
	"net/http"
	"strings"

	obscontext "github.com/coreflow/usaged/internal/observability/context"
	usagedomain "github.com/coreflow/usaged/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

// TenantContext propagates the caller's tenant and user identity from
// headers into the request context for logging and tracing.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))

		ctx := c.Request.Context()
		if tenantID != "" {
			ctx = obscontext.WithTenantID(ctx, tenantID)
			c.Set("tenant_id", tenantID)
		}
		if userID != "" {
			ctx = obscontext.WithUserID(ctx, userID)
			c.Set("user_id", userID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) SelectAgent(c *gin.Context) {
	var req usagedomain.SelectAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.fillIdentity(c, &req.TenantID, &req.UserID)

	result, err := s.usageSvc.SelectAgent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"selected_agent":     result.SelectedAgent,
		"is_first_selection": result.FirstSelection,
	})
}

func (s *Server) GetUsageStatus(c *gin.Context) {
	req := usagedomain.StatusRequest{
		TenantID: strings.TrimSpace(c.Query("tenant_id")),
		UserID:   strings.TrimSpace(c.Query("user_id")),
	}
	s.fillIdentity(c, &req.TenantID, &req.UserID)

	status, err := s.usageSvc.GetStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) TrackUsage(c *gin.Context) {
	var req usagedomain.TrackUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	s.fillIdentity(c, &req.TenantID, &req.UserID)

	result, err := s.usageSvc.TrackUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Quota exhaustion is expected control flow, answered in-band rather
	// than through the error middleware.
	if result.Rejected {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          "Daily usage limit exceeded",
			"should_upgrade": result.ShouldUpgrade,
			"current":        result.Current,
			"limit":          result.Limit,
			"remaining":      result.Remaining,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"usage":   result,
	})
}

// fillIdentity backfills tenant and user from the request headers when the
// body or query left them empty.
func (s *Server) fillIdentity(c *gin.Context, tenantID, userID *string) {
	if strings.TrimSpace(*tenantID) == "" {
		*tenantID = c.GetString("tenant_id")
	}
	if strings.TrimSpace(*userID) == "" {
		*userID = c.GetString("user_id")
	}
}
