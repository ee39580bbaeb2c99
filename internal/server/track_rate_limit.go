package server

import (
	"github.com/coreflow/usaged/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TrackRateLimit throttles the tracking endpoint per user ahead of the quota
// counter. It requires the identity headers; requests without them fall
// through to the handler's own validation.
func (s *Server) TrackRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.trackLimiter == nil || !s.trackLimiter.Enabled() {
			c.Next()
			return
		}

		tenantID := c.GetString("tenant_id")
		userID := c.GetString("user_id")
		if tenantID == "" || userID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()

		result, err := s.trackLimiter.Allow(ctx, tenantID, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("track rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("track rate limit exceeded", zap.String("endpoint", endpoint))
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, tenantID, endpoint, "user-rate")
			}
			c.Header("Retry-After", "1")
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, tenantID, endpoint)
		}
		c.Next()
	}
}
