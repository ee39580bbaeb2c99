package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Providers send multi-kilobyte payloads; anything beyond this is abuse.
const maxWebhookBody = 1 << 20

func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingEventSvc.IngestWebhook(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Processed, duplicate and ignored deliveries all acknowledge so the
	// provider stops redelivering.
	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  result.Outcome,
	})
}
