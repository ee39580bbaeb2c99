package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.catalog.List()})
}
