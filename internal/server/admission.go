package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type checkAdmissionRequest struct {
	TenantID        string `json:"tenant_id" binding:"required"`
	EstimatedTokens int64  `json:"estimated_tokens"`
}

func (s *Server) CheckAdmission(c *gin.Context) {
	var req checkAdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, err := snowflake.ParseString(req.TenantID)
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "tenant id must be a valid identifier"))
		return
	}

	decision, err := s.admissionSvc.Check(c.Request.Context(), tenantID, req.EstimatedTokens)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
