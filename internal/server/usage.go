package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
)

type recordUsageRequest struct {
	TenantID        string `json:"tenant_id" binding:"required"`
	Tokens          int64  `json:"tokens"`
	BillableReport  bool   `json:"billable_report"`
	EmbeddingTokens bool   `json:"embedding_tokens"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, err := snowflake.ParseString(req.TenantID)
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "tenant id must be a valid identifier"))
		return
	}

	snapshot, err := s.periodSvc.RecordUsage(c.Request.Context(), perioddomain.RecordUsageRequest{
		TenantID:        tenantID,
		Tokens:          req.Tokens,
		BillableReport:  req.BillableReport,
		EmbeddingTokens: req.EmbeddingTokens,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
