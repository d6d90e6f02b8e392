package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/pkg/db/pagination"
)

func (s *Server) ListPeriods(c *gin.Context) {
	tenantID, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "tenant id must be a valid identifier"))
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.periodSvc.List(c.Request.Context(), perioddomain.ListPeriodsRequest{
		TenantID:   tenantID,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
