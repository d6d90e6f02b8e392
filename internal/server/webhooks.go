package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingeventdomain "github.com/sparlo/tokengate/internal/billingevent/domain"
)

// HandleBillingWebhook ingests provider lifecycle events. Signature
// verification happens upstream of this service; redelivered events are
// acknowledged as processed so the provider stops retrying.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var event billingeventdomain.LifecycleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	event.RawPayload = payload

	if err := s.eventSvc.Process(c.Request.Context(), event); err != nil {
		if errors.Is(err, billingeventdomain.ErrDuplicateEvent) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
