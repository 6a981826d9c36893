// Package middleware contains Gin middleware for the broker's HTTP front.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID honors an inbound X-Correlation-ID or mints one, echoes it
// on the response, and threads it through the request context so every log
// line in the handler chain carries it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Request = c.Request.WithContext(
			logging.WithCorrelationID(c.Request.Context(), correlationID))

		c.Next()
	}
}
