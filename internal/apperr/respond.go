package apperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Respond writes the failure body for err and aborts the chain.
func Respond(c *gin.Context, err error) {
	status := Status(err)
	body := gin.H{"status": false, "message": err.Error()}

	var ve *ValidationError
	if errors.As(err, &ve) {
		body["errors"] = ve.Errors
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

// Middleware converts errors pushed with c.Error into a failure response
// when the handler did not write one itself.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Respond(c, c.Errors.Last().Err)
	}
}
