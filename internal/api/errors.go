package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

// writeError maps a session.Error's code onto an HTTP status and
// writes a {"error": "..."} body.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case session.IsCode(err, session.CodeInvalidInput),
		session.IsCode(err, session.CodeInvalidWorkingDir):
		status = http.StatusBadRequest
	case session.IsCode(err, session.CodeSessionNotFound),
		session.IsCode(err, session.CodeSessionPathsMissing):
		status = http.StatusNotFound
	case session.IsCode(err, session.CodeDuplicateRemote):
		status = http.StatusConflict
	case session.IsCode(err, session.CodeNoSocketConnection):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
