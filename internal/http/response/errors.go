package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
)

// RespondAppError maps a service-layer error onto the wire. Services wrap
// everything in apierr, so the status and code travel with the error; a bare
// error is a bug and reported as a 500.
func RespondAppError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		RespondError(c, status, ae.Code, ae)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
