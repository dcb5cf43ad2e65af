package response

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/services"
)

// FromError translates a service error into one of the fixed user-facing
// categories. Client-caused failures (4xx) keep the message the service
// authored; server-side failures collapse to a generic retry message so
// driver and upstream detail never reaches the response body.
func FromError(c *gin.Context, err error) {
	if err == nil {
		RespondOK(c, gin.H{"ok": true})
		return
	}

	var quota *services.QuotaExceededError
	if errors.As(err, &quota) {
		resetAt := quota.ResetAt.UTC()
		if wait := time.Until(resetAt); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
		c.JSON(http.StatusTooManyRequests, ErrorEnvelope{
			Error: APIError{
				Message: "daily limit reached",
				Code:    string(aggregates.CodeQuotaExceeded),
				Details: map[string]any{
					"limit":    quota.Limit,
					"used":     quota.Used,
					"reset_at": resetAt.Format(time.RFC3339),
				},
			},
		})
		return
	}

	code := aggregates.CodeOf(err)
	switch code {
	case aggregates.CodeValidation:
		respondCategory(c, http.StatusBadRequest, code, err, "invalid input")
	case aggregates.CodeNotFound:
		respondCategory(c, http.StatusNotFound, code, err, "not found")
	case aggregates.CodeConflict:
		respondCategory(c, http.StatusConflict, code, err, "conflict, please retry")
	case aggregates.CodeInvariantViolation:
		respondCategory(c, http.StatusUnprocessableEntity, code, err, "invalid input")
	case aggregates.CodePreconditionFailed:
		respondCategory(c, http.StatusForbidden, code, err, "not allowed")
	case aggregates.CodeQuotaExceeded:
		respondCategory(c, http.StatusTooManyRequests, code, err, "daily limit reached")
	case aggregates.CodeUnavailable:
		respondGeneric(c, http.StatusServiceUnavailable, code, "temporarily unavailable, try again later")
	case aggregates.CodeTimeout:
		respondGeneric(c, http.StatusGatewayTimeout, code, "request timed out, try again later")
	case aggregates.CodeRetryable:
		respondGeneric(c, http.StatusServiceUnavailable, code, "temporary failure, try again later")
	default:
		respondGeneric(c, http.StatusInternalServerError, aggregates.CodeInternal, "something went wrong, try again later")
	}
}

// respondCategory surfaces the authored message of a typed error. These are
// written for end users; causes are still dropped.
func respondCategory(c *gin.Context, status int, code aggregates.ErrorCode, err error, fallback string) {
	msg := fallback
	var ae *aggregates.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: string(code)}})
}

func respondGeneric(c *gin.Context, status int, code aggregates.ErrorCode, msg string) {
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: string(code)}})
}
