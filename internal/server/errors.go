package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	billingdomain "github.com/metergate/metergate/internal/billing/domain"
	userdomain "github.com/metergate/metergate/internal/user/domain"
)

var (
	ErrMissingCredential    = errors.New("missing_credential")
	ErrInvalidCredential    = errors.New("invalid_credential")
	ErrSubscriptionRequired = errors.New("subscription_required")
	ErrRateLimited          = errors.New("rate_limit_exceeded")
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not_found")
	ErrServiceUnavailable   = errors.New("service_unavailable")
	ErrInternal             = errors.New("internal_error")
)

// Context keys for extra fields attached to rejection payloads.
const (
	ctxSubscriptionStatusKey = "reject_subscription_status"
	ctxRetryAfterKey         = "reject_retry_after"
)

type errorBody struct {
	Error              string `json:"error"`
	Message            string `json:"message"`
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
	RetryAfter         int    `json:"retryAfter,omitempty"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, body := mapError(lastErr.Err)

		if status == http.StatusForbidden {
			if v, ok := c.Get(ctxSubscriptionStatusKey); ok {
				if s, ok := v.(string); ok {
					body.SubscriptionStatus = s
				}
			}
		}
		if status == http.StatusTooManyRequests {
			if v, ok := c.Get(ctxRetryAfterKey); ok {
				if seconds, ok := v.(int); ok {
					body.RetryAfter = seconds
				}
			}
		}

		c.AbortWithStatusJSON(status, body)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorBody) {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return http.StatusUnauthorized, errorBody{
			Error:   "MissingCredential",
			Message: "API key required. Provide it via Authorization: Bearer, X-API-Key header, or api_key query parameter.",
		}
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized, errorBody{
			Error:   "InvalidCredential",
			Message: "invalid API key",
		}
	case errors.Is(err, ErrSubscriptionRequired):
		return http.StatusForbidden, errorBody{
			Error:   "SubscriptionRequired",
			Message: "an active subscription is required to access this endpoint",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorBody{
			Error:   "RateLimitExceeded",
			Message: "rate limit exceeded, retry later",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusBadRequest, errorBody{
			Error:   "InvalidRequest",
			Message: "invalid request",
		}
	case errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, billingdomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorBody{
			Error:   "WebhookVerificationFailure",
			Message: "webhook payload could not be verified",
		}
	case errors.Is(err, billingdomain.ErrNoSubscription):
		return http.StatusBadRequest, errorBody{
			Error:   "NoSubscription",
			Message: "no billing subscription on file",
		}
	case errors.Is(err, billingdomain.ErrNotConfigured):
		// Missing provider credentials are an operator problem, not a
		// caller problem.
		return http.StatusServiceUnavailable, errorBody{
			Error:   "BillingNotConfigured",
			Message: "billing provider is not configured",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorBody{
			Error:   "Conflict",
			Message: "resource already exists",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorBody{
			Error:   "NotFound",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorBody{
			Error:   "ServiceUnavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorBody{
			Error:   "InternalError",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, body := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", body.Error
	case status >= http.StatusBadRequest:
		return "client", body.Error
	default:
		return "", body.Error
	}
}
