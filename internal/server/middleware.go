package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	"github.com/metergate/metergate/internal/observability/logger"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
)

const contextAuthRecordKey = "auth_record"

// extractAPIKey finds the candidate credential, in priority order:
// Authorization bearer, X-API-Key header, api_key query parameter.
func extractAPIKey(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("api_key"))
}

// APIKeyRequired authenticates the request with an API key and stores
// the resolved auth record on the context. A miss and a revoked key are
// indistinguishable to the caller.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractAPIKey(c)
		if raw == "" {
			s.denied(c, "MissingCredential")
			AbortWithError(c, ErrMissingCredential)
			return
		}

		record, err := s.apiKeySvc.Validate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if record == nil {
			s.denied(c, "InvalidCredential")
			AbortWithError(c, ErrInvalidCredential)
			return
		}

		c.Set(contextAuthRecordKey, record)
		c.Next()
	}
}

// SubscriptionRequired gates metered endpoints on the owner's
// subscription status. past_due is still allowed as a grace period.
func (s *Server) SubscriptionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		record := s.authRecord(c)
		if record == nil {
			AbortWithError(c, ErrInvalidCredential)
			return
		}

		if !record.SubscriptionStatus.AllowsAPIAccess() {
			s.denied(c, "SubscriptionRequired")
			c.Set(ctxSubscriptionStatusKey, string(record.SubscriptionStatus))
			AbortWithError(c, ErrSubscriptionRequired)
			return
		}

		c.Next()
	}
}

// UserRateLimit applies the per-user fixed window. Quota headers are
// set on every response; the offending request still consumed a slot.
func (s *Server) UserRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		record := s.authRecord(c)
		if record == nil {
			AbortWithError(c, ErrInvalidCredential)
			return
		}

		result, err := s.limiter.Allow(c.Request.Context(), record.UserID.String())
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Set(ctxRetryAfterKey, retryAfter)
			s.denied(c, "RateLimitExceeded")
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.allowed(c)
		c.Next()
	}
}

// TrackUsage records the completed call after the handler ran. It
// never blocks or fails the response.
func (s *Server) TrackUsage() gin.HandlerFunc {
	return func(c *gin.Context) {
		record := s.authRecord(c)
		if record == nil {
			AbortWithError(c, ErrInvalidCredential)
			return
		}

		start := time.Now()
		c.Next()

		s.usageSvc.TrackRequest(c.Request.Context(), usagedomain.CallRecord{
			UserID:     record.UserID,
			APIKeyID:   record.KeyID,
			Endpoint:   c.Request.URL.Path,
			Method:     c.Request.Method,
			StatusCode: c.Writer.Status(),
			Latency:    time.Since(start),
		})
	}
}

func (s *Server) authRecord(c *gin.Context) *apikeydomain.AuthRecord {
	value, ok := c.Get(contextAuthRecordKey)
	if !ok {
		return nil
	}
	record, ok := value.(*apikeydomain.AuthRecord)
	if !ok {
		return nil
	}
	return record
}

func (s *Server) denied(c *gin.Context, reason string) {
	s.obsMetrics.IncRequestDenied(routeOf(c), reason)
}

func (s *Server) allowed(c *gin.Context) {
	s.obsMetrics.IncRequestAllowed(routeOf(c))
}

func routeOf(c *gin.Context) string {
	route := strings.TrimSpace(c.FullPath())
	if route == "" {
		route = "unknown"
	}
	return route
}
