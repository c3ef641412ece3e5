package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// parseRange reads optional from/to query parameters (RFC 3339 or
// YYYY-MM-DD), defaulting to the trailing 30 days.
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		parsed, ok := parseTimestamp(raw)
		if !ok {
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		parsed, ok := parseTimestamp(raw)
		if !ok {
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseTimestamp(raw string) (time.Time, bool) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), true
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

func (s *Server) UsageSummary(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	from, to, ok := parseRange(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	summary, err := s.usageSvc.SummaryRange(c.Request.Context(), record.UserID, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":    from.Format(time.RFC3339),
		"to":      to.Format(time.RFC3339),
		"summary": summary,
	})
}

func (s *Server) UsageByEndpoint(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	from, to, ok := parseRange(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	stats, err := s.usageSvc.StatsByEndpoint(c.Request.Context(), record.UserID, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoints": stats})
}

func (s *Server) UsageDaily(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	days := 30
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		days = parsed
	}

	counts, err := s.usageSvc.DailyCounts(c.Request.Context(), record.UserID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days, "daily": counts})
}

func (s *Server) UsageCurrentMonth(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	total, err := s.usageSvc.CurrentMonthTotal(c.Request.Context(), record.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"total_calls": total})
}
