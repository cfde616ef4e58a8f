package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"serialtrust/internal/domain"

	"github.com/gin-gonic/gin"
)

// enforceRateLimit charges one admission per request, keyed by the
// caller's address and the endpoint class. Chunked uploads pay per chunk
// request, so splitting a batch never multiplies the budget.
func (s *Server) enforceRateLimit(c *gin.Context, class domain.EndpointClass) bool {
	limit := s.rateLimits[class]
	if s.rateLimiter == nil || limit <= 0 {
		return true
	}
	key := fmt.Sprintf("ip:%s:class:%s", c.ClientIP(), class)

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, limit, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "THROTTLED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
