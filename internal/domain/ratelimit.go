package domain

import (
	"context"
	"time"
)

// EndpointClass selects a rate ceiling. Read traffic tolerates a higher
// ceiling than writes; registration is the strictest. Admission is charged
// per request so chunking a batch cannot multiply the budget.
type EndpointClass string

const (
	EndpointClassRead     EndpointClass = "read"
	EndpointClassWrite    EndpointClass = "write"
	EndpointClassRegister EndpointClass = "register"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
