package gradebook

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// rateLimitedGradebook paces pushes with a token bucket so that cohort
// recomputes do not flood the grade-book ledger.
type rateLimitedGradebook struct {
	next    ports.Gradebook
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket algorithm. The limit parameter sets pushes per second, while
// burst allows temporary spikes above the sustained rate.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next ports.Gradebook) ports.Gradebook {
		return &rateLimitedGradebook{
			next:    next,
			limiter: limiter,
		}
	}
}

// PushGradebookScore waits for rate limit permission before forwarding the
// push. It blocks until a token is available or ctx is done.
func (r *rateLimitedGradebook) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return r.next.PushGradebookScore(ctx, student, rawScore)
}
