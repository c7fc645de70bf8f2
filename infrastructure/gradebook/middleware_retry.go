package gradebook

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// retryGradebook retries failed pushes with exponential backoff.
// Rejections and open circuits are permanent and are not retried.
type retryGradebook struct {
	next       ports.Gradebook
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed pushes up to
// maxRetries times with jittered exponential backoff.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next ports.Gradebook) ports.Gradebook {
		return &retryGradebook{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// PushGradebookScore executes the push with automatic retry logic.
func (r *retryGradebook) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.next.PushGradebookScore(ctx, student, rawScore)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ports.ErrGradebookRejected) || ctx.Err() != nil {
			return err
		}
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return fmt.Errorf("push failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryGradebook) calculateDelay(attempt int) time.Duration {
	attempt = max(0, min(attempt, 30))
	delay := r.baseDelay << attempt

	// Jitter of ±25%.
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - delay/4

	if r.maxDelay > 0 && delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}
