package gradebook

import (
	"context"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

type timeoutGradebook struct {
	next    ports.Gradebook
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that bounds each push with timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next ports.Gradebook) ports.Gradebook {
		return &timeoutGradebook{
			next:    next,
			timeout: timeout,
		}
	}
}

// PushGradebookScore forwards the push with a deadline.
func (t *timeoutGradebook) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.PushGradebookScore(ctx, student, rawScore)
}
