package stage

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
)

// Throttle admits at most eventsPerSecond events with the given burst,
// blocking the pipeline when the budget is spent. Because streams are
// pull-based, blocking here is backpressure: upstream production
// suspends until capacity frees. Cancellation unblocks with the
// context's error.
func Throttle(eventsPerSecond float64, burst int) pipeline.Stage {
	lim := rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
		return e, nil
	})
}
