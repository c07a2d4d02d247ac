package imagegen

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited paces calls to the wrapped Generator.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited wraps next so that at most one request starts per interval,
// with the given burst. A non-positive interval returns next unchanged.
func NewLimited(next Generator, interval time.Duration, burst int) Generator {
	if interval <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

func (l *Limited) Generate(ctx context.Context, req Request) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return l.next.Generate(ctx, req)
}
