package download

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const (
	minBurst = 1024
	maxBurst = 64 * 1024
)

// newLimiter returns the engine-wide limiter for kbps; kbps <= 0 is
// unlimited.
func newLimiter(kbps float64) *rate.Limiter {
	limiter := rate.NewLimiter(rate.Inf, maxBurst)
	applyLimit(limiter, kbps)
	return limiter
}

func applyLimit(limiter *rate.Limiter, kbps float64) {
	if kbps <= 0 {
		limiter.SetLimit(rate.Inf)
		limiter.SetBurst(maxBurst)
		return
	}
	bytesPerSec := kbps * 1024
	limiter.SetLimit(rate.Limit(bytesPerSec))
	limiter.SetBurst(min(max(int(bytesPerSec/4), minBurst), maxBurst))
}

// throttledReader paces reads through a shared limiter, so the limit
// applies to all transfers together.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if t.limiter.Limit() == rate.Inf {
		return t.r.Read(p)
	}

	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)

	// the burst may shrink between reads when the limit changes
	for remaining := n; remaining > 0; {
		chunk := min(remaining, t.limiter.Burst())
		if waitErr := t.limiter.WaitN(t.ctx, chunk); waitErr != nil {
			return n, waitErr
		}
		remaining -= chunk
	}
	return n, err
}
