package mover

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// throttleBurst bounds a single read so that it never exceeds the limiter's burst.
const throttleBurst = 64 * 1024

// NewBandwidthLimiter returns a limiter for kbps KiB/s, or nil for no limit.
func NewBandwidthLimiter(kbps int) *rate.Limiter {
	if kbps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(kbps*1024), throttleBurst)
}

// throttledReader waits on a shared limiter for every chunk it hands out.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// throttle wraps r so reads are paced by limiter. A nil limiter returns r unchanged.
func throttle(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > throttleBurst {
		p = p[:throttleBurst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
