package dispatcher

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// throttleChunkBytes is the smoothing granularity spec.md §4.3 step 7
// names: non-live throttling is applied "smoothed per 128 KiB chunks".
const throttleChunkBytes = 128 * 1024

// throttledBody wraps an upstream body in a token-bucket rate limiter so
// non-live items are delivered no faster than the configured kbps.
type throttledBody struct {
	ctx     context.Context
	body    io.ReadCloser
	limiter *rate.Limiter
}

// newThrottledBody returns body unchanged if kbps <= 0 (throttling
// disabled), otherwise wraps it with a limiter burst-sized to one smoothing
// chunk.
func newThrottledBody(ctx context.Context, body io.ReadCloser, kbps int) io.ReadCloser {
	if kbps <= 0 {
		return body
	}
	bytesPerSecond := float64(kbps) * 1000 / 8
	lim := rate.NewLimiter(rate.Limit(bytesPerSecond), throttleChunkBytes)
	return &throttledBody{ctx: ctx, body: body, limiter: lim}
}

func (t *throttledBody) Read(p []byte) (int, error) {
	if len(p) > throttleChunkBytes {
		p = p[:throttleChunkBytes]
	}
	n, err := t.body.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (t *throttledBody) Close() error { return t.body.Close() }
