package device

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits the bandwidth of another device. It is used to emulate
// slow media such as flash when benchmarking the cache.
type Throttled struct {
	inner   Device
	limiter *rate.Limiter
}

// NewThrottled wraps inner so that at most bytesPerSecond bytes are
// transferred per second, with bursts of up to burst bytes.
func NewThrottled(inner Device, bytesPerSecond, burst int) *Throttled {
	if burst <= 0 {
		burst = bytesPerSecond
	}

	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// ReadAt waits for enough bandwidth and then reads from the inner device.
func (t *Throttled) ReadAt(p []byte, off uint64) (int, error) {
	if err := t.wait(len(p)); err != nil {
		return 0, err
	}

	return t.inner.ReadAt(p, off)
}

// WriteAt waits for enough bandwidth and then writes to the inner device.
func (t *Throttled) WriteAt(p []byte, off uint64) (int, error) {
	if err := t.wait(len(p)); err != nil {
		return 0, err
	}

	return t.inner.WriteAt(p, off)
}

func (t *Throttled) wait(n int) error {
	burst := t.limiter.Burst()

	for n > 0 {
		chunk := min(n, burst)
		if err := t.limiter.WaitN(context.Background(), chunk); err != nil {
			return err
		}

		n -= chunk
	}

	return nil
}
