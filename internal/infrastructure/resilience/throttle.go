package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle keeps one token-bucket limiter per key (provider name). Keys
// without a configured rate are not limited.
type Throttle struct {
	mu       sync.Mutex
	rates    map[string]rate.Limit
	limiters map[string]*rate.Limiter
}

func NewThrottle(perSecond map[string]float64) *Throttle {
	rates := make(map[string]rate.Limit, len(perSecond))
	for key, rps := range perSecond {
		if rps > 0 {
			rates[key] = rate.Limit(rps)
		}
	}
	return &Throttle{rates: rates, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until key may issue one request or ctx is done.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	if t == nil {
		return nil
	}
	limiter := t.limiter(key)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[key]; ok {
		return l
	}
	r, ok := t.rates[key]
	if !ok {
		return nil
	}
	l := rate.NewLimiter(r, 1)
	t.limiters[key] = l
	return l
}
