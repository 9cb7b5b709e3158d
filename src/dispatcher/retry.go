package dispatcher

import (
	"context"
	"time"
)

// Retry calls attempt up to max times, sleeping delay between tries, and stops at the first
// success. attempt receives the 1-based attempt number. The number of attempts made is returned.
func Retry(ctx context.Context, max int, delay time.Duration, attempt func(ctx context.Context, n int) (bool, error)) (ok bool, attempts int, lastErr error) {
	if max < 1 {
		max = 1
	}
	for n := 1; n <= max; n++ {
		attempts = n
		ok, lastErr = attempt(ctx, n)
		if ok {
			return true, attempts, nil
		}
		if n < max && delay > 0 {
			t := time.NewTimer(delay)
			<-t.C
		}
	}
	return false, attempts, lastErr
}
