package digs

import (
	"context"
	"math/rand"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// jitterRNG is the random source used for sleep jitter. Seeded once at
// process start; tests can override it with SetJitterRNG for determinism.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for sleep jitter.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Retry executes task with Fibonacci backoff, retrying up to 5 times (6
// attempts in all) while task fails with a Transient-classified error (see
// ShouldRetry); any other error ends the loop at once. If task still fails
// when the loop ends, gaveUpTask runs (if non-nil) before the final error
// is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	}); err != nil {
		log.Warn("retry exhausted, giving up", "error", err)
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err is worth retrying, i.e. it classifies as
// Transient rather than a permanent condition.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	code := ClassifyBackendError(err)
	return code == Transient
}

// Sleep blocks for the specified duration or until ctx is done, whichever
// happens first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	<-t.Done()
}

// RandomSleepWithUnit sleeps a random multiple (1..4) of unit, used to
// jitter conflicting clients (e.g. two puts racing for the same inbox slot)
// and reduce contention.
func RandomSleepWithUnit(ctx context.Context, unit time.Duration) {
	multiplier := time.Duration(jitterRNG.Intn(5))
	if multiplier == 0 {
		multiplier = 1
	}
	d := multiplier * unit
	log.Debug("sleep jitter", "multiplier", multiplier, "unit", unit, "duration", d)
	Sleep(ctx, d)
}

// RandomSleep sleeps a random duration between 20ms and 80ms.
func RandomSleep(ctx context.Context) {
	RandomSleepWithUnit(ctx, 20*time.Millisecond)
}
