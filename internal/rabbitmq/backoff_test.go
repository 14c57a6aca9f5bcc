package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Run("delay grows exponentially without jitter", func(t *testing.T) {
		policy := RetryPolicy{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			Jitter:       false,
		}

		assert.Equal(t, 1*time.Second, policy.Delay(0))
		assert.Equal(t, 2*time.Second, policy.Delay(1))
		assert.Equal(t, 4*time.Second, policy.Delay(2))
		assert.Equal(t, 8*time.Second, policy.Delay(3))
	})

	t.Run("delay is clamped to max", func(t *testing.T) {
		policy := RetryPolicy{
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       false,
		}

		assert.Equal(t, 5*time.Second, policy.Delay(10))
		assert.Equal(t, 5*time.Second, policy.Delay(60))
	})

	t.Run("delay stays within bounds for all attempts", func(t *testing.T) {
		policy := RetryPolicy{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}

		for attempt := 0; attempt < 100; attempt++ {
			d := policy.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, policy.MaxDelay)
		}
	})

	t.Run("jitter perturbs within 25 percent of base", func(t *testing.T) {
		policy := RetryPolicy{
			InitialDelay: time.Second,
			MaxDelay:     time.Hour,
			Multiplier:   2.0,
			Jitter:       true,
		}

		for attempt := 0; attempt < 5; attempt++ {
			base := time.Duration(float64(time.Second) * pow2(attempt))
			for i := 0; i < 50; i++ {
				d := policy.Delay(attempt)
				assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
				assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
			}
		}
	})
}

func pow2(n int) float64 {
	f := 1.0
	for i := 0; i < n; i++ {
		f *= 2
	}
	return f
}

func TestRetryPolicyExhausted(t *testing.T) {
	t.Run("zero max attempts means unbounded", func(t *testing.T) {
		policy := RetryPolicy{MaxAttempts: 0}
		assert.False(t, policy.Exhausted(0))
		assert.False(t, policy.Exhausted(1000000))
	})

	t.Run("bounded policy exhausts at max", func(t *testing.T) {
		policy := RetryPolicy{MaxAttempts: 3}
		assert.False(t, policy.Exhausted(0))
		assert.False(t, policy.Exhausted(2))
		assert.True(t, policy.Exhausted(3))
		assert.True(t, policy.Exhausted(4))
	})
}
