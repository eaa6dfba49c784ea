package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/retry"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := retry.BackoffPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}

	// Jitter of 0.5 yields exactly the nominal delay, making the doubling
	// sequence directly observable.
	const nominal = 0.5

	t.Run("Delays double per attempt until the clamp", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, policy.Delay(1, nominal))
		assert.Equal(t, 200*time.Millisecond, policy.Delay(2, nominal))
		assert.Equal(t, 400*time.Millisecond, policy.Delay(3, nominal))
		assert.Equal(t, 800*time.Millisecond, policy.Delay(4, nominal))
		assert.Equal(t, 1600*time.Millisecond, policy.Delay(5, nominal))
	})

	t.Run("Delay is clamped at the maximum", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, policy.Delay(6, nominal))
		assert.Equal(t, 2*time.Second, policy.Delay(20, nominal), "Large attempt numbers must not overflow past the clamp")
	})

	t.Run("Jitter scales within half to one-and-a-half of nominal", func(t *testing.T) {
		low := policy.Delay(2, 0)
		high := policy.Delay(2, 0.999)

		assert.Equal(t, 100*time.Millisecond, low, "Jitter 0 should halve the nominal delay")
		assert.Greater(t, high, 290*time.Millisecond)
		assert.Less(t, high, 300*time.Millisecond)
	})

	t.Run("Attempt numbers below one are treated as the first attempt", func(t *testing.T) {
		assert.Equal(t, policy.Delay(1, nominal), policy.Delay(0, nominal))
		assert.Equal(t, policy.Delay(1, nominal), policy.Delay(-3, nominal))
	})
}

func TestBackoffPolicy_Validate(t *testing.T) {
	t.Run("Valid policy passes", func(t *testing.T) {
		policy := retry.BackoffPolicy{BaseDelay: time.Second, MaxDelay: time.Minute}
		require.NoError(t, policy.Validate())
	})

	t.Run("Zero base delay fails", func(t *testing.T) {
		policy := retry.BackoffPolicy{MaxDelay: time.Minute}
		require.Error(t, policy.Validate())
	})

	t.Run("Max delay below base delay fails", func(t *testing.T) {
		policy := retry.BackoffPolicy{BaseDelay: time.Minute, MaxDelay: time.Second}
		require.Error(t, policy.Validate())
	})
}
