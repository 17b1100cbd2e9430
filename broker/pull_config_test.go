package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePullConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParsePullConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultPullConfig(), cfg)
		assert.Equal(t, time.Second, cfg.WaitTime)
		assert.False(t, cfg.AckMessages)
		assert.Equal(t, 5*time.Second, cfg.AckTimeout)
		assert.Equal(t, 3, cfg.AckRetries)
		assert.Equal(t, 10, cfg.MaxWorkers)
		assert.Equal(t, time.Second, cfg.PullTimeout)
		assert.Equal(t, 3, cfg.PullRetries)
		assert.Equal(t, 5*time.Second, cfg.PublishTimeout)
		assert.Equal(t, 3, cfg.PublishRetries)
		assert.Zero(t, cfg.SettleTime)
	})

	t.Run("all bindings", func(t *testing.T) {
		cfg, err := ParsePullConfig(map[string]string{
			BindingWaitTime:       "0.25",
			BindingAckMessages:    "yes",
			BindingAckTimeout:     "2",
			BindingAckRetries:     "4",
			BindingMaxWorkers:     "16",
			BindingPullTimeout:    "1.5",
			BindingPullRetries:    "2",
			BindingSettleTime:     "0.01",
			BindingPublishTimeout: "3",
			BindingPublishRetries: "7",
			"stream":              "ignored",
		})
		require.NoError(t, err)
		assert.Equal(t, PullConfig{
			WaitTime:       250 * time.Millisecond,
			AckMessages:    true,
			AckTimeout:     2 * time.Second,
			AckRetries:     4,
			MaxWorkers:     16,
			PullTimeout:    1500 * time.Millisecond,
			PullRetries:    2,
			SettleTime:     10 * time.Millisecond,
			PublishTimeout: 3 * time.Second,
			PublishRetries: 7,
		}, cfg)
	})

	t.Run("truthy values", func(t *testing.T) {
		for _, v := range []string{"1", "true", "t", "True", "y", "yes"} {
			cfg, err := ParsePullConfig(map[string]string{BindingAckMessages: v})
			require.NoError(t, err)
			assert.True(t, cfg.AckMessages, v)
		}
		for _, v := range []string{"0", "false", "no", "TRUE", ""} {
			cfg, err := ParsePullConfig(map[string]string{BindingAckMessages: v})
			require.NoError(t, err)
			assert.False(t, cfg.AckMessages, v)
		}
	})

	t.Run("malformed values", func(t *testing.T) {
		for key, value := range map[string]string{
			BindingWaitTime:       "soon",
			BindingPublishRetries: "many",
			BindingAckTimeout:     "-1",
			BindingMaxWorkers:     "-2",
		} {
			_, err := ParsePullConfig(map[string]string{key: value})
			require.Error(t, err, key)
			assert.Contains(t, err.Error(), key)
		}
	})

	t.Run("resets negative durations", func(t *testing.T) {
		cfg := PullConfig{WaitTime: -time.Second, AckTimeout: -time.Second, SettleTime: -time.Second}
		cfg.normalize()
		assert.Equal(t, time.Second, cfg.WaitTime)
		assert.Equal(t, 5*time.Second, cfg.AckTimeout)
		assert.Zero(t, cfg.SettleTime)
	})

	t.Run("normalizes unusable values", func(t *testing.T) {
		cfg, err := ParsePullConfig(map[string]string{
			BindingWaitTime:       "0",
			BindingPublishRetries: "0",
			BindingMaxWorkers:     "0",
		})
		require.NoError(t, err)
		assert.Zero(t, cfg.WaitTime)
		assert.Equal(t, 1, cfg.PublishRetries)
		assert.Equal(t, 1, cfg.MaxWorkers)
	})
}

func TestIsPullBinding(t *testing.T) {
	assert.True(t, IsPullBinding(BindingPublishRetries))
	assert.True(t, IsPullBinding("consumer_ack_messages"))
	assert.False(t, IsPullBinding("sslmode"))
}
