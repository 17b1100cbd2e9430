package broker

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Binding keys understood by PullBackend.
const (
	BindingWaitTime       = "consumer_wait_time"
	BindingAckMessages    = "consumer_ack_messages"
	BindingAckTimeout     = "consumer_ack_timeout"
	BindingAckRetries     = "consumer_ack_retries"
	BindingMaxWorkers     = "consumer_max_workers"
	BindingPullTimeout    = "consumer_pull_message_timeout"
	BindingPullRetries    = "consumer_pull_message_retries"
	BindingSettleTime     = "consumer_settle_time"
	BindingPublishTimeout = "publish_timeout"
	BindingPublishRetries = "publish_retries"
)

var truthy = map[string]bool{"1": true, "true": true, "t": true, "True": true, "y": true, "yes": true}

// PullConfig tunes the polling engine. Durations are given in (fractional) seconds in bindings.
type PullConfig struct {
	// WaitTime is the sleep between empty polls.
	WaitTime time.Duration
	// AckMessages acknowledges messages as soon as they are pulled instead of deferring the
	// acknowledgment to the consumer through the event context.
	AckMessages    bool
	AckTimeout     time.Duration
	AckRetries     int
	MaxWorkers     int
	PullTimeout    time.Duration
	PullRetries    int
	SettleTime     time.Duration
	PublishTimeout time.Duration
	PublishRetries int
}

func DefaultPullConfig() PullConfig {
	return PullConfig{
		WaitTime:       time.Second,
		AckTimeout:     5 * time.Second,
		AckRetries:     3,
		MaxWorkers:     10,
		PullTimeout:    time.Second,
		PullRetries:    3,
		PublishTimeout: 5 * time.Second,
		PublishRetries: 3,
	}
}

// ParsePullConfig reads the pull bindings, leaving defaults in place for absent keys.
// Unknown keys are ignored.
func ParsePullConfig(bindings map[string]string) (PullConfig, error) {
	cfg := DefaultPullConfig()

	durations := map[string]*time.Duration{
		BindingWaitTime:       &cfg.WaitTime,
		BindingAckTimeout:     &cfg.AckTimeout,
		BindingPullTimeout:    &cfg.PullTimeout,
		BindingSettleTime:     &cfg.SettleTime,
		BindingPublishTimeout: &cfg.PublishTimeout,
	}
	for key, target := range durations {
		raw, ok := bindings[key]
		if !ok {
			continue
		}
		secs, err := cast.ToFloat64E(raw)
		if err != nil || secs < 0 {
			return PullConfig{}, fmt.Errorf("invalid %s %q: expected non-negative seconds", key, raw)
		}
		*target = time.Duration(secs * float64(time.Second))
	}

	counts := map[string]*int{
		BindingAckRetries:     &cfg.AckRetries,
		BindingMaxWorkers:     &cfg.MaxWorkers,
		BindingPullRetries:    &cfg.PullRetries,
		BindingPublishRetries: &cfg.PublishRetries,
	}
	for key, target := range counts {
		raw, ok := bindings[key]
		if !ok {
			continue
		}
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 {
			return PullConfig{}, fmt.Errorf("invalid %s %q: expected a non-negative integer", key, raw)
		}
		*target = n
	}

	if raw, ok := bindings[BindingAckMessages]; ok {
		cfg.AckMessages = truthy[raw]
	}

	cfg.normalize()
	return cfg, nil
}

// IsPullBinding reports whether key is consumed by ParsePullConfig.
func IsPullBinding(key string) bool {
	switch key {
	case BindingWaitTime, BindingAckMessages, BindingAckTimeout, BindingAckRetries, BindingMaxWorkers,
		BindingPullTimeout, BindingPullRetries, BindingSettleTime, BindingPublishTimeout, BindingPublishRetries:
		return true
	}
	return false
}

// normalize replaces values the engine cannot run with by their defaults. A zero wait time is kept
// and makes an idle poll loop retry immediately.
func (c *PullConfig) normalize() {
	def := DefaultPullConfig()
	if c.WaitTime < 0 {
		c.WaitTime = def.WaitTime
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = def.PullTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.SettleTime < 0 {
		c.SettleTime = 0
	}
	c.AckRetries = max(c.AckRetries, 1)
	c.PullRetries = max(c.PullRetries, 1)
	c.PublishRetries = max(c.PublishRetries, 1)
	c.MaxWorkers = max(c.MaxWorkers, 1)
}
