package resilience

import (
	"time"

	"github.com/lucy-a11y/shuffle/internal/config"
)

// PolicyFromConfig converts retry settings, keeping defaults for zero values.
func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		p.JitterFraction = c.JitterFraction
	}
	return p
}

// BreakerFromConfig converts CRM breaker settings.
func BreakerFromConfig(c config.CRMConfig) BreakerConfig {
	b := DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		b.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		b.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return b
}
