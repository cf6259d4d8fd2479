package resilience

import "time"

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// InferenceConfig suits long vision-model calls: one retry only, since each
// attempt can take most of the inference timeout.
func InferenceConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 2
	cfg.RetryInitialBackoff = 250 * time.Millisecond
	cfg.RetryMaxBackoff = time.Second
	cfg.BreakerMinRequests = 5
	cfg.BreakerOpenTimeout = 20 * time.Second
	return cfg
}

// EmbeddingConfig suits short embedding calls on the best-effort path.
func EmbeddingConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 2
	cfg.BreakerOpenTimeout = 10 * time.Second
	return cfg
}

// QueueConfig suits broker publishes: quick retries while the client reconnects.
func QueueConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 4
	cfg.RetryInitialBackoff = 50 * time.Millisecond
	cfg.RetryMaxBackoff = 500 * time.Millisecond
	return cfg
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	orDefault(&c.RetryMaxAttempts, def.RetryMaxAttempts)
	orDefault(&c.RetryInitialBackoff, def.RetryInitialBackoff)
	orDefault(&c.RetryMaxBackoff, def.RetryMaxBackoff)
	c.RetryMaxBackoff = max(c.RetryMaxBackoff, c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	orDefault(&c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	orDefault(&c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	orDefault(&c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return c
}

func orDefault[T int | uint32 | time.Duration](v *T, def T) {
	if *v <= 0 {
		*v = def
	}
}
