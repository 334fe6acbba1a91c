package outbound

import "time"

// BackoffConfig defines retry spacing for unacknowledged messages.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines queue pacing and delivery defaults.
type Config struct {
	// SendInterval is the minimum spacing between any two transmissions.
	SendInterval time.Duration
	// RetryInterval is the minimum wait before an unacknowledged message is resent.
	RetryInterval time.Duration
	// OrphanTimeout bounds how long a message may await an ack.
	OrphanTimeout time.Duration
	SweepInterval time.Duration

	ChannelMaxAttempts int
	DirectMaxAttempts  int

	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		SendInterval:       30 * time.Second,
		RetryInterval:      30 * time.Second,
		OrphanTimeout:      5 * time.Minute,
		SweepInterval:      60 * time.Second,
		ChannelMaxAttempts: 1,
		DirectMaxAttempts:  3,
		Backoff: BackoffConfig{
			InitialDelay: 30 * time.Second,
			Multiplier:   1.0,
			MaxDelay:     5 * time.Minute,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SendInterval <= 0 {
		c.SendInterval = def.SendInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.OrphanTimeout <= 0 {
		c.OrphanTimeout = def.OrphanTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.ChannelMaxAttempts <= 0 {
		c.ChannelMaxAttempts = def.ChannelMaxAttempts
	}
	if c.DirectMaxAttempts <= 0 {
		c.DirectMaxAttempts = def.DirectMaxAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = c.RetryInterval
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	return c
}
