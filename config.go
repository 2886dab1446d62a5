package sessguard

import (
	"errors"
	"time"

	"github.com/sessguard/sessguard/activity"
	"github.com/sessguard/sessguard/throttle"
)

// Config collects every policy knob of the guard. Zero values are
// filled from defaultConfig by the builder, so callers only set what
// they want to change.
type Config struct {
	Throttle throttle.Config
	Activity activity.Config
	Login    LoginConfig
	Refresh  RefreshConfig
	Codec    CodecConfig
	Identity IdentityConfig
	Audit    AuditConfig
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig shapes the sign-in path.
type LoginConfig struct {
	// DelayPerAttempt is multiplied by the current failure count to
	// slow repeated attempts before the throttle blocks them.
	DelayPerAttempt time.Duration
	// MaxDelay caps the progressive delay.
	MaxDelay time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig shapes the background token refresh loop.
type RefreshConfig struct {
	// CheckInterval is how often the loop inspects the token.
	CheckInterval time.Duration
	// ExpiryWindow is how close to expiry the token must be before a
	// refresh is attempted.
	ExpiryWindow time.Duration
	// RetryInterval is the initial backoff applied when the provider
	// is unreachable during a refresh.
	RetryInterval time.Duration
	// MaxRetryElapsed bounds the retry backoff. Once exceeded the
	// session is terminated.
	MaxRetryElapsed time.Duration
}

/*
====================================
CODEC CONFIG
====================================
*/

// CodecConfig configures session obfuscation. Pad must be non-empty
// and stable across runs; changing it invalidates stored sessions.
type CodecConfig struct {
	Pad []byte
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig points the guard at the identity provider. BaseURL
// is only required when no custom client is injected.
type IdentityConfig struct {
	BaseURL string
	// SystemID identifies the calling system to the provider.
	SystemID string
	// InstanceID identifies this installation. Generated per process
	// when empty.
	InstanceID string
}

// AuditConfig shapes the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Throttle: throttle.DefaultConfig(),
		Activity: activity.DefaultConfig(),
		Login: LoginConfig{
			DelayPerAttempt: time.Second,
			MaxDelay:        5 * time.Second,
		},
		Refresh: RefreshConfig{
			CheckInterval:   30 * time.Second,
			ExpiryWindow:    10 * time.Minute,
			RetryInterval:   2 * time.Second,
			MaxRetryElapsed: 20 * time.Second,
		},
		Codec: CodecConfig{
			Pad: []byte("sessguard-default-pad"),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate checks the configuration for contradictions. The builder
// calls it before constructing the guard.
func (c Config) Validate() error {
	if err := c.Throttle.Validate(); err != nil {
		return err
	}
	if err := c.Activity.Validate(); err != nil {
		return err
	}
	if c.Login.DelayPerAttempt < 0 || c.Login.MaxDelay < 0 {
		return errors.New("login delays must not be negative")
	}
	if c.Login.DelayPerAttempt > c.Login.MaxDelay {
		return errors.New("login delay per attempt exceeds the delay cap")
	}
	if c.Refresh.CheckInterval <= 0 {
		return errors.New("refresh check interval must be positive")
	}
	if c.Refresh.ExpiryWindow <= 0 {
		return errors.New("refresh expiry window must be positive")
	}
	if c.Refresh.RetryInterval <= 0 || c.Refresh.MaxRetryElapsed < c.Refresh.RetryInterval {
		return errors.New("refresh retry bounds are inconsistent")
	}
	if len(c.Codec.Pad) == 0 {
		return errors.New("codec pad must not be empty")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive when audit is enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Throttle.Escalation = append([]time.Duration(nil), cfg.Throttle.Escalation...)
	out.Codec.Pad = cloneBytes(cfg.Codec.Pad)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
