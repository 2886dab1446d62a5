package sessguard

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/activity"
	"github.com/sessguard/sessguard/codec"
	"github.com/sessguard/sessguard/identity"
	"github.com/sessguard/sessguard/session"
	"github.com/sessguard/sessguard/storage"
	"github.com/sessguard/sessguard/throttle"
	"github.com/sessguard/sessguard/token"
)

// Builder assembles a Guard. A Builder is single-use: Build fails on
// the second call.
type Builder struct {
	config Config

	store    storage.Store
	redis    redis.UniversalClient
	identity identity.Client
	notifier Notifier
	sink     AuditSink
	logger   zerolog.Logger
	hasLog   bool

	built bool
}

// New returns a Builder preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage sets the backing store for throttle and session state.
// Defaults to an in-process store.
func (b *Builder) WithStorage(store storage.Store) *Builder {
	b.store = store
	return b
}

// WithRedis backs throttle and session state with Redis so state is
// shared across processes. Overrides WithStorage.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityClient injects the identity provider client. When
// omitted, an HTTP client is built from Config.Identity.BaseURL.
func (b *Builder) WithIdentityClient(client identity.Client) *Builder {
	b.identity = client
	return b
}

// WithNotifier sets the alert surface for lockout, idle, and
// integrity notifications.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to a disabled
// logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.hasLog = true
	return b
}

// Build validates the configuration and wires the guard together.
// Attempt records left over from earlier runs of a shared store are
// purged here.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if !b.hasLog {
		logger = zerolog.Nop()
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = NoOpNotifier{}
	}

	store := b.store
	if b.redis != nil {
		store = storage.NewRedis(b.redis, "")
	}
	if store == nil {
		store = storage.NewMemory()
	}

	identityClient := b.identity
	if identityClient == nil {
		if cfg.Identity.BaseURL == "" {
			return nil, errors.New("identity client or Identity.BaseURL required")
		}
		var err error
		identityClient, err = identity.NewHTTPClient(cfg.Identity.BaseURL, identity.ClientContext{
			SystemID:   cfg.Identity.SystemID,
			InstanceID: cfg.Identity.InstanceID,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	throttleEngine, err := throttle.New(store, cfg.Throttle, logger, notifier)
	if err != nil {
		return nil, err
	}

	sessionCodec, err := codec.New(cfg.Codec.Pad)
	if err != nil {
		return nil, err
	}

	inspector := token.New()
	sessions := session.NewStore(store, sessionCodec, inspector, logger, notifier)

	guard := &Guard{
		config:    cfg,
		logger:    logger,
		notifier:  notifier,
		throttle:  throttleEngine,
		sessions:  sessions,
		inspector: inspector,
		identity:  identityClient,
		audit:     newAuditDispatcher(cfg.Audit, b.sink),
		sleep:     sleepContext,
	}

	monitor, err := activity.New(cfg.Activity, logger, activity.Callbacks{
		OnWarning: guard.handleIdleWarning,
		OnTimeout: guard.handleIdleTimeout,
	})
	if err != nil {
		guard.audit.Close()
		return nil, err
	}
	guard.activity = monitor

	// Session reads count as user activity.
	sessions.OnTouch(monitor.Touch)

	if err := throttleEngine.PurgeStale(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("purging stale attempt records failed")
	}

	b.built = true

	return guard, nil
}
