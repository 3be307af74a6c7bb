package moqt

import (
	"log/slog"
	"slices"
	"time"
)

// Config contains configuration options for MOQ sessions.
// A nil *Config is valid and yields the defaults.
type Config struct {
	// Versions lists the offered (client) or acceptable (server) versions in preference order.
	// If empty, DefaultVersions is used.
	Versions []Version

	// Role restricts the operations the local endpoint may perform.
	Role Role

	// Path is sent by clients as the PATH setup parameter when non-empty.
	Path string

	// MaxRequests is the number of concurrent request ids granted to the peer.
	// If zero, 100 is used.
	MaxRequests uint64

	// SetupTimeout is the maximum time to wait for session setup to complete.
	// If zero, a default timeout of 5 seconds is used.
	SetupTimeout time.Duration

	// SubscribeTimeout bounds how long a subscription may stay unanswered.
	// If zero, 10 seconds is used.
	SubscribeTimeout time.Duration

	// GroupReorderTimeout bounds how long in-order delivery waits for a missing group.
	// If zero, 500 milliseconds is used.
	GroupReorderTimeout time.Duration

	// AliasTimeout bounds how long a data stream waits for its track alias to be known.
	// If zero, 1 second is used.
	AliasTimeout time.Duration

	// DrainTimeout bounds how long a subscription waits for outstanding streams after SUBSCRIBE_DONE.
	// If zero, 2 seconds is used.
	DrainTimeout time.Duration

	// GoAwayTimeout is how long a session lingers after sending GOAWAY.
	// If zero, 10 seconds is used.
	GoAwayTimeout time.Duration

	// MaxConcurrentWrites caps concurrent data channel writes.
	// If zero, 8 is used.
	MaxConcurrentWrites int

	// MaxBufferedEvents caps undelivered events per subscription before ingestion blocks.
	// If zero, 1024 is used.
	MaxBufferedEvents int

	// ForwardUnannounced lets Subscribe proceed for namespaces the peer has not announced.
	ForwardUnannounced bool

	// CancelOnUnannounce ends the subscriptions of a namespace when it is withdrawn.
	CancelOnUnannounce bool

	// FetchHandler serves incoming FETCH requests.
	// If nil, fetches are rejected as not supported.
	FetchHandler FetchHandler

	// Logger receives structured session logs.
	// If nil, logs are discarded.
	Logger *slog.Logger

	// Tracer observes session events.
	Tracer *Tracer
}

func (c *Config) versions() []Version {
	if c != nil && len(c.Versions) > 0 {
		return c.Versions
	}
	return DefaultVersions
}

func (c *Config) role() Role {
	if c != nil {
		return c.Role
	}
	return RoleBoth
}

func (c *Config) path() string {
	if c != nil {
		return c.Path
	}
	return ""
}

func (c *Config) maxRequests() uint64 {
	if c != nil && c.MaxRequests > 0 {
		return c.MaxRequests
	}
	return 100
}

// setupTimeout returns the configured setup timeout or a default value.
func (c *Config) setupTimeout() time.Duration {
	if c != nil && c.SetupTimeout > 0 {
		return c.SetupTimeout
	}
	return 5 * time.Second
}

func (c *Config) subscribeTimeout() time.Duration {
	if c != nil && c.SubscribeTimeout > 0 {
		return c.SubscribeTimeout
	}
	return 10 * time.Second
}

func (c *Config) groupReorderTimeout() time.Duration {
	if c != nil && c.GroupReorderTimeout > 0 {
		return c.GroupReorderTimeout
	}
	return 500 * time.Millisecond
}

func (c *Config) aliasTimeout() time.Duration {
	if c != nil && c.AliasTimeout > 0 {
		return c.AliasTimeout
	}
	return time.Second
}

func (c *Config) drainTimeout() time.Duration {
	if c != nil && c.DrainTimeout > 0 {
		return c.DrainTimeout
	}
	return 2 * time.Second
}

func (c *Config) goAwayTimeout() time.Duration {
	if c != nil && c.GoAwayTimeout > 0 {
		return c.GoAwayTimeout
	}
	return 10 * time.Second
}

func (c *Config) maxConcurrentWrites() int {
	if c != nil && c.MaxConcurrentWrites > 0 {
		return c.MaxConcurrentWrites
	}
	return 8
}

func (c *Config) maxBufferedEvents() int {
	if c != nil && c.MaxBufferedEvents > 0 {
		return c.MaxBufferedEvents
	}
	return 1024
}

func (c *Config) forwardUnannounced() bool {
	return c != nil && c.ForwardUnannounced
}

func (c *Config) cancelOnUnannounce() bool {
	return c != nil && c.CancelOnUnannounce
}

func (c *Config) fetchHandler() FetchHandler {
	if c != nil {
		return c.FetchHandler
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Config) tracer() *Tracer {
	if c != nil {
		return c.Tracer
	}
	return nil
}

// Clone creates a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Versions = slices.Clone(c.Versions)
	return &clone
}
