package offline

import (
	"net/http"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Well-known defaults.
const (
	DefaultVersion      = "skts-v1"
	DefaultOfflinePath  = "/offline/"
	DefaultSyncTag      = "sync-logs"
	DefaultMaxEntrySize = 10 << 20
)

// DefaultManifest lists must-have offline assets.
func DefaultManifest() []string {
	return []string{
		"/",
		"/static/manifest.json",
		DefaultOfflinePath,
	}
}

// Config controls Mediator instance.
type Config struct {
	// Version is a tag of current cache generation, default DefaultVersion.
	// Changing it on deployment supersedes all previous generations.
	Version string

	// Origin is a scheme and host of intercepted requests, e.g. "https://example.com".
	Origin string

	// Manifest is an ordered list of paths to populate on install, default DefaultManifest().
	Manifest []string

	// OfflinePath is a path of cached page served to HTML requests when offline, default DefaultOfflinePath.
	OfflinePath string

	// SyncTag is a deferred sync tag that triggers client notification, default DefaultSyncTag.
	SyncTag string

	// MaxEntrySize is max size of response body to store, default DefaultMaxEntrySize, -1 for unlimited.
	MaxEntrySize int64

	// WaitForClients disables skip waiting on install, so that installed version is only activated
	// when no client of previous version remains or when SkipWaiting is requested.
	WaitForClients bool

	// ClientIdleTTL is a delay after last client activity before client is considered gone, default 1m.
	ClientIdleTTL time.Duration

	// Network is a transport to reach origin, http.DefaultTransport by default.
	Network http.RoundTripper

	// Storage keeps cache generations, in-memory storage by default.
	Storage Storage

	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}

	if c.Manifest == nil {
		c.Manifest = DefaultManifest()
	}

	if c.OfflinePath == "" {
		c.OfflinePath = DefaultOfflinePath
	}

	if c.SyncTag == "" {
		c.SyncTag = DefaultSyncTag
	}

	if c.MaxEntrySize == 0 {
		c.MaxEntrySize = DefaultMaxEntrySize
	}

	if c.ClientIdleTTL == 0 {
		c.ClientIdleTTL = time.Minute
	}

	if c.Network == nil {
		c.Network = http.DefaultTransport
	}

	if c.Logger == nil {
		c.Logger = ctxd.NoOpLogger{}
	}

	if c.Stats == nil {
		c.Stats = stats.NoOp{}
	}

	if c.Storage == nil {
		c.Storage = NewMemory(MemoryConfig{
			Logger: c.Logger,
			Stats:  c.Stats,
		})
	}
}
