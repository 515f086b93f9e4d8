package offline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Mediator intercepts application requests and serves cached responses when network is unreachable.
//
// Mediator is driven by events: Install, Activate, Fetch, Sync and Message.
// Please use New to create instance.
type Mediator struct {
	config  Config
	origin  Origin
	storage Storage
	clients *Clients
	tasks   *Tasks
	log     ctxd.Logger
	stat    stats.Tracker

	mu          sync.Mutex
	state       State
	skipWaiting bool
	changed     chan struct{}

	syncing atomic.Int32
}

// New creates a Mediator instance.
func New(cfg Config) (*Mediator, error) {
	cfg.applyDefaults()

	origin, err := ParseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}

	cfg.Origin = origin.String()

	m := &Mediator{
		config:  cfg,
		origin:  origin,
		storage: cfg.Storage,
		clients: NewClients(cfg.ClientIdleTTL, cfg.Logger, cfg.Stats),
		tasks:   &Tasks{Logger: cfg.Logger},
		log:     cfg.Logger,
		stat:    cfg.Stats,
		changed: make(chan struct{}),
	}

	m.clients.OnGone(func(info ClientInfo) {
		if info.Controller != m.config.Version {
			m.maybeActivate(context.Background())
		}
	})

	return m, nil
}

// Version returns tag of current cache generation.
func (m *Mediator) Version() string {
	return m.config.Version
}

// Origin returns origin of intercepted requests.
func (m *Mediator) Origin() Origin {
	return m.origin
}

// Storage returns cache generations storage.
func (m *Mediator) Storage() Storage {
	return m.storage
}

// Clients returns registry of connected application instances.
func (m *Mediator) Clients() *Clients {
	return m.clients
}

// Tasks returns registered work set.
func (m *Mediator) Tasks() *Tasks {
	return m.tasks
}

// Connect registers application instance.
//
// Empty controller means client is not controlled by any version yet,
// it becomes controlled by current version if mediator is already controlling.
func (m *Mediator) Connect(ctx context.Context, c Client, controller string) {
	if controller == "" && m.State() == StateControlling {
		controller = m.config.Version
	}

	m.clients.Register(ctx, c, controller)
}

// Disconnect unregisters application instance.
func (m *Mediator) Disconnect(id string) {
	m.clients.Unregister(id)
}

// DisconnectClient unregisters application instance unless it was replaced
// by another instance with the same id.
func (m *Mediator) DisconnectClient(c Client) bool {
	return m.clients.UnregisterClient(c)
}

// Close waits for all registered tasks to settle.
func (m *Mediator) Close(ctx context.Context) error {
	if err := m.tasks.Wait(ctx); err != nil {
		return ctxd.WrapError(ctx, err, "failed to wait for pending tasks", "pending", m.tasks.Pending())
	}

	return nil
}
