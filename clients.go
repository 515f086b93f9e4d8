package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	gocache "github.com/patrickmn/go-cache"
)

// Client is a connected application instance.
type Client interface {
	// ID returns unique client id.
	ID() string

	// PostMessage delivers message to application instance.
	PostMessage(ctx context.Context, msg Message) error
}

// ClientInfo describes registered client.
type ClientInfo struct {
	Client Client

	// Controller is a version of generation that controls client, empty for uncontrolled client.
	Controller string
}

type clientEntry struct {
	client Client

	mu         sync.Mutex
	controller string
}

func (e *clientEntry) info() ClientInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return ClientInfo{Client: e.client, Controller: e.controller}
}

// Clients is a registry of connected application instances.
//
// Client is forgotten after idle TTL without Touch or on Unregister.
type Clients struct {
	items *gocache.Cache
	log   ctxd.Logger
	stat  stats.Tracker

	mu     sync.Mutex
	onGone []func(info ClientInfo)

	// write serializes registry updates that read before writing.
	write sync.Mutex
}

// NewClients creates client registry.
func NewClients(idleTTL time.Duration, logger ctxd.Logger, tracker stats.Tracker) *Clients {
	if logger == nil {
		logger = ctxd.NoOpLogger{}
	}

	if tracker == nil {
		tracker = stats.NoOp{}
	}

	c := &Clients{
		items: gocache.New(idleTTL, idleTTL/2),
		log:   logger,
		stat:  tracker,
	}

	c.items.OnEvicted(func(id string, v interface{}) {
		e, ok := v.(*clientEntry)
		if !ok {
			return
		}

		ctx := context.Background()
		c.log.Debug(ctx, "client gone", "client", id)
		c.stat.Set(ctx, MetricClients, float64(c.items.ItemCount()))

		c.mu.Lock()
		callbacks := c.onGone
		c.mu.Unlock()

		info := e.info()
		for _, cb := range callbacks {
			cb(info)
		}
	})

	return c
}

// OnGone adds a callback to call when client is unregistered or expired.
func (c *Clients) OnGone(cb func(info ClientInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onGone = append(c.onGone, cb)
}

// Register adds or replaces client with a given controller version.
func (c *Clients) Register(ctx context.Context, client Client, controller string) {
	c.write.Lock()
	defer c.write.Unlock()

	c.items.SetDefault(client.ID(), &clientEntry{client: client, controller: controller})

	c.log.Debug(ctx, "client registered", "client", client.ID(), "controller", controller)
	c.stat.Set(ctx, MetricClients, float64(c.items.ItemCount()))
}

// Touch prolongs idle TTL of client, false is returned for unknown client.
func (c *Clients) Touch(id string) bool {
	c.write.Lock()
	defer c.write.Unlock()

	v, found := c.items.Get(id)
	if !found {
		return false
	}

	// Replace fails if client expired meanwhile.
	return c.items.Replace(id, v, gocache.DefaultExpiration) == nil
}

// Unregister removes client.
func (c *Clients) Unregister(id string) {
	c.items.Delete(id)
}

// UnregisterClient removes client if registry still holds this instance under its id,
// false is returned if client was already replaced or removed.
func (c *Clients) UnregisterClient(client Client) bool {
	c.write.Lock()
	defer c.write.Unlock()

	v, found := c.items.Get(client.ID())
	if !found {
		return false
	}

	if e, ok := v.(*clientEntry); !ok || e.client != client {
		return false
	}

	c.items.Delete(client.ID())

	return true
}

// Get returns client info by id.
func (c *Clients) Get(id string) (ClientInfo, bool) {
	v, found := c.items.Get(id)
	if !found {
		return ClientInfo{}, false
	}

	return v.(*clientEntry).info(), true
}

// MatchAll returns connected clients ordered by id.
func (c *Clients) MatchAll() []ClientInfo {
	items := c.items.Items()
	res := make([]ClientInfo, 0, len(items))

	for _, item := range items {
		if e, ok := item.Object.(*clientEntry); ok {
			res = append(res, e.info())
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Client.ID() < res[j].Client.ID()
	})

	return res
}

// Claim sets controller of all connected clients and returns number of clients.
func (c *Clients) Claim(controller string) int {
	items := c.items.Items()

	for _, item := range items {
		if e, ok := item.Object.(*clientEntry); ok {
			e.mu.Lock()
			e.controller = controller
			e.mu.Unlock()
		}
	}

	return len(items)
}

// ControlledByOther counts clients controlled by a version different from given one.
func (c *Clients) ControlledByOther(version string) int {
	n := 0

	for _, info := range c.MatchAll() {
		if info.Controller != "" && info.Controller != version {
			n++
		}
	}

	return n
}

// Len returns number of connected clients.
func (c *Clients) Len() int {
	return c.items.ItemCount()
}
