package offline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bool64/cache"
	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/puzpuzpuz/xsync/v3"
)

// Cached responses are kept until their generation is deleted.
const neverExpire = 100 * 365 * 24 * time.Hour

// MemoryConfig controls in-memory storage instance.
type MemoryConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is storage instance name, used in stats and logging, default "offline".
	Name string

	// HeapInUseSoftLimit sets heap in use threshold when eviction of oldest entries will be performed.
	HeapInUseSoftLimit uint64

	// CountSoftLimit is a soft limit of entries count per generation to start eviction.
	CountSoftLimit uint64

	// EvictFraction is a fraction (0, 1] of entries to be evicted on limits overflow, default 0.1.
	EvictFraction float64
}

var _ Storage = &Memory{}

// Memory is an in-memory storage of cache generations.
//
// Please use NewMemory to create instance.
type Memory struct {
	generations *xsync.MapOf[string, *memoryGeneration]
	closed      atomic.Bool

	config MemoryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewMemory creates an instance of in-memory storage with optional configuration.
func NewMemory(cfg ...MemoryConfig) *Memory {
	config := MemoryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.Name == "" {
		config.Name = "offline"
	}

	if config.Logger == nil {
		config.Logger = ctxd.NoOpLogger{}
	}

	if config.Stats == nil {
		config.Stats = stats.NoOp{}
	}

	return &Memory{
		generations: xsync.NewMapOf[string, *memoryGeneration](),
		config:      config,
		log:         config.Logger,
		stat:        config.Stats,
	}
}

// Open returns existing generation or creates a new one.
func (m *Memory) Open(ctx context.Context, id string) (Generation, error) {
	if m.closed.Load() {
		return nil, ErrStorageClosed
	}

	g, loaded := m.generations.LoadOrCompute(id, func() *memoryGeneration {
		return m.newGeneration(id)
	})

	if !loaded {
		m.log.Debug(ctx, "created cache generation", "name", m.config.Name, "generation", id)
	}

	return g, nil
}

// Keys returns sorted ids of existing generations.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrStorageClosed
	}

	keys := make([]string, 0, m.generations.Size())

	m.generations.Range(func(id string, _ *memoryGeneration) bool {
		keys = append(keys, id)

		return true
	})

	sort.Strings(keys)

	return keys, nil
}

// Delete removes generation with all entries.
func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	if m.closed.Load() {
		return false, ErrStorageClosed
	}

	g, found := m.generations.LoadAndDelete(id)
	if !found {
		return false, nil
	}

	g.data.DeleteAll(ctx)

	m.log.Important(ctx, "deleted cache generation", "name", m.config.Name, "generation", id)

	return true, nil
}

// Close deletes all generations and disables storage instance.
func (m *Memory) Close() {
	if m.closed.Swap(true) {
		return
	}

	m.generations.Range(func(id string, g *memoryGeneration) bool {
		g.data.DeleteAll(context.Background())
		m.generations.Delete(id)

		return true
	})
}

func (m *Memory) newGeneration(id string) *memoryGeneration {
	name := m.config.Name + "_" + id

	return &memoryGeneration{
		id:   id,
		name: name,
		log:  m.log,
		stat: m.stat,
		data: cache.NewShardedMap(func(cfg *cache.Config) {
			cfg.Name = name
			cfg.Logger = m.config.Logger
			cfg.Stats = m.config.Stats
			cfg.TimeToLive = neverExpire
			cfg.ExpirationJitter = -1
			cfg.HeapInUseSoftLimit = m.config.HeapInUseSoftLimit
			cfg.CountSoftLimit = m.config.CountSoftLimit
			cfg.EvictFraction = m.config.EvictFraction
		}),
	}
}

type memoryGeneration struct {
	id   string
	name string
	data *cache.ShardedMap
	log  ctxd.Logger
	stat stats.Tracker
}

func (g *memoryGeneration) ID() string {
	return g.id
}

func (g *memoryGeneration) Put(ctx context.Context, key RequestKey, resp *Response) error {
	k := []byte(key.String())

	if prev, err := g.data.Read(ctx, k); prev != nil {
		if p, ok := prev.(*Response); ok && p.Digest != resp.Digest {
			g.stat.Add(ctx, MetricChanged, 1, "name", g.name)
		}
	} else if err != nil && !errors.Is(err, cache.ErrNotFound) {
		g.log.Debug(ctx, "failed to read previous entry", "name", g.name, "key", key.String(), "error", err)
	}

	if err := g.data.Write(ctx, k, resp); err != nil {
		return ctxd.WrapError(ctx, err, "failed to write entry", "key", key.String())
	}

	return nil
}

func (g *memoryGeneration) Match(ctx context.Context, key RequestKey) (*Response, error) {
	v, err := g.data.Read(ctx, []byte(key.String()))
	if v == nil {
		if err == nil || errors.Is(err, cache.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	resp, ok := v.(*Response)
	if !ok {
		return nil, ErrNotFound
	}

	return resp, nil
}

func (g *memoryGeneration) Delete(ctx context.Context, key RequestKey) error {
	err := g.data.Delete(ctx, []byte(key.String()))
	if errors.Is(err, cache.ErrNotFound) {
		return ErrNotFound
	}

	return err
}

func (g *memoryGeneration) Len() int {
	return g.data.Len()
}

func (g *memoryGeneration) Walk(walkFn func(key RequestKey, resp *Response) error) (int, error) {
	return g.data.Walk(func(e cache.Entry) error {
		resp, ok := e.Value().(*Response)
		if !ok {
			return nil
		}

		return walkFn(parseKey(string(e.Key())), resp)
	})
}

func parseKey(s string) RequestKey {
	method, u, _ := strings.Cut(s, " ")

	return RequestKey{Method: method, URL: u}
}
