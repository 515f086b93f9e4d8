package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition indicates lifecycle event that is not allowed in current state.
const ErrInvalidTransition = SentinelError("invalid lifecycle transition")

// State is a lifecycle state of Mediator.
type State int

// Lifecycle states in order of transition.
const (
	StateParsed State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateControlling
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateControlling:
		return "controlling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State returns current lifecycle state.
func (m *Mediator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// WaitState blocks until mediator reaches a given state or a later one.
func (m *Mediator) WaitState(ctx context.Context, s State) error {
	for {
		m.mu.Lock()
		cur, changed := m.state, m.changed
		m.mu.Unlock()

		if cur >= s {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setState must be called with m.mu locked.
func (m *Mediator) setState(s State) {
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}

// Install opens current generation, populates it with manifest assets and skips waiting.
//
// With Config.WaitForClients installed version waits until clients of previous version are gone
// or SkipWaiting is called.
//
// Failure to fetch assets is logged and does not fail installation.
func (m *Mediator) Install(ctx context.Context) error {
	m.tasks.add()
	defer m.tasks.done()

	m.mu.Lock()
	if m.state != StateParsed {
		s := m.state
		m.mu.Unlock()

		return fmt.Errorf("%w: install in %s state", ErrInvalidTransition, s)
	}

	m.setState(StateInstalling)
	m.mu.Unlock()

	g, err := m.storage.Open(ctx, m.config.Version)
	if err != nil {
		m.mu.Lock()
		m.setState(StateParsed)
		m.mu.Unlock()

		return fmt.Errorf("open cache generation %s: %w", m.config.Version, err)
	}

	if err := AddAll(ctx, g, m.config.Network, m.origin, m.config.Manifest); err != nil {
		failed := 1

		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			failed = len(joined.Unwrap())
		}

		m.stat.Add(ctx, MetricInstallFailed, float64(failed), "version", m.config.Version)
		m.log.Warn(ctx, "some cache assets failed to load (may be offline during install)",
			"version", m.config.Version,
			"failed", failed,
			"error", err)
	}

	m.mu.Lock()
	m.setState(StateWaiting)
	m.mu.Unlock()

	m.stat.Add(ctx, MetricInstalled, 1, "version", m.config.Version)
	m.log.Important(ctx, "installed", "version", m.config.Version, "entries", g.Len())

	if m.config.WaitForClients {
		m.maybeActivate(ctx)
	} else {
		m.SkipWaiting(ctx)
	}

	return nil
}

// SkipWaiting lets installed version activate without waiting for clients of previous version.
//
// Repeated calls are harmless.
func (m *Mediator) SkipWaiting(ctx context.Context) {
	m.stat.Add(ctx, MetricSkipWaiting, 1, "version", m.config.Version)

	m.mu.Lock()
	m.skipWaiting = true
	m.mu.Unlock()

	m.maybeActivate(ctx)
}

// maybeActivate starts activation in background if waiting hold is released.
func (m *Mediator) maybeActivate(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateWaiting {
		m.mu.Unlock()

		return
	}

	if !m.skipWaiting {
		if n := m.clients.ControlledByOther(m.config.Version); n > 0 {
			m.mu.Unlock()
			m.log.Debug(ctx, "waiting for clients of previous version", "version", m.config.Version, "clients", n)

			return
		}
	}

	m.setState(StateActivating)
	m.mu.Unlock()

	m.tasks.Go(Detach(ctx), "activate", m.activate)
}

// Activate deletes stale generations and claims connected clients.
//
// Activation of already activating or controlling mediator is a no-op.
func (m *Mediator) Activate(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateActivating, StateControlling:
		m.mu.Unlock()

		return nil
	case StateWaiting:
		m.setState(StateActivating)
		m.mu.Unlock()
	default:
		s := m.state
		m.mu.Unlock()

		return fmt.Errorf("%w: activate in %s state", ErrInvalidTransition, s)
	}

	m.tasks.add()
	defer m.tasks.done()

	return m.activate(ctx)
}

func (m *Mediator) activate(ctx context.Context) error {
	ids, err := m.storage.Keys(ctx)
	if err != nil {
		m.log.Error(ctx, "failed to list cache generations", "error", err)
	}

	var wg sync.WaitGroup

	for _, id := range ids {
		if id == m.config.Version {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := m.storage.Delete(ctx, id); err != nil {
				m.stat.Add(ctx, MetricEvictFailed, 1, "version", m.config.Version)
				m.log.Warn(ctx, "failed to delete stale cache generation", "generation", id, "error", err)

				return
			}

			m.stat.Add(ctx, MetricEvicted, 1, "version", m.config.Version)
		}()
	}

	wg.Wait()

	claimed := m.clients.Claim(m.config.Version)

	m.mu.Lock()
	m.setState(StateControlling)
	m.mu.Unlock()

	m.stat.Add(ctx, MetricActivated, 1, "version", m.config.Version)
	m.log.Important(ctx, "activated", "version", m.config.Version, "claimed", claimed)

	return nil
}
