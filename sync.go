package offline

import (
	"context"
)

// SyncState is a state of sync notifier.
type SyncState int

// Sync notifier states.
const (
	SyncIdle SyncState = iota
	SyncNotifying
)

func (s SyncState) String() string {
	if s == SyncNotifying {
		return "notifying"
	}

	return "idle"
}

// SyncState returns notifying while a sync pass is in progress.
func (m *Mediator) SyncState() SyncState {
	if m.syncing.Load() > 0 {
		return SyncNotifying
	}

	return SyncIdle
}

// Sync relays deferred sync signal to all connected clients and returns number of notified clients.
//
// Events with a tag other than Config.SyncTag are ignored.
// Each client receives a single SYNC_LOGS message, delivery failures are logged and not retried.
func (m *Mediator) Sync(ctx context.Context, tag string) (int, error) {
	if tag != m.config.SyncTag {
		m.log.Debug(ctx, "ignoring sync event", "tag", tag)

		return 0, nil
	}

	m.tasks.add()
	defer m.tasks.done()

	m.syncing.Add(1)
	defer m.syncing.Add(-1)

	m.stat.Add(ctx, MetricSync, 1, "tag", tag)

	msg := Message{Type: TypeSyncLogs, Status: StatusReady}
	posted := 0

	for _, info := range m.clients.MatchAll() {
		if err := info.Client.PostMessage(ctx, msg); err != nil {
			m.log.Warn(ctx, "failed to post sync message", "client", info.Client.ID(), "error", err)

			continue
		}

		posted++
	}

	m.stat.Add(ctx, MetricSyncPosted, float64(posted), "tag", tag)
	m.log.Info(ctx, "sync clients notified", "tag", tag, "clients", posted)

	return posted, nil
}
