package offline

import (
	"context"
	"encoding/json"
)

// Message types and statuses.
const (
	TypeSkipWaiting = "SKIP_WAITING"
	TypeSyncLogs    = "SYNC_LOGS"
	StatusReady     = "ready"
)

// Message is a structured message exchanged with application instances.
type Message struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

// HandleMessage decodes JSON message from client and dispatches it.
//
// Malformed and unrecognized messages are ignored, false is returned for them.
func (m *Mediator) HandleMessage(ctx context.Context, clientID string, data []byte) bool {
	var msg Message

	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Debug(ctx, "ignoring malformed message", "client", clientID, "error", err)

		return false
	}

	return m.Message(ctx, clientID, msg)
}

// Message dispatches control command from client, false is returned for unrecognized message.
func (m *Mediator) Message(ctx context.Context, clientID string, msg Message) bool {
	m.clients.Touch(clientID)
	m.stat.Add(ctx, MetricMessage, 1, "type", msg.Type)

	switch msg.Type {
	case TypeSkipWaiting:
		m.SkipWaiting(ctx)

		return true
	default:
		m.log.Debug(ctx, "ignoring unrecognized message", "client", clientID, "type", msg.Type)

		return false
	}
}
