package host

import (
	"context"
	"errors"
	"sync"

	"github.com/vearutop/offline"
)

var (
	errClientGone = errors.New("client is gone")
	errOutboxFull = errors.New("client outbox is full")
)

const outboxSize = 16

// streamClient delivers messages to an event stream.
type streamClient struct {
	id     string
	outbox chan offline.Message

	once sync.Once
	gone chan struct{}
}

func newStreamClient(id string) *streamClient {
	return &streamClient{
		id:     id,
		outbox: make(chan offline.Message, outboxSize),
		gone:   make(chan struct{}),
	}
}

func (c *streamClient) ID() string {
	return c.id
}

func (c *streamClient) PostMessage(ctx context.Context, msg offline.Message) error {
	select {
	case <-c.gone:
		return errClientGone
	default:
	}

	select {
	case c.outbox <- msg:
		return nil
	case <-c.gone:
		return errClientGone
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errOutboxFull
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.gone)
	})
}
