package offline_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vearutop/offline"
)

const testOrigin = "https://app.example"

var errUnreachable = errors.New("dial tcp: connect: network is unreachable")

type page struct {
	status        int
	ctype         string
	body          string
	unknownLength bool
}

// network is a fake origin.
type network struct {
	offline atomic.Bool
	calls   atomic.Int64

	mu       sync.Mutex
	pages    map[string]page
	lastResp *http.Response
}

func newNetwork() *network {
	return &network{
		pages: map[string]page{
			"/":                     {status: http.StatusOK, ctype: "text/html", body: "<h1>Home</h1>"},
			"/static/manifest.json": {status: http.StatusOK, ctype: "application/json", body: `{"name":"app"}`},
			"/offline/":             {status: http.StatusOK, ctype: "text/html", body: "<h1>You are offline</h1>"},
			"/devices/":             {status: http.StatusOK, ctype: "text/html", body: "<h1>Devices</h1>"},
			"/api/devices":          {status: http.StatusOK, ctype: "application/json", body: `[{"id":1}]`},
			"/empty":                {status: http.StatusNoContent},
			"/moved":                {status: http.StatusFound, ctype: "text/html", body: "moved"},
		},
	}
}

func (n *network) set(path string, p page) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pages[path] = p
}

func (n *network) last() *http.Response {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.lastResp
}

func (n *network) RoundTrip(req *http.Request) (*http.Response, error) {
	n.calls.Add(1)

	if n.offline.Load() {
		return nil, errUnreachable
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.pages[req.URL.Path]
	if !ok {
		p = page{status: http.StatusNotFound, ctype: "text/plain", body: "not found"}
	}

	resp := &http.Response{
		Status:        strconv.Itoa(p.status) + " " + http.StatusText(p.status),
		StatusCode:    p.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader(p.body)),
		ContentLength: int64(len(p.body)),
		Request:       req,
	}

	if p.ctype != "" {
		resp.Header.Set("Content-Type", p.ctype)
	}

	if p.unknownLength {
		resp.ContentLength = -1
	}

	n.lastResp = resp

	return resp, nil
}

// client is a fake application instance.
type client struct {
	id  string
	err error

	mu       sync.Mutex
	messages []offline.Message
}

func (c *client) ID() string {
	return c.id
}

func (c *client) PostMessage(_ context.Context, msg offline.Message) error {
	if c.err != nil {
		return c.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)

	return nil
}

func (c *client) received() []offline.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]offline.Message(nil), c.messages...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func newMediator(t *testing.T, cfg offline.Config) *offline.Mediator {
	t.Helper()

	if cfg.Origin == "" {
		cfg.Origin = testOrigin
	}

	m, err := offline.New(cfg)
	require.NoError(t, err)

	return m
}

// newControlling creates mediator that is installed and activated.
func newControlling(t *testing.T, cfg offline.Config) *offline.Mediator {
	t.Helper()

	ctx := testContext(t)
	m := newMediator(t, cfg)

	require.NoError(t, m.Install(ctx))
	require.NoError(t, m.WaitState(ctx, offline.StateControlling))
	require.NoError(t, m.Tasks().Wait(ctx))

	return m
}

func get(t *testing.T, url, accept string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return string(b)
}
