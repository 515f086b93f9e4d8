package offline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/bool64/ctxd"
	"github.com/cespare/xxhash/v2"
)

// Source tells where fetch response came from.
type Source int

// Response sources.
const (
	SourcePassThrough Source = iota
	SourceNetwork
	SourceCache
	SourceOfflinePage
	SourceUnavailable
)

func (s Source) String() string {
	switch s {
	case SourcePassThrough:
		return "pass-through"
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceOfflinePage:
		return "offline-page"
	case SourceUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// FetchResult is an outcome of fetch interception.
type FetchResult struct {
	// Response is a substituted response, nil if request was not intercepted.
	Response *http.Response

	// Intercepted is false when request must pass through to network untouched.
	Intercepted bool

	// Source of response.
	Source Source

	// NetworkErr is a network failure that caused fallback.
	NetworkErr error
}

// Fetch applies network-first policy to an eligible request.
//
// Only same-origin retrieval requests of a controlling mediator are intercepted.
// Successful 200 response of GET request is stored in current generation in background,
// caller does not observe the store and its failure. Body that caller did not read to the end
// is drained after Close, Mediator.Close waits for it.
// On network failure cached response is served, or offline page for HTML requests,
// or 503 Service Unavailable response.
func (m *Mediator) Fetch(req *http.Request) FetchResult {
	ctx := req.Context()

	m.tasks.add()
	defer m.tasks.done()

	if !m.eligible(req) {
		m.stat.Add(ctx, MetricPassThrough, 1)

		return FetchResult{Source: SourcePassThrough}
	}

	resp, err := m.config.Network.RoundTrip(req)
	if err != nil {
		m.stat.Add(ctx, MetricNetworkFailed, 1)
		m.log.Debug(ctx, "network request failed", "url", req.URL.String(), "error", err)

		return m.fallback(ctx, req, err)
	}

	m.stat.Add(ctx, MetricNetwork, 1)

	if resp.StatusCode == http.StatusOK && req.Method != http.MethodHead {
		m.storeOnRead(ctx, req, resp)
	}

	return FetchResult{Response: resp, Intercepted: true, Source: SourceNetwork}
}

func (m *Mediator) eligible(req *http.Request) bool {
	if !IsRetrieval(req.Method) {
		return false
	}

	if !m.origin.Matches(requestURL(req)) {
		return false
	}

	return m.State() == StateControlling
}

func (m *Mediator) fallback(ctx context.Context, req *http.Request, netErr error) FetchResult {
	res := FetchResult{Intercepted: true, NetworkErr: netErr}

	g, err := m.storage.Open(ctx, m.config.Version)
	if err != nil {
		m.log.Error(ctx, "failed to open cache generation", "version", m.config.Version, "error", err)
	} else {
		if cached, err := g.Match(ctx, NewRequestKey(req)); err == nil {
			m.stat.Add(ctx, MetricCacheHit, 1)

			res.Response = cached.HTTPResponse(req)
			res.Source = SourceCache

			return res
		}

		if acceptsHTML(req) {
			if page, err := g.Match(ctx, m.origin.Key(m.config.OfflinePath)); err == nil {
				m.stat.Add(ctx, MetricOfflinePage, 1)

				res.Response = page.HTTPResponse(req)
				res.Source = SourceOfflinePage

				return res
			}
		}
	}

	m.stat.Add(ctx, MetricUnavailable, 1)

	res.Response = unavailable(req)
	res.Source = SourceUnavailable

	return res
}

// storeOnRead clones response body while caller reads it and stores snapshot in background.
//
// Body that is closed before EOF is drained in background, so that an abandoned read
// still populates cache. Pending body holds a task slot until it is settled.
func (m *Mediator) storeOnRead(ctx context.Context, req *http.Request, resp *http.Response) {
	limit := m.config.MaxEntrySize
	if limit >= 0 && resp.ContentLength > limit {
		m.log.Debug(ctx, "skipping cache of large response", "url", req.URL.String(), "size", resp.ContentLength)

		return
	}

	key := NewRequestKey(req)
	snapshot := NewResponse(resp, nil)

	store := func(ctx context.Context, body []byte) error {
		snap := *snapshot
		snap.Body = body
		snap.Digest = xxhash.Sum64(body)

		if err := m.put(ctx, key, &snap); err != nil {
			m.stat.Add(ctx, MetricStoreFailed, 1)

			return err
		}

		m.stat.Add(ctx, MetricStored, 1)

		return nil
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		m.tasks.Go(Detach(ctx), "store response", func(ctx context.Context) error {
			return store(ctx, nil)
		})

		return
	}

	m.tasks.add()

	resp.Body = &teeBody{
		rc:    resp.Body,
		ctx:   Detach(ctx),
		tasks: m.tasks,
		limit: limit,
		store: store,
	}
}

func (m *Mediator) put(ctx context.Context, key RequestKey, resp *Response) error {
	g, err := m.storage.Open(ctx, m.config.Version)
	if err != nil {
		return err
	}

	return g.Put(ctx, key, resp)
}

// teeBody copies body into buffer while it is read.
//
// Body is settled once: at EOF, on overflow of limit, or on Close.
type teeBody struct {
	rc    io.ReadCloser
	ctx   context.Context
	tasks *Tasks
	limit int64
	store func(ctx context.Context, body []byte) error

	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool
	settled  bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)

	t.mu.Lock()
	defer t.mu.Unlock()

	if n > 0 {
		t.write(p[:n])
	}

	if errors.Is(err, io.EOF) && !t.settled {
		t.settled = true

		if !t.overflow {
			body := t.buf.Bytes()

			t.tasks.Go(t.ctx, "store response", func(ctx context.Context) error {
				return t.store(ctx, body)
			})
		}

		t.tasks.done()
	}

	return n, err
}

func (t *teeBody) write(p []byte) {
	if t.overflow {
		return
	}

	if t.limit >= 0 && int64(t.buf.Len()+len(p)) > t.limit {
		t.overflow = true
		t.buf = bytes.Buffer{}

		return
	}

	t.buf.Write(p)
}

func (t *teeBody) Close() error {
	t.mu.Lock()

	if t.settled || t.overflow {
		if !t.settled {
			t.settled = true
			t.tasks.done()
		}

		t.mu.Unlock()

		return t.rc.Close()
	}

	t.settled = true
	t.mu.Unlock()

	t.tasks.Go(t.ctx, "store response", t.drain)
	t.tasks.done()

	return nil
}

// drain reads the rest of abandoned body and stores it if it fits limit.
func (t *teeBody) drain(ctx context.Context) (err error) {
	defer func() {
		if cerr := t.rc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r := io.Reader(t.rc)
	if t.limit >= 0 {
		r = io.LimitReader(t.rc, t.limit-int64(t.buf.Len())+1)
	}

	if _, err := t.buf.ReadFrom(r); err != nil {
		return ctxd.WrapError(ctx, err, "failed to read response body")
	}

	if t.limit >= 0 && int64(t.buf.Len()) > t.limit {
		return nil
	}

	return t.store(ctx, t.buf.Bytes())
}

// Transport returns http.RoundTripper that intercepts requests with Fetch
// and passes through other requests to network.
func (m *Mediator) Transport() http.RoundTripper {
	return transport{m: m}
}

type transport struct {
	m *Mediator
}

func (t transport) RoundTrip(req *http.Request) (*http.Response, error) {
	res := t.m.Fetch(req)
	if !res.Intercepted {
		return t.m.config.Network.RoundTrip(req)
	}

	return res.Response, nil
}
