package offline_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bool64/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/offline"
)

func TestMediator_Fetch_nonRetrieval(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req, err := http.NewRequest(method, testOrigin+"/api/logs", strings.NewReader(`{"msg":"x"}`))
		require.NoError(t, err)

		calls := n.calls.Load()
		res := m.Fetch(req)

		assert.False(t, res.Intercepted, method)
		assert.Nil(t, res.Response, method)
		assert.Equal(t, offline.SourcePassThrough, res.Source)
		assert.Equal(t, calls, n.calls.Load(), "network must not be called by interceptor")
	}
}

func TestMediator_Fetch_crossOrigin(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})

	for _, u := range []string{
		"https://cdn.example/app.js",
		"http://app.example/",
		"https://app.example:8443/",
	} {
		res := m.Fetch(get(t, u, "text/html"))

		assert.False(t, res.Intercepted, u)
		assert.Nil(t, res.Response, u)
	}

	// Default port is same origin.
	res := m.Fetch(get(t, "https://app.example:443/", "text/html"))
	assert.True(t, res.Intercepted)
	readBody(t, res.Response)
}

func TestMediator_Fetch_notControlling(t *testing.T) {
	n := newNetwork()
	m := newMediator(t, offline.Config{Network: n})

	res := m.Fetch(get(t, testOrigin+"/devices/", "text/html"))
	assert.False(t, res.Intercepted)
}

func TestMediator_Fetch_networkFirst(t *testing.T) {
	n := newNetwork()
	st := &stats.TrackerMock{}
	m := newControlling(t, offline.Config{Network: n, Stats: st})
	ctx := testContext(t)

	req := get(t, testOrigin+"/devices/?page=2#top", "text/html")
	res := m.Fetch(req)

	require.True(t, res.Intercepted)
	assert.Equal(t, offline.SourceNetwork, res.Source)
	assert.Same(t, n.last(), res.Response)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "<h1>Devices</h1>", readBody(t, res.Response))

	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	cached, err := g.Match(ctx, offline.NewRequestKey(req))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Devices</h1>", string(cached.Body))
	assert.Equal(t, "text/html", cached.Header.Get("Content-Type"))
	assert.Equal(t, http.StatusOK, cached.Status)
	assert.Equal(t, "OK", cached.StatusText)

	assert.Equal(t, 1, st.Int(offline.MetricStored))
	assert.Equal(t, 0, st.Int(offline.MetricStoreFailed))
}

func TestMediator_Fetch_onlyStatusOKIsCached(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})
	ctx := testContext(t)

	for _, p := range []string{"/empty", "/moved", "/missing"} {
		res := m.Fetch(get(t, testOrigin+p, ""))
		require.True(t, res.Intercepted)
		assert.Equal(t, offline.SourceNetwork, res.Source)
		readBody(t, res.Response)
	}

	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	for _, p := range []string{"/empty", "/moved", "/missing"} {
		_, err := g.Match(ctx, m.Origin().Key(p))
		assert.ErrorIs(t, err, offline.ErrNotFound, p)
	}
}

func TestMediator_Fetch_unreadBodyIsCached(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/api/devices", ""))
	require.NoError(t, res.Response.Body.Close())
	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	cached, err := g.Match(ctx, m.Origin().Key("/api/devices"))
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(cached.Body))
}

func TestMediator_Fetch_partiallyReadBodyIsCached(t *testing.T) {
	n := newNetwork()
	n.set("/large", page{status: http.StatusOK, ctype: "text/plain", body: strings.Repeat("a", 100)})

	m := newControlling(t, offline.Config{Network: n, MaxEntrySize: 1000})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/large", ""))

	buf := make([]byte, 10)
	_, err := io.ReadFull(res.Response.Body, buf)
	require.NoError(t, err)
	require.NoError(t, res.Response.Body.Close())
	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	cached, err := g.Match(ctx, m.Origin().Key("/large"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 100), string(cached.Body))
}

func TestMediator_Fetch_partiallyReadLargeBodyIsNotCached(t *testing.T) {
	n := newNetwork()

	// Unknown length is only checked while reading.
	n.set("/stream", page{status: http.StatusOK, ctype: "text/plain", body: strings.Repeat("b", 100), unknownLength: true})

	m := newControlling(t, offline.Config{Network: n, MaxEntrySize: 50})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/stream", ""))

	buf := make([]byte, 10)
	_, err := io.ReadFull(res.Response.Body, buf)
	require.NoError(t, err)
	require.NoError(t, res.Response.Body.Close())
	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	_, err = g.Match(ctx, m.Origin().Key("/stream"))
	assert.ErrorIs(t, err, offline.ErrNotFound)
}

func TestMediator_Close_waitsForPendingBody(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/api/devices", ""))
	assert.Equal(t, 1, m.Tasks().Pending())

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, m.Close(short), context.DeadlineExceeded)

	assert.Equal(t, `[{"id":1}]`, readBody(t, res.Response))
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, m.Tasks().Pending())

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	_, err = g.Match(ctx, m.Origin().Key("/api/devices"))
	assert.NoError(t, err)
}

func TestMediator_Fetch_largeBodyIsNotCached(t *testing.T) {
	n := newNetwork()
	n.set("/large", page{status: http.StatusOK, ctype: "text/plain", body: strings.Repeat("a", 100)})

	m := newControlling(t, offline.Config{Network: n, MaxEntrySize: 10})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/large", ""))
	assert.Len(t, readBody(t, res.Response), 100)

	require.NoError(t, m.Tasks().Wait(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	_, err = g.Match(ctx, m.Origin().Key("/large"))
	assert.ErrorIs(t, err, offline.ErrNotFound)
}

func TestMediator_Fetch_cacheFallback(t *testing.T) {
	n := newNetwork()
	st := &stats.TrackerMock{}
	m := newControlling(t, offline.Config{Network: n, Stats: st})
	ctx := testContext(t)

	readBody(t, m.Fetch(get(t, testOrigin+"/api/devices", "application/json")).Response)
	require.NoError(t, m.Tasks().Wait(ctx))

	n.offline.Store(true)

	req := get(t, testOrigin+"/api/devices", "application/json")
	res := m.Fetch(req)

	require.True(t, res.Intercepted)
	assert.Equal(t, offline.SourceCache, res.Source)
	assert.ErrorIs(t, res.NetworkErr, errUnreachable)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "200 OK", res.Response.Status)
	assert.Equal(t, "application/json", res.Response.Header.Get("Content-Type"))
	assert.Same(t, req, res.Response.Request)
	assert.Equal(t, `[{"id":1}]`, readBody(t, res.Response))

	assert.Equal(t, 1, st.Int(offline.MetricCacheHit))
	assert.Equal(t, 1, st.Int(offline.MetricNetworkFailed))
}

func TestMediator_Fetch_offlinePage(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})

	n.offline.Store(true)

	res := m.Fetch(get(t, testOrigin+"/reports/42", "text/html,application/xhtml+xml;q=0.9"))

	require.True(t, res.Intercepted)
	assert.Equal(t, offline.SourceOfflinePage, res.Source)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "<h1>You are offline</h1>", readBody(t, res.Response))
}

func TestMediator_Fetch_unavailable(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})

	n.offline.Store(true)

	for _, accept := range []string{"application/json", "", "image/*"} {
		res := m.Fetch(get(t, testOrigin+"/api/reports", accept))

		require.True(t, res.Intercepted)
		assert.Equal(t, offline.SourceUnavailable, res.Source)
		assert.Equal(t, http.StatusServiceUnavailable, res.Response.StatusCode)
		assert.Equal(t, "503 Service Unavailable", res.Response.Status)
		assert.Equal(t, "text/plain; charset=utf-8", res.Response.Header.Get("Content-Type"))
		assert.Equal(t, "Offline", readBody(t, res.Response))
	}
}

func TestMediator_Fetch_unavailableWithoutOfflinePage(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n, Manifest: []string{"/"}})

	n.offline.Store(true)

	res := m.Fetch(get(t, testOrigin+"/reports/42", "text/html"))
	assert.Equal(t, offline.SourceUnavailable, res.Source)
	assert.Equal(t, "Offline", readBody(t, res.Response))
}

func TestMediator_Fetch_head(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})

	req, err := http.NewRequest(http.MethodHead, testOrigin+"/", nil)
	require.NoError(t, err)

	n.offline.Store(true)

	res := m.Fetch(req)
	require.True(t, res.Intercepted)
	assert.Equal(t, offline.SourceCache, res.Source)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, int64(len("<h1>Home</h1>")), res.Response.ContentLength)
	assert.Equal(t, "", readBody(t, res.Response))
}

type failingPutStorage struct {
	*offline.Memory
}

func (s failingPutStorage) Open(ctx context.Context, id string) (offline.Generation, error) {
	g, err := s.Memory.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	return failingPutGeneration{Generation: g}, nil
}

type failingPutGeneration struct {
	offline.Generation
}

func (g failingPutGeneration) Put(ctx context.Context, key offline.RequestKey, resp *offline.Response) error {
	if strings.HasSuffix(key.URL, "/api/devices") {
		return errors.New("quota exceeded")
	}

	return g.Generation.Put(ctx, key, resp)
}

func TestMediator_Fetch_storeFailureIsNotObserved(t *testing.T) {
	n := newNetwork()
	st := &stats.TrackerMock{}
	m := newControlling(t, offline.Config{
		Network: n,
		Stats:   st,
		Storage: failingPutStorage{Memory: offline.NewMemory()},
	})
	ctx := testContext(t)

	res := m.Fetch(get(t, testOrigin+"/api/devices", ""))
	assert.Equal(t, offline.SourceNetwork, res.Source)
	assert.Equal(t, `[{"id":1}]`, readBody(t, res.Response))

	require.NoError(t, m.Tasks().Wait(ctx))
	assert.Equal(t, 1, st.Int(offline.MetricStoreFailed))
}

func TestMediator_Transport(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})
	hc := http.Client{Transport: m.Transport()}

	resp, err := hc.Get(testOrigin + "/devices/")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Devices</h1>", readBody(t, resp))

	n.offline.Store(true)

	// Intercepted request is served from cache.
	resp, err = hc.Get(testOrigin + "/devices/")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Devices</h1>", readBody(t, resp))

	// Not intercepted request fails as is.
	_, err = hc.Post(testOrigin+"/api/logs", "application/json", strings.NewReader("{}"))
	assert.ErrorIs(t, err, errUnreachable)

	_, err = hc.Get("https://cdn.example/app.js")
	assert.ErrorIs(t, err, errUnreachable)
}

func TestMediator_Fetch_concurrent(t *testing.T) {
	n := newNetwork()
	m := newControlling(t, offline.Config{Network: n})
	ctx := testContext(t)

	done := make(chan struct{}, 50)

	for i := 0; i < 50; i++ {
		go func() {
			defer func() { done <- struct{}{} }()

			res := m.Fetch(get(t, testOrigin+"/api/devices", ""))
			_, _ = io.Copy(io.Discard, res.Response.Body)
			_ = res.Response.Body.Close()
		}()
	}

	for i := 0; i < 50; i++ {
		<-done
	}

	require.NoError(t, m.Close(ctx))

	g, err := m.Storage().Open(ctx, m.Version())
	require.NoError(t, err)

	cached, err := g.Match(ctx, m.Origin().Key("/api/devices"))
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(cached.Body))
}
