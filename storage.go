package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bool64/ctxd"
)

// Storage keeps named cache generations.
type Storage interface {
	// Open returns generation by id, generation is created if it does not exist.
	Open(ctx context.Context, id string) (Generation, error)

	// Keys lists ids of existing generations.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes generation with all entries, false is returned for missing generation.
	Delete(ctx context.Context, id string) (bool, error)
}

// Generation is a versioned bucket of cached responses.
type Generation interface {
	// ID returns generation id.
	ID() string

	// Put stores response, existing entry is overwritten.
	Put(ctx context.Context, key RequestKey, resp *Response) error

	// Match returns stored response or ErrNotFound.
	Match(ctx context.Context, key RequestKey) (*Response, error)

	// Delete removes entry, ErrNotFound is returned for missing entry.
	Delete(ctx context.Context, key RequestKey) error

	// Len returns number of entries.
	Len() int

	// Walk calls function for every entry and fails on first error returned by that function.
	//
	// Count of processed entries is returned.
	Walk(func(key RequestKey, resp *Response) error) (int, error)
}

// AddAll fetches paths of origin and stores successful responses in generation.
//
// Paths are fetched concurrently, every path that failed is reported in joined error,
// responses of other paths are stored anyway.
func AddAll(ctx context.Context, g Generation, network http.RoundTripper, origin Origin, paths []string) error {
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(paths))
	)

	for i, p := range paths {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := add(ctx, g, network, origin, p); err != nil {
				errs[i] = ctxd.WrapError(ctx, err, "failed to add asset", "path", p)
			}
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func add(ctx context.Context, g Generation, network http.RoundTripper, origin Origin, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.Resolve(path).String(), nil)
	if err != nil {
		return err
	}

	resp, err := network.RoundTrip(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", ErrNotCacheable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return g.Put(ctx, NewRequestKey(req), NewResponse(resp, body))
}
