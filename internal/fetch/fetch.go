package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxdag/fluxdag/internal/model"
)

// ModuleFetcher resolves one Resource to its bytes (a Wasm module, in
// practice). Implementations should be safe for concurrent use.
type ModuleFetcher interface {
	Fetch(ctx context.Context, r model.Resource) ([]byte, error)
}

// HTTPFetcher fetches http(s)/ipfs/data resources. ipfs:// URLs and bare CID
// resources are rewritten against Gateway; data: URLs are decoded inline
// without a network round trip.
type HTTPFetcher struct {
	Client  *http.Client
	Gateway string // e.g. "https://ipfs.io/ipfs/"
	Backoff Backoff
	Logger  *log.Logger
}

// NewHTTPFetcher builds a fetcher with sane defaults for any zero fields.
func NewHTTPFetcher(gateway string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: 30 * time.Second},
		Gateway: gateway,
		Backoff: DefaultBackoff,
		Logger:  log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// Fetch resolves r, retrying transient failures per f.Backoff.
func (f *HTTPFetcher) Fetch(ctx context.Context, r model.Resource) ([]byte, error) {
	url, inline, err := f.resolveURL(r)
	if err != nil {
		return nil, err
	}
	if inline != nil {
		return inline, nil
	}

	var lastErr error
	attempts := f.Backoff.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		b, err := f.fetchOnce(ctx, url)
		if err == nil {
			return b, nil
		}
		lastErr = err
		f.Logger.Printf("fetch attempt %d/%d failed for %s: %v", attempt, attempts, r.Normalized(), err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Backoff.Delay(attempt)):
		}
	}
	return nil, &FetchFailedError{Resource: r.Normalized(), Cause: lastErr}
}

func (f *HTTPFetcher) resolveURL(r model.Resource) (url string, inline []byte, err error) {
	switch r.Kind() {
	case model.ResourceCIDKind:
		return f.Gateway + r.CID().String(), nil, nil
	case model.ResourceURL:
		raw := r.URL()
		switch {
		case strings.HasPrefix(raw, "ipfs://"):
			return f.Gateway + strings.TrimPrefix(raw, "ipfs://"), nil, nil
		case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
			return raw, nil, nil
		case strings.HasPrefix(raw, "data:"):
			b, err := decodeDataURL(raw)
			if err != nil {
				return "", nil, err
			}
			return "", b, nil
		default:
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, raw)
		}
	default:
		return "", nil, fmt.Errorf("%w: resource kind %d", ErrUnsupportedScheme, r.Kind())
	}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// decodeDataURL decodes a "data:<mime>;base64,<payload>" URL. Non-base64
// data URLs are not supported, since modules are binary Wasm.
func decodeDataURL(raw string) ([]byte, error) {
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return nil, fmt.Errorf("fetch: malformed data url")
	}
	header := raw[len("data:"):comma]
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("fetch: unsupported data url encoding %q", header)
	}
	return base64.StdEncoding.DecodeString(raw[comma+1:])
}

// All fetches every resource in resources concurrently using fetcher,
// returning a map keyed by Resource.Normalized(). It takes fetcher as a
// third argument, so it does not match scheduler.FetchFunc itself; a
// closure that binds fetcher (as cmd/server does) supplies it to the
// scheduler.
func All(ctx context.Context, resources []model.Resource, fetcher ModuleFetcher) (map[string][]byte, error) {
	results := make(map[string][]byte, len(resources))
	type kv struct {
		key   string
		bytes []byte
	}
	out := make(chan kv, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range resources {
		r := r
		g.Go(func() error {
			b, err := fetcher.Fetch(gctx, r)
			if err != nil {
				return err
			}
			out <- kv{key: r.Normalized(), bytes: b}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)
	for e := range out {
		results[e.key] = e.bytes
	}
	return results, nil
}
