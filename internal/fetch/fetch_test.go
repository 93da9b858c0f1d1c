package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/model"
)

func TestHTTPFetcherFetchesDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wasm-module-bytes"))
	}))
	defer srv.Close()

	r, err := model.ParseResourceURL(srv.URL)
	require.NoError(t, err)

	f := NewHTTPFetcher("")
	b, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "wasm-module-bytes", string(b))
}

func TestHTTPFetcherRewritesIPFSURLThroughGateway(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("gatewayed"))
	}))
	defer srv.Close()

	r, err := model.ParseResourceURL("ipfs://QmExampleCID")
	require.NoError(t, err)

	f := NewHTTPFetcher(srv.URL + "/ipfs/")
	b, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "gatewayed", string(b))
	require.Equal(t, "/ipfs/QmExampleCID", gotPath)
}

func TestHTTPFetcherDecodesDataURLInline(t *testing.T) {
	r, err := model.ParseResourceURL("data:application/wasm;base64,aGVsbG8=")
	require.NoError(t, err)

	f := NewHTTPFetcher("")
	b, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
}

func TestHTTPFetcherRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok-after-retries"))
	}))
	defer srv.Close()

	r, err := model.ParseResourceURL(srv.URL)
	require.NoError(t, err)

	f := NewHTTPFetcher("")
	f.Backoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Retries: 3}
	b, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "ok-after-retries", string(b))
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPFetcherFailsAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := model.ParseResourceURL(srv.URL)
	require.NoError(t, err)

	f := NewHTTPFetcher("")
	f.Backoff = Backoff{Initial: time.Millisecond, Max: time.Millisecond, Retries: 2}
	_, err = f.Fetch(context.Background(), r)
	require.Error(t, err)
	var ffErr *FetchFailedError
	require.ErrorAs(t, err, &ffErr)
}

func TestHTTPFetcherRejectsUnsupportedScheme(t *testing.T) {
	r, err := model.ParseResourceURL("ftp://example.com/mod.wasm")
	require.Error(t, err) // ParseResourceURL itself rejects the scheme
	_ = r
}

func TestAllFetchesConcurrentlyAndKeysByNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body:" + r.URL.Path))
	}))
	defer srv.Close()

	r1, err := model.ParseResourceURL(srv.URL + "/a")
	require.NoError(t, err)
	r2, err := model.ParseResourceURL(srv.URL + "/b")
	require.NoError(t, err)

	f := NewHTTPFetcher("")
	out, err := All(context.Background(), []model.Resource{r1, r2}, f)
	require.NoError(t, err)
	require.Equal(t, "body:/a", string(out[r1.Normalized()]))
	require.Equal(t, "body:/b", string(out[r2.Normalized()]))
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Retries: 5}
	require.Equal(t, 100*time.Millisecond, b.Delay(1))
	require.Equal(t, 200*time.Millisecond, b.Delay(2))
	require.Equal(t, 300*time.Millisecond, b.Delay(3))
	require.Equal(t, 300*time.Millisecond, b.Delay(10))
}
