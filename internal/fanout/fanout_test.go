package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndx-relay/internal/logging"
)

func okServer(t *testing.T, hits *atomic.Int32, got *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/notify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		got.Store(r.URL.Query().Get("price"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendAllDeliversPrice(t *testing.T) {
	var hits atomic.Int32
	var price atomic.Value
	srv := okServer(t, &hits, &price)

	f := New(Options{Endpoints: []string{srv.URL + "/"}, Timeout: time.Second}, zerolog.Nop())
	results := f.SendAll(context.Background(), 17320.3938).Wait()

	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, http.StatusOK, results[0].StatusCode)
	assert.Equal(t, "17320.3938", price.Load())
	assert.Equal(t, srv.URL+"/notify?price=17320.3938", results[0].URL)
}

func TestSendAllIsolatesFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	var hits atomic.Int32
	var price atomic.Value
	healthy := okServer(t, &hits, &price)

	f := New(Options{
		Endpoints: []string{failing.URL, slow.URL, healthy.URL},
		Timeout:   200 * time.Millisecond,
	}, zerolog.Nop())

	started := time.Now()
	results := f.SendAll(context.Background(), 42.5).Wait()

	require.Len(t, results, 3)
	assert.Less(t, time.Since(started), 3*time.Second, "slow endpoint must not serialise the others")

	assert.False(t, results[0].OK())
	assert.Equal(t, http.StatusInternalServerError, results[0].StatusCode)
	assert.False(t, results[1].OK())
	assert.Zero(t, results[1].StatusCode)
	assert.True(t, results[2].OK())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "42.5", price.Load())

	delivered, failed := Summary(results)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, failed)
}

func TestSendAllUnreachableEndpoint(t *testing.T) {
	f := New(Options{Endpoints: []string{"http://127.0.0.1:1"}, Timeout: time.Second}, zerolog.Nop())
	results := f.SendAll(context.Background(), 1).Wait()
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestSendAllIgnoresCallerCancellation(t *testing.T) {
	var hits atomic.Int32
	var price atomic.Value
	srv := okServer(t, &hits, &price)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Options{Endpoints: []string{srv.URL}, Timeout: time.Second}, zerolog.Nop())
	results := f.SendAll(ctx, 5).Wait()
	assert.True(t, results[0].OK())
}

func TestCustomPath(t *testing.T) {
	f := New(Options{Endpoints: []string{"http://bot"}, Path: "/hooks/price"}, zerolog.Nop())
	assert.Equal(t, "http://bot/hooks/price?price=-3.25", f.notifyURL("http://bot", "-3.25"))
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestSendAllLogsEachEndpoint(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	var hits atomic.Int32
	var price atomic.Value
	healthy := okServer(t, &hits, &price)

	logs := &logBuffer{}
	logger := logging.NewLoggerTo(logs, logging.Config{Level: "info"}, "ndxrelay")
	f := New(Options{Endpoints: []string{failing.URL, healthy.URL}, Timeout: time.Second}, logger)
	f.SendAll(context.Background(), 17320.3938).Wait()

	byEndpoint := map[string]map[string]any{}
	for _, e := range logs.entries(t) {
		if ep, ok := e["endpoint"].(string); ok {
			byEndpoint[ep] = e
		}
	}
	require.Len(t, byEndpoint, 2)

	failed := byEndpoint[failing.URL]
	require.NotNil(t, failed)
	assert.Equal(t, "error", failed["level"])
	assert.Equal(t, "could not send price to trading bot", failed["message"])
	assert.Equal(t, 500.0, failed["status"])
	assert.Equal(t, failing.URL+"/notify?price=17320.3938", failed["url"])
	assert.Contains(t, failed["error"], "500")

	ok := byEndpoint[healthy.URL]
	require.NotNil(t, ok)
	assert.Equal(t, "info", ok["level"])
	assert.Equal(t, "price sent to trading bot", ok["message"])
}
