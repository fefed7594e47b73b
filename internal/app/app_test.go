package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndx-relay/internal/config"
	"ndx-relay/internal/relay"
	"ndx-relay/internal/storage"
)

func testApp(t *testing.T, endpoints ...string) *App {
	t.Helper()
	cfg := &config.Config{
		Discord: config.DiscordConfig{
			Channel: "ndx-notifications",
			Bot:     "ndx-bot#0001",
			Marker:  "NDX",
		},
		Relay: config.RelayConfig{
			Timezone:       "UTC",
			Endpoints:      endpoints,
			NotifyPath:     "/notify",
			RequestTimeout: 2 * time.Second,
			KeyTTL:         48 * time.Hour,
		},
		Store: config.StoreConfig{
			Backend: config.BackendBuntDB,
			BuntDB:  config.BuntDBConfig{Path: filepath.Join(t.TempDir(), "relay.db")},
		},
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestSimulateRelaysOncePerDay(t *testing.T) {
	var hits atomic.Int32
	var gotPrice atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotPrice.Store(r.URL.Query().Get("price"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := testApp(t, srv.URL)
	ctx := context.Background()

	outcome, err := a.Simulate(ctx, SimulateOptions{Text: "NDX - $17320.3938"})
	require.NoError(t, err)
	assert.Equal(t, relay.Relayed, outcome)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "17320.3938", gotPrice.Load())

	outcome, err = a.Simulate(ctx, SimulateOptions{Text: "NDX - $17400", Embed: true})
	require.NoError(t, err)
	assert.Equal(t, relay.AlreadySent, outcome)
	assert.Equal(t, int32(1), hits.Load())

	var out bytes.Buffer
	require.NoError(t, a.Show(ctx, &out, ShowOptions{Limit: 5}))
	assert.Contains(t, out.String(), "status: relayed (price 17320.3938)")
	assert.Contains(t, out.String(), "key: "+time.Now().UTC().Format("060102"))
}

func TestSimulateRejectsForeignAuthor(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")

	outcome, err := a.Simulate(context.Background(), SimulateOptions{
		Author: "someone-else",
		Text:   "NDX - $1",
	})
	require.NoError(t, err)
	assert.Equal(t, relay.Rejected, outcome)

	var out bytes.Buffer
	require.NoError(t, a.Show(context.Background(), &out, ShowOptions{Limit: 5}))
	assert.Contains(t, out.String(), "status: pending")
}

func TestAnnounceRequiresToken(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	err := a.Announce(context.Background(), AnnounceOptions{ChannelID: "123", Title: "test", Text: "NDX - $1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
}

type fixedMarks []storage.Mark

func (m fixedMarks) ListRecentMarks(_ context.Context, limit int) ([]storage.Mark, error) {
	if limit < len(m) {
		return m[:limit], nil
	}
	return m, nil
}

func TestWriteMarks(t *testing.T) {
	created := time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)
	expires := created.Add(48 * time.Hour)
	marks := fixedMarks{
		{Key: "240115", Value: "17320.3938", ExpiresAt: &expires, CreatedAt: created},
		{Key: "240114", Value: "17100", CreatedAt: created.Add(-24 * time.Hour)},
	}

	var out bytes.Buffer
	require.NoError(t, writeMarks(context.Background(), &out, marks, 5))
	assert.Contains(t, out.String(), "240115")
	assert.Contains(t, out.String(), "2024-01-17T17:00:00Z")
	assert.Contains(t, out.String(), "never")

	out.Reset()
	require.NoError(t, writeMarks(context.Background(), &out, fixedMarks{}, 5))
	assert.Contains(t, out.String(), "no dedup marks stored")
}
