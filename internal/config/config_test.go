package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
discord:
  channel: alerts
  bot: ndx-bot#0001
relay:
  timezone: America/Los_Angeles
  endpoints:
    - " http://bot-a:8080/ "
    - ""
    - http://bot-b:8080
store:
  backend: buntdb
  buntdb:
    path: ":memory:"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "alerts", cfg.Discord.Channel)
	assert.Equal(t, "NDX", cfg.Discord.Marker)
	assert.Equal(t, []string{"http://bot-a:8080", "http://bot-b:8080"}, cfg.Relay.Endpoints)
	assert.Equal(t, "/notify", cfg.Relay.NotifyPath)
	assert.Equal(t, 10*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Relay.KeyTTL)
	assert.Equal(t, "America/Los_Angeles", cfg.Location().String())
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("DISCORD_NOTIFICATIONS_CHANNEL", "trade-alerts")
	t.Setenv("DISCORD_NOTIFICATIONS_BOT", "ndx-bot")
	t.Setenv("DISCORD_NOTIFICATIONS_DISABLE_VERIFY_BOT", "1")
	t.Setenv("TRADING_BOT_API_URLS", "http://a,http://b")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NDXRELAY_RELAY_TIMEZONE", "UTC")

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "trade-alerts", cfg.Discord.Channel)
	assert.True(t, cfg.Discord.DisableVerifyBot)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Relay.Endpoints)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.Redis.URL)
}

func TestLoadPrefixedEnvWins(t *testing.T) {
	t.Setenv("NDXRELAY_DISCORD_CHANNEL", "primary")
	t.Setenv("DISCORD_NOTIFICATIONS_CHANNEL", "legacy")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Discord.Channel)
}

func TestValidateMissingRequired(t *testing.T) {
	cases := map[string]string{
		"channel": `
discord: {bot: b}
relay: {timezone: UTC, endpoints: [http://a]}
store: {backend: buntdb}
`,
		"timezone": `
discord: {channel: c, bot: b}
relay: {endpoints: [http://a]}
store: {backend: buntdb}
`,
		"bad timezone": `
discord: {channel: c, bot: b}
relay: {timezone: Mars/Olympus, endpoints: [http://a]}
store: {backend: buntdb}
`,
		"endpoints": `
discord: {channel: c, bot: b}
relay: {timezone: UTC}
store: {backend: buntdb}
`,
		"redis url": `
discord: {channel: c, bot: b}
relay: {timezone: UTC, endpoints: [http://a]}
`,
		"postgres dsn": `
discord: {channel: c, bot: b}
relay: {timezone: UTC, endpoints: [http://a]}
store: {backend: postgres}
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestRequireToken(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireToken())
	cfg.Discord.Token = "x"
	assert.NoError(t, cfg.RequireToken())
}
