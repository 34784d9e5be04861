package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`90`), &d), "bare numbers are ambiguous")
	assert.Error(t, d.Set("soon"))

	out, err := json.Marshal(Duration{15 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `"15s"`, string(out))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, defaultConfig(), cfg)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("DEFAULT_PLAYERS", "8")
	t.Setenv("VOTE_WINDOW", "3s")
	t.Setenv("LOG_WS", "yes")
	t.Setenv("MAX_ROUNDS", "many")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_players": 10, "night_window": "2s", "seed": 42}`), 0o600))

	cfg := loadConfig(path)
	assert.Equal(t, ":9000", cfg.Addr, "env wins over defaults")
	assert.Equal(t, 10, cfg.DefaultPlayers, "file wins over env")
	assert.Equal(t, 3*time.Second, cfg.VoteWindow.Duration)
	assert.Equal(t, 2*time.Second, cfg.NightWindow.Duration)
	assert.True(t, cfg.LogWS)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, defaultConfig().MaxRounds, cfg.MaxRounds, "invalid env values are ignored")
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	assert.Equal(t, defaultConfig(), loadConfig(path))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"defaults", func(*AppConfig) {}, true},
		{"too few players", func(c *AppConfig) { c.DefaultPlayers = 4 }, false},
		{"too many players", func(c *AppConfig) { c.DefaultPlayers = 13 }, false},
		{"no rounds", func(c *AppConfig) { c.MaxRounds = 0 }, false},
		{"no rate", func(c *AppConfig) { c.RateLimit = 0 }, false},
		{"no burst", func(c *AppConfig) { c.RateBurst = 0 }, false},
		{"no night window", func(c *AppConfig) { c.NightWindow = Duration{} }, false},
		{"negative speech window", func(c *AppConfig) { c.SpeechWindow = Duration{-time.Second} }, false},
		{"no vote window", func(c *AppConfig) { c.VoteWindow = Duration{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.validate())
			} else {
				assert.Error(t, cfg.validate())
			}
		})
	}
	assert.ErrorIs(t, AppConfig{DefaultPlayers: 2}.validate(), ErrInvalidPlayerCount)
}

func TestSessionConfigFromAppConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRounds = 4
	cfg.SpeechWindow = Duration{time.Second}
	cfg.DecisionTimeout = Duration{2 * time.Second}
	cfg.Pacing = Duration{}

	sc := cfg.sessionConfig()
	assert.Equal(t, 4, sc.MaxRounds)
	assert.Equal(t, time.Second, sc.SpeechWindow)
	assert.Equal(t, 2*time.Second, sc.ReviewTimeout)
	assert.Zero(t, sc.Pacing)

	cfg.Dev = true
	assert.True(t, cfg.toLogConfig().Debug, "dev mode implies debug logging")
}
