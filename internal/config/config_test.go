package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreComplete(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.Site.EntryURL)
	assert.NotEmpty(t, cfg.Site.DefaultPassword)
	assert.NotEmpty(t, cfg.Site.LoginErrorPhrases)
	assert.NotEmpty(t, cfg.Locators.Username)
	assert.Equal(t, 0.3, cfg.Lookup.MinScore)
	assert.Equal(t, 0.9, cfg.Lookup.EarlyExit)
}

func TestZeroValueFallbacks(t *testing.T) {
	var cfg Config
	assert.Equal(t, 3*time.Second, cfg.Timeouts.PageLoad())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.LoginProbe())
	assert.Equal(t, 300*time.Millisecond, cfg.Delay.Step())
	assert.Equal(t, 1, cfg.Workers.WorkerCount())
	assert.Equal(t, 2*time.Second, cfg.Workers.Stagger())
	assert.Equal(t, 5*time.Second, cfg.Workers.CleanupBudget())
}

func TestWorkerCountClamped(t *testing.T) {
	w := Workers{Count: 100}
	assert.Equal(t, 32, w.WorkerCount())
	w.Count = -3
	assert.Equal(t, 1, w.WorkerCount())
}

func TestDelayStepClamped(t *testing.T) {
	d := Delay{DefaultMs: 400, MaxMs: 5000, Multiplier: 100}
	assert.Equal(t, 5*time.Second, d.Step())

	d = Delay{DefaultMs: 100, MinMs: 200, MaxMs: 5000, Multiplier: 1}
	assert.Equal(t, 200*time.Millisecond, d.Step())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"workers":{"count":4},"browser":{"headless":false},"lookup":{"min_score":0.5}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers.WorkerCount())
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 0.5, cfg.Lookup.MinScore)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Site.EntryURL, cfg.Site.EntryURL)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Workers.Count = 3
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
