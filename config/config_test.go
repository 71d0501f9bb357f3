package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":4210", cfg.Server.UDPAddr)
	assert.Equal(t, "coco17", cfg.Pose.Topology)
	assert.True(t, cfg.Session.AutoStart)
	assert.False(t, cfg.BLE.Enabled)
	assert.Equal(t, analytics.DefaultThresholds(), cfg.Analysis.Thresholds())
	assert.Zero(t, cfg.Analysis.BaselineTimeout.Duration, "baseline timeout is opt-in")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, used, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_XDGPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(xdg, "curlcoach", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
[pose]
topology = "blazepose33"

[analysis]
up_angle = 80.0
cooldown = "5s"

[log]
level = "debug"
format = "json"
`), 0o644))

	cfg, used, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, analytics.BlazePose33, cfg.Topology())

	th := cfg.Analysis.Thresholds()
	assert.Equal(t, 80.0, th.UpAngle)
	assert.Equal(t, 140.0, th.DownAngle, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, th.Cooldown)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad toml":          "[analysis\n",
		"bad duration":      "[analysis]\ncooldown = \"soon\"\n",
		"inverted angles":   "[analysis]\nup_angle = 150.0\n",
		"unknown topology":  "[pose]\ntopology = \"openpose\"\n",
		"bad log level":     "[log]\nlevel = \"loud\"\n",
		"ble without name":  "[ble]\nenabled = true\ndevice_name = \"\"\n",
		"zero broadcast":    "[session]\nbroadcast_interval = \"0s\"\n",
		"unknown log style": "[log]\nformat = \"xml\"\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, _, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curlcoach", "config.toml")
	require.NoError(t, WriteDefault(path, false))

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, DefaultConfig(), cfg)

	assert.Error(t, WriteDefault(path, false), "refuses to overwrite")
	assert.NoError(t, WriteDefault(path, true))
}

func TestApplyLogging(t *testing.T) {
	assert.NoError(t, LogConfig{Level: "warn", Format: "json"}.ApplyLogging())
	assert.Error(t, LogConfig{Level: "chatty"}.ApplyLogging())
	assert.NoError(t, LogConfig{Level: "info", Format: "text"}.ApplyLogging())
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteDefault(path, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c Config) { changes <- c })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Analysis.UpAngle = 75
	writeConfig(t, path, cfg)

	select {
	case got := <-changes:
		assert.Equal(t, 75.0, got.Analysis.UpAngle)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func writeConfig(t *testing.T, path string, cfg Config) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, tomlEncode(f, cfg))
}

func TestDefaultPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	assert.Equal(t, filepath.Join(xdg, "curlcoach", "config.toml"), DefaultPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".config", "curlcoach", "config.toml"), DefaultPath())
}
