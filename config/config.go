// Package config loads the curl coach settings from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all curl coach configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Pose     PoseConfig     `toml:"pose"`
	Analysis AnalysisConfig `toml:"analysis"`
	Session  SessionConfig  `toml:"session"`
	BLE      BLEConfig      `toml:"ble"`
	Record   RecordConfig   `toml:"record"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	HTTPAddr       string   `toml:"http_addr"`
	UDPAddr        string   `toml:"udp_addr"`
	OriginPatterns []string `toml:"origin_patterns"`
}

type PoseConfig struct {
	Topology string `toml:"topology"`
}

type AnalysisConfig struct {
	MinConfidence   float64  `toml:"min_confidence"`
	UpAngle         float64  `toml:"up_angle"`
	DownAngle       float64  `toml:"down_angle"`
	TopSqueezeAngle float64  `toml:"top_squeeze_angle"`
	GoodCurlAngle   float64  `toml:"good_curl_angle"`
	StartingAngle   float64  `toml:"starting_angle"`
	ShoulderTilt    float64  `toml:"shoulder_tilt"`
	ElbowDrift      float64  `toml:"elbow_drift"`
	Cooldown        Duration `toml:"cooldown"`
	BaselineTimeout Duration `toml:"baseline_timeout"`
}

type SessionConfig struct {
	AutoStart         bool     `toml:"auto_start"`
	BroadcastInterval Duration `toml:"broadcast_interval"`
}

type BLEConfig struct {
	Enabled      bool     `toml:"enabled"`
	DeviceName   string   `toml:"device_name"`
	ScanInterval Duration `toml:"scan_interval"`
}

type RecordConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() Config {
	th := analytics.DefaultThresholds()
	return Config{
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			UDPAddr:        ":4210",
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		},
		Pose: PoseConfig{
			Topology: analytics.COCO17.Name,
		},
		Analysis: AnalysisConfig{
			MinConfidence:   th.MinConfidence,
			UpAngle:         th.UpAngle,
			DownAngle:       th.DownAngle,
			TopSqueezeAngle: th.TopSqueezeAngle,
			GoodCurlAngle:   th.GoodCurlAngle,
			StartingAngle:   th.StartingAngle,
			ShoulderTilt:    th.ShoulderTilt,
			ElbowDrift:      th.ElbowDrift,
			Cooldown:        Duration{th.Cooldown},
			BaselineTimeout: Duration{th.BaselineTimeout},
		},
		Session: SessionConfig{
			AutoStart:         true,
			BroadcastInterval: Duration{time.Second},
		},
		BLE: BLEConfig{
			Enabled:      false,
			DeviceName:   "CurlCam",
			ScanInterval: Duration{2 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from path, or from the first standard location that
// exists when path is empty. It returns the file actually read ("" when only
// defaults apply).
func Load(path string) (Config, string, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, path, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// DefaultPath is where -init-config writes when no path is given.
func DefaultPath() string {
	if paths := configPaths(); len(paths) > 0 {
		return paths[0]
	}
	return "curlcoach.toml"
}

func configPaths() []string {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "curlcoach", "config.toml"))
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "curlcoach", "config.toml"))
	}

	return paths
}

// Validate checks the values that would otherwise fail at runtime.
func (c Config) Validate() error {
	if _, err := analytics.TopologyByName(c.Pose.Topology); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Analysis.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Session.BroadcastInterval.Duration <= 0 {
		return fmt.Errorf("%w: session.broadcast_interval must be positive", ErrInvalidConfig)
	}
	if c.BLE.Enabled && strings.TrimSpace(c.BLE.DeviceName) == "" {
		return fmt.Errorf("%w: ble.device_name is required when ble is enabled", ErrInvalidConfig)
	}
	if c.BLE.ScanInterval.Duration <= 0 {
		return fmt.Errorf("%w: ble.scan_interval must be positive", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Thresholds converts the [analysis] section into engine tuning.
func (a AnalysisConfig) Thresholds() analytics.Thresholds {
	return analytics.Thresholds{
		MinConfidence:   a.MinConfidence,
		UpAngle:         a.UpAngle,
		DownAngle:       a.DownAngle,
		TopSqueezeAngle: a.TopSqueezeAngle,
		GoodCurlAngle:   a.GoodCurlAngle,
		StartingAngle:   a.StartingAngle,
		ShoulderTilt:    a.ShoulderTilt,
		ElbowDrift:      a.ElbowDrift,
		Cooldown:        a.Cooldown.Duration,
		BaselineTimeout: a.BaselineTimeout.Duration,
	}
}

// Topology resolves the configured skeleton layout. Call after Validate.
func (c Config) Topology() analytics.Topology {
	t, err := analytics.TopologyByName(c.Pose.Topology)
	if err != nil {
		return analytics.COCO17
	}
	return t
}

// ApplyLogging configures the standard logrus logger.
func (l LogConfig) ApplyLogging() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if l.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
