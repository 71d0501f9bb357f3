package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/config"
)

func TestReloadConfig(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	f := newFixture(t, nil)
	reload := reloadConfig(f.analyzer, logger.WithField("component", "test"))

	t.Run("thresholds apply", func(t *testing.T) {
		hook.Reset()
		cfg := config.DefaultConfig()
		cfg.Log.Level = "warn"
		cfg.Analysis.UpAngle = 75
		reload(cfg)

		assert.Equal(t, 75.0, f.analyzer.Thresholds().UpAngle)
		assert.Empty(t, hook.AllEntries())
	})

	t.Run("topology change needs restart", func(t *testing.T) {
		hook.Reset()
		cfg := config.DefaultConfig()
		cfg.Log.Level = "warn"
		cfg.Pose.Topology = analytics.BlazePose33.Name
		reload(cfg)

		assert.Equal(t, analytics.COCO17.Name, f.analyzer.Topology().Name)
		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "blazepose33", entry.Data["configured"])
		assert.Equal(t, "coco17", entry.Data["running"])
	})
}
