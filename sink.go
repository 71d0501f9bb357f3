package main

import (
	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/recorder"
	"github.com/vasa-develop/dumbbell-form-analyzer/timeutil"
)

// frameSink is the single entry point for keypoint frames from every
// transport. It records frames when a recorder is attached and hands them to
// the analyzer.
type frameSink struct {
	analyzer *analytics.Analyzer
	recorder *recorder.Writer
	clock    timeutil.Clock
	log      *logrus.Entry
}

func newFrameSink(analyzer *analytics.Analyzer, rec *recorder.Writer, clock timeutil.Clock) *frameSink {
	return &frameSink{
		analyzer: analyzer,
		recorder: rec,
		clock:    clock,
		log:      logrus.WithField("component", "sink"),
	}
}

// Submit records and analyzes one frame. ok is false when no session is
// running.
func (f *frameSink) Submit(source string, s analytics.Skeleton) (analytics.Result, bool) {
	if f.recorder != nil {
		rec := recorder.Record{At: f.clock.Now(), Source: source, Keypoints: s}
		if err := f.recorder.Write(rec); err != nil {
			f.log.WithError(err).Debug("frame not recorded")
		}
	}
	return f.analyzer.ProcessFrame(s)
}

// Recorded returns the number of frames written to the recording.
func (f *frameSink) Recorded() int {
	if f.recorder == nil {
		return 0
	}
	return f.recorder.Count()
}
