// curlreplay replays a recorded curl session through the form analyzer and
// prints a per-rep summary.
//
//	curlreplay [-config path] [-topology coco17|blazepose33] [-chart out.html] session.jsonl.zst
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/config"
	"github.com/vasa-develop/dumbbell-form-analyzer/recorder"
	"github.com/vasa-develop/dumbbell-form-analyzer/report"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logrus.WithError(err).Fatal("replay failed")
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("curlreplay", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: XDG config location)")
	topology := fs.String("topology", "", "override skeleton topology (coco17, blazepose33)")
	chartPath := fs.String("chart", "", "write an HTML angle chart to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: curlreplay [flags] <recording%s>", recorder.Extension)
	}
	recording := fs.Arg(0)

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Log.ApplyLogging(); err != nil {
		return err
	}
	topo := cfg.Topology()
	if *topology != "" {
		if topo, err = analytics.TopologyByName(*topology); err != nil {
			return err
		}
	}
	th := cfg.Analysis.Thresholds()

	records, err := recorder.ReadAll(recording)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"recording": recording,
		"records":   len(records),
		"topology":  topo.Name,
	}).Info("replaying")

	sum := report.Replay(analytics.NewEngine(th, topo), records)
	if err := sum.WriteText(stdout); err != nil {
		return err
	}

	if *chartPath != "" {
		f, err := os.Create(*chartPath)
		if err != nil {
			return fmt.Errorf("create chart: %w", err)
		}
		title := filepath.Base(recording)
		if err := report.RenderChart(f, sum, title, th.UpAngle, th.DownAngle); err != nil {
			f.Close()
			return fmt.Errorf("render chart: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		logrus.WithField("path", *chartPath).Info("chart written")
	}
	return nil
}
