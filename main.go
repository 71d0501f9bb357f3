// Curl Coach: Go Server
//
// Responsibilities:
//   - UDP :4210        → receive pose keypoint frames from camera nodes (JSON or binary)
//   - BLE (optional)   → subscribe to a camera node's keypoint characteristic
//   - Analyze every frame: elbow angles, curl phase, rep count, throttled feedback
//   - WebSocket /ws/analyze → per-frame analysis for the capturing client
//   - WebSocket /ws    → broadcast session snapshots to dashboards
//   - HTTP :8080       → REST session API, health check, /debug/ pages
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/ble"
	"github.com/vasa-develop/dumbbell-form-analyzer/config"
	"github.com/vasa-develop/dumbbell-form-analyzer/recorder"
	"github.com/vasa-develop/dumbbell-form-analyzer/timeutil"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "config file (default: XDG config location)")
	recordPath := flag.String("record", "", "record received frames to this .jsonl.zst file")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	force := flag.Bool("force", false, "with -init-config, overwrite an existing file")
	flag.Parse()

	if *initConfig {
		path := *configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, *force); err != nil {
			logrus.WithError(err).Fatal("write default config")
		}
		fmt.Println("Wrote", path)
		return
	}

	cfg, used, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if err := cfg.Log.ApplyLogging(); err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	if used != "" {
		logrus.WithField("path", used).Info("config loaded")
	}
	if *recordPath != "" {
		cfg.Record.Path = *recordPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, used); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

// run wires the analyzer to every transport and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, configFile string) error {
	log := logrus.WithField("component", "main")
	clock := timeutil.RealClock{}

	engine := analytics.NewEngine(cfg.Analysis.Thresholds(), cfg.Topology())
	analyzer := analytics.NewAnalyzer(engine, clock)
	hub := newHub()
	analyzer.SetStateHandler(func(snap *analytics.SessionSnapshot) {
		hub.BroadcastJSON(snap)
	})

	var rec *recorder.Writer
	if cfg.Record.Path != "" {
		var err error
		if rec, err = recorder.Create(cfg.Record.Path); err != nil {
			return err
		}
		defer func() {
			n := rec.Count()
			if err := rec.Close(); err != nil {
				log.WithError(err).Warn("close recording")
				return
			}
			log.WithFields(logrus.Fields{"path": cfg.Record.Path, "frames": n}).Info("recording saved")
		}()
		log.WithField("path", cfg.Record.Path).Info("recording frames")
	}
	sink := newFrameSink(analyzer, rec, clock)

	srv := &server{
		analyzer: analyzer,
		hub:      hub,
		sink:     sink,
		origins:  cfg.Server.OriginPatterns,
		log:      logrus.WithField("component", "http"),
	}

	// UDP server: camera nodes ping us directly
	if cfg.Server.UDPAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp4", cfg.Server.UDPAddr)
		if err != nil {
			return fmt.Errorf("UDP resolve: %w", err)
		}
		udpConn, err := net.ListenUDP("udp4", udpAddr)
		if err != nil {
			return fmt.Errorf("UDP listen: %w", err)
		}
		srv.udp = newUDPServer(udpConn, sink, analyzer)
		log.WithField("addr", cfg.Server.UDPAddr).Info("UDP listening")
		go srv.udp.Run(ctx)
	}

	if cfg.BLE.Enabled {
		if err := startBLE(ctx, cfg.BLE, analyzer, sink, clock); err != nil {
			log.WithError(err).Warn("BLE input disabled")
		}
	}

	if cfg.Session.AutoStart {
		analyzer.StartSession()
	}

	// Ticker: broadcast elapsed time
	go func() {
		ticker := clock.NewTicker(cfg.Session.BroadcastInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				analyzer.BroadcastTick()
			}
		}
	}()

	if configFile != "" {
		go func() {
			err := config.Watch(ctx, configFile, reloadConfig(analyzer, log))
			if err != nil {
				log.WithError(err).Warn("config hot reload disabled")
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown")
		}
	}()

	log.WithField("addr", cfg.Server.HTTPAddr).Info("HTTP/WS server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP listen: %w", err)
	}
	log.Info("shut down")
	return nil
}

// reloadConfig returns the hot reload callback. Thresholds and logging apply
// live; transports and the skeleton topology are fixed until restart.
func reloadConfig(analyzer *analytics.Analyzer, log *logrus.Entry) func(config.Config) {
	return func(c config.Config) {
		analyzer.SetThresholds(c.Analysis.Thresholds())
		if err := c.Log.ApplyLogging(); err != nil {
			log.WithError(err).Warn("apply logging")
		}
		if want, have := c.Topology().Name, analyzer.Topology().Name; want != have {
			log.WithFields(logrus.Fields{"configured": want, "running": have}).
				Warn("pose topology change ignored until restart")
		}
	}
}

// startBLE connects to the camera node over BLE and feeds its frames to the
// analyzer. The session pauses while the camera is out of range.
func startBLE(ctx context.Context, cfg config.BLEConfig, analyzer *analytics.Analyzer, sink *frameSink, clock timeutil.Clock) error {
	central := ble.NewCentral(cfg.DeviceName)
	if err := central.Enable(); err != nil {
		return err
	}

	scanner := ble.NewScanner(central, ble.ScanConfig{
		ScanInterval:  cfg.ScanInterval.Duration,
		AutoReconnect: true,
	}, clock)

	central.SetFrameHandler(func(f *ble.Frame) {
		sink.Submit("ble", f.Skeleton())
	})
	central.SetConnectionHandler(func(connected bool) {
		analyzer.SetSourceConnected(connected)
		if !connected {
			scanner.OnDisconnect()
		}
	})

	scanner.Start()
	go func() {
		<-ctx.Done()
		scanner.Stop()
		if err := central.Disconnect(); err != nil {
			logrus.WithError(err).Warn("BLE disconnect")
		}
	}()
	return nil
}
