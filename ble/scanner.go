package ble

import (
	"sync"
	"time"

	"github.com/vasa-develop/dumbbell-form-analyzer/timeutil"
)

// ScanConfig holds configuration for device scanning.
type ScanConfig struct {
	// ScanInterval is how often to check for a missing camera (default 2s)
	ScanInterval time.Duration
	// AutoReconnect enables automatic reconnection on disconnect
	AutoReconnect bool
}

// DefaultScanConfig returns sensible defaults for scanning.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ScanInterval:  2 * time.Second,
		AutoReconnect: true,
	}
}

// Link is the part of Central the Scanner drives.
type Link interface {
	IsConnected() bool
	StartScanning() error
	StopScanning()
}

// Scanner keeps scanning until the camera is connected and rescans after it
// drops.
type Scanner struct {
	link   Link
	config ScanConfig
	clock  timeutil.Clock

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScanner creates a new Scanner for link.
func NewScanner(link Link, config ScanConfig, clock timeutil.Clock) *Scanner {
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultScanConfig().ScanInterval
	}
	return &Scanner{
		link:   link,
		config: config,
		clock:  clock,
	}
}

// Start begins the scanning loop.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.config.ScanInterval)
	go s.scanLoop(ticker, s.stop, s.done)
}

// OnDisconnect triggers an immediate scan instead of waiting for the next
// interval. Wire it into the central's connection handler.
func (s *Scanner) OnDisconnect() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || !s.config.AutoReconnect {
		return
	}
	log.Info("camera disconnected, initiating reconnection scan")
	go s.checkAndScan()
}

// Stop halts the scanning loop and waits for it to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.link.StopScanning()
}

func (s *Scanner) scanLoop(ticker timeutil.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	log.WithField("interval", s.config.ScanInterval).Info("scan loop started")

	s.checkAndScan()

	for {
		select {
		case <-stop:
			log.Info("scan loop stopped")
			return
		case <-ticker.C():
			if s.config.AutoReconnect {
				s.checkAndScan()
			}
		}
	}
}

func (s *Scanner) checkAndScan() {
	if s.link.IsConnected() {
		return
	}
	if err := s.link.StartScanning(); err != nil {
		log.WithError(err).Warn("failed to start scan")
	}
}

// WaitForCamera blocks until the camera is connected or the timeout elapses.
// A zero timeout waits forever.
func (s *Scanner) WaitForCamera(timeout time.Duration) bool {
	start := s.clock.Now()
	for {
		if s.link.IsConnected() {
			return true
		}
		if timeout > 0 && s.clock.Since(start) > timeout {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
