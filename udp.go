package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/ble"
)

// datagram is one message from a camera node. JSON datagrams carry a type;
// binary keypoint frames are decoded into type "frame".
type datagram struct {
	Type      string             `json:"type"` // "discover" | "frame" | "reset" | "session_reset_ack"
	TS        int64              `json:"ts"`   // camera clock, ms
	Keypoints analytics.Skeleton `json:"keypoints"`
}

// decodeDatagram parses a JSON message, or a binary frame when the payload
// does not start with '{'.
func decodeDatagram(data []byte) (datagram, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var d datagram
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return datagram{}, fmt.Errorf("json datagram: %w", err)
		}
		if d.Type == "" && d.Keypoints != nil {
			d.Type = "frame"
		}
		return d, nil
	}

	frame, err := ble.ParseFrame(data)
	if err != nil {
		return datagram{}, err
	}
	return datagram{Type: "frame", TS: int64(frame.Timestamp), Keypoints: frame.Skeleton()}, nil
}

// udpServer receives keypoint frames from camera nodes on the LAN.
type udpServer struct {
	conn     *net.UDPConn
	sink     *frameSink
	analyzer *analytics.Analyzer
	log      *logrus.Entry

	mu     sync.Mutex
	camera *net.UDPAddr // last node that streamed frames
}

func newUDPServer(conn *net.UDPConn, sink *frameSink, analyzer *analytics.Analyzer) *udpServer {
	return &udpServer{
		conn:     conn,
		sink:     sink,
		analyzer: analyzer,
		log:      logrus.WithField("component", "udp"),
	}
}

// Run reads datagrams until ctx is done.
func (u *udpServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.log.WithError(err).Warn("read")
			continue
		}

		if reply := u.handle(buf[:n], src); reply != nil {
			if _, err := u.conn.WriteToUDP(reply, src); err != nil {
				u.log.WithError(err).Warn("reply")
			}
		}
	}
}

// handle processes one datagram and returns the reply to send, if any.
func (u *udpServer) handle(data []byte, src *net.UDPAddr) []byte {
	d, err := decodeDatagram(data)
	if err != nil {
		u.log.WithError(err).WithField("src", src).Debug("dropping datagram")
		return nil
	}

	switch d.Type {
	case "discover":
		u.log.WithField("src", src).Info("discovery ack")
		return []byte(`{"type":"ack"}`)
	case "frame":
		u.mu.Lock()
		if u.camera == nil || u.camera.String() != src.String() {
			u.log.WithField("src", src).Info("camera streaming")
		}
		u.camera = src
		u.mu.Unlock()
		u.sink.Submit("udp", d.Keypoints)
	case "reset":
		u.analyzer.ResetSession()
	case "session_reset_ack":
		u.log.Debug("camera acknowledged session reset")
	default:
		u.log.WithField("type", d.Type).Warn("unknown datagram type")
	}
	return nil
}

// notify sends a command to the streaming camera, if one is known.
func (u *udpServer) notify(cmd string) {
	u.mu.Lock()
	dst := u.camera
	u.mu.Unlock()
	if dst == nil {
		return
	}
	msg := fmt.Sprintf(`{"type":%q}`, cmd)
	if _, err := u.conn.WriteToUDP([]byte(msg), dst); err != nil {
		u.log.WithError(err).WithField("cmd", cmd).Warn("command send")
	}
}
