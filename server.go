package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"tailscale.com/tsweb"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
)

// ─── Wire messages ───────────────────────────────────────────────────────────

// analyzeRequest is a message from a /ws/analyze client.
type analyzeRequest struct {
	Type      string             `json:"type"` // "frame" | "reset"
	TS        int64              `json:"ts"`
	Keypoints analytics.Skeleton `json:"keypoints"`
}

// analysisMessage is the per-frame reply on /ws/analyze.
type analysisMessage struct {
	Type         string          `json:"type"`
	PoseDetected bool            `json:"pose_detected"`
	Angle        *float64        `json:"angle"`
	LeftAngle    *float64        `json:"left_angle"`
	RightAngle   *float64        `json:"right_angle"`
	RepCount     int             `json:"repCount"`
	Phase        analytics.Phase `json:"phase"`
	Feedback     []string        `json:"feedback"`
	Speech       string          `json:"speech,omitempty"`
}

func newAnalysisMessage(res analytics.Result) analysisMessage {
	speech, _ := res.Speech()
	return analysisMessage{
		Type:         "analysis",
		PoseDetected: res.PoseDetected(),
		Angle:        res.Angle,
		LeftAngle:    res.LeftAngle,
		RightAngle:   res.RightAngle,
		RepCount:     res.RepCount,
		Phase:        res.Phase,
		Feedback:     res.Feedback,
		Speech:       speech,
	}
}

type statusMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

const resetMessage = "Form analyzer has been reset"

// ─── Server ──────────────────────────────────────────────────────────────────

type server struct {
	analyzer *analytics.Analyzer
	hub      *Hub
	sink     *frameSink
	udp      *udpServer // nil when UDP input is disabled
	origins  []string
	log      *logrus.Entry
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws/analyze", s.handleAnalyzeWS)
	mux.HandleFunc("/ws", s.handleDashboardWS)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/start", s.sessionCommand("session_start", s.analyzer.StartSession))
	mux.HandleFunc("/api/session/stop", s.sessionCommand("session_stop", s.analyzer.StopSession))
	mux.HandleFunc("/api/session/reset", s.sessionCommand("session_reset", s.analyzer.ResetSession))
	mux.HandleFunc("/reset", s.handleLegacyReset)

	debug := tsweb.Debugger(mux)
	debug.Handle("session", "Live curl session state", http.HandlerFunc(s.handleDebugSession))

	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.GetState())
}

// sessionCommand runs action on POST, tells the camera node and replies with
// the resulting snapshot.
func (s *server) sessionCommand(cmd string, action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		action()
		if s.udp != nil {
			s.udp.notify(cmd)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": s.analyzer.GetState()})
	}
}

func (s *server) handleLegacyReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	s.analyzer.ResetSession()
	writeJSON(w, http.StatusOK, statusMessage{Status: "reset", Message: resetMessage})
}

func (s *server) handleDebugSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    s.analyzer.GetState(),
		"thresholds": s.analyzer.Thresholds(),
		"topology":   s.analyzer.Topology().Name,
		"dashboards": s.hub.Len(),
		"recorded":   s.sink.Recorded(),
	})
}

// ─── WebSockets ──────────────────────────────────────────────────────────────

func (s *server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
}

func (s *server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		s.log.WithError(err).Warn("dashboard upgrade")
		return
	}
	defer conn.CloseNow()

	initial, err := json.Marshal(s.analyzer.GetState())
	if err != nil {
		s.log.WithError(err).Error("marshal snapshot")
		return
	}

	s.log.WithField("remote", r.RemoteAddr).Info("dashboard connected")
	s.hub.Serve(r.Context(), conn, initial)
	s.log.WithField("remote", r.RemoteAddr).Info("dashboard disconnected")
}

func (s *server) handleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		s.log.WithError(err).Warn("analyze upgrade")
		return
	}
	defer conn.CloseNow()

	l := s.log.WithField("remote", r.RemoteAddr)
	l.Info("analyze client connected")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !isClosed(err) {
				l.WithError(err).Debug("analyze read")
			}
			l.Info("analyze client disconnected")
			return
		}

		if err := s.writeReply(ctx, conn, s.analyzeReply(data)); err != nil {
			l.WithError(err).Debug("analyze write")
			return
		}
	}
}

// analyzeReply handles one /ws/analyze message and returns the reply.
func (s *server) analyzeReply(data []byte) any {
	var req analyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return statusMessage{Type: "error", Error: fmt.Sprintf("invalid message: %v", err)}
	}

	switch req.Type {
	case "frame", "":
		res, ok := s.sink.Submit("ws", req.Keypoints)
		if !ok {
			return statusMessage{Type: "idle", Message: "no active session"}
		}
		return newAnalysisMessage(res)
	case "reset":
		s.analyzer.ResetSession()
		return statusMessage{Type: "reset", Status: "reset", Message: resetMessage}
	default:
		return statusMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", req.Type)}
	}
}

func (s *server) writeReply(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Warn("failed to encode json response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
