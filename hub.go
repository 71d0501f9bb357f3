package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 5 * time.Second
)

type wsClient struct {
	send chan []byte
}

// Hub manages connected dashboard clients and broadcasts to all of them.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *logrus.Entry
}

func newHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		log:     logrus.WithField("component", "hub"),
	}
}

func (h *Hub) register() *wsClient {
	c := &wsClient{send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues payload for every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// slow client, drop
		}
	}
}

// BroadcastJSON marshals v once and broadcasts it.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Error("marshal broadcast")
		return
	}
	h.Broadcast(data)
}

// Serve streams broadcasts to conn until the peer goes away or ctx is done.
// initial, when set, is sent before any broadcast.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, initial []byte) {
	client := h.register()
	defer h.unregister(client)

	// Dashboard clients only listen; CloseRead handles control frames and
	// cancels ctx when the peer closes.
	ctx = conn.CloseRead(ctx)

	if initial != nil {
		if err := writeMessage(ctx, conn, initial); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				if !isClosed(err) {
					h.log.WithError(err).Debug("dashboard write failed")
				}
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

func isClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
