package server

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Evman90/SoundBoard/internal/store"
)

// playMessage tells subscribers to play a clip. Actual audio output is the
// subscriber's concern; gain travels with the command.
type playMessage struct {
	Type string           `json:"type"`
	Clip *store.SoundClip `json:"clip"`
	Gain float64          `json:"gain"`
}

// Hub fans messages out to websocket subscribers. It doubles as a playback
// sink: the matching engine plays clips by broadcasting play commands.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends msg to every subscriber. Writes run concurrently and each
// is bounded by broadcastTimeout, so a stalled subscriber misses messages
// instead of holding everyone else up.
func (h *Hub) Broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
}

// Play pushes a play command to every subscriber.
func (h *Hub) Play(clip *store.SoundClip, gain float64) {
	h.Broadcast(playMessage{Type: "play", Clip: clip, Gain: gain})
}
