package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Evman90/SoundBoard/internal/config"
	"github.com/Evman90/SoundBoard/internal/errors"
	"github.com/Evman90/SoundBoard/internal/profile"
	"github.com/Evman90/SoundBoard/internal/session"
	"github.com/Evman90/SoundBoard/internal/store"
	"github.com/Evman90/SoundBoard/internal/trace"
)

// Inbound websocket message shapes. Clients doing their own speech
// recognition push transcript events; everything else is outbound.
type inboundMessage struct {
	Type string `json:"type"`
}

type transcriptMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"isFinal"`
}

// rateLimiter tracks message timestamps in a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow checks whether another message fits the window and records it.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-rateLimitWindow)
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= rateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, time.Now())
	return true
}

// Server handles REST and WebSocket connections.
type Server struct {
	store    store.Store
	sessions *session.Manager
	profiles *profile.Serializer
	hub      *Hub
	origins  []string
}

// New creates a server and starts forwarding session events to the hub.
func New(st store.Store, sessions *session.Manager, profiles *profile.Serializer, hub *Hub, cfg *config.Config) *Server {
	s := &Server{
		store:    st,
		sessions: sessions,
		profiles: profiles,
		hub:      hub,
		origins:  cfg.Server.AllowedOrigins,
	}

	go s.pumpEvents()
	return s
}

// pumpEvents broadcasts session events for the lifetime of the process.
func (s *Server) pumpEvents() {
	for ev := range s.sessions.Events() {
		s.hub.Broadcast(ev)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/sound-clips", s.handleClipList)
	mux.HandleFunc("POST /api/sound-clips", s.handleClipUpload)
	mux.HandleFunc("GET /api/sound-clips/{id}", s.handleClipGet)
	mux.HandleFunc("DELETE /api/sound-clips/{id}", s.handleClipDelete)
	mux.HandleFunc("GET /uploads/{filename}", s.handleAudio)

	mux.HandleFunc("GET /api/trigger-words", s.handleTriggerList)
	mux.HandleFunc("POST /api/trigger-words", s.handleTriggerCreate)
	mux.HandleFunc("GET /api/trigger-words/{id}", s.handleTriggerGet)
	mux.HandleFunc("PATCH /api/trigger-words/{id}", s.handleTriggerUpdate)
	mux.HandleFunc("DELETE /api/trigger-words/{id}", s.handleTriggerDelete)
	mux.HandleFunc("POST /api/trigger-words/{id}/next-clip", s.handleTriggerNextClip)

	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("PATCH /api/settings", s.handleSettingsUpdate)
	mux.HandleFunc("POST /api/settings/next-default-response", s.handleNextDefaultResponse)

	mux.HandleFunc("GET /api/profile/export", s.handleProfileExport)
	mux.HandleFunc("POST /api/profile/import", s.handleProfileImport)

	mux.HandleFunc("GET /api/session", s.handleSessionGet)
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)

	// Apply middleware: trace -> CORS
	return s.cors(trace.Middleware(mux))
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowedOrigin(s.origins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && a == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.hub.add(conn)
	defer s.hub.remove(conn)

	// The upgrade request's trace context covers the whole connection.
	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	rl := &rateLimiter{}
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket closed", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("websocket rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, session.Event{
				Type:    session.EventError,
				Code:    string(errors.CodeInvalidArgument),
				Message: "rate limit exceeded",
			})
			continue
		}

		var base inboundMessage
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "transcript":
			var msg transcriptMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := s.sessions.Ingest(ctx, msg.Text, msg.Final); err != nil {
				log.Debug("transcript event dropped", "error", err)
			}
		}
	}
}
