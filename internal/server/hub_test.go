package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Evman90/SoundBoard/internal/store"
)

// wsMessage is the union of everything the server pushes.
type wsMessage struct {
	Type    string           `json:"type"`
	State   string           `json:"state,omitempty"`
	Text    string           `json:"text,omitempty"`
	Final   bool             `json:"isFinal,omitempty"`
	LevelDB float64          `json:"levelDb,omitempty"`
	Clip    *store.SoundClip `json:"clip,omitempty"`
	Gain    float64          `json:"gain,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil drains messages until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string) wsMessage {
	t.Helper()
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %q message: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketPlayRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	clip := uploadClip(t, s.Handler(), "Airhorn", []byte("brrt"))
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/trigger-words",
		fmt.Sprintf(`{"phrase":"airhorn","soundClipIds":[%d]}`, clip.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("trigger create status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	resp, err := http.Post(srv.URL+"/api/session/start", "", nil)
	if err != nil {
		t.Fatalf("session start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session start status = %d", resp.StatusCode)
	}
	defer func() {
		stop, err := http.Post(srv.URL+"/api/session/stop", "", nil)
		if err == nil {
			stop.Body.Close()
		}
	}()

	if err := wsjson.Write(ctx, conn, transcriptMessage{Type: "transcript", Text: "hit the airhorn", Final: true}); err != nil {
		t.Fatalf("sending transcript: %v", err)
	}

	play := readUntil(t, ctx, conn, "play")
	if play.Clip == nil || play.Clip.ID != clip.ID {
		t.Fatalf("play message clip = %+v, want %d", play.Clip, clip.ID)
	}
	if play.Gain != 0.75 {
		t.Errorf("play gain = %v, want 0.75", play.Gain)
	}
}

func TestWebSocketBroadcastsTranscripts(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	if err := s.sessions.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.sessions.Stop()

	if err := wsjson.Write(ctx, conn, transcriptMessage{Type: "transcript", Text: "testing one two", Final: false}); err != nil {
		t.Fatalf("sending transcript: %v", err)
	}

	msg := readUntil(t, ctx, conn, "transcript")
	if msg.Text != "testing one two" || msg.Final {
		t.Errorf("transcript message = %+v, want interim testing one two", msg)
	}
}

func TestWebSocketSessionEvents(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	// The handshake completes before the server registers the conn; wait
	// for registration so the start event cannot slip past it.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.sessions.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	msg := readUntil(t, ctx, conn, "session")
	if msg.State != "listening" {
		t.Errorf("session state = %q, want listening", msg.State)
	}

	s.sessions.Stop()
	for {
		msg = readUntil(t, ctx, conn, "session")
		if msg.State == "idle" {
			break
		}
	}
}

func TestWebSocketIgnoresTranscriptsWhileIdle(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	clip := uploadClip(t, s.Handler(), "Ding", []byte("ding"))
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/trigger-words",
		fmt.Sprintf(`{"phrase":"ding","soundClipIds":[%d]}`, clip.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("trigger create status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	// No session running: the transcript must not reach the engine.
	if err := wsjson.Write(ctx, conn, transcriptMessage{Type: "transcript", Text: "ding", Final: true}); err != nil {
		t.Fatalf("sending transcript: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	triggers, err := st.Triggers(context.Background())
	if err != nil || len(triggers) != 1 {
		t.Fatalf("Triggers() = %v (err %v)", triggers, err)
	}
	if triggers[0].CurrentIndex != 0 {
		t.Error("rotation advanced for a transcript sent while idle")
	}
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Play(&store.SoundClip{ID: 1}, 0.75)
	if got := hub.subscribers(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

func TestHubTracksSubscribers(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv)
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for s.hub.subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
