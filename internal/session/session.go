// Package session owns the continuous-listening lifecycle: audio
// capture, speech streaming, supervised restarts, and deterministic
// teardown. Transcripts reach the matching engine only through here.
package session

import (
	"context"

	"github.com/Evman90/SoundBoard/internal/audio"
	"github.com/Evman90/SoundBoard/internal/resilience"
	"github.com/Evman90/SoundBoard/internal/speech"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
)

// Event types pushed to subscribers.
const (
	EventSession    = "session"
	EventTranscript = "transcript"
	EventLevel      = "level"
	EventError      = "error"
)

// Event is one session activity notification. Type selects which of
// the remaining fields are meaningful.
type Event struct {
	Type    string  `json:"type"`
	State   State   `json:"state,omitempty"`
	Text    string  `json:"text,omitempty"`
	Final   bool    `json:"isFinal,omitempty"`
	LevelDB float64 `json:"levelDb,omitempty"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Snapshot is the UI-facing session state, rebuilt on every start.
type Snapshot struct {
	Listening  bool    `json:"isListening"`
	Transcript string  `json:"currentTranscript"`
	LevelDB    float64 `json:"audioLevelDb"`
	LastError  string  `json:"lastError,omitempty"`
}

// Source provides microphone frames. audio.Capturer satisfies it; a
// Source serves one session and is discarded on stop.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	Stop()
}

// Matcher consumes finalized transcripts. The trigger engine satisfies
// it; CancelPending must guarantee no play command after it returns.
type Matcher interface {
	HandleTranscript(ctx context.Context, text string)
	CancelPending()
}

// Options configures a Manager. With a nil Recognizer or NewSource the
// session runs without local capture and transcripts arrive only via
// Ingest (a browser doing its own recognition).
type Options struct {
	Matcher       Matcher
	Recognizer    speech.Recognizer
	NewSource     func() (Source, error)
	RestartPolicy resilience.RestartPolicy
}
