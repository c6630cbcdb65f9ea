// Package speech defines the transcript producer boundary: a recognizer
// opens streams that accept PCM audio and emit transcript results. The
// session manager treats the producer as opaque; it only sees results and
// classified stream errors.
package speech

import (
	"context"
	"time"
)

// Result is one transcript event. Final results are forwarded to matching;
// interim results only update the live transcript.
type Result struct {
	Text  string
	Final bool
}

// Stream is one live recognition stream. Callers must drain Results until
// the channel closes; Err reports the classified stream error afterwards,
// nil for a clean end.
type Stream interface {
	Send(pcm []byte) error
	Results() <-chan Result
	Err() error
	Close() error
}

// Recognizer opens recognition streams. One recognizer serves many
// consecutive streams; a supervisor reopens after each spontaneous end.
type Recognizer interface {
	Open(ctx context.Context) (Stream, error)
	Close() error
}

// Config carries recognition parameters shared by providers.
type Config struct {
	Language        string
	SampleRate      int
	CredentialsFile string
	Endpoint        string
	SilenceTimeout  time.Duration
}
