package playback

import "github.com/Evman90/SoundBoard/internal/store"

// Sink receives play commands. Implementations must not block.
type Sink interface {
	Play(clip *store.SoundClip, gain float64)
}

// Fanout forwards each play command to every sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout returns a Fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Play forwards the command to all sinks in order.
func (f *Fanout) Play(clip *store.SoundClip, gain float64) {
	for _, s := range f.sinks {
		s.Play(clip, gain)
	}
}
