// Package playback delivers play commands to audio sinks: a local
// player process, the websocket hub, or both through a fanout.
package playback

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Evman90/SoundBoard/internal/store"
)

// playTimeout bounds one player process. Clips are short; anything
// still running after this is wedged.
const playTimeout = 2 * time.Minute

// volumeToken in a command argv is replaced with the play gain scaled
// to 0-100.
const volumeToken = "{volume}"

// AudioSource provides clip audio for local playback.
type AudioSource interface {
	ClipAudio(ctx context.Context, id int64) ([]byte, error)
}

// Local plays clips on the host by piping audio into an external
// player process. Failures are logged and swallowed; a broken player
// must never take down matching.
type Local struct {
	source  AudioSource
	command []string
}

// NewLocal returns a Local player running the given argv per clip,
// with the clip's audio on stdin.
func NewLocal(source AudioSource, command []string) *Local {
	return &Local{source: source, command: command}
}

// Play starts playback in the background and returns immediately.
func (l *Local) Play(clip *store.SoundClip, gain float64) {
	go func() {
		if err := l.play(clip, gain); err != nil {
			slog.Warn("local playback failed", "clip_id", clip.ID, "name", clip.Name, "error", err)
		}
	}()
}

func (l *Local) play(clip *store.SoundClip, gain float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	audio, err := l.source.ClipAudio(ctx, clip.ID)
	if err != nil {
		return err
	}

	argv := expandCommand(l.command, gain)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	return cmd.Run()
}

// expandCommand substitutes the volume token. Gain is a 0-1 ratio; the
// player flag wants 0-100.
func expandCommand(command []string, gain float64) []string {
	volume := strconv.Itoa(int(math.Round(gain * 100)))
	argv := make([]string, len(command))
	for i, arg := range command {
		argv[i] = strings.ReplaceAll(arg, volumeToken, volume)
	}
	return argv
}
