// Package audio handles microphone capture and level metering.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/Evman90/SoundBoard/internal/errors"
)

const (
	// framesPerBuffer is 100ms at 16kHz, a comfortable streaming chunk.
	framesPerBuffer = 1600
	frameBufferLen  = 32
)

// Frame is one captured buffer of mono 16-bit PCM.
type Frame struct {
	PCM       []int16
	Timestamp int64
}

// Capturer reads mono PCM from the default input device. A Capturer serves
// one listening session: once stopped it cannot be restarted.
type Capturer struct {
	sampleRate int
	outCh      chan Frame

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	running  bool
	stopOnce sync.Once
}

// NewCapturer initializes the audio host for one capture session.
func NewCapturer(sampleRate int) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errors.Wrap(err, errors.CodeAudioCapture, "initializing audio host")
	}
	return &Capturer{
		sampleRate: sampleRate,
		outCh:      make(chan Frame, frameBufferLen),
	}, nil
}

// Frames returns the channel of captured buffers.
func (c *Capturer) Frames() <-chan Frame { return c.outCh }

// Start opens the default input device and begins reading. Acquisition
// failures are classified: a missing device reports no-microphone, an open
// or start failure reports audio-capture.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return errors.Wrap(err, errors.CodeNoMicrophone, "no default input device")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return errors.Wrapf(err, errors.CodeAudioCapture, "opening input stream on %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return errors.Wrapf(err, errors.CodeAudioCapture, "starting input stream on %s", dev.Name)
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.running = true
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate)

	go func() {
		defer c.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				slog.Debug("audio read error", "error", err)
				return
			}

			frame := Frame{
				PCM:       append([]int16(nil), buf...),
				Timestamp: time.Now().UnixNano(),
			}
			select {
			case c.outCh <- frame:
			default:
				slog.Debug("frame buffer full, dropping frame")
			}
		}
	}()

	return nil
}

// Stop tears down the stream and the audio host exactly once. Safe to call
// from any path, including before a successful Start.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		if c.stream != nil {
			_ = c.stream.Stop()
			_ = c.stream.Close()
			c.stream = nil
		}
		c.running = false
		_ = portaudio.Terminate()
	})
}
