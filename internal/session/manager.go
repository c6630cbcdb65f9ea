package session

import (
	"context"
	"sync"

	"github.com/Evman90/SoundBoard/internal/audio"
	"github.com/Evman90/SoundBoard/internal/errors"
	"github.com/Evman90/SoundBoard/internal/resilience"
	"github.com/Evman90/SoundBoard/internal/speech"
	"github.com/Evman90/SoundBoard/internal/syncx"
	"github.com/Evman90/SoundBoard/internal/trace"
)

const eventBufferLen = 64

// view is the mutable part of the snapshot, guarded separately from
// the lifecycle state.
type view struct {
	transcript string
	levelDB    float64
	lastError  string
}

// Manager drives the Idle/Listening state machine. While listening it
// supervises the recognizer stream, restarting it with capped backoff
// on failure and giving up only after repeated consecutive failures.
type Manager struct {
	matcher    Matcher
	recognizer speech.Recognizer
	newSource  func() (Source, error)
	policy     resilience.RestartPolicy

	state *syncx.Guard[view]

	mu     sync.Mutex
	phase  State
	cancel context.CancelFunc
	done   chan struct{}

	// ingestMu serializes transcript processing so finalized events are
	// handled one at a time, and lets Stop wait out an in-flight one
	// before cancelling pending playback.
	ingestMu sync.Mutex

	events chan Event
}

// NewManager returns an idle Manager.
func NewManager(opts Options) *Manager {
	if opts.RestartPolicy == (resilience.RestartPolicy{}) {
		opts.RestartPolicy = resilience.DefaultRestartPolicy()
	}
	return &Manager{
		matcher:    opts.Matcher,
		recognizer: opts.Recognizer,
		newSource:  opts.NewSource,
		policy:     opts.RestartPolicy,
		state:      syncx.NewGuard(view{}),
		phase:      StateIdle,
		events:     make(chan Event, eventBufferLen),
	}
}

// Events returns the session event stream. Single consumer; events are
// dropped when it lags.
func (m *Manager) Events() <-chan Event { return m.events }

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot returns the UI-facing view of the session.
func (m *Manager) Snapshot() Snapshot {
	v := m.state.Get()
	return Snapshot{
		Listening:  m.State() == StateListening,
		Transcript: v.transcript,
		LevelDB:    v.levelDB,
		LastError:  v.lastError,
	}
}

// Start transitions Idle to Listening. Acquisition failures surface to
// the caller and leave the session Idle. The call blocks while the
// audio device is acquired.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == StateListening {
		m.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument, "session already listening")
	}

	traced, _ := trace.EnsureContext(context.Background())
	sessCtx, cancel := context.WithCancel(traced)
	var src Source
	if m.supervised() {
		var err error
		src, err = m.newSource()
		if err != nil {
			cancel()
			m.mu.Unlock()
			return err
		}
		if err := src.Start(sessCtx); err != nil {
			src.Stop()
			cancel()
			m.mu.Unlock()
			return err
		}
	}

	m.phase = StateListening
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.state.Set(view{})
	m.publish(Event{Type: EventSession, State: StateListening})
	trace.Logger(ctx).Info("session started", "supervised", src != nil)

	if src != nil {
		go m.supervise(sessCtx, src, done)
	} else {
		close(done)
	}
	return nil
}

// Stop transitions Listening to Idle. When it returns, capture and the
// recognizer stream are torn down and no play command will be emitted.
// Stopping an idle session is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.phase != StateListening {
		m.mu.Unlock()
		return
	}
	m.phase = StateIdle
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done

	// An in-flight external transcript finishes before the timers die,
	// so nothing can schedule playback after this block.
	m.ingestMu.Lock()
	m.matcher.CancelPending()
	m.ingestMu.Unlock()

	m.state.Update(func(v *view) { v.transcript = ""; v.levelDB = 0 })
	m.publish(Event{Type: EventSession, State: StateIdle})
	trace.Logger(context.Background()).Info("session stopped")
}

// Ingest feeds one transcript event from an external source, such as a
// browser doing its own speech recognition. Only finalized text
// reaches the matching engine; interim text updates the live snapshot.
func (m *Manager) Ingest(ctx context.Context, text string, final bool) error {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()
	if m.State() != StateListening {
		return errors.New(errors.CodeInvalidArgument, "session is not listening")
	}
	m.handleResult(ctx, speech.Result{Text: text, Final: final})
	return nil
}

func (m *Manager) supervised() bool {
	return m.recognizer != nil && m.newSource != nil
}

// supervise owns one listening session: it runs recognizer streams
// back to back, classifying each ending. Transient endings (silence
// timeouts, aborted recognition) resume quietly; failures restart with
// escalating backoff until the budget is exhausted; fatal errors end
// the session at once.
func (m *Manager) supervise(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)
	defer src.Stop()
	log := trace.Logger(ctx)

	restarter := resilience.NewRestarter(m.policy)
	for {
		err := m.runStream(ctx, src, restarter)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil || errors.IsTransient(err):
			if err != nil {
				log.Debug("recognize stream ended", "error", err)
			}
			if resilience.Wait(ctx, m.policy.BaseDelay) != nil {
				return
			}
		case errors.IsFatal(err):
			log.Error("recognize stream failed", "error", err)
			m.fail(err)
			return
		default:
			delay, ok := restarter.Failure()
			if !ok {
				log.Error("giving up on speech stream", "failures", restarter.Failures(), "error", err)
				m.fail(errors.Wrapf(err, errors.CodeNetwork,
					"speech stream failed %d times in a row", restarter.Failures()))
				return
			}
			log.Warn("recognize stream failed, restarting", "error", err,
				"failures", restarter.Failures(), "delay", delay)
			if resilience.Wait(ctx, delay) != nil {
				return
			}
		}
	}
}

// runStream runs a single recognizer stream to completion, pumping
// captured audio in and transcripts out. The first result of an
// attempt clears the consecutive failure count.
func (m *Manager) runStream(ctx context.Context, src Source, restarter *resilience.Restarter) error {
	stream, err := m.recognizer.Open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go m.pumpAudio(pumpCtx, src, stream)

	sawResult := false
	for {
		select {
		case <-ctx.Done():
			stream.Close()
			for range stream.Results() {
			}
			return nil
		case res, ok := <-stream.Results():
			if !ok {
				return stream.Err()
			}
			if !sawResult {
				sawResult = true
				restarter.Reset()
			}
			m.ingestMu.Lock()
			m.handleResult(ctx, res)
			m.ingestMu.Unlock()
		}
	}
}

// pumpAudio forwards captured frames into the stream and keeps the
// level meter fresh. It exits when the stream rejects a send or the
// attempt ends.
func (m *Manager) pumpAudio(ctx context.Context, src Source, stream speech.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-src.Frames():
			if !ok {
				return
			}
			db := audio.DBFS(audio.RMS(frame.PCM))
			m.state.Update(func(v *view) { v.levelDB = db })
			m.publish(Event{Type: EventLevel, LevelDB: db})
			if err := stream.Send(audio.Bytes(frame.PCM)); err != nil {
				return
			}
		}
	}
}

// handleResult updates the live transcript and forwards finals to the
// matcher. Callers hold ingestMu.
func (m *Manager) handleResult(ctx context.Context, res speech.Result) {
	m.state.Update(func(v *view) { v.transcript = res.Text })
	m.publish(Event{Type: EventTranscript, Text: res.Text, Final: res.Final})
	if res.Final {
		m.matcher.HandleTranscript(ctx, res.Text)
	}
}

// fail ends the session from inside the supervisor, surfacing err to
// subscribers and leaving the user free to start again.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.phase = StateIdle
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.ingestMu.Lock()
	m.matcher.CancelPending()
	m.ingestMu.Unlock()

	m.state.Update(func(v *view) { v.lastError = err.Error() })
	m.publish(Event{Type: EventError, Code: string(errors.CodeOf(err)), Message: err.Error()})
	m.publish(Event{Type: EventSession, State: StateIdle})
}

// publish pushes an event, dropping it when the subscriber lags.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}
