// Package engine evaluates finalized transcripts against trigger
// phrases, applies cooldown suppression, and emits play commands.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Evman90/SoundBoard/internal/store"
	"github.com/Evman90/SoundBoard/internal/trace"
)

const (
	// CooldownWindow suppresses repeat fires of the same trigger+phrase.
	CooldownWindow = 2000 * time.Millisecond

	// PlaybackGain is the fixed volume ratio of every play command.
	PlaybackGain = 0.75

	// defaultResponseKey is the singleton cooldown key gating the
	// fallback path.
	defaultResponseKey = "default-response"
)

// Player receives play commands. Implementations must not block; the
// engine assumes fire-and-forget delivery.
type Player interface {
	Play(clip *store.SoundClip, gain float64)
}

// Engine matches transcripts against the trigger repository and emits
// play commands to a Player.
//
// The session manager hands it one finalized transcript at a time, but
// the delayed default-response path fires on its own timer, and the
// profile serializer pauses matching entirely via Exclusive.
type Engine struct {
	store  store.Store
	player Player

	mu sync.RWMutex // shared during matching, exclusive during import/export

	cooldowns   *Cooldowns
	cooldownTTL time.Duration

	pendMu  sync.Mutex
	pending map[uint64]*time.Timer
	seq     uint64
	gen     uint64 // bumped by CancelPending; stale timers check it and bail
}

// New returns an Engine matching against st and playing through player.
func New(st store.Store, player Player) *Engine {
	return &Engine{
		store:       st,
		player:      player,
		cooldowns:   NewCooldowns(),
		cooldownTTL: CooldownWindow,
		pending:     make(map[uint64]*time.Timer),
	}
}

// HandleTranscript evaluates one finalized transcript. Every enabled
// trigger whose phrase is contained in the transcript fires unless its
// cooldown key is active; when nothing matches a non-empty transcript,
// the default response is scheduled instead. A match that was only
// suppressed by cooldown still counts as a match for fallback purposes.
func (e *Engine) HandleTranscript(ctx context.Context, transcript string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	log := trace.Logger(ctx)

	triggers, err := e.store.Triggers(ctx)
	if err != nil {
		log.Error("trigger lookup failed", "error", err)
		return
	}

	matched := 0
	for _, tr := range triggers {
		if !tr.Enabled {
			continue
		}
		phrase, ok := matchPhrase(transcript, tr)
		if !ok {
			continue
		}
		matched++
		if !e.cooldowns.Arm(cooldownKey(tr.ID, phrase), e.cooldownTTL) {
			log.Debug("trigger suppressed by cooldown", "trigger_id", tr.ID, "phrase", tr.Phrase)
			continue
		}
		clip, err := e.store.NextClipForTrigger(ctx, tr.ID)
		if err != nil {
			log.Warn("clip rotation failed", "trigger_id", tr.ID, "error", err)
			continue
		}
		if clip == nil {
			log.Warn("trigger has no playable clip", "trigger_id", tr.ID)
			continue
		}
		log.Info("trigger matched", "trigger_id", tr.ID, "phrase", tr.Phrase, "clip", clip.Name)
		e.player.Play(clip, PlaybackGain)
	}

	if matched > 0 || transcript == "" {
		return
	}
	e.maybeScheduleFallback(ctx, log)
}

// CancelPending stops any scheduled default-response playback and
// clears all active cooldowns. No play command is emitted after it
// returns. The session manager calls it on stop so a torn-down session
// cannot play late.
func (e *Engine) CancelPending() {
	e.pendMu.Lock()
	e.gen++
	for id, timer := range e.pending {
		timer.Stop()
		delete(e.pending, id)
	}
	e.pendMu.Unlock()
	e.cooldowns.CancelAll()
}

// Exclusive runs fn while live matching is paused. The profile
// serializer wraps import and export in it so a clear+rebuild can
// never interleave with a cursor advance.
func (e *Engine) Exclusive(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// maybeScheduleFallback arms the singleton default-response key and
// schedules playback after the configured delay. The key's expiry
// equals the delay, so at most one fallback is pending at a time.
func (e *Engine) maybeScheduleFallback(ctx context.Context, log *slog.Logger) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		log.Warn("settings lookup failed", "error", err)
		return
	}
	if !settings.DefaultResponseEnabled || len(settings.DefaultResponseSoundClipIDs) == 0 {
		return
	}
	delay := time.Duration(settings.DefaultResponseDelayMS) * time.Millisecond
	if !e.cooldowns.Arm(defaultResponseKey, delay) {
		return
	}
	log.Debug("default response scheduled", "delay", delay)

	e.pendMu.Lock()
	e.seq++
	id, gen := e.seq, e.gen
	e.pending[id] = time.AfterFunc(delay, func() { e.fireFallback(id, gen) })
	e.pendMu.Unlock()
}

// fireFallback plays the next default-response clip. The clip is
// resolved when the timer fires, not when it was scheduled, so settings
// edits during the wait take effect.
func (e *Engine) fireFallback(id, gen uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	delete(e.pending, id)
	if gen != e.gen {
		return
	}

	clip, err := e.store.NextDefaultResponse(context.Background())
	if err != nil {
		slog.Warn("default response rotation failed", "error", err)
		return
	}
	if clip == nil {
		return
	}
	slog.Info("default response", "clip", clip.Name, "clip_id", clip.ID)
	e.player.Play(clip, PlaybackGain)
}

// matchPhrase reports whether transcript contains the trigger phrase,
// returning the comparison form of the phrase used for the match.
func matchPhrase(transcript string, tr *store.Trigger) (string, bool) {
	phrase, text := tr.Phrase, transcript
	if !tr.CaseSensitive {
		phrase = strings.ToLower(phrase)
		text = strings.ToLower(text)
	}
	if phrase == "" || !strings.Contains(text, phrase) {
		return "", false
	}
	return phrase, true
}

// cooldownKey identifies one trigger+phrase combination in the
// suppression set.
func cooldownKey(id int64, phrase string) string {
	return strconv.FormatInt(id, 10) + ":" + phrase
}
