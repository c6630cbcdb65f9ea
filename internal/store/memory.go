package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Evman90/SoundBoard/internal/rotation"
)

// Memory is an in-memory Store. Entities and audio payloads live in maps
// guarded by one RWMutex, so cascades run under a single critical section.
type Memory struct {
	mu            sync.RWMutex
	clips         map[int64]SoundClip
	audio         map[int64][]byte
	triggers      map[int64]Trigger
	settings      *Settings
	nextClipID    int64
	nextTriggerID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		clips:         make(map[int64]SoundClip),
		audio:         make(map[int64][]byte),
		triggers:      make(map[int64]Trigger),
		nextClipID:    1,
		nextTriggerID: 1,
	}
}

func (s *Memory) CreateClip(ctx context.Context, c NewClip) (*SoundClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextClipID
	s.nextClipID++

	filename := newStorageKey(c.Format)
	clip := SoundClip{
		ID:       id,
		Name:     c.Name,
		Filename: filename,
		Format:   normalizeFormat(c.Format),
		Duration: c.Duration,
		Size:     int64(len(c.Audio)),
		URL:      clipURL(filename),
	}
	s.clips[id] = clip
	s.audio[id] = append([]byte(nil), c.Audio...)

	return &clip, nil
}

func (s *Memory) Clip(ctx context.Context, id int64) (*SoundClip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clip, ok := s.clips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &clip, nil
}

func (s *Memory) Clips(ctx context.Context) ([]*SoundClip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SoundClip, 0, len(s.clips))
	for _, clip := range s.clips {
		c := clip
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) ClipAudio(ctx context.Context, id int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audio, ok := s.audio[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), audio...), nil
}

func (s *Memory) AudioByFilename(ctx context.Context, filename string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, clip := range s.clips {
		if clip.Filename == filename {
			return append([]byte(nil), s.audio[id]...), clip.Format, nil
		}
	}
	return nil, "", ErrNotFound
}

// DeleteClip removes a clip and its audio, strips the id from every trigger
// and from the default-response list, clamps the affected cursors, and
// deletes triggers left with zero clips. All of it happens before return.
func (s *Memory) DeleteClip(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[id]; !ok {
		return ErrNotFound
	}

	for trID, tr := range s.triggers {
		kept := removeID(tr.SoundClipIDs, id)
		if len(kept) == len(tr.SoundClipIDs) {
			continue
		}
		if len(kept) == 0 {
			delete(s.triggers, trID)
			continue
		}
		tr.SoundClipIDs = kept
		tr.CurrentIndex = rotation.Clamp(tr.CurrentIndex, len(kept))
		s.triggers[trID] = tr
	}

	if s.settings != nil {
		kept := removeID(s.settings.DefaultResponseSoundClipIDs, id)
		if len(kept) != len(s.settings.DefaultResponseSoundClipIDs) {
			s.settings.DefaultResponseSoundClipIDs = kept
			s.settings.DefaultResponseIndex = rotation.Clamp(s.settings.DefaultResponseIndex, len(kept))
		}
	}

	delete(s.clips, id)
	delete(s.audio, id)
	return nil
}

func (s *Memory) CreateTrigger(ctx context.Context, t NewTrigger) (*Trigger, error) {
	if t.Phrase == "" {
		return nil, ErrInvalidArgument
	}
	if len(t.SoundClipIDs) == 0 {
		return nil, ErrEmptyClipList
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextTriggerID
	s.nextTriggerID++

	tr := Trigger{
		ID:           id,
		Phrase:       t.Phrase,
		SoundClipIDs: cloneIDs(t.SoundClipIDs),
		Enabled:      true,
	}
	if t.CaseSensitive != nil {
		tr.CaseSensitive = *t.CaseSensitive
	}
	if t.Enabled != nil {
		tr.Enabled = *t.Enabled
	}
	s.triggers[id] = tr

	out := tr
	out.SoundClipIDs = cloneIDs(tr.SoundClipIDs)
	return &out, nil
}

func (s *Memory) Trigger(ctx context.Context, id int64) (*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := tr
	out.SoundClipIDs = cloneIDs(tr.SoundClipIDs)
	return &out, nil
}

func (s *Memory) Triggers(ctx context.Context) ([]*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Trigger, 0, len(s.triggers))
	for _, tr := range s.triggers {
		t := tr
		t.SoundClipIDs = cloneIDs(tr.SoundClipIDs)
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) UpdateTrigger(ctx context.Context, id int64, p TriggerPatch) (*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}

	if p.Phrase != nil {
		if *p.Phrase == "" {
			return nil, ErrInvalidArgument
		}
		tr.Phrase = *p.Phrase
	}
	if p.SoundClipIDs != nil {
		if len(p.SoundClipIDs) == 0 {
			return nil, ErrEmptyClipList
		}
		tr.SoundClipIDs = cloneIDs(p.SoundClipIDs)
	}
	if p.CaseSensitive != nil {
		tr.CaseSensitive = *p.CaseSensitive
	}
	if p.Enabled != nil {
		tr.Enabled = *p.Enabled
	}
	if p.CurrentIndex != nil {
		tr.CurrentIndex = *p.CurrentIndex
	}
	tr.CurrentIndex = rotation.Clamp(tr.CurrentIndex, len(tr.SoundClipIDs))

	s.triggers[id] = tr
	out := tr
	out.SoundClipIDs = cloneIDs(tr.SoundClipIDs)
	return &out, nil
}

func (s *Memory) DeleteTrigger(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[id]; !ok {
		return ErrNotFound
	}
	delete(s.triggers, id)
	return nil
}

// NextClipForTrigger advances the trigger's rotation cursor and resolves the
// selected clip. An empty rotation, or a dangling clip id, yields a nil clip
// with no error.
func (s *Memory) NextClipForTrigger(ctx context.Context, id int64) (*SoundClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}

	clipID, next, ok := rotation.Next(tr.SoundClipIDs, tr.CurrentIndex)
	if !ok {
		return nil, nil
	}
	tr.CurrentIndex = next
	s.triggers[id] = tr

	clip, ok := s.clips[clipID]
	if !ok {
		return nil, nil
	}
	return &clip, nil
}

func (s *Memory) Settings(ctx context.Context) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureSettingsLocked()
	out := *st
	out.DefaultResponseSoundClipIDs = cloneIDs(st.DefaultResponseSoundClipIDs)
	return &out, nil
}

func (s *Memory) UpdateSettings(ctx context.Context, p SettingsPatch) (*Settings, error) {
	if p.DefaultResponseDelayMS != nil && *p.DefaultResponseDelayMS < 0 {
		return nil, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureSettingsLocked()
	if p.DefaultResponseEnabled != nil {
		st.DefaultResponseEnabled = *p.DefaultResponseEnabled
	}
	if p.DefaultResponseSoundClipIDs != nil {
		st.DefaultResponseSoundClipIDs = cloneIDs(p.DefaultResponseSoundClipIDs)
	}
	if p.DefaultResponseIndex != nil {
		st.DefaultResponseIndex = *p.DefaultResponseIndex
	}
	if p.DefaultResponseDelayMS != nil {
		st.DefaultResponseDelayMS = *p.DefaultResponseDelayMS
	}
	st.DefaultResponseIndex = rotation.Clamp(st.DefaultResponseIndex, len(st.DefaultResponseSoundClipIDs))

	out := *st
	out.DefaultResponseSoundClipIDs = cloneIDs(st.DefaultResponseSoundClipIDs)
	return &out, nil
}

// NextDefaultResponse advances the default-response rotation. Disabled or
// empty rotation yields a nil clip without moving the cursor.
func (s *Memory) NextDefaultResponse(ctx context.Context) (*SoundClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureSettingsLocked()
	if !st.DefaultResponseEnabled {
		return nil, nil
	}
	clipID, next, ok := rotation.Next(st.DefaultResponseSoundClipIDs, st.DefaultResponseIndex)
	if !ok {
		return nil, nil
	}
	st.DefaultResponseIndex = next

	clip, ok := s.clips[clipID]
	if !ok {
		return nil, nil
	}
	return &clip, nil
}

func (s *Memory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clips = make(map[int64]SoundClip)
	s.audio = make(map[int64][]byte)
	s.triggers = make(map[int64]Trigger)
	s.settings = nil
	return nil
}

func (s *Memory) Close() error { return nil }

func (s *Memory) ensureSettingsLocked() *Settings {
	if s.settings == nil {
		s.settings = defaultSettings()
	}
	return s.settings
}
