package profile

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/Evman90/SoundBoard/internal/errors"
	"github.com/Evman90/SoundBoard/internal/store"
	"github.com/Evman90/SoundBoard/internal/trace"
)

// Locker serializes profile operations against live trigger matching.
// The matching engine provides one; tests may pass a no-op.
type Locker interface {
	Exclusive(func() error) error
}

// ImportSummary reports what an import recreated.
type ImportSummary struct {
	Clips    int `json:"clips"`
	Triggers int `json:"triggers"`
}

// Serializer reads and rewrites the repository as profile documents.
type Serializer struct {
	store store.Store
	lock  Locker
}

// NewSerializer returns a Serializer over st, holding lock for the
// duration of every export and import.
func NewSerializer(st store.Store, lock Locker) *Serializer {
	return &Serializer{store: st, lock: lock}
}

// Export snapshots the repository. A clip whose audio cannot be read is
// skipped with a warning rather than failing the whole export; its name
// still resolves in trigger references.
func (s *Serializer) Export(ctx context.Context) (*Document, error) {
	var doc *Document
	err := s.lock.Exclusive(func() error {
		var err error
		doc, err = s.export(ctx)
		return err
	})
	return doc, err
}

func (s *Serializer) export(ctx context.Context) (*Document, error) {
	log := trace.Logger(ctx)

	clips, err := s.store.Clips(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "listing sound clips")
	}

	nameByID := make(map[int64]string, len(clips))
	entries := make([]ClipEntry, 0, len(clips))
	for _, c := range clips {
		nameByID[c.ID] = c.Name
		audio, err := s.store.ClipAudio(ctx, c.ID)
		if err != nil {
			log.Warn("skipping clip with unreadable audio", "clip_id", c.ID, "name", c.Name, "error", err)
			continue
		}
		entries = append(entries, ClipEntry{
			Name:      c.Name,
			Filename:  c.Filename,
			Format:    c.Format,
			Duration:  c.Duration,
			Size:      c.Size,
			AudioData: base64.StdEncoding.EncodeToString(audio),
		})
	}

	triggers, err := s.store.Triggers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "listing triggers")
	}
	words := make([]TriggerEntry, 0, len(triggers))
	for _, tr := range triggers {
		cs, en := tr.CaseSensitive, tr.Enabled
		words = append(words, TriggerEntry{
			Phrase:         tr.Phrase,
			SoundClipNames: resolveNames(tr.SoundClipIDs, nameByID),
			CaseSensitive:  &cs,
			Enabled:        &en,
		})
	}

	settings, err := s.store.Settings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "reading settings")
	}

	return &Document{
		Version:      Version,
		ExportDate:   time.Now().UTC(),
		SoundClips:   entries,
		TriggerWords: words,
		Settings: &SettingsEntry{
			DefaultResponseEnabled:        settings.DefaultResponseEnabled,
			DefaultResponseSoundClipNames: resolveNames(settings.DefaultResponseSoundClipIDs, nameByID),
			DefaultResponseDelay:          settings.DefaultResponseDelayMS,
		},
	}, nil
}

// Import destructively replaces the repository with the document's
// contents. Existing entities are cleared first; if a later step fails,
// the cleared data is not restored and the returned error says so.
// Trigger references that resolve to no imported clip are silently
// dropped, and a trigger left with zero clips is not created.
func (s *Serializer) Import(ctx context.Context, doc *Document) (*ImportSummary, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	var sum *ImportSummary
	err := s.lock.Exclusive(func() error {
		var err error
		sum, err = s.importLocked(ctx, doc)
		return err
	})
	return sum, err
}

func (s *Serializer) importLocked(ctx context.Context, doc *Document) (*ImportSummary, error) {
	log := trace.Logger(ctx)

	if err := s.store.Clear(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "clearing repository before import")
	}

	// Duplicate names keep the last created clip's id, matching the
	// lossy name-based reference model.
	idByName := make(map[string]int64, len(doc.SoundClips))
	sum := &ImportSummary{}
	for _, entry := range doc.SoundClips {
		audio, err := base64.StdEncoding.DecodeString(entry.AudioData)
		if err != nil {
			log.Warn("skipping clip with undecodable audio", "name", entry.Name, "error", err)
			continue
		}
		clip, err := s.store.CreateClip(ctx, store.NewClip{
			Name:     entry.Name,
			Format:   entry.Format,
			Duration: entry.Duration,
			Audio:    audio,
		})
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInternal,
				"import failed after clear, repository left partially rebuilt: clip %q", entry.Name)
		}
		idByName[entry.Name] = clip.ID
		sum.Clips++
	}

	for _, entry := range doc.TriggerWords {
		ids := resolveIDs(entry.Names(), idByName)
		if len(ids) == 0 {
			log.Warn("skipping trigger with no resolvable clips", "phrase", entry.Phrase)
			continue
		}
		if _, err := s.store.CreateTrigger(ctx, store.NewTrigger{
			Phrase:        entry.Phrase,
			SoundClipIDs:  ids,
			CaseSensitive: entry.CaseSensitive,
			Enabled:       entry.Enabled,
		}); err != nil {
			log.Warn("skipping trigger", "phrase", entry.Phrase, "error", err)
			continue
		}
		sum.Triggers++
	}

	enabled := doc.Settings.DefaultResponseEnabled
	delay := doc.Settings.DefaultResponseDelay
	index := 0
	if _, err := s.store.UpdateSettings(ctx, store.SettingsPatch{
		DefaultResponseEnabled:      &enabled,
		DefaultResponseSoundClipIDs: resolveIDs(doc.Settings.DefaultResponseSoundClipNames, idByName),
		DefaultResponseIndex:        &index,
		DefaultResponseDelayMS:      &delay,
	}); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal,
			"import failed after clear, repository left partially rebuilt: settings")
	}

	log.Info("profile imported", "clips", sum.Clips, "triggers", sum.Triggers)
	return sum, nil
}

// resolveNames maps clip ids to names, dropping ids with no clip.
func resolveNames(ids []int64, nameByID map[int64]string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := nameByID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// resolveIDs maps clip names to imported ids, dropping unknown names.
func resolveIDs(names []string, idByName map[string]int64) []int64 {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		if id, ok := idByName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
