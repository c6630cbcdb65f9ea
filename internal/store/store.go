// Package store defines the clip and trigger repository shared by the
// matching engine, the profile serializer, and the HTTP layer.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by all backends.
var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
	ErrEmptyClipList   = fmt.Errorf("%w: trigger requires at least one sound clip", ErrInvalidArgument)
)

// SettingsID is the fixed id of the singleton settings row.
const SettingsID int64 = 1

const defaultResponseDelayMS = 1000

// SoundClip is an uploaded audio clip. Filename is the unique storage key;
// Name carries no uniqueness guarantee.
type SoundClip struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Filename string  `json:"filename"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	URL      string  `json:"url"`
}

// Trigger binds a phrase to an ordered clip rotation.
type Trigger struct {
	ID            int64   `json:"id"`
	Phrase        string  `json:"phrase"`
	SoundClipIDs  []int64 `json:"soundClipIds"`
	CaseSensitive bool    `json:"caseSensitive"`
	Enabled       bool    `json:"enabled"`
	CurrentIndex  int     `json:"currentIndex"`
}

// Settings is the singleton default-response configuration.
type Settings struct {
	ID                          int64   `json:"id"`
	DefaultResponseEnabled      bool    `json:"defaultResponseEnabled"`
	DefaultResponseSoundClipIDs []int64 `json:"defaultResponseSoundClipIds"`
	DefaultResponseIndex        int     `json:"defaultResponseIndex"`
	DefaultResponseDelayMS      int     `json:"defaultResponseDelay"`
}

// NewClip carries the fields of an upload. The repository assigns the id,
// storage key, URL, and size.
type NewClip struct {
	Name     string
	Format   string
	Duration float64
	Audio    []byte
}

// NewTrigger carries the fields of a trigger create. Nil flags take the
// defaults: enabled=true, caseSensitive=false.
type NewTrigger struct {
	Phrase        string
	SoundClipIDs  []int64
	CaseSensitive *bool
	Enabled       *bool
}

// TriggerPatch is a partial trigger update. Nil fields are unchanged.
type TriggerPatch struct {
	Phrase        *string
	SoundClipIDs  []int64
	CaseSensitive *bool
	Enabled       *bool
	CurrentIndex  *int
}

// SettingsPatch is a partial settings update. Nil fields are unchanged.
type SettingsPatch struct {
	DefaultResponseEnabled      *bool
	DefaultResponseSoundClipIDs []int64
	DefaultResponseIndex        *int
	DefaultResponseDelayMS      *int
}

// Store is the repository capability set. Backends are swappable; all
// mutations are atomic per call, and cross-entity cascades (clip delete
// fixing up triggers and settings) complete before the call returns.
type Store interface {
	CreateClip(ctx context.Context, c NewClip) (*SoundClip, error)
	Clip(ctx context.Context, id int64) (*SoundClip, error)
	Clips(ctx context.Context) ([]*SoundClip, error)
	ClipAudio(ctx context.Context, id int64) ([]byte, error)
	AudioByFilename(ctx context.Context, filename string) ([]byte, string, error)
	DeleteClip(ctx context.Context, id int64) error

	CreateTrigger(ctx context.Context, t NewTrigger) (*Trigger, error)
	Trigger(ctx context.Context, id int64) (*Trigger, error)
	Triggers(ctx context.Context) ([]*Trigger, error)
	UpdateTrigger(ctx context.Context, id int64, p TriggerPatch) (*Trigger, error)
	DeleteTrigger(ctx context.Context, id int64) error
	NextClipForTrigger(ctx context.Context, id int64) (*SoundClip, error)

	Settings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, p SettingsPatch) (*Settings, error)
	NextDefaultResponse(ctx context.Context) (*SoundClip, error)

	Clear(ctx context.Context) error
	Close() error
}

// newStorageKey builds a unique storage key for an audio payload: upload
// time plus a random suffix, keeping the extension. Uploaded names are not
// unique, so the key never derives from them.
func newStorageKey(format string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if ext := normalizeFormat(format); ext != "" {
		return fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), suffix, ext)
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

func clipURL(filename string) string {
	return "/uploads/" + filename
}

func defaultSettings() *Settings {
	return &Settings{
		ID:                          SettingsID,
		DefaultResponseEnabled:      false,
		DefaultResponseSoundClipIDs: []int64{},
		DefaultResponseIndex:        0,
		DefaultResponseDelayMS:      defaultResponseDelayMS,
	}
}

func removeID(ids []int64, id int64) []int64 {
	kept := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}
