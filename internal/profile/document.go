// Package profile exports and imports the full repository state as a
// portable JSON document with embedded audio payloads. Cross-references
// are by clip name, not id, so a document survives transplants between
// systems with different id sequences.
package profile

import (
	"encoding/json"
	"time"

	"github.com/Evman90/SoundBoard/internal/errors"
)

const (
	// Version is the document format written by Export.
	Version = "1.0"

	// MaxDocumentSize caps an import payload. Oversized documents are
	// rejected before any destructive work.
	MaxDocumentSize = 10 << 20
)

// Document is a point-in-time, self-contained snapshot of all clips,
// triggers, and settings.
type Document struct {
	Version      string         `json:"version"`
	ExportDate   time.Time      `json:"exportDate"`
	SoundClips   []ClipEntry    `json:"soundClips"`
	TriggerWords []TriggerEntry `json:"triggerWords"`
	Settings     *SettingsEntry `json:"settings"`
}

// ClipEntry carries one clip's metadata plus its raw audio as base64.
type ClipEntry struct {
	Name      string  `json:"name"`
	Filename  string  `json:"filename"`
	Format    string  `json:"format"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
	AudioData string  `json:"audioData"`
}

// TriggerEntry references clips by name. Nil flags take the repository
// defaults on import.
type TriggerEntry struct {
	Phrase         string   `json:"phrase"`
	SoundClipNames []string `json:"soundClipNames,omitempty"`
	SoundClipName  string   `json:"soundClipName,omitempty"` // legacy singular shape
	CaseSensitive  *bool    `json:"caseSensitive,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
}

// Names returns the referenced clip names with the legacy singular
// field folded in when the plural list is absent.
func (t TriggerEntry) Names() []string {
	if len(t.SoundClipNames) > 0 {
		return t.SoundClipNames
	}
	if t.SoundClipName != "" {
		return []string{t.SoundClipName}
	}
	return nil
}

// SettingsEntry is the default-response configuration by clip name.
type SettingsEntry struct {
	DefaultResponseEnabled        bool     `json:"defaultResponseEnabled"`
	DefaultResponseSoundClipNames []string `json:"defaultResponseSoundClipNames"`
	DefaultResponseDelay          int      `json:"defaultResponseDelay"`
}

// Validate checks that the required top-level keys are present. An
// empty clip or trigger list is valid; a missing one is not.
func (d *Document) Validate() error {
	switch {
	case d.Version == "":
		return errors.New(errors.CodeInvalidArgument, "profile document missing version")
	case d.SoundClips == nil:
		return errors.New(errors.CodeInvalidArgument, "profile document missing soundClips")
	case d.TriggerWords == nil:
		return errors.New(errors.CodeInvalidArgument, "profile document missing triggerWords")
	case d.Settings == nil:
		return errors.New(errors.CodeInvalidArgument, "profile document missing settings")
	}
	return nil
}

// Parse decodes and validates a profile document.
func Parse(data []byte) (*Document, error) {
	if len(data) > MaxDocumentSize {
		return nil, errors.Newf(errors.CodeInvalidArgument,
			"profile document exceeds %d bytes", MaxDocumentSize)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidArgument, "malformed profile document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
