package profile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/Evman90/SoundBoard/internal/store"
)

type nopLocker struct{}

func (nopLocker) Exclusive(fn func() error) error { return fn() }

func newSerializer() (*Serializer, store.Store) {
	st := store.NewMemory()
	return NewSerializer(st, nopLocker{}), st
}

func mustCreateClip(t *testing.T, st store.Store, name string, audio []byte) *store.SoundClip {
	t.Helper()
	clip, err := st.CreateClip(context.Background(), store.NewClip{
		Name:     name,
		Format:   "mp3",
		Duration: 1.5,
		Audio:    audio,
	})
	if err != nil {
		t.Fatalf("CreateClip(%q) failed: %v", name, err)
	}
	return clip
}

func mustCreateTrigger(t *testing.T, st store.Store, phrase string, clipIDs []int64) *store.Trigger {
	t.Helper()
	tr, err := st.CreateTrigger(context.Background(), store.NewTrigger{
		Phrase:       phrase,
		SoundClipIDs: clipIDs,
	})
	if err != nil {
		t.Fatalf("CreateTrigger(%q) failed: %v", phrase, err)
	}
	return tr
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcStore := newSerializer()

	audio := []byte("ding audio bytes")
	clip := mustCreateClip(t, srcStore, "Ding", audio)
	cs := true
	if _, err := srcStore.CreateTrigger(ctx, store.NewTrigger{
		Phrase:        "hi",
		SoundClipIDs:  []int64{clip.ID},
		CaseSensitive: &cs,
	}); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	enabled := true
	delay := 2500
	if _, err := srcStore.UpdateSettings(ctx, store.SettingsPatch{
		DefaultResponseEnabled:      &enabled,
		DefaultResponseSoundClipIDs: []int64{clip.ID},
		DefaultResponseDelayMS:      &delay,
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	// Advance the default-response cursor so the import reset is visible.
	if _, err := srcStore.NextDefaultResponse(ctx); err != nil {
		t.Fatalf("NextDefaultResponse failed: %v", err)
	}

	doc, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if doc.Version != Version {
		t.Errorf("version = %q, want %q", doc.Version, Version)
	}
	if doc.ExportDate.IsZero() || time.Since(doc.ExportDate) > time.Minute {
		t.Errorf("exportDate = %v, want recent", doc.ExportDate)
	}
	if len(doc.SoundClips) != 1 || doc.SoundClips[0].Name != "Ding" {
		t.Fatalf("soundClips = %+v, want one entry named Ding", doc.SoundClips)
	}
	if got, _ := base64.StdEncoding.DecodeString(doc.SoundClips[0].AudioData); !bytes.Equal(got, audio) {
		t.Error("exported audioData does not decode to the original bytes")
	}
	if len(doc.TriggerWords) != 1 || len(doc.TriggerWords[0].SoundClipNames) != 1 || doc.TriggerWords[0].SoundClipNames[0] != "Ding" {
		t.Fatalf("triggerWords = %+v, want one entry referencing Ding", doc.TriggerWords)
	}

	// Through the wire format and into a fresh repository.
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	dst, dstStore := newSerializer()
	sum, err := dst.Import(ctx, parsed)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if sum.Clips != 1 || sum.Triggers != 1 {
		t.Errorf("summary = %+v, want 1 clip and 1 trigger", sum)
	}

	clips, err := dstStore.Clips(ctx)
	if err != nil || len(clips) != 1 {
		t.Fatalf("Clips() = %v, %v, want one clip", clips, err)
	}
	if clips[0].Name != "Ding" {
		t.Errorf("imported clip name = %q, want Ding", clips[0].Name)
	}
	gotAudio, err := dstStore.ClipAudio(ctx, clips[0].ID)
	if err != nil || !bytes.Equal(gotAudio, audio) {
		t.Errorf("imported audio differs from the original")
	}

	triggers, err := dstStore.Triggers(ctx)
	if err != nil || len(triggers) != 1 {
		t.Fatalf("Triggers() = %v, %v, want one trigger", triggers, err)
	}
	tr := triggers[0]
	if tr.Phrase != "hi" || !tr.CaseSensitive || !tr.Enabled {
		t.Errorf("imported trigger = %+v, want phrase hi, caseSensitive, enabled", tr)
	}
	if len(tr.SoundClipIDs) != 1 || tr.SoundClipIDs[0] != clips[0].ID {
		t.Errorf("trigger clip ids = %v, want [%d]", tr.SoundClipIDs, clips[0].ID)
	}

	settings, err := dstStore.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if !settings.DefaultResponseEnabled || settings.DefaultResponseDelayMS != 2500 {
		t.Errorf("settings = %+v, want enabled with delay 2500", settings)
	}
	if len(settings.DefaultResponseSoundClipIDs) != 1 || settings.DefaultResponseSoundClipIDs[0] != clips[0].ID {
		t.Errorf("settings clip ids = %v, want [%d]", settings.DefaultResponseSoundClipIDs, clips[0].ID)
	}
	if settings.DefaultResponseIndex != 0 {
		t.Errorf("defaultResponseIndex = %d, want 0 after import", settings.DefaultResponseIndex)
	}
}

func TestImportIsDestructive(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()
	clip := mustCreateClip(t, st, "old", []byte("old"))
	mustCreateTrigger(t, st, "old phrase", []int64{clip.ID})

	empty := &Document{
		Version:      Version,
		SoundClips:   []ClipEntry{},
		TriggerWords: []TriggerEntry{},
		Settings:     &SettingsEntry{},
	}
	sum, err := sr.Import(ctx, empty)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if sum.Clips != 0 || sum.Triggers != 0 {
		t.Errorf("summary = %+v, want zeroes", sum)
	}

	clips, _ := st.Clips(ctx)
	triggers, _ := st.Triggers(ctx)
	if len(clips) != 0 || len(triggers) != 0 {
		t.Errorf("repository holds %d clips, %d triggers after empty import, want none", len(clips), len(triggers))
	}
	settings, _ := st.Settings(ctx)
	if settings.DefaultResponseEnabled || len(settings.DefaultResponseSoundClipIDs) != 0 {
		t.Errorf("settings = %+v, want disabled with empty list", settings)
	}
}

func TestImportValidationFailureLeavesRepositoryIntact(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()
	clip := mustCreateClip(t, st, "keep", []byte("keep"))
	mustCreateTrigger(t, st, "keep phrase", []int64{clip.ID})

	bad := &Document{Version: Version, SoundClips: []ClipEntry{}, TriggerWords: []TriggerEntry{}}
	if _, err := sr.Import(ctx, bad); err == nil {
		t.Fatal("Import() of document without settings succeeded, want rejection")
	}

	clips, _ := st.Clips(ctx)
	triggers, _ := st.Triggers(ctx)
	if len(clips) != 1 || len(triggers) != 1 {
		t.Errorf("repository was cleared by a rejected import: %d clips, %d triggers", len(clips), len(triggers))
	}
}

func TestImportDropsUnresolvableNames(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()

	doc := &Document{
		Version: Version,
		SoundClips: []ClipEntry{
			{Name: "Ding", Format: "mp3", AudioData: base64.StdEncoding.EncodeToString([]byte("ding"))},
		},
		TriggerWords: []TriggerEntry{
			{Phrase: "hi", SoundClipNames: []string{"Ding", "Ghost"}},
			{Phrase: "bye", SoundClipNames: []string{"Ghost"}},
		},
		Settings: &SettingsEntry{
			DefaultResponseEnabled:        true,
			DefaultResponseSoundClipNames: []string{"Ghost"},
		},
	}
	sum, err := sr.Import(ctx, doc)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if sum.Triggers != 1 {
		t.Errorf("summary triggers = %d, want 1 (zero-clip trigger dropped)", sum.Triggers)
	}

	triggers, _ := st.Triggers(ctx)
	if len(triggers) != 1 || triggers[0].Phrase != "hi" {
		t.Fatalf("triggers = %+v, want only the hi trigger", triggers)
	}
	if len(triggers[0].SoundClipIDs) != 1 {
		t.Errorf("trigger clip ids = %v, want the ghost reference dropped", triggers[0].SoundClipIDs)
	}
	settings, _ := st.Settings(ctx)
	if len(settings.DefaultResponseSoundClipIDs) != 0 {
		t.Errorf("settings clip ids = %v, want empty", settings.DefaultResponseSoundClipIDs)
	}
}

func TestImportLegacySingularClipName(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()

	payload := `{
		"version": "1.0",
		"soundClips": [{"name": "Ding", "format": "mp3", "audioData": "` +
		base64.StdEncoding.EncodeToString([]byte("ding")) + `"}],
		"triggerWords": [{"phrase": "hey", "soundClipName": "Ding"}],
		"settings": {"defaultResponseEnabled": false, "defaultResponseSoundClipNames": [], "defaultResponseDelay": 1000}
	}`
	doc, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := sr.Import(ctx, doc); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	triggers, _ := st.Triggers(ctx)
	if len(triggers) != 1 {
		t.Fatalf("triggers = %+v, want one migrated from the singular shape", triggers)
	}
	tr := triggers[0]
	if len(tr.SoundClipIDs) != 1 {
		t.Fatalf("trigger clip ids = %v, want one", tr.SoundClipIDs)
	}
	// Omitted flags take the repository defaults.
	if !tr.Enabled || tr.CaseSensitive {
		t.Errorf("trigger flags = enabled %v, caseSensitive %v, want true, false", tr.Enabled, tr.CaseSensitive)
	}
}

func TestImportDuplicateNamesLastWins(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()

	doc := &Document{
		Version: Version,
		SoundClips: []ClipEntry{
			{Name: "Ding", Format: "mp3", AudioData: base64.StdEncoding.EncodeToString([]byte("first"))},
			{Name: "Ding", Format: "mp3", AudioData: base64.StdEncoding.EncodeToString([]byte("second"))},
		},
		TriggerWords: []TriggerEntry{
			{Phrase: "hi", SoundClipNames: []string{"Ding"}},
		},
		Settings: &SettingsEntry{},
	}
	if _, err := sr.Import(ctx, doc); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	triggers, _ := st.Triggers(ctx)
	if len(triggers) != 1 || len(triggers[0].SoundClipIDs) != 1 {
		t.Fatalf("triggers = %+v, want one with one clip", triggers)
	}
	audio, err := st.ClipAudio(ctx, triggers[0].SoundClipIDs[0])
	if err != nil {
		t.Fatalf("ClipAudio failed: %v", err)
	}
	if !bytes.Equal(audio, []byte("second")) {
		t.Errorf("trigger resolves to audio %q, want the later duplicate", audio)
	}
}

func TestImportSkipsUndecodableAudio(t *testing.T) {
	ctx := context.Background()
	sr, st := newSerializer()

	doc := &Document{
		Version: Version,
		SoundClips: []ClipEntry{
			{Name: "bad", Format: "mp3", AudioData: "%%% not base64 %%%"},
			{Name: "good", Format: "mp3", AudioData: base64.StdEncoding.EncodeToString([]byte("ok"))},
		},
		TriggerWords: []TriggerEntry{},
		Settings:     &SettingsEntry{},
	}
	sum, err := sr.Import(ctx, doc)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if sum.Clips != 1 {
		t.Errorf("summary clips = %d, want 1", sum.Clips)
	}
	clips, _ := st.Clips(ctx)
	if len(clips) != 1 || clips[0].Name != "good" {
		t.Errorf("clips = %+v, want only the decodable one", clips)
	}
}

type brokenCreateStore struct {
	store.Store
}

func (brokenCreateStore) CreateClip(ctx context.Context, c store.NewClip) (*store.SoundClip, error) {
	return nil, stderrors.New("disk full")
}

func TestImportFailureAfterClearReportsIt(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	old := mustCreateClip(t, st, "old", []byte("old"))
	mustCreateTrigger(t, st, "old phrase", []int64{old.ID})

	sr := NewSerializer(brokenCreateStore{Store: st}, nopLocker{})
	doc := &Document{
		Version: Version,
		SoundClips: []ClipEntry{
			{Name: "new", Format: "mp3", AudioData: base64.StdEncoding.EncodeToString([]byte("new"))},
		},
		TriggerWords: []TriggerEntry{},
		Settings:     &SettingsEntry{},
	}
	_, err := sr.Import(ctx, doc)
	if err == nil {
		t.Fatal("Import() succeeded with a failing clip create")
	}
	if !strings.Contains(err.Error(), "partially rebuilt") {
		t.Errorf("error = %v, want it to say the repository was left partially rebuilt", err)
	}

	// The destructive clear already ran, so the old data is gone.
	clips, _ := st.Clips(ctx)
	triggers, _ := st.Triggers(ctx)
	if len(clips) != 0 || len(triggers) != 0 {
		t.Errorf("repository holds %d clips, %d triggers after the failed import, want none", len(clips), len(triggers))
	}
}

type brokenAudioStore struct {
	store.Store
	failID int64
}

func (b brokenAudioStore) ClipAudio(ctx context.Context, id int64) ([]byte, error) {
	if id == b.failID {
		return nil, stderrors.New("disk error")
	}
	return b.Store.ClipAudio(ctx, id)
}

func TestExportSkipsUnreadableAudio(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	good := mustCreateClip(t, st, "good", []byte("good"))
	bad := mustCreateClip(t, st, "bad", []byte("bad"))
	mustCreateTrigger(t, st, "hi", []int64{good.ID, bad.ID})

	sr := NewSerializer(brokenAudioStore{Store: st, failID: bad.ID}, nopLocker{})
	doc, err := sr.Export(ctx)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	if len(doc.SoundClips) != 1 || doc.SoundClips[0].Name != "good" {
		t.Errorf("soundClips = %+v, want only the readable clip", doc.SoundClips)
	}
	// Name resolution still sees the whole repository.
	if got := doc.TriggerWords[0].SoundClipNames; len(got) != 2 {
		t.Errorf("trigger names = %v, want both clips referenced", got)
	}
}

func TestExportEmptyRepository(t *testing.T) {
	ctx := context.Background()
	sr, _ := newSerializer()

	doc, err := sr.Export(ctx)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// Empty lists must serialize as [], not null, so the document
	// revalidates on import.
	if _, err := Parse(data); err != nil {
		t.Errorf("empty export does not reimport: %v", err)
	}
}
