package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// forEachStore runs the same conformance checks against every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func mustClip(t *testing.T, s Store, name string, audio []byte) *SoundClip {
	t.Helper()
	clip, err := s.CreateClip(context.Background(), NewClip{
		Name:     name,
		Format:   "mp3",
		Duration: 1.5,
		Audio:    audio,
	})
	require.NoError(t, err)
	return clip
}

func TestCreateClip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clip := mustClip(t, s, "Ding", []byte("ding-bytes"))

		require.NotZero(t, clip.ID)
		require.Equal(t, "Ding", clip.Name)
		require.Equal(t, "mp3", clip.Format)
		require.Equal(t, int64(10), clip.Size)
		require.Contains(t, clip.Filename, ".mp3")
		require.Equal(t, "/uploads/"+clip.Filename, clip.URL)

		audio, err := s.ClipAudio(ctx, clip.ID)
		require.NoError(t, err)
		require.Equal(t, []byte("ding-bytes"), audio)

		byName, format, err := s.AudioByFilename(ctx, clip.Filename)
		require.NoError(t, err)
		require.Equal(t, []byte("ding-bytes"), byName)
		require.Equal(t, "mp3", format)
	})
}

func TestStorageKeysUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		a := mustClip(t, s, "same", []byte("x"))
		b := mustClip(t, s, "same", []byte("y"))
		require.NotEqual(t, a.Filename, b.Filename)
	})
}

func TestClipsSortedByID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustClip(t, s, "a", []byte("1"))
		mustClip(t, s, "b", []byte("2"))
		mustClip(t, s, "c", []byte("3"))

		clips, err := s.Clips(ctx)
		require.NoError(t, err)
		require.Len(t, clips, 3)
		for i := 1; i < len(clips); i++ {
			require.Less(t, clips[i-1].ID, clips[i].ID)
		}
	})
}

func TestClipNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Clip(ctx, 404)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.ClipAudio(ctx, 404)
		require.ErrorIs(t, err, ErrNotFound)
		_, _, err = s.AudioByFilename(ctx, "missing.mp3")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.DeleteClip(ctx, 404), ErrNotFound)
	})
}

func TestCreateTriggerDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		clip := mustClip(t, s, "a", []byte("x"))

		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hello", SoundClipIDs: []int64{clip.ID}})
		require.NoError(t, err)
		require.True(t, tr.Enabled)
		require.False(t, tr.CaseSensitive)
		require.Equal(t, 0, tr.CurrentIndex)

		_, err = s.CreateTrigger(ctx, NewTrigger{Phrase: "empty", SoundClipIDs: nil})
		require.ErrorIs(t, err, ErrEmptyClipList)

		_, err = s.CreateTrigger(ctx, NewTrigger{Phrase: "", SoundClipIDs: []int64{clip.ID}})
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestUpdateTrigger(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		b := mustClip(t, s, "b", []byte("2"))
		c := mustClip(t, s, "c", []byte("3"))

		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID, b.ID, c.ID}})
		require.NoError(t, err)

		// Advance the cursor to the end of the list.
		for i := 0; i < 2; i++ {
			_, err = s.NextClipForTrigger(ctx, tr.ID)
			require.NoError(t, err)
		}

		phrase := "hello there"
		sensitive := true
		got, err := s.UpdateTrigger(ctx, tr.ID, TriggerPatch{
			Phrase:        &phrase,
			CaseSensitive: &sensitive,
			SoundClipIDs:  []int64{a.ID},
		})
		require.NoError(t, err)
		require.Equal(t, "hello there", got.Phrase)
		require.True(t, got.CaseSensitive)
		require.Equal(t, []int64{a.ID}, got.SoundClipIDs)
		require.Equal(t, 0, got.CurrentIndex, "cursor clamps when the list shrinks")

		_, err = s.UpdateTrigger(ctx, tr.ID, TriggerPatch{SoundClipIDs: []int64{}})
		require.ErrorIs(t, err, ErrEmptyClipList)

		_, err = s.UpdateTrigger(ctx, 404, TriggerPatch{Phrase: &phrase})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRotationScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustClip(t, s, "first", []byte("1"))
		two := mustClip(t, s, "two", []byte("2"))
		three := mustClip(t, s, "three", []byte("3"))

		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{two.ID, three.ID}})
		require.NoError(t, err)

		want := []string{"two", "three", "two"}
		for i, name := range want {
			clip, err := s.NextClipForTrigger(ctx, tr.ID)
			require.NoError(t, err)
			require.NotNil(t, clip, "selection %d", i)
			require.Equal(t, name, clip.Name, "selection %d", i)
		}
	})
}

func TestNextClipDanglingID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID}})
		require.NoError(t, err)

		_, err = s.UpdateTrigger(ctx, tr.ID, TriggerPatch{SoundClipIDs: []int64{9999}})
		require.NoError(t, err)

		clip, err := s.NextClipForTrigger(ctx, tr.ID)
		require.NoError(t, err)
		require.Nil(t, clip, "dangling id yields no selection")
	})
}

func TestNextClipForMissingTrigger(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.NextClipForTrigger(context.Background(), 404)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCascadeDeleteStripsAndClamps(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		b := mustClip(t, s, "b", []byte("2"))

		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)

		// Move the cursor off zero so the clamp is observable.
		_, err = s.NextClipForTrigger(ctx, tr.ID)
		require.NoError(t, err)

		require.NoError(t, s.DeleteClip(ctx, a.ID))

		got, err := s.Trigger(ctx, tr.ID)
		require.NoError(t, err)
		require.Equal(t, []int64{b.ID}, got.SoundClipIDs)
		require.Equal(t, 0, got.CurrentIndex)
	})
}

func TestCascadeDeleteRemovesEmptyTrigger(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))

		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID}})
		require.NoError(t, err)

		require.NoError(t, s.DeleteClip(ctx, a.ID))

		_, err = s.Trigger(ctx, tr.ID)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = s.ClipAudio(ctx, a.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCascadeDeleteFixesSettings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		b := mustClip(t, s, "b", []byte("2"))

		enabled := true
		_, err := s.UpdateSettings(ctx, SettingsPatch{
			DefaultResponseEnabled:      &enabled,
			DefaultResponseSoundClipIDs: []int64{a.ID, b.ID},
		})
		require.NoError(t, err)

		// Advance so the stored index is 1.
		clip, err := s.NextDefaultResponse(ctx)
		require.NoError(t, err)
		require.Equal(t, a.ID, clip.ID)

		require.NoError(t, s.DeleteClip(ctx, a.ID))

		st, err := s.Settings(ctx)
		require.NoError(t, err)
		require.Equal(t, []int64{b.ID}, st.DefaultResponseSoundClipIDs)
		require.Equal(t, 0, st.DefaultResponseIndex)
	})
}

func TestSettingsLazyDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		st, err := s.Settings(context.Background())
		require.NoError(t, err)
		require.Equal(t, SettingsID, st.ID)
		require.False(t, st.DefaultResponseEnabled)
		require.Empty(t, st.DefaultResponseSoundClipIDs)
		require.Equal(t, 0, st.DefaultResponseIndex)
		require.Equal(t, 1000, st.DefaultResponseDelayMS)
	})
}

func TestUpdateSettingsRejectsNegativeDelay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		neg := -5
		_, err := s.UpdateSettings(context.Background(), SettingsPatch{DefaultResponseDelayMS: &neg})
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestNextDefaultResponse(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		// Disabled settings yield no selection.
		clip, err := s.NextDefaultResponse(ctx)
		require.NoError(t, err)
		require.Nil(t, clip)

		a := mustClip(t, s, "a", []byte("1"))
		b := mustClip(t, s, "b", []byte("2"))

		enabled := true
		_, err = s.UpdateSettings(ctx, SettingsPatch{DefaultResponseEnabled: &enabled})
		require.NoError(t, err)

		// Enabled with an empty list still yields no selection.
		clip, err = s.NextDefaultResponse(ctx)
		require.NoError(t, err)
		require.Nil(t, clip)

		_, err = s.UpdateSettings(ctx, SettingsPatch{DefaultResponseSoundClipIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)

		want := []int64{a.ID, b.ID, a.ID}
		for i, id := range want {
			clip, err = s.NextDefaultResponse(ctx)
			require.NoError(t, err)
			require.NotNil(t, clip, "selection %d", i)
			require.Equal(t, id, clip.ID, "selection %d", i)
		}
	})
}

func TestClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		_, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID}})
		require.NoError(t, err)

		enabled := true
		_, err = s.UpdateSettings(ctx, SettingsPatch{
			DefaultResponseEnabled:      &enabled,
			DefaultResponseSoundClipIDs: []int64{a.ID},
		})
		require.NoError(t, err)

		require.NoError(t, s.Clear(ctx))

		clips, err := s.Clips(ctx)
		require.NoError(t, err)
		require.Empty(t, clips)

		triggers, err := s.Triggers(ctx)
		require.NoError(t, err)
		require.Empty(t, triggers)

		st, err := s.Settings(ctx)
		require.NoError(t, err)
		require.False(t, st.DefaultResponseEnabled)
		require.Empty(t, st.DefaultResponseSoundClipIDs)
	})
}

func TestDeleteTrigger(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustClip(t, s, "a", []byte("1"))
		tr, err := s.CreateTrigger(ctx, NewTrigger{Phrase: "hi", SoundClipIDs: []int64{a.ID}})
		require.NoError(t, err)

		require.NoError(t, s.DeleteTrigger(ctx, tr.ID))
		require.ErrorIs(t, s.DeleteTrigger(ctx, tr.ID), ErrNotFound)

		// The clip is untouched.
		_, err = s.Clip(ctx, a.ID)
		require.NoError(t, err)
	})
}
