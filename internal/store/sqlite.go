package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Evman90/SoundBoard/internal/rotation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sound_clips (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	filename TEXT NOT NULL UNIQUE,
	format   TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	size     INTEGER NOT NULL DEFAULT 0,
	url      TEXT NOT NULL,
	audio    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS trigger_words (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	phrase         TEXT NOT NULL,
	sound_clip_ids TEXT NOT NULL DEFAULT '[]',
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	enabled        INTEGER NOT NULL DEFAULT 1,
	current_index  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS settings (
	id                              INTEGER PRIMARY KEY CHECK (id = 1),
	default_response_enabled        INTEGER NOT NULL DEFAULT 0,
	default_response_sound_clip_ids TEXT NOT NULL DEFAULT '[]',
	default_response_index          INTEGER NOT NULL DEFAULT 0,
	default_response_delay          INTEGER NOT NULL DEFAULT 1000
);
`

// SQLite is a Store backed by a single SQLite file, clip audio included.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite allows one writer; a single connection keeps
	// transactions from tripping over each other.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateClip(ctx context.Context, c NewClip) (*SoundClip, error) {
	filename := newStorageKey(c.Format)
	clip := SoundClip{
		Name:     c.Name,
		Filename: filename,
		Format:   normalizeFormat(c.Format),
		Duration: c.Duration,
		Size:     int64(len(c.Audio)),
		URL:      clipURL(filename),
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sound_clips (name, filename, format, duration, size, url, audio)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, clip.Name, clip.Filename, clip.Format, clip.Duration, clip.Size, clip.URL, c.Audio)
	if err != nil {
		return nil, fmt.Errorf("insert clip: %w", err)
	}
	clip.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("clip id: %w", err)
	}
	return &clip, nil
}

func (s *SQLite) Clip(ctx context.Context, id int64) (*SoundClip, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, filename, format, duration, size, url
		FROM sound_clips WHERE id = ?
	`, id)
	return scanClip(row)
}

func (s *SQLite) Clips(ctx context.Context) ([]*SoundClip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, filename, format, duration, size, url
		FROM sound_clips ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	var clips []*SoundClip
	for rows.Next() {
		var c SoundClip
		if err := rows.Scan(&c.ID, &c.Name, &c.Filename, &c.Format, &c.Duration, &c.Size, &c.URL); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (s *SQLite) ClipAudio(ctx context.Context, id int64) ([]byte, error) {
	var audio []byte
	err := s.db.QueryRowContext(ctx, `SELECT audio FROM sound_clips WHERE id = ?`, id).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query clip audio: %w", err)
	}
	return audio, nil
}

func (s *SQLite) AudioByFilename(ctx context.Context, filename string) ([]byte, string, error) {
	var audio []byte
	var format string
	err := s.db.QueryRowContext(ctx, `
		SELECT audio, format FROM sound_clips WHERE filename = ?
	`, filename).Scan(&audio, &format)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("query clip audio: %w", err)
	}
	return audio, format, nil
}

func (s *SQLite) DeleteClip(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete clip: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM sound_clips WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check clip: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, sound_clip_ids, current_index FROM trigger_words`)
	if err != nil {
		return fmt.Errorf("query triggers: %w", err)
	}
	type fixup struct {
		id     int64
		ids    []int64
		index  int
		remove bool
	}
	var fixups []fixup
	for rows.Next() {
		var f fixup
		var idsJSON string
		if err := rows.Scan(&f.id, &idsJSON, &f.index); err != nil {
			rows.Close()
			return fmt.Errorf("scan trigger: %w", err)
		}
		ids, err := unmarshalIDs(idsJSON)
		if err != nil {
			rows.Close()
			return err
		}
		kept := removeID(ids, id)
		if len(kept) == len(ids) {
			continue
		}
		f.ids = kept
		f.index = rotation.Clamp(f.index, len(kept))
		f.remove = len(kept) == 0
		fixups = append(fixups, f)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close trigger rows: %w", err)
	}

	for _, f := range fixups {
		if f.remove {
			if _, err := tx.ExecContext(ctx, `DELETE FROM trigger_words WHERE id = ?`, f.id); err != nil {
				return fmt.Errorf("delete empty trigger: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE trigger_words SET sound_clip_ids = ?, current_index = ? WHERE id = ?
		`, marshalIDs(f.ids), f.index, f.id); err != nil {
			return fmt.Errorf("update trigger: %w", err)
		}
	}

	var settingsIDs string
	var settingsIndex int
	err = tx.QueryRowContext(ctx, `
		SELECT default_response_sound_clip_ids, default_response_index FROM settings WHERE id = ?
	`, SettingsID).Scan(&settingsIDs, &settingsIndex)
	if err == nil {
		ids, uerr := unmarshalIDs(settingsIDs)
		if uerr != nil {
			return uerr
		}
		kept := removeID(ids, id)
		if len(kept) != len(ids) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE settings SET default_response_sound_clip_ids = ?, default_response_index = ? WHERE id = ?
			`, marshalIDs(kept), rotation.Clamp(settingsIndex, len(kept)), SettingsID); err != nil {
				return fmt.Errorf("update settings: %w", err)
			}
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query settings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sound_clips WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) CreateTrigger(ctx context.Context, t NewTrigger) (*Trigger, error) {
	if t.Phrase == "" {
		return nil, ErrInvalidArgument
	}
	if len(t.SoundClipIDs) == 0 {
		return nil, ErrEmptyClipList
	}

	tr := Trigger{
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_words (phrase, sound_clip_ids, case_sensitive, enabled, current_index)
		VALUES (?, ?, ?, ?, 0)
	`, tr.Phrase, marshalIDs(tr.SoundClipIDs), tr.CaseSensitive, tr.Enabled)
	if err != nil {
		return nil, fmt.Errorf("insert trigger: %w", err)
	}
	tr.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("trigger id: %w", err)
	}
	return &tr, nil
}

func (s *SQLite) Trigger(ctx context.Context, id int64) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phrase, sound_clip_ids, case_sensitive, enabled, current_index
		FROM trigger_words WHERE id = ?
	`, id)
	return scanTrigger(row)
}

func (s *SQLite) Triggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phrase, sound_clip_ids, case_sensitive, enabled, current_index
		FROM trigger_words ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*Trigger
	for rows.Next() {
		tr, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, tr)
	}
	return triggers, rows.Err()
}

func (s *SQLite) UpdateTrigger(ctx context.Context, id int64, p TriggerPatch) (*Trigger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update trigger: %w", err)
	}
	defer tx.Rollback()

	tr, err := scanTrigger(tx.QueryRowContext(ctx, `
		SELECT id, phrase, sound_clip_ids, case_sensitive, enabled, current_index
		FROM trigger_words WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
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

	if _, err := tx.ExecContext(ctx, `
		UPDATE trigger_words
		SET phrase = ?, sound_clip_ids = ?, case_sensitive = ?, enabled = ?, current_index = ?
		WHERE id = ?
	`, tr.Phrase, marshalIDs(tr.SoundClipIDs), tr.CaseSensitive, tr.Enabled, tr.CurrentIndex, id); err != nil {
		return nil, fmt.Errorf("update trigger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update trigger: %w", err)
	}
	return tr, nil
}

func (s *SQLite) DeleteTrigger(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_words WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) NextClipForTrigger(ctx context.Context, id int64) (*SoundClip, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	tr, err := scanTrigger(tx.QueryRowContext(ctx, `
		SELECT id, phrase, sound_clip_ids, case_sensitive, enabled, current_index
		FROM trigger_words WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}

	clipID, next, ok := rotation.Next(tr.SoundClipIDs, tr.CurrentIndex)
	if !ok {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE trigger_words SET current_index = ? WHERE id = ?
	`, next, id); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}

	clip, err := scanClip(tx.QueryRowContext(ctx, `
		SELECT id, name, filename, format, duration, size, url
		FROM sound_clips WHERE id = ?
	`, clipID))
	if errors.Is(err, ErrNotFound) {
		clip = nil
	} else if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return clip, nil
}

func (s *SQLite) Settings(ctx context.Context) (*Settings, error) {
	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}
	return s.querySettings(ctx)
}

func (s *SQLite) UpdateSettings(ctx context.Context, p SettingsPatch) (*Settings, error) {
	if p.DefaultResponseDelayMS != nil && *p.DefaultResponseDelayMS < 0 {
		return nil, ErrInvalidArgument
	}
	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update settings: %w", err)
	}
	defer tx.Rollback()

	st, err := scanSettings(tx.QueryRowContext(ctx, `
		SELECT id, default_response_enabled, default_response_sound_clip_ids,
		       default_response_index, default_response_delay
		FROM settings WHERE id = ?
	`, SettingsID))
	if err != nil {
		return nil, err
	}

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

	if _, err := tx.ExecContext(ctx, `
		UPDATE settings
		SET default_response_enabled = ?, default_response_sound_clip_ids = ?,
		    default_response_index = ?, default_response_delay = ?
		WHERE id = ?
	`, st.DefaultResponseEnabled, marshalIDs(st.DefaultResponseSoundClipIDs),
		st.DefaultResponseIndex, st.DefaultResponseDelayMS, SettingsID); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update settings: %w", err)
	}
	return st, nil
}

func (s *SQLite) NextDefaultResponse(ctx context.Context) (*SoundClip, error) {
	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin default rotation: %w", err)
	}
	defer tx.Rollback()

	st, err := scanSettings(tx.QueryRowContext(ctx, `
		SELECT id, default_response_enabled, default_response_sound_clip_ids,
		       default_response_index, default_response_delay
		FROM settings WHERE id = ?
	`, SettingsID))
	if err != nil {
		return nil, err
	}
	if !st.DefaultResponseEnabled {
		return nil, nil
	}

	clipID, next, ok := rotation.Next(st.DefaultResponseSoundClipIDs, st.DefaultResponseIndex)
	if !ok {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE settings SET default_response_index = ? WHERE id = ?
	`, next, SettingsID); err != nil {
		return nil, fmt.Errorf("advance default cursor: %w", err)
	}

	clip, err := scanClip(tx.QueryRowContext(ctx, `
		SELECT id, name, filename, format, duration, size, url
		FROM sound_clips WHERE id = ?
	`, clipID))
	if errors.Is(err, ErrNotFound) {
		clip = nil
	} else if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit default rotation: %w", err)
	}
	return clip, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM sound_clips`,
		`DELETE FROM trigger_words`,
		`DELETE FROM settings`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ensureSettings(ctx context.Context) error {
	def := defaultSettings()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings
			(id, default_response_enabled, default_response_sound_clip_ids,
			 default_response_index, default_response_delay)
		VALUES (?, ?, ?, ?, ?)
	`, def.ID, def.DefaultResponseEnabled, marshalIDs(def.DefaultResponseSoundClipIDs),
		def.DefaultResponseIndex, def.DefaultResponseDelayMS)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}
	return nil
}

func (s *SQLite) querySettings(ctx context.Context) (*Settings, error) {
	return scanSettings(s.db.QueryRowContext(ctx, `
		SELECT id, default_response_enabled, default_response_sound_clip_ids,
		       default_response_index, default_response_delay
		FROM settings WHERE id = ?
	`, SettingsID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*SoundClip, error) {
	var c SoundClip
	err := row.Scan(&c.ID, &c.Name, &c.Filename, &c.Format, &c.Duration, &c.Size, &c.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan clip: %w", err)
	}
	return &c, nil
}

func scanTrigger(row rowScanner) (*Trigger, error) {
	var tr Trigger
	var idsJSON string
	err := row.Scan(&tr.ID, &tr.Phrase, &idsJSON, &tr.CaseSensitive, &tr.Enabled, &tr.CurrentIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	tr.SoundClipIDs, err = unmarshalIDs(idsJSON)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func scanSettings(row rowScanner) (*Settings, error) {
	var st Settings
	var idsJSON string
	err := row.Scan(&st.ID, &st.DefaultResponseEnabled, &idsJSON,
		&st.DefaultResponseIndex, &st.DefaultResponseDelayMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	st.DefaultResponseSoundClipIDs, err = unmarshalIDs(idsJSON)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func marshalIDs(ids []int64) string {
	data, _ := json.Marshal(cloneIDs(ids))
	return string(data)
}

func unmarshalIDs(data string) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("decode clip id list: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}
