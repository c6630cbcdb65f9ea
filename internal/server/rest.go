package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Evman90/SoundBoard/internal/errors"
	"github.com/Evman90/SoundBoard/internal/profile"
	"github.com/Evman90/SoundBoard/internal/store"
	"github.com/Evman90/SoundBoard/internal/trace"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// nextClipResponse carries a rotation result; the clip is null when the
// rotation is empty or disabled.
type nextClipResponse struct {
	SoundClip *store.SoundClip `json:"soundClip"`
}

type triggerCreateRequest struct {
	Phrase        string  `json:"phrase"`
	SoundClipIDs  []int64 `json:"soundClipIds"`
	CaseSensitive *bool   `json:"caseSensitive"`
	Enabled       *bool   `json:"enabled"`
}

type triggerUpdateRequest struct {
	Phrase        *string `json:"phrase"`
	SoundClipIDs  []int64 `json:"soundClipIds"`
	CaseSensitive *bool   `json:"caseSensitive"`
	Enabled       *bool   `json:"enabled"`
	CurrentIndex  *int    `json:"currentIndex"`
}

type settingsUpdateRequest struct {
	DefaultResponseEnabled      *bool   `json:"defaultResponseEnabled"`
	DefaultResponseSoundClipIDs []int64 `json:"defaultResponseSoundClipIds"`
	DefaultResponseIndex        *int    `json:"defaultResponseIndex"`
	DefaultResponseDelayMS      *int    `json:"defaultResponseDelay"`
}

var audioContentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"webm": "audio/webm",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"flac": "audio/flac",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps repository sentinels and error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := errors.CodeInternal

	var appErr *errors.AppError
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, errors.CodeNotFound
	case stderrors.Is(err, store.ErrInvalidArgument):
		status, code = http.StatusBadRequest, errors.CodeInvalidArgument
	case stderrors.As(err, &appErr):
		status, code = appErr.HTTPStatus(), appErr.Code
	}

	log := trace.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(code)})
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("request body exceeds %d bytes", limit),
		Code:  string(errors.CodeInvalidArgument),
	})
}

// tooLarge reports whether the body-size guard tripped.
func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return stderrors.As(err, &maxErr)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.CodeInvalidArgument, "malformed request body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidArgument, "invalid id in path")
	}
	return id, nil
}

// Sound clips.

func (s *Server) handleClipList(w http.ResponseWriter, r *http.Request) {
	clips, err := s.store.Clips(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

func (s *Server) handleClipUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxClipBytes)
	if err := r.ParseMultipartForm(MaxClipBytes); err != nil {
		if tooLarge(err) {
			writeTooLarge(w, MaxClipBytes)
			return
		}
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "malformed multipart form"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "multipart field audio is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInternal, "reading uploaded audio"))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	if name == "" {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "clip name is required"))
		return
	}

	var duration float64
	if v := r.FormValue("duration"); v != "" {
		duration, err = strconv.ParseFloat(v, 64)
		if err != nil || duration < 0 {
			writeError(w, r, errors.New(errors.CodeInvalidArgument, "duration must be a non-negative number"))
			return
		}
	}

	clip, err := s.store.CreateClip(r.Context(), store.NewClip{
		Name:     name,
		Format:   strings.TrimPrefix(filepath.Ext(header.Filename), "."),
		Duration: duration,
		Audio:    audio,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("clip uploaded", "clip_id", clip.ID, "name", clip.Name, "size", clip.Size)
	writeJSON(w, http.StatusCreated, clip)
}

func (s *Server) handleClipGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	clip, err := s.store.Clip(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

func (s *Server) handleClipDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteClip(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("clip deleted", "clip_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	audio, format, err := s.store.AudioByFilename(r.Context(), r.PathValue("filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ct := audioContentTypes[format]
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(audio)
}

// Trigger words.

func (s *Server) handleTriggerList(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.Triggers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (s *Server) handleTriggerCreate(w http.ResponseWriter, r *http.Request) {
	var req triggerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tr, err := s.store.CreateTrigger(r.Context(), store.NewTrigger{
		Phrase:        req.Phrase,
		SoundClipIDs:  req.SoundClipIDs,
		CaseSensitive: req.CaseSensitive,
		Enabled:       req.Enabled,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("trigger created", "trigger_id", tr.ID, "phrase", tr.Phrase)
	writeJSON(w, http.StatusCreated, tr)
}

func (s *Server) handleTriggerGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tr, err := s.store.Trigger(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req triggerUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tr, err := s.store.UpdateTrigger(r.Context(), id, store.TriggerPatch{
		Phrase:        req.Phrase,
		SoundClipIDs:  req.SoundClipIDs,
		CaseSensitive: req.CaseSensitive,
		Enabled:       req.Enabled,
		CurrentIndex:  req.CurrentIndex,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTriggerDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteTrigger(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerNextClip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	clip, err := s.store.NextClipForTrigger(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextClipResponse{SoundClip: clip})
}

// Settings.

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	settings, err := s.store.UpdateSettings(r.Context(), store.SettingsPatch{
		DefaultResponseEnabled:      req.DefaultResponseEnabled,
		DefaultResponseSoundClipIDs: req.DefaultResponseSoundClipIDs,
		DefaultResponseIndex:        req.DefaultResponseIndex,
		DefaultResponseDelayMS:      req.DefaultResponseDelayMS,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleNextDefaultResponse(w http.ResponseWriter, r *http.Request) {
	clip, err := s.store.NextDefaultResponse(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextClipResponse{SoundClip: clip})
}

// Profiles.

func (s *Server) handleProfileExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.profiles.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("soundboard-profile-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleProfileImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, profile.MaxDocumentSize))
	if err != nil {
		if tooLarge(err) {
			writeTooLarge(w, profile.MaxDocumentSize)
			return
		}
		writeError(w, r, errors.Wrap(err, errors.CodeInternal, "reading request body"))
		return
	}

	doc, err := profile.Parse(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.profiles.Import(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Session.

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Start(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.sessions.Stop()
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}
