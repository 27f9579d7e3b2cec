// Package api exposes the voice-turn HTTP endpoint.
//
// A turn is submitted as a multipart form to POST /v1/voice. The response is
// always a 200 JSON [voice.Response] once the request is well formed; stage
// failures are reported in its "error" field rather than as HTTP errors.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/voice"
)

// Route is the path the voice handler is mounted on.
const Route = "/v1/voice"

// DefaultMaxAudioBytes caps uploads when [WithMaxAudioBytes] is not used.
const DefaultMaxAudioBytes int64 = 25 << 20

// formOverhead is the allowance on top of the audio cap for the multipart
// envelope and the text fields.
const formOverhead int64 = 1 << 20

// Form field names.
const (
	FieldAudio          = "audio"
	FieldConversationID = "conversation_id"
	FieldUserID         = "user_id"
	FieldMode           = "mode"
	FieldSystemPrompt   = "system_prompt"
	FieldVoice          = "voice"
)

// Processor runs one voice turn. Implemented by [*voice.Pipeline].
type Processor interface {
	Process(ctx context.Context, audio []byte, cfg voice.SessionConfig) *voice.Response
}

var _ Processor = (*voice.Pipeline)(nil)

// Handler serves the voice endpoint.
type Handler struct {
	proc         Processor
	maxAudio     int64
	defaultVoice string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMaxAudioBytes sets the largest accepted audio upload. Values <= 0 are ignored.
func WithMaxAudioBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAudio = n
		}
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(v string) Option {
	return func(h *Handler) { h.defaultVoice = v }
}

// New creates a Handler that submits turns to proc.
func New(proc Processor, opts ...Option) *Handler {
	h := &Handler{
		proc:         proc,
		maxAudio:     DefaultMaxAudioBytes,
		defaultVoice: voice.DefaultVoice,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the handler on mux at POST /v1/voice.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+Route, h.ServeVoice)
}

// ServeVoice decodes a multipart voice turn, runs it and writes the JSON result.
func (h *Handler) ServeVoice(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudio+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio exceeds the upload limit")
			return
		}
		log.Debug("api: malformed voice request", "err", err)
		writeError(w, http.StatusBadRequest, "request must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile(FieldAudio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file part")
		return
	}
	defer file.Close()
	if hdr.Size > h.maxAudio {
		writeError(w, http.StatusRequestEntityTooLarge, "audio exceeds the upload limit")
		return
	}
	audio, err := io.ReadAll(io.LimitReader(file, h.maxAudio+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio")
		return
	}
	if int64(len(audio)) > h.maxAudio {
		writeError(w, http.StatusRequestEntityTooLarge, "audio exceeds the upload limit")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio is empty")
		return
	}

	cfg := voice.SessionConfig{
		ConversationID: strings.TrimSpace(r.FormValue(FieldConversationID)),
		UserID:         strings.TrimSpace(r.FormValue(FieldUserID)),
		Mode:           strings.TrimSpace(r.FormValue(FieldMode)),
		SystemPrompt:   r.FormValue(FieldSystemPrompt),
		Voice:          strings.TrimSpace(r.FormValue(FieldVoice)),
		UserToken:      bearerToken(r),
		AudioFilename:  hdr.Filename,
	}
	if cfg.ConversationID == "" {
		writeError(w, http.StatusBadRequest, FieldConversationID+" is required")
		return
	}
	if cfg.UserID == "" {
		writeError(w, http.StatusBadRequest, FieldUserID+" is required")
		return
	}
	if cfg.Voice == "" {
		cfg.Voice = h.defaultVoice
	}

	resp := h.proc.Process(r.Context(), audio, cfg)
	writeJSON(w, http.StatusOK, resp)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
