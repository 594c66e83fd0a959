package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/netbdpro/nbdlive/internal/chat"
	"github.com/netbdpro/nbdlive/internal/observe"
	"github.com/netbdpro/nbdlive/internal/resilience"
	"github.com/netbdpro/nbdlive/internal/settings"
	"github.com/netbdpro/nbdlive/internal/voice"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
)

// maxBodyBytes bounds request bodies. Chat requests may carry an inline image.
const maxBodyBytes = 8 << 20

type errorBody struct {
	Error string `json:"error"`
	Retry string `json:"retry,omitempty"`
}

type settingsBody struct {
	Voice        string `json:"voice"`
	Language     string `json:"language"`
	HasCustomKey bool   `json:"has_custom_key"`
}

func toSettingsBody(p settings.Preferences) settingsBody {
	return settingsBody{Voice: p.Voice, Language: p.Language, HasCustomKey: p.APIKey != ""}
}

// routes registers the control API on mux.
func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voice/status", a.handleStatus)
	mux.HandleFunc("POST /v1/voice/start", a.handleStart)
	mux.HandleFunc("POST /v1/voice/stop", a.handleStop)
	mux.HandleFunc("GET /v1/settings", a.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", a.handlePutSettings)
	mux.HandleFunc("GET /v1/voices", a.handleVoices)
	mux.HandleFunc("GET /v1/languages", a.handleLanguages)
	if a.chat != nil {
		mux.HandleFunc("POST /v1/chat", a.handleChat)
		mux.HandleFunc("POST /v1/images", a.handleImage)
		mux.HandleFunc("GET /v1/images/aspect-ratios", a.handleAspectRatios)
	}
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.scrape)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := a.sessions.Start(r.Context()); err != nil {
		a.writeStartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

// writeStartError maps a failed start to a status code and a hint on when
// retrying makes sense.
func (a *App) writeStartError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		wait := a.cfg.Live.CircuitBreaker.ResetTimeout
		if wait <= 0 {
			wait = resilience.DefaultResetTimeout
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
		body.Retry = fmt.Sprintf("the live API is failing; retry in %s", wait)
	case errors.Is(err, capture.ErrMicrophoneUnavailable), errors.Is(err, voice.ErrOutputUnavailable):
		status = http.StatusServiceUnavailable
		body.Retry = "check that the audio device is connected and accessible, then retry"
	case !errors.Is(err, voice.ErrStartFailed):
		status = http.StatusInternalServerError
	default:
		body.Retry = "check the network connection and API key, then retry"
	}
	writeJSON(w, status, body)
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.sessions.Stop()
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	p, err := a.sessions.Preferences(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSettingsBody(p))
}

func (a *App) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var u PreferencesUpdate
	if !decode(w, r, &u) {
		return
	}
	p, err := a.sessions.UpdatePreferences(r.Context(), u)
	switch {
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Retry: "stop the voice session first"})
	case errors.Is(err, settings.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, toSettingsBody(p))
	}
}

func (a *App) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.provider.Capabilities().Voices)
}

func (a *App) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voice.Languages)
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decode(w, r, &req) {
		return
	}
	key, err := a.sessions.CustomAPIKey(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	req.APIKey = key

	reply, err := a.chat.Reply(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrUnknownMode), errors.Is(err, chat.ErrBadImage):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, chat.ErrNoAPIKey):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Retry: "set a custom API key in settings"})
	case err != nil:
		observe.Logger(r.Context()).Warn("chat failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Retry: "retry the message"})
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func (a *App) handleImage(w http.ResponseWriter, r *http.Request) {
	var req chat.ImageRequest
	if !decode(w, r, &req) {
		return
	}
	key, err := a.sessions.CustomAPIKey(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	req.APIKey = key

	img, err := a.chat.Image(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt), errors.Is(err, chat.ErrAspectRatio), errors.Is(err, chat.ErrBadImage):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, chat.ErrNoAPIKey):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Retry: "set a custom API key in settings"})
	case errors.Is(err, chat.ErrNoImage):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Retry: "rephrase the prompt"})
	case err != nil:
		observe.Logger(r.Context()).Warn("image generation failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Retry: "retry the request"})
	default:
		writeJSON(w, http.StatusOK, img)
	}
}

func (a *App) handleAspectRatios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chat.AspectRatios)
}

// decode reads a JSON body into v. On failure it writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
