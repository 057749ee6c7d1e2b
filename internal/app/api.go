package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/uplink/internal/assistant"
	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/document"
	"github.com/MrWong99/uplink/internal/health"
	"github.com/MrWong99/uplink/internal/hud"
	"github.com/MrWong99/uplink/internal/observe"
	"github.com/MrWong99/uplink/pkg/audio"
)

// MaxUploadBytes bounds POST /api/documents bodies.
const MaxUploadBytes = 20 << 20

// micReadLimit bounds a single binary microphone message.
const micReadLimit = 1 << 20

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.StatusChecker(a.assistant.Status),
		health.CredentialChecker(a.cfg.Provider.APIKey),
	).Register(mux)
	hud.NewHandler(a.hud, a.cfg.Server.AllowedOrigins...).Register(mux)
	if a.telemetry != nil && a.telemetry.Handler != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}

	mux.HandleFunc("POST /api/session", a.handleConnect)
	mux.HandleFunc("DELETE /api/session", a.handleDisconnect)
	mux.HandleFunc("POST /api/interrupt", a.handleInterrupt)
	mux.HandleFunc("POST /api/screen", a.handleScreen)
	mux.HandleFunc("POST /api/documents", a.handleDocument)
	mux.HandleFunc("GET /api/mic", a.handleMic)

	return observe.Middleware(a.metrics)(mux)
}

type sessionResponse struct {
	Status string `json:"status"`
}

type screenResponse struct {
	Sharing bool `json:"sharing"`
}

type documentResponse struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Truncated bool   `json:"truncated"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()
	err := a.assistant.Connect(ctx, a.mic)
	switch {
	case errors.Is(err, assistant.ErrAlreadyConnected):
		a.writeError(w, r, http.StatusConflict, err)
	case err != nil:
		a.writeError(w, r, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, sessionResponse{Status: a.assistant.Status().String()})
	}
}

func (a *App) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.assistant.Close(); err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: a.assistant.Status().String()})
}

func (a *App) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := a.assistant.Interrupt(); err != nil {
		a.writeError(w, r, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleScreen(w http.ResponseWriter, r *http.Request) {
	if a.frames == nil {
		a.writeError(w, r, http.StatusNotImplemented, errors.New("no screen source configured"))
		return
	}
	on, err := a.assistant.ToggleScreenShare(r.Context(), a.frames)
	switch {
	case errors.Is(err, assistant.ErrNotConnected):
		a.writeError(w, r, http.StatusConflict, err)
	case err != nil:
		a.writeError(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, screenResponse{Sharing: on})
	}
}

func (a *App) handleDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	doc, err := a.assistant.SendDocument(r.Context(), header.Filename, data)
	switch {
	case errors.Is(err, assistant.ErrNotConnected):
		a.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, document.ErrUnsupported):
		a.writeError(w, r, http.StatusUnsupportedMediaType, err)
	case err != nil:
		a.writeError(w, r, http.StatusUnprocessableEntity, err)
	default:
		writeJSON(w, http.StatusOK, documentResponse{Name: doc.Name, Kind: string(doc.Kind), Truncated: doc.Truncated})
	}
}

// handleMic ingests binary f32le sample blocks from a browser. With the
// websocket input kind they feed the session's microphone; otherwise they
// are submitted alongside the configured source.
func (a *App) handleMic(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.cfg.Server.AllowedOrigins})
	if err != nil {
		a.log.Debug("app: mic websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(micReadLimit)

	log := observe.Logger(r.Context())
	var dropped int
	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("app: mic stream ended", "err", err)
			}
			break
		}
		if typ != websocket.MessageBinary {
			continue
		}
		samples := audio.Float32LEToFloat(data)
		if a.webMic != nil {
			err = a.webMic.Push(samples)
		} else {
			err = a.assistant.SubmitFrame(samples)
		}
		// No open session: the audio has nowhere to go.
		if err != nil && !errors.Is(err, capture.ErrNotOpen) && !errors.Is(err, assistant.ErrNotConnected) {
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn("app: mic frames dropped", "count", dropped)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	observe.Logger(r.Context()).Debug("app: request failed", "path", r.URL.Path, "code", code, "err", err)
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
