// Package control exposes the playback engine over HTTP: a small JSON API
// for triggering clips and adjusting mixer groups, and a websocket command
// stream for clients that send many cues in a row.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/MrWong99/cuemix/internal/engine"
	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/observe"
	"github.com/MrWong99/cuemix/internal/playback"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// maxBodyBytes bounds request bodies of the JSON endpoints.
const maxBodyBytes = 64 << 10

// Engine is the part of the playback engine the control surface drives.
// *engine.Engine satisfies it.
type Engine interface {
	Play(name string, opts ...engine.PlayOption) time.Duration
	Stop(name string) bool
	StopAll() int
	Groups() []mixer.GroupState
	SetGroupVolume(ctx context.Context, group string, level float64) error
	ResetAllToDefaultVolume(ctx context.Context) error
	Clips() []sound.ClipDefinition
	Snapshot() []playback.InstanceInfo
}

var _ Engine = (*engine.Engine)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithOriginPatterns lists the hosts allowed to open the websocket stream
// from a browser. Without patterns only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server serves the control API.
type Server struct {
	eng     Engine
	log     *slog.Logger
	origins []string
}

// New creates a control server for eng.
func New(eng Engine, opts ...Option) *Server {
	s := &Server{eng: eng, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/play", s.handlePlay)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/groups", s.handleGroups)
	mux.HandleFunc("PUT /v1/groups/{name}", s.handleSetGroup)
	mux.HandleFunc("POST /v1/groups/reset", s.handleReset)
	mux.HandleFunc("GET /v1/clips", s.handleClips)
	mux.HandleFunc("GET /v1/instances", s.handleInstances)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
}

// PlayRequest is the body of POST /v1/play.
type PlayRequest struct {
	Clip   string   `json:"clip"`
	Volume *float64 `json:"volume,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`
}

// PlayResponse reports the expected duration of a triggered clip. A zero
// duration means nothing will be heard.
type PlayResponse struct {
	Clip       string `json:"clip"`
	DurationMS int64  `json:"duration_ms"`
}

// StopRequest is the body of POST /v1/stop. An empty clip stops everything.
type StopRequest struct {
	Clip string `json:"clip,omitempty"`
}

// StopResponse reports how many clips were stopped.
type StopResponse struct {
	Stopped int `json:"stopped"`
}

// VolumeRequest is the body of PUT /v1/groups/{name}.
type VolumeRequest struct {
	Level *float64 `json:"level"`
}

// ClipInfo describes one catalog definition.
type ClipInfo struct {
	Name       string         `json:"name"`
	Mode       sound.PlayMode `json:"mode"`
	Loop       bool           `json:"loop"`
	MixerGroup string         `json:"mixer_group"`
	Assets     int            `json:"assets"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if !decode(w, r, &req) {
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d := s.eng.Play(req.Clip, opts...)
	observe.AnnotatePlay(r.Context(), req.Clip, d)
	if d == 0 {
		observe.LoggerFrom(r.Context(), s.log).Debug("control: play produced no sound", "clip", req.Clip)
	}
	writeJSON(w, http.StatusOK, PlayResponse{Clip: req.Clip, DurationMS: d.Milliseconds()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{Stopped: s.stop(req.Clip)})
}

func (s *Server) stop(clip string) int {
	if clip == "" {
		return s.eng.StopAll()
	}
	if s.eng.Stop(clip) {
		return 1
	}
	return 0
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Groups())
}

func (s *Server) handleSetGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req VolumeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, errors.New("control: level is required"))
		return
	}
	if err := s.setVolume(r.Context(), name, *req.Level); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	for _, g := range s.eng.Groups() {
		if g.Name == name {
			writeJSON(w, http.StatusOK, g)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setVolume(ctx context.Context, name string, level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("control: level %v: %w", level, errBadRequest)
	}
	observe.AnnotateVolume(ctx, name, level)
	if err := s.eng.SetGroupVolume(ctx, name, level); err != nil {
		observe.LoggerFrom(ctx, s.log).Warn("control: set group volume failed", "group", name, "err", err)
		return err
	}
	return nil
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ResetAllToDefaultVolume(r.Context()); err != nil {
		observe.LoggerFrom(r.Context(), s.log).Warn("control: reset volumes failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Groups())
}

func (s *Server) handleClips(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, clipInfos(s.eng.Clips()))
}

func (s *Server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func clipInfos(defs []sound.ClipDefinition) []ClipInfo {
	out := make([]ClipInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, ClipInfo{
			Name:       d.Name,
			Mode:       d.Mode,
			Loop:       d.Loop,
			MixerGroup: d.MixerGroup,
			Assets:     len(d.Assets),
		})
	}
	return out
}

var errBadRequest = errors.New("invalid request")

func (r PlayRequest) options() ([]engine.PlayOption, error) {
	if r.Clip == "" {
		return nil, fmt.Errorf("control: clip is required: %w", errBadRequest)
	}
	var opts []engine.PlayOption
	if r.Volume != nil {
		if v := *r.Volume; v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("control: volume %v: %w", v, errBadRequest)
		}
		opts = append(opts, engine.WithVolume(*r.Volume))
	}
	if r.Pitch != nil {
		if p := *r.Pitch; p <= 0 || math.IsNaN(p) {
			return nil, fmt.Errorf("control: pitch %v: %w", p, errBadRequest)
		}
		opts = append(opts, engine.WithPitch(*r.Pitch))
	}
	return opts, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, sound.ErrUnknownGroup):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v and writes a 400 response on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("control: decode body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
