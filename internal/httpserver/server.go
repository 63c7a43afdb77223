// Package httpserver exposes the firing engine's command surface and
// state snapshots over HTTP, plus the websocket upgrade route.
package httpserver

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kilnforge/kiln-controller/internal/broadcast"
	"github.com/kilnforge/kiln-controller/pkg/engine"
	"github.com/kilnforge/kiln-controller/pkg/profile"
)

// Server is the kiln daemon's HTTP+websocket front door.
type Server struct {
	router *mux.Router

	engine      *engine.FiringEngine
	hub         *broadcast.Hub
	profileDir  string
	systemScale string

	log zerolog.Logger
}

func New(eng *engine.FiringEngine, hub *broadcast.Hub, profileDir, systemScale string, log zerolog.Logger) *Server {
	s := &Server{
		engine:      eng,
		hub:         hub,
		profileDir:  profileDir,
		systemScale: systemScale,
		log:         log.With().Str("component", "httpserver").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/api/profiles", s.handleProfiles).Methods(http.MethodGet)
	s.router.HandleFunc("/api/run", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/api/pause", s.handlePause).Methods(http.MethodPost)
	s.router.HandleFunc("/api/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.hub.ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.profileDir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	s.writeJSON(w, http.StatusOK, names)
}

type runRequestBody struct {
	Profile        string  `json:"profile"`
	StartAtMinutes float64 `json:"startat_minutes"`
	AllowSeek      bool    `json:"allow_seek"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Profile == "" {
		s.writeError(w, http.StatusBadRequest, errMissingProfile)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.profileDir, body.Profile+".json"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	p, err := profile.Load(data, s.systemScale)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.engine.RunProfile(r.Context(), p, body.StartAtMinutes, body.AllowSeek); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error().Err(err).Msg("request failed")
	http.Error(w, err.Error(), status)
}

var errMissingProfile = &statusError{"profile is required"}

type statusError struct{ msg string }

func (e *statusError) Error() string { return e.msg }
