package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/config"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/engine"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/gateway"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/match"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/observability"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/profile"
)

// Server wires the REST surface, the metrics endpoint, and the WebSocket
// route into one router.
type Server struct {
	cfg      config.Config
	ws       *gateway.Handler
	eng      *engine.Engine
	profiles profile.Store
	matcher  *match.Service
}

func New(cfg config.Config, ws *gateway.Handler, eng *engine.Engine, profiles profile.Store, matcher *match.Service) *Server {
	return &Server{
		cfg:      cfg,
		ws:       ws,
		eng:      eng,
		profiles: profiles,
		matcher:  matcher,
	}
}

// Router builds the HTTP handler, CORS-wrapped for the configured origin.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Get("/ws", s.ws.HandleConnect)
	r.Get("/ws/stats", s.handleStats)

	r.Route("/api", func(r chi.Router) {
		r.Put("/profiles/{userID}/matchmaking", s.handleUpsertProfile)
		r.Get("/profiles/{userID}", s.handleGetProfile)
		r.Get("/match/suggest", s.handleSuggestMatch)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{s.cfg.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.eng.Stats()
	stats := s.wsStats()
	stats["queue_depth"] = snap.QueueDepth
	stats["active_sessions"] = snap.ActiveSessions
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) wsStats() map[string]interface{} {
	return s.ws.Stats()
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var body struct {
		Name        string   `json:"name"`
		College     string   `json:"college"`
		Gender      string   `json:"gender"`
		Interests   []string `json:"interests"`
		Preferences []string `json:"preferences"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := profile.Profile{
		UserID:      userID,
		Name:        body.Name,
		College:     body.College,
		Gender:      body.Gender,
		Interests:   body.Interests,
		Preferences: body.Preferences,
		Completed:   true,
	}
	if err := s.profiles.Upsert(r.Context(), p); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to save matchmaking profile")
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "matchmaking saved"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := s.profiles.Get(r.Context(), userID)
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to load profile")
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuggestMatch(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	mode := match.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = match.ModeAny
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be same-college or any")
		return
	}

	suggestion, err := s.matcher.BestMatch(r.Context(), userID, mode)
	switch {
	case errors.Is(err, profile.ErrNotFound), errors.Is(err, match.ErrProfileIncomplete):
		writeError(w, http.StatusBadRequest, "complete matchmaking first")
		return
	case errors.Is(err, match.ErrNoCandidates):
		writeError(w, http.StatusNotFound, "no users available right now")
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Msg("best-match query failed")
		writeError(w, http.StatusInternalServerError, "match query failed")
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
