package server

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"tft-tracker/internal/cache"
	"tft-tracker/internal/middleware"
	"tft-tracker/internal/riot"
	"tft-tracker/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// OpsServer exposes health and tracker status for operators.
type OpsServer struct {
	db      *sql.DB
	tracker *service.Tracker
	cache   *cache.MatchCache
	riot    *riot.Client
	logger  zerolog.Logger
}

func NewOpsServer(db *sql.DB, tracker *service.Tracker, matchCache *cache.MatchCache, client *riot.Client, logger zerolog.Logger) *OpsServer {
	return &OpsServer{
		db:      db,
		tracker: tracker,
		cache:   matchCache,
		riot:    client,
		logger:  logger.With().Str("component", "ops").Logger(),
	}
}

func (s *OpsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return middleware.RequestID(s.logger)(c.Handler(mux))
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *OpsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tracker":    s.tracker.Status(),
		"cache":      s.cache.Stats(),
		"rate_limit": s.riot.GetRateLimitInfo(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
