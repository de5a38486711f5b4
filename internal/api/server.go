// Package api exposes a small read-only ops surface over the engine:
// health, guild state and inventories. It carries no game mutations; those
// only flow through the chat transport.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"packrat/internal/game"
)

type Server struct {
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux
}

func New(logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		game: gameSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cards": s.cardCount()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/guilds", s.handleGuilds)
		r.Get("/guilds/{id}", s.handleGuild)
		r.Get("/guilds/{id}/spawns/recent", s.handleRecentSpawns)
		r.Get("/users/{id}/inventory", s.handleInventory)
	})
}

func (s *Server) cardCount() int {
	if cat := s.game.Catalog(); cat != nil {
		return cat.Len()
	}
	return 0
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	guilds, err := s.game.Store().ListGuilds(r.Context())
	if err != nil {
		s.log.Error("list guilds", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, guilds)
}

func (s *Server) handleGuild(w http.ResponseWriter, r *http.Request) {
	guild, err := s.game.Store().Guild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error("read guild", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, guild)
}

func (s *Server) handleRecentSpawns(w http.ResponseWriter, r *http.Request) {
	names, err := s.game.Store().RecentSpawnNames(r.Context(), chi.URLParam(r, "id"), 10)
	if err != nil {
		s.log.Error("recent spawns", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent": names})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.game.Inventory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error("read inventory", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	type itemView struct {
		CardName string `json:"card_name"`
		Tier     string `json:"tier"`
		Count    int    `json:"count"`
		Stolen   int    `json:"stolen"`
	}
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, itemView{
			CardName: it.CardName,
			Tier:     it.Tier.String(),
			Count:    it.Count,
			Stolen:   it.Stolen,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
