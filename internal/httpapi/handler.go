// Package httpapi exposes the HTTP surface: the websocket upgrade endpoint
// and the matchmaking lookup routes.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/game"
	"github.com/chesspark/chesspark-server/internal/lookup"
	"github.com/chesspark/chesspark-server/internal/ws"
)

type Handler struct {
	gateway *ws.Gateway
	lookup  *lookup.Service
	store   *game.Store
}

func NewHandler(gateway *ws.Gateway, lkp *lookup.Service, store *game.Store) *Handler {
	return &Handler{gateway: gateway, lookup: lkp, store: store}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/ws", h.gateway.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/users/search", h.searchUsers)
		r.Get("/users/online", h.listOnline)
		r.Get("/games/{gameID}", h.getGame)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: "ok"})
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.lookup.FindByUsername(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: profiles})
}

func (h *Handler) listOnline(w http.ResponseWriter, r *http.Request) {
	recs, err := h.lookup.ListOnline(r.Context(), r.URL.Query().Get("exclude"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: recs})
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.Get(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if g == nil {
		h.writeErr(w, domain.NotFound("game not found"))
		return
	}
	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: g})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidState, domain.KindIllegalMove:
		status = http.StatusBadRequest
	case domain.KindUnauthorized:
		status = http.StatusForbidden
	}
	h.writeJSON(w, status, apiResponse{Success: false, Error: domain.Reason(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
