// Package server exposes the player-facing wager API over HTTP JSON and
// NATS request-reply. Authentication happens upstream; the fronting proxy
// injects the verified player id as the X-Player-Id header (HTTP) or the
// player_id field (NATS).
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"WagerLedger/internal/coordinator"
	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
)

const playerHeader = "X-Player-Id"

type API struct {
	coord   *coordinator.Coordinator
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewAPI(coord *coordinator.Coordinator, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *API {
	return &API{coord: coord, health: health, metrics: metrics, log: log}
}

// Handler returns the routed, CORS-wrapped handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/matches/{context}/{id}/wager/submit", a.handleSubmit)
	mux.HandleFunc("POST /v1/matches/{context}/{id}/wager/accept", a.handleAccept)
	mux.HandleFunc("POST /v1/matches/{context}/{id}/wager/cancel", a.handleCancel)
	mux.HandleFunc("POST /v1/matches/{context}/{id}/wager/decline", a.handleDecline)
	mux.HandleFunc("GET /v1/matches/{context}/{id}/wager", a.handleGet)

	mux.HandleFunc("GET /healthz", a.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", a.health.ReadinessHandler)

	return cors.Default().Handler(mux)
}

type submitRequest struct {
	Material string `json:"material"`
	Count    int64  `json:"count"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	playerID := r.Header.Get(playerHeader)
	matchContext, matchID := r.PathValue("context"), r.PathValue("id")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, "submit", coordinator.ErrInvalidArgument)
		return
	}
	kind, ok := material.ParseKind(req.Material)
	if !ok {
		a.writeError(w, "submit", coordinator.ErrInvalidArgument)
		return
	}

	res, err := a.coord.Submit(r.Context(), playerID, matchContext, matchID, kind, req.Count)
	if err != nil {
		a.writeError(w, "submit", err)
		return
	}
	a.writeOK(w, "submit", map[string]any{"granted_count": res.Granted})
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	playerID := r.Header.Get(playerHeader)
	matchContext, matchID := r.PathValue("context"), r.PathValue("id")

	res, err := a.coord.Accept(r.Context(), playerID, matchContext, matchID)
	if err != nil {
		a.writeError(w, "accept", err)
		return
	}
	a.writeOK(w, "accept", map[string]any{
		"accepted_count": res.Accepted,
		"agreement":      res.Agreement,
	})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	playerID := r.Header.Get(playerHeader)
	matchContext, matchID := r.PathValue("context"), r.PathValue("id")

	res, err := a.coord.Cancel(r.Context(), playerID, matchContext, matchID)
	if err != nil {
		a.writeError(w, "cancel", err)
		return
	}
	a.writeOK(w, "cancel", map[string]any{
		"released_material": string(res.Material),
		"released_count":    res.Count,
	})
}

func (a *API) handleDecline(w http.ResponseWriter, r *http.Request) {
	playerID := r.Header.Get(playerHeader)
	matchContext, matchID := r.PathValue("context"), r.PathValue("id")

	res, err := a.coord.Decline(r.Context(), playerID, matchContext, matchID)
	if err != nil {
		a.writeError(w, "decline", err)
		return
	}
	a.writeOK(w, "decline", map[string]any{
		"released_material": string(res.Material),
		"released_count":    res.Count,
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	playerID := r.Header.Get(playerHeader)
	matchContext, matchID := r.PathValue("context"), r.PathValue("id")

	slot, err := a.coord.Slot(r.Context(), playerID, matchContext, matchID)
	if err != nil {
		a.writeError(w, "get", err)
		return
	}
	a.writeOK(w, "get", map[string]any{"slot": slot})
}

func (a *API) writeOK(w http.ResponseWriter, endpoint string, body map[string]any) {
	a.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(http.StatusOK)).Inc()
	body["ok"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (a *API) writeError(w http.ResponseWriter, endpoint string, err error) {
	code := statusFor(err)
	reason := reasonFor(err)
	if reason == reasonInternal {
		a.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	a.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "reason": reason})
}
