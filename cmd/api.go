package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/calls"
	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/monitoring"
	"github.com/sells-group/quote-sourcing/internal/sourcing"
	"github.com/sells-group/quote-sourcing/internal/store"
	"github.com/sells-group/quote-sourcing/pkg/voice"
)

// api serves lookups, escalation results, cache administration and the
// voice platform webhook.
type api struct {
	env           *appEnv
	webhookSecret string
}

// newRouter builds the HTTP handler shared by serve and the temporary
// webhook listener used by the calls commands.
func newRouter(env *appEnv, webhookSecret string) http.Handler {
	a := &api{env: env, webhookSecret: webhookSecret}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", voice.SecretHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/health/calls", a.handleCallHealth)

	r.Post("/lookup", a.handleLookup)
	r.Get("/escalations", a.handleListEscalations)
	r.Get("/escalations/{batchID}", a.handleResolveEscalation)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", a.handleCacheStats)
		r.Delete("/", a.handleCacheClear)
	})

	r.Post("/webhooks/voice", a.handleVoiceWebhook)

	r.Route("/calls", func(r chi.Router) {
		r.Get("/", a.handleListCalls)
		r.Get("/{callID}", a.handleGetCall)
		r.Delete("/{callID}", a.handleCancelCall)
	})

	return r
}

// handleCallHealth reports call outcomes over ?hours= (default 24) and the
// cache size.
func (a *api) handleCallHealth(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	snap, err := monitoring.NewCollector(a.env.Store, a.env.Cache).Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: call health failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req sourcing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Item.Valid() {
		writeError(w, http.StatusBadRequest, "item needs a kind and a description or part number")
		return
	}
	if req.Context.Urgency == "" {
		req.Context.Urgency = model.UrgencyNormal
	}

	res, err := a.env.Coordinator.Lookup(r.Context(), req)
	if err != nil {
		a.writeLookupError(w, err)
		return
	}
	out, err := newLookupOutput(r.Context(), a.env.Settings, res)
	if err != nil {
		zap.L().Error("api: customer cost failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "shop settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleListEscalations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"pending": a.env.Coordinator.PendingEscalations()})
}

// handleResolveEscalation blocks until every call in the batch is terminal.
func (a *api) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	res, err := a.env.Coordinator.ResolveEscalation(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, sourcing.ErrUnknownEscalation) {
			writeError(w, http.StatusNotFound, "unknown escalation batch")
			return
		}
		a.writeLookupError(w, err)
		return
	}
	out, err := newLookupOutput(r.Context(), a.env.Settings, res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "shop settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) writeLookupError(w http.ResponseWriter, err error) {
	sf, ok := sourcing.AsSourcingFailure(err)
	if !ok {
		zap.L().Error("api: lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sf.PendingCallback {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "pending_vendor_callback",
			"batch_id": sf.BatchID,
			"failures": sf.Failures,
		})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"status":   "needs_manual_followup",
		"failures": sf.Failures,
	})
}

func (a *api) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.env.Cache.Stats(r.Context())
	if err != nil {
		zap.L().Error("api: cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n, err := a.env.Cache.Clear(r.Context())
	if err != nil {
		zap.L().Error("api: cache clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (a *api) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if a.env.Calls == nil {
		writeError(w, http.StatusServiceUnavailable, "vendor calls are not configured")
		return
	}
	if !voice.VerifySecret(a.webhookSecret, r.Header.Get(voice.SecretHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	ev, err := voice.ParseEvent(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch ev.Type {
	case voice.EventCallStarted:
		_, err = a.env.Calls.OnCallStarted(ev.CallID)
	case voice.EventCallTranscript:
		_, err = a.env.Calls.OnTranscriptReceived(ev.CallID, ev.Transcript)
	case voice.EventCallFailed:
		_, err = a.env.Calls.OnCallFailed(ev.CallID, ev.Reason)
	}
	if err != nil {
		zap.L().Warn("api: webhook rejected",
			zap.String("call_id", ev.CallID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		writeCallError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := store.CallFilter{
		VendorID: q.Get("vendor_id"),
		BatchID:  q.Get("batch_id"),
		State:    model.CallState(q.Get("state")),
		Limit:    limit,
	}
	sessions, err := a.env.Store.ListCalls(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list calls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "call history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleGetCall prefers the live session and falls back to the archive for
// calls placed by an earlier process.
func (a *api) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callID")
	if a.env.Calls != nil {
		if s, ok := a.env.Calls.Get(id); ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	s, err := a.env.Store.GetCall(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get call failed", zap.String("call_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "call history unavailable")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	if a.env.Calls == nil {
		writeError(w, http.StatusServiceUnavailable, "vendor calls are not configured")
		return
	}
	s, err := a.env.Calls.CancelCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calls.ErrCallNotFound):
		writeError(w, http.StatusNotFound, "call not found")
	case errors.Is(err, calls.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "call update failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
