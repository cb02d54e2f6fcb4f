package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/graph"
	"github.com/artello/eventflow/internal/graph/queryspec"
	"github.com/artello/eventflow/internal/queue"
)

type handlers struct {
	logger    *slog.Logger
	publisher queue.Publisher
	engine    graph.QueryEngine
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingest accepts an event, validates it, and hands it to the durable queue.
// The 202 reply means "accepted for delivery", not "written to the graph";
// the writer persists it asynchronously.
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	// The authenticated key decides the app, never the request body.
	ev.AppID = GetAppID(r.Context())

	if err := ev.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.Payload = domain.NormalizePayload(ev.Payload)

	receipt, err := h.publisher.Enqueue(r.Context(), &ev)
	if err != nil {
		h.logger.Error("enqueue failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("event_id", ev.EventID),
			slog.Any("error", err),
		)
		writeJSONError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"event_id":   ev.EventID,
		"message_id": receipt.MessageID,
	})
}

func (h *handlers) eventFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.engine.GetEventFlow(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (h *handlers) latestEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.engine.GetLatestEvent(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handlers) eventCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.GetEventCounts(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) conversionFunnel(w http.ResponseWriter, r *http.Request) {
	steps := splitParam(r.URL.Query().Get("steps"))
	funnel, err := h.engine.GetConversionFunnel(r.Context(), chi.URLParam(r, "session_id"), steps)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funnel)
}

func (h *handlers) retention(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	count, err := h.engine.GetRetentionRate(r.Context(), days)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "active_sessions": count})
}

func (h *handlers) heatmap(w http.ResponseWriter, r *http.Request) {
	hm, err := h.engine.GetSessionHeatmap(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hm})
}

func (h *handlers) globalEventCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.GetGlobalEventCounts(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) topEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	counts, err := h.engine.GetTopEvents(r.Context(), limit)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type globalFunnelRequest struct {
	Steps []string   `json:"steps"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (h *handlers) globalFunnel(w http.ResponseWriter, r *http.Request) {
	var req globalFunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	funnel, err := h.engine.GetGlobalFunnel(r.Context(), req.Steps, req.Start, req.End)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funnel)
}

type segmentsRequest struct {
	EventTypes []string `json:"event_types"`
	MinEvents  int      `json:"min_events,omitempty"`
}

func (h *handlers) segmentedUsers(w http.ResponseWriter, r *http.Request) {
	var req segmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	users, err := h.engine.GetSegmentedUsers(r.Context(), req.EventTypes, req.MinEvents)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type customQueryRequest struct {
	Conditions []queryspec.Condition `json:"conditions"`
}

func (h *handlers) customQuery(w http.ResponseWriter, r *http.Request) {
	var req customQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	users, err := h.engine.ExecuteCustomQuery(r.Context(), req.Conditions)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// writeQueryError maps the domain error taxonomy onto HTTP status codes.
func (h *handlers) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("query failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
