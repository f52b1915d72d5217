// Package api exposes the alert service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shineum/alertmail-lite/internal/alert"
	"github.com/shineum/alertmail-lite/internal/delivery"
	"github.com/shineum/alertmail-lite/internal/events"
	"github.com/shineum/alertmail-lite/internal/metrics"
)

// eventBuffer is the per-subscriber channel size for the event stream.
const eventBuffer = 64

// Handler serves the HTTP API.
type Handler struct {
	svc      *alert.Service
	hub      *events.Hub
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a Handler. hub may be nil, in which case the event
// stream endpoint answers 503.
func NewHandler(svc *alert.Service, hub *events.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		hub:      hub,
		logger:   logger.With("component", "api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router returns the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/alerts", h.sendAlert)
		r.Get("/deliveries", h.listDeliveries)
		r.Get("/deliveries/{id}", h.getDelivery)
		r.Delete("/deliveries/{id}", h.cancelDelivery)
		r.Post("/queue/process", h.processQueue)
		r.Get("/events", h.streamEvents)
	})
	return r
}

// AlertRequest is the body of POST /v1/alerts.
type AlertRequest struct {
	User  alert.User  `json:"user"`
	Alert alert.Alert `json:"alert"`
	// Queue stores the alert for later delivery instead of sending it now.
	Queue bool `json:"queue"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *Handler) sendAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, req.User); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user: %v", err))
		return
	}
	if !req.Alert.Type.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown alert type %q", req.Alert.Type))
		return
	}

	if req.Queue {
		id, err := h.svc.QueueAlert(req.User, req.Alert)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(delivery.StatusQueued)})
		return
	}

	res := h.svc.SendAlert(ctx, req.User, req.Alert)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	all := h.svc.Engine().GetAllDeliveryStatuses()
	status := delivery.Status(r.URL.Query().Get("status"))

	out := make([]delivery.Record, 0, len(all))
	for _, rec := range all {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b delivery.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	writeJSON(w, http.StatusOK, out)
}

// getDelivery reports a delivery record. Alerts delivered on the first
// provider pass never create one, so their IDs return 404.
func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.svc.Engine().GetDeliveryStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	engine := h.svc.Engine()

	if engine.CancelDelivery(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if rec, ok := engine.GetDeliveryStatus(id); ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("delivery is %s and cannot be cancelled", rec.Status))
		return
	}
	writeError(w, http.StatusNotFound, "delivery not found")
}

func (h *Handler) processQueue(w http.ResponseWriter, r *http.Request) {
	results := h.svc.Engine().ProcessQueue(r.Context())
	writeJSON(w, http.StatusOK, results)
}

// streamEvents writes delivery events as server-sent events until the
// client disconnects.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := &events.Subscriber{
		ID:         uuid.NewString(),
		DeliveryID: r.URL.Query().Get("delivery_id"),
		Recipient:  r.URL.Query().Get("recipient"),
		Events:     make(chan events.DeliveryEvent, eventBuffer),
	}
	h.hub.Subscribe(sub)
	defer h.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: delivery\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
