package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/queue"
	"queueescape/queue-service/internal/store"
	"queueescape/queue-service/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Engine interface {
	Join(ctx context.Context, input queue.JoinInput) (queue.JoinResult, error)
	Status(ctx context.Context, queueID, ticketNumber string) (models.Snapshot, error)
	StatusByToken(ctx context.Context, token string) (models.Snapshot, error)
	Summary(ctx context.Context, queueID string) (models.Summary, error)
	Advance(ctx context.Context, queueID string) (models.Ticket, bool, error)
	Complete(ctx context.Context, queueID, ticketNumber string) (models.Ticket, error)
	Configure(ctx context.Context, input queue.ConfigureInput) (models.QueueSettings, error)
}

type Sweeper interface {
	Run(ctx context.Context, queueID string) (worker.Result, error)
}

type Handler struct {
	engine  Engine
	sweeper Sweeper
	live    http.Handler
}

type joinRequest struct {
	QueueID string `json:"queueId"`
	Email   string `json:"email"`
}

type joinResponse struct {
	Message      string        `json:"message"`
	TicketNumber string        `json:"ticketNumber"`
	QueueID      string        `json:"queueId"`
	Status       models.Status `json:"status"`
	JoinTime     int64         `json:"joinTime"`
	Token        string        `json:"token,omitempty"`
	Note         string        `json:"note"`
}

type queueRequest struct {
	QueueID string `json:"queueId"`
}

type completeRequest struct {
	QueueID      string `json:"queueId"`
	TicketNumber string `json:"ticketNumber"`
}

type settingsRequest struct {
	QueueID                   string              `json:"queueId"`
	PeakPeriod                string              `json:"peakPeriod"`
	Windows                   []models.RateWindow `json:"windows"`
	DefaultMinutesPerPosition int                 `json:"defaultMinutesPerPosition"`
	Thresholds                thresholdList       `json:"notificationThresholds"`
}

type ticketResponse struct {
	Message string        `json:"message"`
	Ticket  models.Ticket `json:"ticket"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// thresholdList accepts either a JSON array or a comma separated string.
type thresholdList []int

func (l *thresholdList) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err == nil {
		*l = values
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := queue.ParseThresholds(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func NewHandler(engine Engine, sweeper Sweeper) *Handler {
	return &Handler{engine: engine, sweeper: sweeper}
}

// WithLive mounts the live event stream under /queue/live.
func (h *Handler) WithLive(live http.Handler) *Handler {
	h.live = live
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/queue", func(r chi.Router) {
		r.Post("/join", h.handleJoin)
		r.Get("/status", h.handleStatusByToken)
		r.Get("/status/{queueId}/{ticketNumber}", h.handleStatus)
		if h.live != nil {
			r.Handle("/live", h.live)
			r.Handle("/live/*", h.live)
		}
		r.Route("/staff", func(r chi.Router) {
			r.Get("/summary", h.handleSummary)
			r.Post("/next", h.handleNext)
			r.Post("/complete", h.handleComplete)
			r.Post("/settings", h.handleSettings)
			r.Post("/notifications/sweep", h.handleSweep)
		})
	})
	return r
}

// CORSMiddleware allows any origin and answers preflight requests itself.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.engine.Join(r.Context(), queue.JoinInput{QueueID: req.QueueID, Contact: req.Email})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		Message:      "Successfully joined the queue",
		TicketNumber: res.Ticket.TicketNumber,
		QueueID:      res.Ticket.QueueID,
		Status:       res.Ticket.Status,
		JoinTime:     res.Ticket.JoinTime,
		Token:        res.Token,
		Note:         "You will be notified at " + res.Ticket.Contact + " as your turn approaches.",
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.Status(r.Context(), chi.URLParam(r, "queueId"), chi.URLParam(r, "ticketNumber"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleStatusByToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	snapshot, err := h.engine.StatusByToken(r.Context(), token)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Summary(r.Context(), r.URL.Query().Get("queueId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}
	ticket, ok, err := h.engine.Advance(r.Context(), req.QueueID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No waiting tickets"})
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Message: "Now serving " + ticket.TicketNumber, Ticket: ticket})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.engine.Complete(r.Context(), req.QueueID, req.TicketNumber)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Message: "Ticket " + ticket.TicketNumber + " completed", Ticket: ticket})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	settings, err := h.engine.Configure(r.Context(), queue.ConfigureInput{
		QueueID:                   req.QueueID,
		PeakPeriod:                req.PeakPeriod,
		Windows:                   req.Windows,
		DefaultMinutesPerPosition: req.DefaultMinutesPerPosition,
		Thresholds:                req.Thresholds,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}
	result, err := h.sweeper.Run(r.Context(), strings.TrimSpace(req.QueueID))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptionalRequest accepts an empty body for endpoints whose fields
// all have defaults.
func decodeOptionalRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeRequest(w, r, target)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	writeError(w, requestID(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrMalformedInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, queue.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "ticket token is invalid or expired"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrSettingsNotFound):
		return http.StatusNotFound, "settings_not_found", "queue settings not found"
	case errors.Is(err, store.ErrNotificationNotFound):
		return http.StatusNotFound, "notification_not_found", "notification record not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "ticket was updated concurrently, try again"
	case errors.Is(err, worker.ErrSweepInProgress):
		return http.StatusConflict, "sweep_in_progress", "a notification sweep is already running"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
