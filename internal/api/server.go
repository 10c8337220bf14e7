// Package api exposes the read accessor and the event and field intake over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loan-lifecycle/internal/common/config"
	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/validation"
	"loan-lifecycle/internal/lifecycle/view"
	"loan-lifecycle/internal/models"
)

type Viewer interface {
	Get(ctx context.Context, applicationID string, withProvenance bool) (*view.View, error)
}

type EventSink interface {
	Notify(applicationID string, trigger models.TriggerKind) error
}

type FieldWriter interface {
	Persist(ctx context.Context, applicationID string, raw map[string]interface{}) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	viewer      Viewer
	events      EventSink
	fields      FieldWriter
	checks      map[string]Pinger
	diagnostics config.DiagnosticsConfig
	logger      logger.Logger
}

func NewServer(viewer Viewer, events EventSink, fields FieldWriter, diagnostics config.DiagnosticsConfig, log logger.Logger) *Server {
	if diagnostics.QueryParam == "" {
		diagnostics.QueryParam = "provenance"
	}
	if diagnostics.Header == "" {
		diagnostics.Header = "X-Debug-Provenance"
	}
	return &Server{
		viewer:      viewer,
		events:      events,
		fields:      fields,
		checks:      make(map[string]Pinger),
		diagnostics: diagnostics,
		logger:      log.WithFields(map[string]interface{}{"component": "http"}),
	}
}

// AddCheck registers a dependency probed by /ready.
func (s *Server) AddCheck(name string, p Pinger) {
	s.checks[name] = p
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/applications/{id}", func(r chi.Router) {
		r.Get("/", s.getApplication)
		r.Post("/events", s.postEvent)
		r.Post("/fields", s.postFields)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	v, err := s.viewer.Get(r.Context(), id, s.wantsProvenance(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// wantsProvenance is on for ?provenance=true or X-Debug-Provenance: 1.
func (s *Server) wantsProvenance(r *http.Request) bool {
	if truthy(r.URL.Query().Get(s.diagnostics.QueryParam)) {
		return true
	}
	return truthy(r.Header.Get(s.diagnostics.Header))
}

func truthy(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

type eventRequest struct {
	Trigger string `json:"trigger"`
}

type eventResponse struct {
	ApplicationID string `json:"applicationId"`
	Queued        bool   `json:"queued"`
}

// postEvent always answers 202 for a well-formed event. A dropped event is
// reported as queued=false; the next event reconciles the application anyway.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, apperrors.NewInvalidEventError("invalid JSON body"))
		return
	}

	result, err := validation.ValidateEvent(map[string]interface{}{
		"applicationId": id,
		"trigger":       req.Trigger,
	})
	if err != nil {
		s.writeErr(w, apperrors.NewInvalidEventError(err.Error()))
		return
	}
	if !result.Valid {
		s.writeErr(w, apperrors.NewInvalidEventError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	err = s.events.Notify(id, models.TriggerKind(req.Trigger))
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidEvent:
		s.writeErr(w, err)
		return
	default:
		writeJSON(w, http.StatusAccepted, eventResponse{ApplicationID: id, Queued: err == nil})
	}
}

func (s *Server) postFields(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var payload interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeErr(w, apperrors.NewInvalidPayloadError("invalid JSON body"))
		return
	}

	result, err := validation.ValidateFields(map[string]interface{}{
		"applicationId": id,
		"payload":       payload,
	})
	if err != nil {
		s.writeErr(w, apperrors.NewInvalidPayloadError(err.Error()))
		return
	}
	if !result.Valid {
		s.writeErr(w, apperrors.NewInvalidPayloadError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	if err := s.fields.Persist(r.Context(), id, payload.(map[string]interface{})); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	stdErr := apperrors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"error":     err,
		})
	}
	writeJSON(w, status, map[string]string{
		"code":  string(stdErr.Code),
		"error": stdErr.Message,
	})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeApplicationNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidEvent, apperrors.ErrCodeInvalidPayload:
		return http.StatusBadRequest
	case apperrors.ErrCodeDatabaseConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
			"requestId": middleware.GetReqID(r.Context()),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
