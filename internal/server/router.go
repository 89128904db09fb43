package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/fitgate/internal/common"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	metrics := s.metrics
	if metrics == nil {
		metrics = promhttp.HandlerFor(common.Registry, promhttp.HandlerOpts{})
	}
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/activities", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/fit", s.handleRaw)
			r.Get("/messages", s.handleMessages)
			r.Get("/report.pdf", s.handleReport)
			r.Post("/remove-gaps", s.handleRemoveGaps)
			r.Post("/split-lap", s.handleSplitLap)
		})
	})
	return r, nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
