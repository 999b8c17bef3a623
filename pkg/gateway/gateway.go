// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

// Package gateway ingests activity events from the product surface (site
// widgets, the mortgage calculator) into the per-user activity log the
// context assembler reads.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/memory"
)

const maxEventBodySize = 64 << 10 // 64KB

type Server struct {
	activity *memory.ActivityLog
	metrics  *Metrics
	srv      *http.Server
}

func NewServer(host string, port int, activity *memory.ActivityLog, metrics *Metrics) *Server {
	s := &Server{activity: activity, metrics: metrics}
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsAllowAll)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", MetricsHandler())
	r.Post("/events", s.handleEvent)

	return r
}

func (s *Server) Start() error {
	logger.InfoCF("gateway", "Listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleEvent accepts a flat JSON body: user_id and event_type plus any
// extra keys, which are kept as detail fields.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)
	defer r.Body.Close()

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid json"})
		return
	}

	userID, _ := raw["user_id"].(string)
	if userID == "" {
		if n, ok := raw["user_id"].(float64); ok {
			userID = fmt.Sprintf("%.0f", n)
		}
	}
	if userID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "No user_id"})
		return
	}

	eventType, _ := raw["event_type"].(string)
	if eventType == "" {
		eventType = "unknown"
	}

	fields := map[string]string{}
	for k, v := range raw {
		if k == "user_id" || k == "event_type" {
			continue
		}
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = fmt.Sprintf("%t", val)
		}
	}

	ev := memory.ActivityEvent{Type: eventType, Fields: fields, Timestamp: time.Now()}
	if err := s.activity.Record(r.Context(), userKey(userID), ev); err != nil {
		logger.ErrorCF("gateway", "Event record failed", map[string]interface{}{
			"user": userID, "type": eventType, "error": err.Error(),
		})
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "store unavailable"})
		return
	}

	if s.metrics != nil {
		s.metrics.EventsIngested.WithLabelValues(eventType).Inc()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// userKey aligns gateway user ids with the keys the chat pipeline uses.
// Bare ids are assumed to be Telegram user ids.
func userKey(userID string) string {
	if strings.Contains(userID, ":") {
		return userID
	}
	return "telegram:" + userID
}

func respondJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// corsAllowAll mirrors the permissive policy the site widgets expect.
func corsAllowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
