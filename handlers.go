package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kwv/icpstep/cloud"
)

// stepFunc runs one step trigger.
type stepFunc func() (cloud.StepReport, error)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(session *cloud.Session, viewer *cloud.Viewer, step stepFunc, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health request", "remote", r.RemoteAddr)
		last := session.Last()
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			SessionID  string    `json:"sessionId"`
			Iterations uint      `json:"iterations"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			SessionID:  session.ID,
			Iterations: last.Iteration,
		}
		writeJSON(w, http.StatusOK, status, logger)
	})

	// One step trigger, same as the space key
	mux.HandleFunc("POST /step", func(w http.ResponseWriter, r *http.Request) {
		report, err := step()
		if err != nil {
			logger.Warn("step over HTTP failed", "err", err)
			writeJSON(w, http.StatusUnprocessableEntity, report, logger)
			return
		}
		writeJSON(w, http.StatusOK, report, logger)
	})

	// Persisted snapshot when one is configured, live state otherwise
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.PersistedSnapshot(), logger)
	})

	mux.HandleFunc("GET /view.png", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := viewer.RenderPNG(&buf, session.Scene(viewer)); err != nil {
			logger.Error("rendering view", "err", err)
			http.Error(w, "Render failed", http.StatusInternalServerError)
			return
		}
		writeBody(w, "image/png", buf.Bytes(), logger)
	})

	mux.HandleFunc("GET /view.svg", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := viewer.RenderSVG(&buf, session.Scene(viewer)); err != nil {
			logger.Error("rendering SVG view", "err", err)
			http.Error(w, "Render failed", http.StatusInternalServerError)
			return
		}
		writeBody(w, "image/svg+xml", buf.Bytes(), logger)
	})

	mux.HandleFunc("GET /fitness.png", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		err := cloud.PlotFitness(&buf, session.History())
		if errors.Is(err, cloud.ErrNoHistory) {
			http.Error(w, "No ICP iterations yet", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("plotting fitness", "err", err)
			http.Error(w, "Plot failed", http.StatusInternalServerError)
			return
		}
		writeBody(w, "image/png", buf.Bytes(), logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding JSON response", "err", err)
	}
}

func writeBody(w http.ResponseWriter, contentType string, body []byte, logger *log.Logger) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(body); err != nil {
		logger.Error("writing response", "err", err)
	}
}
