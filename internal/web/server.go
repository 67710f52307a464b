// Package web provides an HTTP status and control server for the
// e84-loadport daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
	"github.com/sweeney/e84-loadport/internal/status"
)

// Controller is the part of the load-port controller the server drives.
type Controller interface {
	Start() error
	Stop() error
	Reset() error
	IsRunning() bool
	Status() loadport.Status
}

// Server serves the status page and control endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	log        logger.Logger
}

// New creates a Server that reads state from the given tracker. ctrl may be
// nil, in which case the control endpoints answer 503.
func New(addr string, tracker *status.Tracker, ctrl Controller, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Server{tracker: tracker, ctrl: ctrl, log: log.With("component", "web")}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("POST /control/{action}", s.handleControl)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() status.Snapshot {
	if s.ctrl != nil {
		s.tracker.Update(s.ctrl.Status())
	}
	return s.tracker.Snapshot()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// ControlResponse is the body returned by the control endpoints.
type ControlResponse struct {
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if s.ctrl == nil {
		writeControl(w, http.StatusServiceUnavailable, ControlResponse{Action: action, Error: "controller unavailable"})
		return
	}

	var err error
	switch action {
	case "start":
		err = s.ctrl.Start()
	case "stop":
		err = s.ctrl.Stop()
	case "reset":
		err = s.ctrl.Reset()
	default:
		writeControl(w, http.StatusNotFound, ControlResponse{Action: action, Error: "unknown action"})
		return
	}

	resp := ControlResponse{Action: action, OK: err == nil, Running: s.ctrl.IsRunning()}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = controlErrorCode(err)
		s.log.Warn("control request failed", "action", action, "error", err)
	} else {
		s.log.Info("control request", "action", action, "remote", r.RemoteAddr)
	}
	writeControl(w, code, resp)
}

func controlErrorCode(err error) int {
	switch {
	case errors.Is(err, loadport.ErrConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loadport.ErrStopTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, loadport.ErrRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeControl(w http.ResponseWriter, code int, resp ControlResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
