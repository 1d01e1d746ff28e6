// Package web provides an HTTP status server for the shot-sensor daemon.
package web

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/status"
)

// maxBody bounds the size of a log level request body.
const maxBody = 64

// Server serves the status page and device attributes over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	logger     *slog.Logger
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tracker: tracker, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/devices/", s.handleDevice)

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

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render index failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// splitDevicePath splits the path below /devices/ into a device name and
// either a ".json" suffix or an attribute. Device names may contain slashes,
// so the attribute is always the last segment.
func splitDevicePath(rest string) (name, attr string, whole bool) {
	if strings.HasSuffix(rest, ".json") {
		return strings.TrimSuffix(rest, ".json"), "", true
	}
	i := strings.LastIndexByte(rest, '/')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], false
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/devices/")
	name, attr, whole := splitDevicePath(rest)
	if name == "" {
		http.NotFound(w, r)
		return
	}
	d, ok := s.tracker.Lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if whole {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(status.FormatDevice(d.Snapshot(), s.tracker.Clock()))
		return
	}

	if attr == AttrLogLevel {
		s.handleLogLevel(w, r, d)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	data, ok := formatAttribute(d, attr)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request, d *device.Device) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", "application/json")
		w.Write(formatLogLevel(d))
	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(string(body)))); err != nil {
			http.Error(w, "invalid log level: "+err.Error(), http.StatusBadRequest)
			return
		}
		d.SetLogLevel(level)
		s.logger.Info("device log level changed", "device", d.Name(), "level", level.String())
		w.Header().Set("Content-Type", "application/json")
		w.Write(formatLogLevel(d))
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
	}
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
