package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/glcs-go/recorder/internal/config"
	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/output"
	"github.com/glcs-go/recorder/internal/scale"
	"github.com/glcs-go/recorder/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server represents the HTTP API server. It always exposes window/config
// management; the pipeline stage fields are set only by the record
// command, so probe-only or window-management-only callers can still
// build a Server without a running capture/scale pipeline.
type Server struct {
	router    *mux.Router
	windowMgr *window.Manager
	configMgr *config.Manager
	capture   *glcapture.Stage
	scale     *scale.Stage
	upgrader  websocket.Upgrader

	httpServer *http.Server
}

// NewServer creates a new API server for window/config management.
func NewServer(windowMgr *window.Manager, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		windowMgr: windowMgr,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetPipeline attaches the running capture/scale stages so the pipeline
// health and stats endpoints report real counters. Either argument may be
// nil.
func (s *Server) SetPipeline(capture *glcapture.Stage, scaleStage *scale.Stage) {
	s.capture = capture
	s.scale = scaleStage
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()

	// Application management
	api.HandleFunc("/applications", s.handleGetApplications).Methods("GET")
	api.HandleFunc("/applications/allowlisted", s.handleGetAllowlisted).Methods("GET")
	api.HandleFunc("/applications/allowlist", s.handleAddToAllowlist).Methods("POST")
	api.HandleFunc("/applications/allowlist/{id}", s.handleRemoveFromAllowlist).Methods("DELETE")

	// Window state
	api.HandleFunc("/window/current", s.handleGetCurrentWindow).Methods("GET")
	api.HandleFunc("/window/stream", s.handleWindowStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")
	api.HandleFunc("/config/patterns", s.handleAddPattern).Methods("POST")
	api.HandleFunc("/config/patterns", s.handleRemovePattern).Methods("DELETE")

	// Pipeline health and stats
	api.HandleFunc("/pipeline/stats", s.handlePipelineStats).Methods("GET")
	api.HandleFunc("/pipeline/stream", s.handlePipelineStream)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Serve static files (will be the React app)
	// For now, serve a simple index page
	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting server on http://localhost%s\n", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.enableCORS(s.router)}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the underlying HTTP server, if it has been started.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

// MountMJPEG adds the given MJPEG output's stream, viewer, and stats
// handlers to the server's router, letting the record command serve
// pipeline video alongside the health/stats/window API on one port.
func (s *Server) MountMJPEG(m *output.MJPEGOutput) {
	s.router.HandleFunc("/stream", m.GetHTTPHandler())
	s.router.HandleFunc("/viewer", m.GetViewerHandler())
	s.router.HandleFunc("/stats", m.GetStatsHandler())
}

func (s *Server) handleGetApplications(w http.ResponseWriter, r *http.Request) {
	if s.windowMgr == nil {
		http.Error(w, "window manager not available", http.StatusServiceUnavailable)
		return
	}
	apps, err := s.windowMgr.GetApplications()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apps)
}

func (s *Server) handleGetAllowlisted(w http.ResponseWriter, r *http.Request) {
	if s.windowMgr == nil {
		http.Error(w, "window manager not available", http.StatusServiceUnavailable)
		return
	}
	apps, err := s.windowMgr.GetApplications()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Filter allowlisted apps
	allowlisted := make([]config.Application, 0)
	for _, app := range apps {
		if app.Allowlisted {
			allowlisted = append(allowlisted, app)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(allowlisted)
}

func (s *Server) handleAddToAllowlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppClass string `json:"app_class"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.AddAllowlistedApp(req.AppClass); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleRemoveFromAllowlist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appClass := vars["id"]

	if err := s.configMgr.RemoveAllowlistedApp(appClass); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleGetCurrentWindow(w http.ResponseWriter, r *http.Request) {
	if s.windowMgr == nil {
		http.Error(w, "window manager not available", http.StatusServiceUnavailable)
		return
	}
	currentWindow := s.windowMgr.GetCurrentWindow()
	if currentWindow == nil {
		http.Error(w, "No window focused", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(currentWindow)
}

func (s *Server) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	if s.windowMgr == nil {
		http.Error(w, "window manager not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	// Subscribe to window changes
	updates := s.windowMgr.Subscribe()
	defer s.windowMgr.Unsubscribe(updates)

	// Send initial window
	if current := s.windowMgr.GetCurrentWindow(); current != nil {
		if err := conn.WriteJSON(current); err != nil {
			log.Printf("WebSocket write error: %v\n", err)
			return
		}
	}

	// Stream updates
	for window := range updates {
		if err := conn.WriteJSON(window); err != nil {
			log.Printf("WebSocket write error: %v\n", err)
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.AddPattern(req.Pattern); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.RemovePattern(req.Pattern); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// pipelineSnapshot is the JSON shape returned by /pipeline/stats and
// pushed over /pipeline/stream, combining capture and resample counters
// for every stream the pipeline currently knows about.
type pipelineSnapshot struct {
	Running bool                    `json:"running"`
	Capture []glcapture.StreamStats `json:"capture"`
	Scale   []scale.StreamStats     `json:"scale"`
}

func (s *Server) pipelineStats() pipelineSnapshot {
	snap := pipelineSnapshot{}
	if s.capture != nil {
		snap.Running = s.capture.IsRunning()
		snap.Capture = s.capture.StreamStats()
	}
	if s.scale != nil {
		snap.Scale = s.scale.StreamStats()
	}
	return snap
}

func (s *Server) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.pipelineStats())
}

// handlePipelineStream pushes a pipeline snapshot to the client whenever
// any field of it (running state, frame and drop counters, stream
// dimensions) changes, polling the stage counters since neither glcapture
// nor scale expose a push-based hook.
func (s *Server) handlePipelineStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last pipelineSnapshot
	first := true
	for range ticker.C {
		snap := s.pipelineStats()
		if !first && snapshotsEqual(snap, last) {
			continue
		}
		first = false
		last = snap
		if err := conn.WriteJSON(snap); err != nil {
			log.Printf("WebSocket write error: %v\n", err)
			return
		}
	}
}

func snapshotsEqual(a, b pipelineSnapshot) bool {
	if a.Running != b.Running || len(a.Capture) != len(b.Capture) || len(a.Scale) != len(b.Scale) {
		return false
	}
	for i := range a.Capture {
		if a.Capture[i] != b.Capture[i] {
			return false
		}
	}
	for i := range a.Scale {
		if a.Scale[i] != b.Scale[i] {
			return false
		}
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"version": "0.1.0",
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// For now, serve a simple HTML page
	// This will be replaced with the React app build
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>recorder</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 {
            color: #333;
            margin-top: 0;
        }
        .status {
            padding: 10px;
            background: #e8f5e9;
            border-left: 4px solid #4caf50;
            margin: 20px 0;
        }
        .info {
            color: #666;
            line-height: 1.6;
        }
        a {
            color: #1976d2;
            text-decoration: none;
        }
        a:hover {
            text-decoration: underline;
        }
        code {
            background: #f5f5f5;
            padding: 2px 6px;
            border-radius: 3px;
            font-family: 'Courier New', monospace;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>recorder</h1>
        <div class="status">
            Server is running
        </div>
        <div class="info">
            <p>recorder captures a window or desktop, resamples it, and streams the result over MJPEG or a named pipe.</p>
            <h3>API Endpoints:</h3>
            <ul>
                <li><a href="/api/health">/api/health</a> - Server health check</li>
                <li><a href="/api/applications">/api/applications</a> - List all applications</li>
                <li><a href="/api/config">/api/config</a> - View configuration</li>
                <li><a href="/api/window/current">/api/window/current</a> - Current focused window</li>
                <li><a href="/api/pipeline/stats">/api/pipeline/stats</a> - Capture/scale pipeline stats</li>
            </ul>
            <h3>Coming Soon:</h3>
            <p>React-based web UI for managing allowlisted applications and configuration.</p>
            <p>In the meantime, you can use the API endpoints directly or with tools like <code>curl</code>.</p>
        </div>
    </div>
</body>
</html>`

	// Only serve HTML for root path
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
		return
	}

	// For other paths, return 404
	if !strings.HasPrefix(r.URL.Path, "/api") {
		http.NotFound(w, r)
	}
}
