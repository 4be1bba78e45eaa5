package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// keepAliveInterval is how often an idle event stream gets a comment line.
const keepAliveInterval = 15 * time.Second

type errorBody struct {
	Error string `json:"error"`
}

type urlBody struct {
	URL string `json:"url"`
}

type checkResponse struct {
	Exists bool   `json:"exists"`
	Path   string `json:"path"`
}

type enqueueRequest struct {
	URL string `json:"url"`
	EnqueueOptions
}

type idBody struct {
	ID uint64 `json:"id"`
}

type speedLimitBody struct {
	KBps float64 `json:"kbps"`
}

type downloadDirBody struct {
	DownloadDir string `json:"download_dir"`
}

type maxConcurrentBody struct {
	MaxConcurrentDownloads int `json:"max_concurrent_downloads"`
}

type maxRetriesBody struct {
	MaxRetries int `json:"max_retries"`
}

// addResponse is the reply of POST /add, the endpoint browser extensions
// post links to.
type addResponse struct {
	Status  string `json:"status"`
	ID      uint64 `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server exposes a Gateway over HTTP.
type Server struct {
	gw     Gateway
	logger *log.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server for gw.
func NewServer(gw Gateway, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		gw:     gw,
		logger: logger.WithPrefix("api"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /downloads", s.handleDownloads)
	s.mux.HandleFunc("GET /queue", s.handleQueue)
	s.mux.HandleFunc("GET /speed-limit", s.handleGetSpeedLimit)
	s.mux.HandleFunc("PUT /speed-limit", s.handleSetSpeedLimit)
	s.mux.HandleFunc("POST /check", s.handleCheck)
	s.mux.HandleFunc("POST /enqueue", s.handleEnqueue)
	s.mux.HandleFunc("POST /downloads/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /downloads/{id}/resume", s.handleResume)
	s.mux.HandleFunc("DELETE /downloads/{id}", s.handleRemove)
	s.mux.HandleFunc("DELETE /queue/{id}", s.handleRemoveFromQueue)
	s.mux.HandleFunc("GET /settings/download-dir", s.handleGetDownloadDir)
	s.mux.HandleFunc("PUT /settings/download-dir", s.handleSetDownloadDir)
	s.mux.HandleFunc("GET /settings/max-concurrent", s.handleGetMaxConcurrent)
	s.mux.HandleFunc("PUT /settings/max-concurrent", s.handleSetMaxConcurrent)
	s.mux.HandleFunc("GET /settings/max-retries", s.handleGetMaxRetries)
	s.mux.HandleFunc("PUT /settings/max-retries", s.handleSetMaxRetries)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("POST /add", s.handleAdd)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	downloads, err := s.gw.Downloads(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downloads)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.gw.Queue(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (s *Server) handleGetSpeedLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := s.gw.SpeedLimit(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleSetSpeedLimit(w http.ResponseWriter, r *http.Request) {
	var body speedLimitBody
	if !s.readJSON(w, r, &body) {
		return
	}
	if err := s.gw.SetSpeedLimit(r.Context(), body.KBps); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body urlBody
	if !s.readJSON(w, r, &body) {
		return
	}
	exists, path, err := s.gw.CheckFileExistence(r.Context(), body.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Exists: exists, Path: path})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if !s.readJSON(w, r, &body) {
		return
	}
	id, err := s.gw.Enqueue(r.Context(), body.URL, body.EnqueueOptions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idBody{ID: id})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.withID(w, r, s.gw.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.withID(w, r, s.gw.Resume)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	removeFromDisk := false
	if v := r.URL.Query().Get("remove_from_disk"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: remove_from_disk %q", ErrInvalid, v))
			return
		}
		removeFromDisk = parsed
	}
	s.withID(w, r, func(ctx context.Context, id uint64) error {
		return s.gw.Remove(ctx, id, removeFromDisk)
	})
}

func (s *Server) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	s.withID(w, r, s.gw.RemoveFromQueue)
}

func (s *Server) handleGetDownloadDir(w http.ResponseWriter, r *http.Request) {
	dir, err := s.gw.DownloadDir(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadDirBody{DownloadDir: dir})
}

func (s *Server) handleSetDownloadDir(w http.ResponseWriter, r *http.Request) {
	var body downloadDirBody
	if !s.readJSON(w, r, &body) {
		return
	}
	if err := s.gw.SetDownloadDir(r.Context(), body.DownloadDir); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMaxConcurrent(w http.ResponseWriter, r *http.Request) {
	n, err := s.gw.MaxConcurrentDownloads(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maxConcurrentBody{MaxConcurrentDownloads: n})
}

func (s *Server) handleSetMaxConcurrent(w http.ResponseWriter, r *http.Request) {
	var body maxConcurrentBody
	if !s.readJSON(w, r, &body) {
		return
	}
	if err := s.gw.SetMaxConcurrentDownloads(r.Context(), body.MaxConcurrentDownloads); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMaxRetries(w http.ResponseWriter, r *http.Request) {
	n, err := s.gw.MaxRetries(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maxRetriesBody{MaxRetries: n})
}

func (s *Server) handleSetMaxRetries(w http.ResponseWriter, r *http.Request) {
	var body maxRetriesBody
	if !s.readJSON(w, r, &body) {
		return
	}
	if err := s.gw.SetMaxRetries(r.Context(), body.MaxRetries); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams the download-progress signal as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming unsupported"))
		return
	}

	signals, unsubscribe, err := s.gw.Subscribe(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", SignalDownloadProgress)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body urlBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, addResponse{Status: "error", Message: err.Error()})
		return
	}

	id, err := s.gw.Enqueue(r.Context(), body.URL, EnqueueOptions{})
	if err != nil {
		s.logger.Warn("add rejected", "url", body.URL, "err", err)
		writeJSON(w, http.StatusOK, addResponse{Status: "error", Message: err.Error()})
		return
	}

	s.logger.Info("added", "url", body.URL, "id", id)
	writeJSON(w, http.StatusOK, addResponse{Status: "ok", ID: id})
}

func (s *Server) withID(w http.ResponseWriter, r *http.Request, fn func(context.Context, uint64) error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: id %q", ErrInvalid, r.PathValue("id")))
		return
	}
	if err := fn(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrInvalid, err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrFileExists):
		code = http.StatusConflict
	case errors.Is(err, ErrInvalid):
		code = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
