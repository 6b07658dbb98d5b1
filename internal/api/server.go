package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"restartwatch/internal/monitor"
	"restartwatch/internal/notify"
	"restartwatch/internal/store"

	"nhooyr.io/websocket"
)

type StatusSource interface {
	Status() monitor.Status
}

type History interface {
	ListEvents(ctx context.Context, beforeID int64, limit int) ([]store.Event, error)
	CountEvents(ctx context.Context) (int, error)
}

type Options struct {
	// History is nil when no state file is configured.
	History History
	Summary map[string]string
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	status      StatusSource
	history     History
	summary     map[string]string
	metrics     http.Handler
	broadcaster *Broadcaster
	log         *slog.Logger
}

func NewServer(status StatusSource, broadcaster *Broadcaster, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		status:      status,
		history:     opts.History,
		summary:     opts.Summary,
		metrics:     opts.Metrics,
		broadcaster: broadcaster,
		log:         logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return s.loggingMiddleware(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{
		Monitor:       toMonitorResponse(s.status.Status()),
		Config:        s.summary,
		StreamClients: s.broadcaster.Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	beforeID, _ := strconv.ParseInt(r.URL.Query().Get("before_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := s.history.ListEvents(r.Context(), beforeID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.history.CountEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := EventsResponse{Total: total, Items: make([]EventResponse, 0, len(items))}
	for _, e := range items {
		resp.Items = append(resp.Items, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	peer := clientIP(r)
	s.log.Debug("ws connect", "peer", peer)
	defer func() {
		s.log.Debug("ws disconnect", "peer", peer)
		conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	s.broadcaster.Add(conn)
	defer s.broadcaster.Remove(conn)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Notify pushes the event and the current status to stream clients.
func (s *Server) Notify(ctx context.Context, e notify.Event) error {
	payload, err := json.Marshal(EventUpdate{
		Event:   e,
		Monitor: toMonitorResponse(s.status.Status()),
	})
	if err != nil {
		return err
	}
	s.broadcaster.Broadcast(ctx, payload)
	return nil
}

type MonitorResponse struct {
	State               string   `json:"state"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	TotalChecks         int      `json:"total_checks"`
	TotalRestarts       int      `json:"total_restarts"`
	RecentRestarts      int      `json:"recent_restarts"`
	RecentRestartTimes  []string `json:"recent_restart_times"`
	LastOutcome         string   `json:"last_outcome,omitempty"`
	LastStatusCode      int      `json:"last_status_code,omitempty"`
	LastError           string   `json:"last_error,omitempty"`
	LastCheckAt         string   `json:"last_check_at,omitempty"`
	StartedAt           string   `json:"started_at"`
}

type StatusResponse struct {
	Monitor       MonitorResponse   `json:"monitor"`
	Config        map[string]string `json:"config,omitempty"`
	StreamClients int               `json:"stream_clients"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	Container string `json:"container"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	URL       string `json:"url"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"timestamp"`
}

type EventsResponse struct {
	Total int             `json:"total"`
	Items []EventResponse `json:"items"`
}

type EventUpdate struct {
	Event   notify.Event    `json:"event"`
	Monitor MonitorResponse `json:"monitor"`
}

func toMonitorResponse(st monitor.Status) MonitorResponse {
	times := make([]string, 0, len(st.RecentRestartTimes))
	for _, ts := range st.RecentRestartTimes {
		times = append(times, formatTime(ts))
	}
	return MonitorResponse{
		State:               string(st.State),
		ConsecutiveFailures: st.ConsecutiveFailures,
		TotalChecks:         st.TotalChecks,
		TotalRestarts:       st.TotalRestarts,
		RecentRestarts:      st.RecentRestarts,
		RecentRestartTimes:  times,
		LastOutcome:         st.LastOutcome,
		LastStatusCode:      st.LastStatusCode,
		LastError:           st.LastError,
		LastCheckAt:         formatTime(st.LastCheckAt),
		StartedAt:           formatTime(st.StartedAt),
	}
}

func toEventResponse(e store.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Container: e.Container,
		Status:    e.Status,
		Message:   e.Message,
		URL:       e.URL,
		Hostname:  e.Hostname,
		Timestamp: formatTime(e.Timestamp),
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return ip
	}
	return r.RemoteAddr
}
