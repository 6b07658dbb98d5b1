package docker

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockEngine answers the subset of the Docker Engine API the runtime uses.
type mockEngine struct {
	t          *testing.T
	mu         sync.Mutex
	containers map[string]json.RawMessage
	failing    map[string]bool
	restarts   []string
	queries    []string
	httpServer *http.Server
	listener   net.Listener
}

func newMockEngine(t *testing.T) *mockEngine {
	t.Helper()
	return &mockEngine{
		t:          t,
		containers: make(map[string]json.RawMessage),
		failing:    make(map[string]bool),
	}
}

func (m *mockEngine) AddContainer(name, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[name] = json.RawMessage(raw)
}

func (m *mockEngine) FailRestart(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[name] = true
}

func (m *mockEngine) Restarts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.restarts...)
}

func (m *mockEngine) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	m.listener = listener
	m.httpServer = &http.Server{Handler: http.HandlerFunc(m.handle)}
	go func() {
		_ = m.httpServer.Serve(listener)
	}()
	return "tcp://" + listener.Addr().String(), nil
}

func (m *mockEngine) Close() {
	if m.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.httpServer.Shutdown(ctx)
		cancel()
	}
	if m.listener != nil {
		_ = m.listener.Close()
	}
}

func (m *mockEngine) handle(w http.ResponseWriter, r *http.Request) {
	path := stripVersionPrefix(r.URL.Path)
	switch {
	case path == "/_ping":
		w.Header().Set("Api-Version", "1.47")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case path == "/version":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ApiVersion":"1.47","MinAPIVersion":"1.24","Version":"28.0.0"}`))
	case strings.HasPrefix(path, "/containers/") && strings.HasSuffix(path, "/json") && r.Method == http.MethodGet:
		name := strings.TrimSuffix(strings.TrimPrefix(path, "/containers/"), "/json")
		m.mu.Lock()
		raw, ok := m.containers[name]
		m.mu.Unlock()
		if !ok {
			notFound(w, name)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	case strings.HasPrefix(path, "/containers/") && strings.HasSuffix(path, "/restart") && r.Method == http.MethodPost:
		name := strings.TrimSuffix(strings.TrimPrefix(path, "/containers/"), "/restart")
		m.mu.Lock()
		_, ok := m.containers[name]
		failing := m.failing[name]
		if ok && !failing {
			m.restarts = append(m.restarts, name)
			m.queries = append(m.queries, r.URL.RawQuery)
		}
		m.mu.Unlock()
		switch {
		case !ok:
			notFound(w, name)
		case failing:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"cannot restart container: driver failed"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		http.NotFound(w, r)
	}
}

func notFound(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"message":"No such container: ` + name + `"}`))
}

var versionPrefix = regexp.MustCompile(`^/v[0-9]+\.[0-9]+`)

func stripVersionPrefix(path string) string {
	loc := versionPrefix.FindStringIndex(path)
	if loc == nil || loc[0] != 0 {
		return path
	}
	stripped := path[loc[1]:]
	if stripped == "" {
		return "/"
	}
	return stripped
}
