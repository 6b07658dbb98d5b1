package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReportsStatusCode(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewHTTP("test").Probe(context.Background(), srv.URL, time.Second, 2*time.Second)
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "restartwatch/test", gotUA)
}

func TestProbeDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTP("test").Probe(context.Background(), srv.URL+"/", time.Second, 2*time.Second)
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestProbeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewHTTP("test").Probe(context.Background(), srv.URL, 100*time.Millisecond, 200*time.Millisecond)
	assert.Error(t, res.Err)
	assert.Zero(t, res.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res := NewHTTP("test").Probe(context.Background(), "http://"+addr, 200*time.Millisecond, 500*time.Millisecond)
	assert.Error(t, res.Err)
	assert.Zero(t, res.StatusCode)
}

func TestProbeTLSFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewHTTP("test").Probe(context.Background(), srv.URL, time.Second, 2*time.Second)
	assert.Error(t, res.Err)
	assert.Zero(t, res.StatusCode)
}
