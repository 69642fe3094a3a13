package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/app"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/handlers"
)

func testServer() *Server {
	return &Server{app: &app.App{Logger: arbor.NewLogger()}}
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	handler := testServer().withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestMiddleware_Preflight(t *testing.T) {
	called := false
	handler := testServer().withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/olts", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), CorrelationHeader)
	assert.False(t, called)
}

func TestMiddleware_CorrelationID(t *testing.T) {
	var seen string
	handler := testServer().withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = common.CorrelationIDFrom(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"kept", "req-7f3a", true},
		{"missing", "", false},
		{"control characters", "bad\x01id", false},
		{"spaces", "two words", false},
		{"too long", strings.Repeat("a", maxCorrelationIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/olts/olt-a/sync/slot", nil)
			if tt.incoming != "" {
				req.Header.Set(CorrelationHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			echoed := rec.Header().Get(CorrelationHeader)
			assert.Equal(t, seen, echoed)
			if tt.keep {
				assert.Equal(t, tt.incoming, echoed)
			} else {
				assert.NotEmpty(t, echoed)
				assert.NotEqual(t, tt.incoming, echoed)
			}
		})
	}
}

func TestMiddleware_WebSocketUpgradeGetsRawWriter(t *testing.T) {
	var wrapped bool
	var id string
	handler := testServer().withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, wrapped = w.(*statusRecorder)
		id = common.CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set(CorrelationHeader, "ws-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.False(t, wrapped)
	assert.Equal(t, "ws-1", id)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Server.Host = "127.0.0.1"
	config.Server.Port = 0

	srv := New(&app.App{
		Config:     config,
		Logger:     logger,
		Mode:       app.ModeServe,
		APIHandler: handlers.NewAPIHandler(logger),
	})
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	req, err := http.NewRequest(http.MethodGet, "http://"+listener.Addr().String()+"/api/version", nil)
	require.NoError(t, err)
	req.Header.Set(CorrelationHeader, "req-version")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-version", resp.Header.Get(CorrelationHeader))
	var info common.BuildInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, common.Version, info.Version)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-served)
}
