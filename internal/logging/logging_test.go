package logging

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerForwardsRecordOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()
		done <- struct{}{}
	}))
	defer srv.Close()

	forwarder := NewHTTPForwarder(srv.URL, srv.Client(), 8)
	defer forwarder.Close()

	base := slog.NewJSONHandler(&discard{}, nil)
	handler := NewHandler(base, forwarder, "device-1")
	logger := slog.New(handler)

	logger.Info("invocation finished", "request_id", "dep:mod:fn-1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("log record was never forwarded")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "invocation finished", received["message"])
	require.Equal(t, "device-1", received["deviceName"])
	require.Equal(t, "dep:mod:fn-1", received["requestId"])
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
