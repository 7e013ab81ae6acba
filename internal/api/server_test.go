package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmiot/supervisor/internal/fetch"
	"github.com/wasmiot/supervisor/internal/history"
	"github.com/wasmiot/supervisor/internal/module"
	"github.com/wasmiot/supervisor/internal/orchestrator"
	"github.com/wasmiot/supervisor/internal/queue"
	"github.com/wasmiot/supervisor/internal/wasmruntime"
)

func writeFixture(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

type fakeHandle struct{ name string }

func (h fakeHandle) ModuleName() string { return h.name }

type fakeRuntime struct{}

func newFakeRuntime(string, string) (wasmruntime.Runtime, error) { return &fakeRuntime{}, nil }

func (r *fakeRuntime) Load(_ context.Context, cfg *module.Config) (wasmruntime.Handle, error) {
	return fakeHandle{name: cfg.Name}, nil
}
func (r *fakeRuntime) GetOrLoad(ctx context.Context, cfg *module.Config) (wasmruntime.Handle, error) {
	return r.Load(ctx, cfg)
}
func (r *fakeRuntime) Invoke(context.Context, wasmruntime.Handle, string, []any) (any, error) {
	return int32(7), nil
}
func (r *fakeRuntime) ArgTypes(wasmruntime.Handle, string) ([]wasmruntime.ValueType, error) {
	return nil, nil
}
func (r *fakeRuntime) ReadMemory(wasmruntime.Handle, uint32, uint32) ([]byte, error) { return nil, nil }
func (r *fakeRuntime) WriteMemory(wasmruntime.Handle, uint32, []byte) error          { return nil }
func (r *fakeRuntime) Close(context.Context) error                                  { return nil }

func createServer(t *testing.T) *Server {
	t.Helper()
	q := queue.New(4)
	q.Start(context.Background())
	t.Cleanup(q.Shutdown)

	orch := orchestrator.New(q, history.NewHistory(), history.NewCounters(), http.DefaultClient, 2*time.Second, nil)
	return NewServer(orch, newFakeRuntime, t.TempDir(), "test-device", nil, nil)
}

func TestHandleHealth(t *testing.T) {
	s := createServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Result().StatusCode)
}

func TestHandleDeployThenInvoke(t *testing.T) {
	s := createServer(t)

	binSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wasm-bytes"))
	}))
	defer binSrv.Close()

	body := map[string]any{
		"deploymentId": "dep-1",
		"modules": []map[string]any{
			{"id": "1", "name": "mod-a", "urls": map[string]any{"binary": binSrv.URL + "/mod.wasm"}},
		},
		"endpoints": map[string]any{
			"mod-a": map[string]any{
				"classify": map[string]any{
					"method":   "POST",
					"response": map[string]any{"mediaType": "application/json", "schema": map[string]any{"type": "integer"}},
				},
			},
		},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/deploy", bytes.NewReader(b))
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Result().StatusCode)

	invokeReq := httptest.NewRequest("GET", "/dep-1/modules/mod-a/classify?x=1", nil)
	invokeResp := httptest.NewRecorder()
	s.ServeHTTP(invokeResp, invokeReq)

	require.Equal(t, http.StatusOK, invokeResp.Result().StatusCode)

	var invoked struct {
		ResultURL string `json:"resultUrl"`
	}
	require.NoError(t, json.NewDecoder(invokeResp.Body).Decode(&invoked))
	require.Contains(t, invoked.ResultURL, "/request-history/dep-1:mod-a:classify:1")

	historyReq := httptest.NewRequest("GET", "/request-history", nil)
	historyResp := httptest.NewRecorder()
	s.ServeHTTP(historyResp, historyReq)

	var entries []*history.RequestEntry
	require.NoError(t, json.NewDecoder(historyResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.True(t, entries[0].Success)
	require.Equal(t, "7", entries[0].Result)
	require.Equal(t, "GET", entries[0].Method)
	require.Equal(t, "1", entries[0].Args["x"])

	byIDReq := httptest.NewRequest("GET", "/request-history/dep-1:mod-a:classify:1", nil)
	byIDResp := httptest.NewRecorder()
	s.ServeHTTP(byIDResp, byIDReq)
	require.Equal(t, http.StatusOK, byIDResp.Result().StatusCode)
}

func TestHandleInvokePostReturnsBeforeCompletion(t *testing.T) {
	s := createServer(t)

	binSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wasm-bytes"))
	}))
	defer binSrv.Close()

	body := map[string]any{
		"deploymentId": "dep-2",
		"modules": []map[string]any{
			{"id": "1", "name": "mod-a", "urls": map[string]any{"binary": binSrv.URL + "/mod.wasm"}},
		},
		"endpoints": map[string]any{
			"mod-a": map[string]any{
				"classify": map[string]any{
					"method":   "POST",
					"response": map[string]any{"mediaType": "application/json", "schema": map[string]any{"type": "integer"}},
				},
			},
		},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/deploy", bytes.NewReader(b))
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Result().StatusCode)

	invokeReq := httptest.NewRequest("POST", "/dep-2/modules/mod-a/classify", nil)
	invokeResp := httptest.NewRecorder()
	s.ServeHTTP(invokeResp, invokeReq)

	require.Equal(t, http.StatusOK, invokeResp.Result().StatusCode)

	var invoked struct {
		ResultURL string `json:"resultUrl"`
	}
	require.NoError(t, json.NewDecoder(invokeResp.Body).Decode(&invoked))
	require.Contains(t, invoked.ResultURL, "/request-history/dep-2:mod-a:classify:1")
}

func TestHandleServeModuleFileServesUnderMountRoot(t *testing.T) {
	s := createServer(t)

	binSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wasm-bytes"))
	}))
	defer binSrv.Close()

	body := map[string]any{
		"deploymentId": "dep-3",
		"modules": []map[string]any{
			{"id": "1", "name": "mod-a", "urls": map[string]any{"binary": binSrv.URL + "/mod.wasm"}},
		},
		"endpoints": map[string]any{},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/deploy", bytes.NewReader(b))
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Result().StatusCode)

	path := filepath.Join(s.instanceDir, fetch.ParamsDir, "mod-a", "out.bin")
	require.NoError(t, writeFixture(path, "staged-bytes"))

	fileReq := httptest.NewRequest("GET", "/dep-3/modules/mod-a/classify/out.bin", nil)
	fileResp := httptest.NewRecorder()
	s.ServeHTTP(fileResp, fileReq)

	require.Equal(t, http.StatusOK, fileResp.Result().StatusCode)
	require.Equal(t, "staged-bytes", fileResp.Body.String())
}

func TestHandleDeleteDeployNotFound(t *testing.T) {
	s := createServer(t)

	req := httptest.NewRequest("DELETE", "/deploy/missing", nil)
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Result().StatusCode)
}

func TestHandleModuleResultServesFile(t *testing.T) {
	s := createServer(t)

	path := filepath.Join(s.instanceDir, fetch.ParamsDir, "mod-a", "out.bin")
	require.NoError(t, writeFixture(path, "result-bytes"))

	req := httptest.NewRequest("GET", "/module_results/mod-a/out.bin", nil)
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Result().StatusCode)
	require.Equal(t, "result-bytes", resp.Body.String())
}
