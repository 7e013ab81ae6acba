package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmiot/supervisor/internal/deployment"
	"github.com/wasmiot/supervisor/internal/endpoint"
	"github.com/wasmiot/supervisor/internal/history"
	"github.com/wasmiot/supervisor/internal/module"
	"github.com/wasmiot/supervisor/internal/queue"
	"github.com/wasmiot/supervisor/internal/wasmruntime"
)

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
	return int32(42), nil
}
func (r *fakeRuntime) ArgTypes(wasmruntime.Handle, string) ([]wasmruntime.ValueType, error) {
	return nil, nil
}
func (r *fakeRuntime) ReadMemory(wasmruntime.Handle, uint32, uint32) ([]byte, error) { return nil, nil }
func (r *fakeRuntime) WriteMemory(wasmruntime.Handle, uint32, []byte) error          { return nil }
func (r *fakeRuntime) Close(context.Context) error                                  { return nil }

func jsonEndpoint() endpoint.Endpoint {
	return endpoint.Endpoint{
		Method: "POST",
		Response: endpoint.MediaTypeObject{
			MediaType: "application/json",
			Schema:    endpoint.Schema{Type: endpoint.SchemaInteger},
		},
	}
}

func newOrchestrator(t *testing.T, client *http.Client) (*Orchestrator, *deployment.Deployment) {
	t.Helper()
	root := t.TempDir()
	modules := map[string]*module.Config{
		"mod-a": {Name: "mod-a", Path: filepath.Join(root, "mod-a.wasm")},
	}
	endpoints := map[string]map[string]endpoint.Endpoint{
		"mod-a": {"classify": jsonEndpoint()},
	}
	d, err := deployment.New("dep-1", modules, root, newFakeRuntime, endpoints, nil, nil)
	require.NoError(t, err)

	q := queue.New(4)
	q.Start(context.Background())
	t.Cleanup(q.Shutdown)

	o := New(q, history.NewHistory(), history.NewCounters(), client, 2*time.Second, nil)
	o.AddDeployment(d)
	return o, d
}

func TestInvokeRecordsSuccessfulHistoryEntry(t *testing.T) {
	o, _ := newOrchestrator(t, nil)

	entry, err := o.Invoke(context.Background(), "dep-1", "mod-a", "classify", "GET", nil, nil, true)
	require.NoError(t, err)
	require.True(t, entry.Success)
	require.Equal(t, "42", entry.Result)

	stored, ok := o.History().ByID(entry.ID)
	require.True(t, ok)
	require.Equal(t, entry, stored)
}

func TestInvokeUnknownDeploymentFails(t *testing.T) {
	o, _ := newOrchestrator(t, nil)
	_, err := o.Invoke(context.Background(), "missing", "mod-a", "classify", "GET", nil, nil, true)
	require.Error(t, err)
}

func TestInvokeAsyncReturnsBeforeCompletion(t *testing.T) {
	o, _ := newOrchestrator(t, nil)

	entry, err := o.Invoke(context.Background(), "dep-1", "mod-a", "classify", "POST", nil, nil, false)
	require.NoError(t, err)
	require.Empty(t, entry.Result)

	require.Eventually(t, func() bool {
		_, ok := o.History().ByID(entry.ID)
		return ok
	}, time.Second, time.Millisecond)
}

func TestInvokeChainsSubCallAndRecordsResultURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultUrl":"http://peer/module_results/mod-b/out.bin"}`))
	}))
	defer srv.Close()

	o, d := newOrchestrator(t, srv.Client())

	to := jsonEndpoint()
	to.URL = srv.URL
	to.Path = "/run"
	to.Request.Parameters = []endpoint.Parameter{{Name: "y"}}
	d.Links = map[string]map[string]deployment.FunctionLink{
		"mod-a": {"classify": {From: jsonEndpoint(), To: &to}},
	}

	entry, err := o.Invoke(context.Background(), "dep-1", "mod-a", "classify", "GET", nil, nil, true)
	require.NoError(t, err)
	require.True(t, entry.Success)
	require.Equal(t, "http://peer/module_results/mod-b/out.bin", entry.Result)
}
