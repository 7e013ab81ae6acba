// Package orchestrator glues deployments, the request history and the work
// queue together, running one module invocation at a time and chaining into
// the next call in a deployment's pipeline when one is linked. Grounded on
// the original supervisor's do_wasm_work/make_history/wasm_worker in
// flask_app/app.py.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wasmiot/supervisor/internal/apperr"
	"github.com/wasmiot/supervisor/internal/deployment"
	"github.com/wasmiot/supervisor/internal/history"
	"github.com/wasmiot/supervisor/internal/queue"
)

// Orchestrator owns every active deployment and routes invocation requests
// through the single-consumer work queue, so at most one WebAssembly call
// runs at any moment across the whole supervisor.
type Orchestrator struct {
	mu          sync.RWMutex
	deployments map[string]*deployment.Deployment

	history  *history.History
	counters *history.Counters
	queue    *queue.Queue

	httpClient     *http.Client
	subCallTimeout time.Duration
	logger         *slog.Logger
}

func New(q *queue.Queue, h *history.History, c *history.Counters, client *http.Client, subCallTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deployments:    make(map[string]*deployment.Deployment),
		history:        h,
		counters:       c,
		queue:          q,
		httpClient:     client,
		subCallTimeout: subCallTimeout,
		logger:         logger,
	}
}

// AddDeployment registers d, replacing and closing any prior deployment with
// the same ID.
func (o *Orchestrator) AddDeployment(d *deployment.Deployment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if old, ok := o.deployments[d.ID]; ok {
		old.Close(context.Background())
	}
	o.deployments[d.ID] = d
}

// RemoveDeployment closes and forgets the deployment with the given ID.
func (o *Orchestrator) RemoveDeployment(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.deployments[id]
	if !ok {
		return false
	}
	d.Close(context.Background())
	delete(o.deployments, id)
	return true
}

// Deployment returns the deployment with the given ID, if active.
func (o *Orchestrator) Deployment(id string) (*deployment.Deployment, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.deployments[id]
	return d, ok
}

// History returns the request history this orchestrator appends to.
func (o *Orchestrator) History() *history.History {
	return o.history
}

// Invoke places one module-function call behind the work queue. When sync is
// true the call blocks until the queued job completes (or ctx is done) and
// the returned entry already carries its outcome; when false it enqueues the
// job and returns the bare entry immediately, leaving the outcome to be
// recorded once the worker gets to it. Mirrors the original supervisor's
// run_module_function, which runs make_history inline for GET and hands it to
// the background worker for POST.
func (o *Orchestrator) Invoke(
	ctx context.Context,
	deploymentID, moduleName, functionName, method string,
	args map[string]string,
	requestFiles map[string]string,
	sync bool,
) (*history.RequestEntry, error) {
	d, ok := o.Deployment(deploymentID)
	if !ok {
		return nil, apperr.New(apperr.KindDescriptor, "unknown deployment %q", deploymentID)
	}

	entry := history.NewRequestEntry(o.counters, deploymentID, moduleName, functionName, method, args, requestFiles)

	done := make(chan struct{})
	o.queue.Enqueue(queue.Job{Run: func(jobCtx context.Context) {
		output, resultURL, err := o.runOnce(jobCtx, d, moduleName, functionName, args, requestFiles)

		entry.Success = err == nil
		switch {
		case err != nil:
			entry.Result = err.Error()
		case resultURL != "":
			entry.Result = resultURL
		case output.Args != nil:
			entry.Result = *output.Args
		case len(output.Files) > 0:
			entry.Result = "module_results/" + moduleName + "/" + output.Files[0]
		}
		o.history.Append(entry)

		o.logger.Info("invocation recorded",
			"request_id", entry.ID,
			"deployment_id", deploymentID,
			"module_name", moduleName,
			"success", entry.Success,
		)
		close(done)
	}})

	if !sync {
		return entry, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return entry, ctx.Err()
	}
	return entry, nil
}

func (o *Orchestrator) runOnce(
	ctx context.Context,
	d *deployment.Deployment,
	moduleName, functionName string,
	args map[string]string,
	requestFiles map[string]string,
) (deployment.EndpointOutput, string, error) {
	handle, wasmArgs, err := d.PrepareForRunning(ctx, moduleName, functionName, args, requestFiles)
	if err != nil {
		return deployment.EndpointOutput{}, "", err
	}

	rt, ok := d.Runtimes[moduleName]
	if !ok {
		return deployment.EndpointOutput{}, "", apperr.New(apperr.KindDescriptor, "no runtime for module %q", moduleName)
	}

	raw, err := rt.Invoke(ctx, handle, functionName, wasmArgs)
	if err != nil {
		return deployment.EndpointOutput{}, "", apperr.Wrap(apperr.KindInvocation, err)
	}

	output, callData, err := d.InterpretCallFrom(moduleName, functionName, raw)
	if err != nil {
		return deployment.EndpointOutput{}, "", err
	}
	if callData == nil {
		return output, "", nil
	}

	resultURL, err := o.subCall(ctx, callData)
	if err != nil {
		return output, "", err
	}
	return output, resultURL, nil
}

// subCall places the next call in a deployment's chain, attaching any linked
// output files as multipart/form-data, and returns the resultUrl the peer's
// response carries. Mirrors the original supervisor's requests.post(...,
// timeout=30) and its sub_response.json()["resultUrl"] read.
func (o *Orchestrator) subCall(ctx context.Context, call *deployment.CallData) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.subCallTimeout)
	defer cancel()

	var body *bytes.Buffer
	var contentType string

	if len(call.Files) > 0 {
		body = &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for field, path := range call.Files {
			if err := attachFile(mw, field, path); err != nil {
				return "", apperr.Wrap(apperr.KindSubCall, err)
			}
		}
		if err := mw.Close(); err != nil {
			return "", apperr.Wrap(apperr.KindSubCall, err)
		}
		contentType = mw.FormDataContentType()
	}

	method := call.Method
	if method == "" {
		method = http.MethodPost
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = body
	}

	req, err := http.NewRequestWithContext(ctx, method, call.URL, reqBody)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSubCall, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSubCall, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.New(apperr.KindSubCall, "sub-call %s: status %d", call.URL, resp.StatusCode)
	}

	var parsed struct {
		ResultURL string `json:"resultUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindSubCall, err)
	}
	return parsed.ResultURL, nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
