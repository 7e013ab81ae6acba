// Package api exposes the supervisor's HTTP surface: deployment management,
// module-function invocation, request history and device description.
// Router shape (chi, a Server holding its dependencies, ServeHTTP delegating
// to the router) follows anthdm-ffaas's internal/api.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wasmiot/supervisor/internal/apperr"
	"github.com/wasmiot/supervisor/internal/deployment"
	"github.com/wasmiot/supervisor/internal/endpoint"
	"github.com/wasmiot/supervisor/internal/fetch"
	"github.com/wasmiot/supervisor/internal/mount"
	"github.com/wasmiot/supervisor/internal/orchestrator"
	"github.com/wasmiot/supervisor/internal/wasmruntime"
)

// Server holds every collaborator the HTTP surface needs and owns the chi
// router wiring them to routes.
type Server struct {
	router *chi.Mux

	orchestrator   *orchestrator.Orchestrator
	runtimeFactory wasmruntime.Factory
	httpClient     *http.Client
	logger         *slog.Logger

	instanceDir string
	deviceName  string
}

func NewServer(
	orch *orchestrator.Orchestrator,
	factory wasmruntime.Factory,
	instanceDir, deviceName string,
	client *http.Client,
	logger *slog.Logger,
) *Server {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orchestrator:   orch,
		runtimeFactory: factory,
		httpClient:     client,
		logger:         logger,
		instanceDir:    instanceDir,
		deviceName:     deviceName,
	}
	s.initRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) initRouter() {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/wasmiot-device-description", s.handleDeviceDescription)
	r.Get("/module_results/{module}/{filename}", s.handleModuleResult)

	r.Get("/request-history", s.handleRequestHistory)
	r.Get("/request-history/{id}", s.handleRequestHistoryByID)

	r.Post("/deploy", s.handleDeploy)
	r.Delete("/deploy/{id}", s.handleDeleteDeploy)

	r.Get("/{deployment}/modules/{module}/{function}", s.handleInvoke)
	r.Post("/{deployment}/modules/{module}/{function}", s.handleInvoke)
	r.Get("/{deployment}/modules/{module}/{function}/{filename}", s.handleServeModuleFile)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceDescription(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"deviceName": s.deviceName,
		"platform":   "go/wazero",
	})
}

func (s *Server) handleModuleResult(w http.ResponseWriter, r *http.Request) {
	moduleName := chi.URLParam(r, "module")
	filename := chi.URLParam(r, "filename")
	http.ServeFile(w, r, filepath.Join(s.instanceDir, fetch.ParamsDir, moduleName, filename))
}

func (s *Server) handleRequestHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.History().All())
}

func (s *Server) handleRequestHistoryByID(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.orchestrator.History().ByID(chi.URLParam(r, "id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	status := http.StatusOK
	if !entry.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, entry)
}

// deployRequest is the orchestrator-pushed deployment descriptor's wire
// shape: modules to fetch, their endpoints, mount requirements and the links
// chaining one module's output into the next call.
type deployRequest struct {
	DeploymentID string `json:"deploymentId"`
	Modules      []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URLs struct {
			Binary string            `json:"binary"`
			Other  map[string]string `json:"other"`
		} `json:"urls"`
	} `json:"modules"`
	Endpoints    map[string]map[string]endpoint.Endpoint               `json:"endpoints"`
	Mounts       map[string]map[string]map[mount.Stage][]mount.PathFile `json:"mounts"`
	Instructions struct {
		Modules map[string]map[string]struct {
			From endpoint.Endpoint  `json:"from"`
			To   *endpoint.Endpoint `json:"to"`
		} `json:"modules"`
	} `json:"instructions"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindDescriptor, "decoding deployment: %v", err))
		return
	}

	sources := make([]fetch.ModuleSource, 0, len(req.Modules))
	for _, m := range req.Modules {
		sources = append(sources, fetch.ModuleSource{
			ID: m.ID, Name: m.Name, BinaryURL: m.URLs.Binary, OtherURLs: m.URLs.Other,
		})
	}

	modules, err := fetch.Modules(r.Context(), s.httpClient, s.instanceDir, sources)
	if err != nil {
		writeError(w, err)
		return
	}

	links := make(map[string]map[string]deployment.FunctionLink, len(req.Instructions.Modules))
	for modName, fns := range req.Instructions.Modules {
		links[modName] = make(map[string]deployment.FunctionLink, len(fns))
		for fnName, link := range fns {
			links[modName][fnName] = deployment.FunctionLink{From: link.From, To: link.To}
		}
	}

	mounts := mount.ModuleMounts{}
	for modName, fns := range req.Mounts {
		mounts[modName] = mount.FunctionMounts{}
		for fnName, stages := range fns {
			mounts[modName][fnName] = mount.StageMap(stages)
		}
	}

	mountRoot := filepath.Join(s.instanceDir, fetch.ParamsDir)
	d, err := deployment.New(req.DeploymentID, modules, mountRoot, s.runtimeFactory, req.Endpoints, mounts, links)
	if err != nil {
		writeError(w, err)
		return
	}

	s.orchestrator.AddDeployment(d)
	writeJSON(w, http.StatusOK, map[string]string{"deploymentId": d.ID})
}

func (s *Server) handleDeleteDeploy(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.RemoveDeployment(chi.URLParam(r, "id")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleInvoke runs a deployed module's function and always answers with a
// pointer to this call's history entry, never the raw output. Mirrors the
// original supervisor's run_module_function: GET runs synchronously since
// the work is assumed short, POST hands it to the queue's worker and returns
// before execution completes.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deployment")
	moduleName := chi.URLParam(r, "module")
	functionName := chi.URLParam(r, "function")

	args := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			args[k] = vs[0]
		}
	}

	requestFiles := map[string]string{}
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, apperr.Wrap(apperr.KindDescriptor, err))
			return
		}
		for name, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				path, err := s.saveUpload(fh, name)
				if err != nil {
					writeError(w, err)
					return
				}
				requestFiles[name] = path
			}
		}
	}

	entry, err := s.orchestrator.Invoke(
		r.Context(), deploymentID, moduleName, functionName, r.Method, args, requestFiles,
		r.Method == http.MethodGet,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"resultUrl": s.resultURL(r, entry.ID)})
}

// handleServeModuleFile serves a file produced (or staged) under a module's
// mount root, split out as its own GET route. It looks up the deployment to
// resolve the mount path and answers 404 when the deployment is unknown; it
// never invokes the module.
func (s *Server) handleServeModuleFile(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deployment")
	moduleName := chi.URLParam(r, "module")
	filename := chi.URLParam(r, "filename")

	d, ok := s.orchestrator.Deployment(deploymentID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, d.ModuleMountPath(moduleName, filename))
}

// resultURL builds the absolute URL of a request-history entry, mirroring
// the original supervisor's results_route(request_id, full=True).
func (s *Server) resultURL(r *http.Request, requestID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/request-history/%s", scheme, r.Host, requestID)
}

func (s *Server) saveUpload(fh *multipart.FileHeader, mountName string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", apperr.Wrap(apperr.KindDescriptor, err)
	}
	defer src.Close()
	return s.saveBody(src, mountName)
}

func (s *Server) saveBody(r io.Reader, mountName string) (string, error) {
	dir := filepath.Join(s.instanceDir, "incoming", uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindMount, err)
	}
	dst := filepath.Join(dir, mountName)
	f, err := os.Create(dst)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMount, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", apperr.Wrap(apperr.KindMount, err)
	}
	return dst, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.KindDescriptor, apperr.KindMount:
			status = http.StatusBadRequest
		case apperr.KindFetch, apperr.KindSubCall:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
