// Package deployment owns the per-deployment graph: modules, endpoints,
// mounts, and function links, and interprets a module's output into the
// next call in the chain.
package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wasmiot/supervisor/internal/apperr"
	"github.com/wasmiot/supervisor/internal/endpoint"
	"github.com/wasmiot/supervisor/internal/module"
	"github.com/wasmiot/supervisor/internal/mount"
	"github.com/wasmiot/supervisor/internal/wasmruntime"
)

// FunctionLink says where a module's function's output came from and,
// optionally, where it should be sent next.
type FunctionLink struct {
	From endpoint.Endpoint
	To   *endpoint.Endpoint
}

// Deployment describes how HTTP endpoints map to environment, parameters and
// execution of WebAssembly functions and vice versa, for one orchestrator-
// pushed deployment.
type Deployment struct {
	ID string

	Modules  map[string]*module.Config
	Runtimes map[string]wasmruntime.Runtime
	Endpoints map[string]map[string]endpoint.Endpoint
	Mounts    mount.ModuleMounts
	Links     map[string]map[string]FunctionLink

	// mountRoot is this deployment's wasm-params root; module mount paths
	// resolve to mountRoot/moduleName/path.
	mountRoot string
}

// New validates that every endpoint, mount and link only references known
// modules, fills in empty mount entries for endpoints that declare none, and
// builds one Runtime per module via factory, preopening each module's own
// mount root.
func New(
	id string,
	modules map[string]*module.Config,
	mountRoot string,
	factory wasmruntime.Factory,
	endpoints map[string]map[string]endpoint.Endpoint,
	mounts mount.ModuleMounts,
	links map[string]map[string]FunctionLink,
) (*Deployment, error) {
	if mounts == nil {
		mounts = mount.ModuleMounts{}
	}

	for modName := range endpoints {
		if _, ok := modules[modName]; !ok {
			return nil, apperr.New(apperr.KindDescriptor, "endpoint references unknown module %q", modName)
		}
	}
	for modName := range mounts {
		if _, ok := modules[modName]; !ok {
			return nil, apperr.New(apperr.KindDescriptor, "mounts reference unknown module %q", modName)
		}
	}
	for modName := range links {
		if _, ok := modules[modName]; !ok {
			return nil, apperr.New(apperr.KindDescriptor, "links reference unknown module %q", modName)
		}
	}

	for modName, fns := range endpoints {
		for fnName, ep := range fns {
			if err := ep.Validate(); err != nil {
				return nil, apperr.Wrap(apperr.KindDescriptor, fmt.Errorf("%s.%s: %w", modName, fnName, err))
			}
			// Every (module, function) in endpoints gets a mounts entry,
			// possibly with empty stage lists.
			if mounts[modName] == nil {
				mounts[modName] = mount.FunctionMounts{}
			}
			if _, ok := mounts[modName][fnName]; !ok {
				mounts[modName][fnName] = mount.StageMap{}
			}
		}
	}

	runtimes := make(map[string]wasmruntime.Runtime, len(modules))
	for name := range modules {
		rt, err := factory(name, filepath.Join(mountRoot, name))
		if err != nil {
			for _, already := range runtimes {
				already.Close(context.Background())
			}
			return nil, apperr.Wrap(apperr.KindModuleLoad, fmt.Errorf("creating runtime for %q: %w", name, err))
		}
		runtimes[name] = rt
	}

	return &Deployment{
		ID:        id,
		Modules:   modules,
		Runtimes:  runtimes,
		Endpoints: endpoints,
		Mounts:    mounts,
		Links:     links,
		mountRoot: mountRoot,
	}, nil
}

// Close releases every module runtime this deployment owns.
func (d *Deployment) Close(ctx context.Context) {
	for _, rt := range d.Runtimes {
		rt.Close(ctx)
	}
}

// HasModule reports whether moduleName is part of this deployment.
func (d *Deployment) HasModule(moduleName string) bool {
	_, ok := d.Modules[moduleName]
	return ok
}

// ModuleMountPath is the canonical host path a module-relative mount path
// resolves to.
func (d *Deployment) ModuleMountPath(moduleName, path string) string {
	return filepath.Join(d.mountRoot, moduleName, path)
}

// PrepareForRunning resolves the runtime and module handle (loading the
// binary if absent), coerces query args to the function's declared primitive
// types in parameter-declaration order, and reconciles mounts for this call.
func (d *Deployment) PrepareForRunning(
	ctx context.Context,
	moduleName, functionName string,
	args map[string]string,
	requestFilepaths map[string]string,
) (wasmruntime.Handle, []any, error) {
	cfg, ok := d.Modules[moduleName]
	if !ok {
		return nil, nil, apperr.New(apperr.KindDescriptor, "module %q not found", moduleName)
	}
	rt, ok := d.Runtimes[moduleName]
	if !ok {
		return nil, nil, apperr.New(apperr.KindDescriptor, "no runtime for module %q", moduleName)
	}

	h, err := rt.GetOrLoad(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	ep, ok := d.Endpoints[moduleName][functionName]
	if !ok {
		return nil, nil, apperr.New(apperr.KindDescriptor, "endpoint %s.%s not found", moduleName, functionName)
	}

	argTypes, err := rt.ArgTypes(h, functionName)
	if err != nil {
		return nil, nil, err
	}

	primitiveArgs := make([]any, 0, len(argTypes))
	for i, t := range argTypes {
		if i >= len(ep.Request.Parameters) {
			break
		}
		raw, ok := args[ep.Request.Parameters[i].Name]
		if !ok {
			if ep.Request.Parameters[i].Required {
				return nil, nil, apperr.New(apperr.KindDescriptor, "missing required parameter %q", ep.Request.Parameters[i].Name)
			}
			continue
		}
		v, err := coerce(raw, t)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindDescriptor, fmt.Errorf("coercing parameter %q: %w", ep.Request.Parameters[i].Name, err))
		}
		primitiveArgs = append(primitiveArgs, v)
	}

	if err := d.connectRequestFilesToMounts(moduleName, functionName, requestFilepaths); err != nil {
		return nil, nil, err
	}

	return h, primitiveArgs, nil
}

func coerce(raw string, t wasmruntime.ValueType) (any, error) {
	switch t {
	case wasmruntime.I32:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case wasmruntime.I64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case wasmruntime.F32:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case wasmruntime.F64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %v", t)
	}
}

// connectRequestFilesToMounts checks the validity of file mounts received in
// this request and copies every resolved source into its canonical mount
// path.
func (d *Deployment) connectRequestFilesToMounts(moduleName, functionName string, requestFilepaths map[string]string) error {
	stages := d.Mounts[moduleName][functionName]
	deploymentMounts := stages[mount.StageDeployment]
	executionMounts := stages[mount.StageExecution]

	executionPaths := mount.ByPath(executionMounts)

	received := make(map[string]bool, len(deploymentMounts)+len(requestFilepaths))
	for _, m := range deploymentMounts {
		received[m.Path] = true
	}

	for reqPath := range requestFilepaths {
		if _, declared := executionPaths[reqPath]; !declared {
			return apperr.Wrap(apperr.KindMount, fmt.Errorf("%w: %q", apperr.ErrUnexpectedInputFile, reqPath))
		}
		if received[reqPath] {
			return apperr.Wrap(apperr.KindMount, fmt.Errorf("%w: %q", apperr.ErrDuplicateMount, reqPath))
		}
		received[reqPath] = true
	}

	var missing []string
	for _, m := range deploymentMounts {
		if m.Required && !received[m.Path] {
			missing = append(missing, m.Path)
		}
	}
	for _, m := range executionMounts {
		if m.Required {
			if _, ok := requestFilepaths[m.Path]; !ok {
				if _, fromDeployment := d.Modules[moduleName].DataFiles[m.Path]; !fromDeployment {
					missing = append(missing, m.Path)
				}
			}
		}
	}
	if len(missing) > 0 {
		return apperr.Wrap(apperr.KindMount, fmt.Errorf("%w: %v", apperr.ErrMissingInputFile, missing))
	}

	cfg := d.Modules[moduleName]
	all := make([]mount.PathFile, 0, len(executionMounts)+len(deploymentMounts))
	all = append(all, executionMounts...)
	all = append(all, deploymentMounts...)

	for _, m := range all {
		var src string
		switch m.Stage {
		case mount.StageDeployment:
			src = cfg.DataFiles[m.Path]
		case mount.StageExecution:
			src = requestFilepaths[m.Path]
		}
		if src == "" {
			if !m.Required {
				continue
			}
			return apperr.Wrap(apperr.KindMount, fmt.Errorf("%w: %q", apperr.ErrMissingInputFile, m.Path))
		}

		dst := d.ModuleMountPath(moduleName, m.Path)
		if src == dst {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return apperr.Wrap(apperr.KindMount, fmt.Errorf("mounting %q: %w", m.Path, err))
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// EndpointOutput is the interpreted result of one call, ready either to be
// JSON-encoded in a history entry or forwarded to a chained call.
type EndpointOutput struct {
	// Args is a JSON-encoded scalar when the endpoint's response is
	// application/json with an integer schema; nil for binary responses.
	Args *string
	// Files holds the output-stage mount names produced by a binary
	// response: exactly one entry for a single-file binary response, or
	// one entry per file-valued schema property for a multipart/form-data
	// response.
	Files []string
}

// InterpretCallFrom transforms a function's raw WebAssembly output into the
// endpoint's declared response shape, and, if the deployment links this
// function's output onward, builds the CallData for that next call.
func (d *Deployment) InterpretCallFrom(moduleName, functionName string, rawOutput any) (EndpointOutput, *CallData, error) {
	ep, ok := d.Endpoints[moduleName][functionName]
	if !ok {
		return EndpointOutput{}, nil, apperr.New(apperr.KindDescriptor, "endpoint %s.%s not found", moduleName, functionName)
	}
	outputMounts := d.Mounts[moduleName][functionName][mount.StageOutput]

	result, err := parseEndpointResult(rawOutput, ep.Response, outputMounts)
	if err != nil {
		return EndpointOutput{}, nil, err
	}

	link, ok := d.Links[moduleName][functionName]
	if !ok || link.To == nil {
		return result, nil, nil
	}

	var args CallArgs
	if result.Args != nil {
		args = ScalarArg(*result.Args)
	}
	files := make(map[string]string, len(result.Files))
	for _, name := range result.Files {
		files[name] = d.ModuleMountPath(moduleName, name)
	}

	callData, err := BuildCallData(*link.To, args, files)
	if err != nil {
		return result, nil, err
	}
	return result, callData, nil
}

// parseEndpointResult converts a raw WebAssembly result into the endpoint's
// declared response shape.
func parseEndpointResult(rawOutput any, resp endpoint.MediaTypeObject, outputMounts []mount.PathFile) (EndpointOutput, error) {
	switch {
	case resp.MediaType == "application/json":
		if !resp.Schema.CanBeWasmPrimitive() {
			return EndpointOutput{}, apperr.New(apperr.KindDescriptor, "non-primitive JSON output not supported")
		}
		b, err := json.Marshal(rawOutput)
		if err != nil {
			return EndpointOutput{}, apperr.Wrap(apperr.KindDescriptor, err)
		}
		s := string(b)
		return EndpointOutput{Args: &s}, nil

	case endpoint.IsFileMediaType(resp.MediaType):
		if len(outputMounts) != 1 {
			return EndpointOutput{}, apperr.New(
				apperr.KindDescriptor,
				"exactly one output mount expected for media type %q, got %d",
				resp.MediaType, len(outputMounts),
			)
		}
		return EndpointOutput{Files: []string{outputMounts[0].Path}}, nil

	case resp.MediaType == "multipart/form-data":
		files := resp.FileProperties()
		if len(files) == 0 {
			return EndpointOutput{}, apperr.New(apperr.KindDescriptor, "multipart/form-data response declares no file properties")
		}
		return EndpointOutput{Files: files}, nil

	default:
		return EndpointOutput{}, apperr.New(apperr.KindDescriptor, "unsupported response media type %q", resp.MediaType)
	}
}
