// Package wazero binds the engine-neutral wasmruntime.Runtime interface to
// tetratelabs/wazero, linking WASI through stealthrocket/wasi-go the same
// way anthdm-ffaas's pkg/actrs/runtime.go does, and the fixed host-function
// catalogue through wazero's own host-module builder.
package wazero

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stealthrocket/wasi-go"
	"github.com/stealthrocket/wasi-go/imports"
	wz "github.com/tetratelabs/wazero"
	wzapi "github.com/tetratelabs/wazero/api"

	"github.com/wasmiot/supervisor/internal/apperr"
	"github.com/wasmiot/supervisor/internal/module"
	"github.com/wasmiot/supervisor/internal/peripherals"
	"github.com/wasmiot/supervisor/internal/wasmruntime"
)

// serializedSuffix names the on-disk compiled-module cache companion to a
// .wasm source file, matching SERIALIZED_MODULE_POSTFIX in the original
// supervisor's wasmtime.py.
const serializedSuffix = ".SERIALIZED"

// memoryExportName is the linear memory export every guest module is
// expected to declare.
const memoryExportName = "memory"

// HostDeps are the host-side collaborators the camera/sensor/RPC host
// functions call into.
type HostDeps struct {
	Camera          peripherals.Camera
	Sensor          peripherals.Sensor
	RemoteFunctions peripherals.RemoteFunctionTable
	// RPCClient performs the outbound POST for communication.rpcCall.
	RPCClient RPCPoster
}

// RPCPoster performs the host-side POST made by communication.rpcCall.
type RPCPoster interface {
	PostFile(ctx context.Context, url, fieldName string, data []byte) error
}

// handle is the wasmruntime.Handle for the wazero binding. Since each
// Runtime owns exactly one module, the handle is little more than the
// module's name, kept for interface symmetry with a possible multi-module
// binding.
type handle struct{ name string }

func (h *handle) ModuleName() string { return h.name }

// Runtime is a wazero binding scoped to exactly one module and its mount
// root. This removes the need for the original supervisor's process-wide
// "current module name"
// slot: host functions close over this Runtime directly.
type Runtime struct {
	mu sync.Mutex

	moduleName string
	mountRoot  string
	deps       HostDeps

	engine wz.Runtime
	cache  wz.CompilationCache

	compiled  wz.CompiledModule
	instance  wzapi.Module
	config    *module.Config
}

// New constructs a Runtime for one module, preopening mountRoot as the
// module's sole visible directory (".").
func New(ctx context.Context, moduleName, mountRoot string, deps HostDeps) (*Runtime, error) {
	cacheDir := filepath.Join(mountRoot, ".wazero-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating compilation cache dir: %w", err)
	}
	cache, err := wz.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("creating compilation cache: %w", err)
	}
	cfg := wz.NewRuntimeConfig().WithCompilationCache(cache)
	r := &Runtime{
		moduleName: moduleName,
		mountRoot:  mountRoot,
		deps:       deps,
		engine:     wz.NewRuntimeWithConfig(ctx, cfg),
		cache:      cache,
	}
	if err := r.linkHostFunctions(ctx); err != nil {
		r.engine.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Load compiles and instantiates cfg's binary. Idempotent by module name: a
// second Load for the same module returns the existing handle.
func (r *Runtime) Load(ctx context.Context, cfg *module.Config) (wasmruntime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instance != nil {
		return &handle{name: r.moduleName}, nil
	}
	if cfg.Name != r.moduleName {
		return nil, apperr.New(apperr.KindModuleLoad, "runtime for module %q cannot load %q", r.moduleName, cfg.Name)
	}

	compiled, _, err := r.compile(ctx, cfg.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModuleLoad, err)
	}

	builder := imports.NewBuilder().
		WithName(cfg.Name).
		WithArgs(cfg.Name).
		WithStdio(1, 1, 2).
		WithDirs(r.mountRoot).
		WithListens().
		WithDials().
		WithNonBlockingStdio(false).
		WithMaxOpenFiles(16).
		WithMaxOpenDirs(16)

	var system wasi.System
	ctx, system, err = builder.Instantiate(ctx, r.engine)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModuleLoad, fmt.Errorf("instantiating WASI: %w", err))
	}
	_ = system // closed alongside the engine at Close

	instance, err := r.engine.InstantiateModule(ctx, compiled, wz.NewModuleConfig())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModuleLoad, fmt.Errorf("instantiating guest module: %w", err))
	}

	r.compiled = compiled
	r.instance = instance
	r.config = cfg
	return &handle{name: r.moduleName}, nil
}

func (r *Runtime) GetOrLoad(ctx context.Context, cfg *module.Config) (wasmruntime.Handle, error) {
	r.mu.Lock()
	loaded := r.instance != nil
	r.mu.Unlock()
	if loaded {
		return &handle{name: r.moduleName}, nil
	}
	return r.Load(ctx, cfg)
}

// compile compiles the module at path through the engine, whose on-disk
// CompilationCache hands back an earlier compilation of identical bytes. It
// also reports whether the path+serializedSuffix marker is newer than the
// source, creating the marker when it is not. The marker does not decide
// whether the cache is used: touching the source without changing its bytes
// does not force a recompile.
func (r *Runtime) compile(ctx context.Context, path string) (compiled wz.CompiledModule, reusedCache bool, err error) {
	marker := path + serializedSuffix
	if srcInfo, serr := os.Stat(path); serr == nil {
		if markerInfo, merr := os.Stat(marker); merr == nil && markerInfo.ModTime().After(srcInfo.ModTime()) {
			reusedCache = true
		}
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading module source: %w", err)
	}
	compiled, err = r.engine.CompileModule(ctx, bin)
	if err != nil {
		return nil, false, fmt.Errorf("compiling module: %w", err)
	}

	// Touch the marker so a subsequent process start can tell the cached
	// bytes (held by wazero's on-disk CompilationCache) are still fresh.
	if !reusedCache {
		if f, ferr := os.Create(marker); ferr == nil {
			f.Close()
		}
	}
	return compiled, reusedCache, nil
}

// ArgTypes returns the ordered parameter types of functionName.
func (r *Runtime) ArgTypes(h wasmruntime.Handle, functionName string) ([]wasmruntime.ValueType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.compiled == nil {
		return nil, apperr.New(apperr.KindModuleLoad, "module %q not loaded", h.ModuleName())
	}
	def, ok := r.compiled.ExportedFunctions()[functionName]
	if !ok {
		return nil, apperr.New(apperr.KindInvocation, "function %q not found", functionName)
	}
	types := make([]wasmruntime.ValueType, len(def.ParamTypes()))
	for i, t := range def.ParamTypes() {
		vt, err := fromWazeroValueType(t)
		if err != nil {
			return nil, err
		}
		types[i] = vt
	}
	return types, nil
}

func fromWazeroValueType(t wzapi.ValueType) (wasmruntime.ValueType, error) {
	switch t {
	case wzapi.ValueTypeI32:
		return wasmruntime.I32, nil
	case wzapi.ValueTypeI64:
		return wasmruntime.I64, nil
	case wzapi.ValueTypeF32:
		return wasmruntime.F32, nil
	case wzapi.ValueTypeF64:
		return wasmruntime.F64, nil
	default:
		return 0, apperr.New(apperr.KindInvocation, "unsupported wasm value type %v", t)
	}
}

// Invoke runs functionName with params in order and returns its single
// primitive result, or nil for void.
func (r *Runtime) Invoke(ctx context.Context, h wasmruntime.Handle, functionName string, params []any) (any, error) {
	r.mu.Lock()
	instance := r.instance
	r.mu.Unlock()
	if instance == nil {
		return nil, apperr.New(apperr.KindInvocation, "module %q not loaded", h.ModuleName())
	}

	fn := instance.ExportedFunction(functionName)
	if fn == nil {
		return nil, apperr.New(apperr.KindInvocation, "function %q not found", functionName)
	}

	raw := make([]uint64, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case int32:
			raw[i] = wzapi.EncodeI32(v)
		case int64:
			raw[i] = wzapi.EncodeI64(v)
		case float32:
			raw[i] = wzapi.EncodeF32(v)
		case float64:
			raw[i] = wzapi.EncodeF64(v)
		default:
			return nil, apperr.New(apperr.KindInvocation, "unsupported argument type %T for %q", p, functionName)
		}
	}

	results, err := fn.Call(ctx, raw...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvocation, fmt.Errorf("running %q: %w", functionName, err))
	}
	if len(results) == 0 {
		return nil, nil
	}

	resultTypes := fn.Definition().ResultTypes()
	switch resultTypes[0] {
	case wzapi.ValueTypeI32:
		return int32(wzapi.DecodeI32(results[0])), nil
	case wzapi.ValueTypeI64:
		return int64(results[0]), nil
	case wzapi.ValueTypeF32:
		return wzapi.DecodeF32(results[0]), nil
	case wzapi.ValueTypeF64:
		return wzapi.DecodeF64(results[0]), nil
	default:
		return nil, apperr.New(apperr.KindInvocation, "unsupported result type from %q", functionName)
	}
}

func (r *Runtime) memory() (wzapi.Memory, error) {
	if r.instance == nil {
		return nil, apperr.New(apperr.KindMemory, "module %q not loaded", r.moduleName)
	}
	mem := r.instance.Memory()
	if mem == nil {
		return nil, apperr.New(apperr.KindMemory, "module %q has no memory export %q", r.moduleName, memoryExportName)
	}
	return mem, nil
}

// ReadMemory reads length bytes at address from the module's linear memory.
func (r *Runtime) ReadMemory(h wasmruntime.Handle, address, length uint32) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, err := r.memory()
	if err != nil {
		return nil, err
	}
	data, ok := mem.Read(address, length)
	if !ok {
		return nil, apperr.New(apperr.KindMemory, "read out of bounds: address=%d length=%d", address, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteMemory writes data at address into the module's linear memory.
func (r *Runtime) WriteMemory(h wasmruntime.Handle, address uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, err := r.memory()
	if err != nil {
		return err
	}
	if !mem.Write(address, data) {
		return apperr.New(apperr.KindMemory, "write out of bounds: address=%d length=%d", address, len(data))
	}
	return nil
}

// allocate calls the module's exported "alloc" function to reserve nbytes of
// guest memory, returning the resulting pointer.
func (r *Runtime) allocate(ctx context.Context, nbytes uint32) (uint32, error) {
	fn := r.instance.ExportedFunction("alloc")
	if fn == nil {
		return 0, apperr.New(apperr.KindMemory, "module %q has no alloc export", r.moduleName)
	}
	results, err := fn.Call(ctx, uint64(nbytes))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMemory, err)
	}
	return wzapi.DecodeU32(results[0]), nil
}

// linkHostFunctions links the fixed host-function catalogue once per
// runtime: sys.*, communication.rpcCall, camera.*, dht.*. WASI (including
// random_get, whose default fill-with-random-bytes/return-0 behavior already
// satisfies the expected contract) is linked separately via wasi-go in Load.
func (r *Runtime) linkHostFunctions(ctx context.Context) error {
	i32 := wzapi.ValueTypeI32
	f32 := wzapi.ValueTypeF32

	if _, err := r.engine.NewHostModuleBuilder("sys").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.sysMillis), nil, []wzapi.ValueType{i32}).
		Export("millis").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.sysDelay), []wzapi.ValueType{i32}, nil).
		Export("delay").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.sysPrint), []wzapi.ValueType{i32, i32}, nil).
		Export("print").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.sysPrintln), []wzapi.ValueType{i32}, nil).
		Export("println").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.sysPrintInt), []wzapi.ValueType{i32}, nil).
		Export("printInt").
		Instantiate(ctx); err != nil {
		return fmt.Errorf("linking sys host module: %w", err)
	}

	if _, err := r.engine.NewHostModuleBuilder("communication").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.rpcCall), []wzapi.ValueType{i32, i32, i32, i32}, nil).
		Export("rpcCall").
		Instantiate(ctx); err != nil {
		return fmt.Errorf("linking communication host module: %w", err)
	}

	if _, err := r.engine.NewHostModuleBuilder("camera").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.takeImageDynamicSize), []wzapi.ValueType{i32, i32}, nil).
		Export("takeImageDynamicSize").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.takeImageStaticSize), []wzapi.ValueType{i32, i32}, nil).
		Export("takeImageStaticSize").
		Instantiate(ctx); err != nil {
		return fmt.Errorf("linking camera host module: %w", err)
	}

	if _, err := r.engine.NewHostModuleBuilder("dht").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.dhtTemperature), nil, []wzapi.ValueType{f32}).
		Export("getTemperature").
		NewFunctionBuilder().
		WithGoModuleFunction(wzapi.GoModuleFunc(r.dhtHumidity), nil, []wzapi.ValueType{f32}).
		Export("getHumidity").
		Instantiate(ctx); err != nil {
		return fmt.Errorf("linking dht host module: %w", err)
	}

	return nil
}

func (r *Runtime) sysMillis(ctx context.Context, mod wzapi.Module, stack []uint64) {
	stack[0] = wzapi.EncodeI32(int32(time.Now().UnixMilli()))
}

func (r *Runtime) sysDelay(ctx context.Context, mod wzapi.Module, stack []uint64) {
	ms := wzapi.DecodeI32(stack[0])
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (r *Runtime) sysPrint(ctx context.Context, mod wzapi.Module, stack []uint64) {
	ptr := uint32(stack[0])
	length := uint32(stack[1])
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		fmt.Print("<print: out-of-bounds read>")
		return
	}
	fmt.Print(string(data))
}

func (r *Runtime) sysPrintln(ctx context.Context, mod wzapi.Module, stack []uint64) {
	ptr := uint32(stack[0])
	// NUL-terminated string, per the original println(i32) signature.
	var b []byte
	for i := uint32(0); ; i++ {
		c, ok := mod.Memory().ReadByte(ptr + i)
		if !ok || c == 0 {
			break
		}
		b = append(b, c)
	}
	fmt.Println(string(b))
}

func (r *Runtime) sysPrintInt(ctx context.Context, mod wzapi.Module, stack []uint64) {
	fmt.Print(wzapi.DecodeI32(stack[0]))
}

func (r *Runtime) dhtTemperature(ctx context.Context, mod wzapi.Module, stack []uint64) {
	v, err := r.deps.Sensor.Temperature(ctx)
	if err != nil {
		v = 0
	}
	stack[0] = wzapi.EncodeF32(v)
}

func (r *Runtime) dhtHumidity(ctx context.Context, mod wzapi.Module, stack []uint64) {
	v, err := r.deps.Sensor.Humidity(ctx)
	if err != nil {
		v = 0
	}
	stack[0] = wzapi.EncodeF32(v)
}

// rpcCall implements communication.rpcCall(name_ptr, name_len, data_ptr, data_len).
func (r *Runtime) rpcCall(ctx context.Context, mod wzapi.Module, stack []uint64) {
	namePtr, nameLen := uint32(stack[0]), uint32(stack[1])
	dataPtr, dataLen := uint32(stack[2]), uint32(stack[3])

	nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		fmt.Println("rpcCall: out-of-bounds function name read")
		return
	}
	name := string(nameBytes)

	ref, ok := r.deps.RemoteFunctions[name]
	if !ok {
		fmt.Printf("rpcCall: unknown remote function %q\n", name)
		return
	}

	data, ok := mod.Memory().Read(dataPtr, dataLen)
	if !ok {
		fmt.Println("rpcCall: out-of-bounds data read")
		return
	}

	if r.deps.RPCClient == nil {
		return
	}
	if err := r.deps.RPCClient.PostFile(ctx, ref.Host, "img", data); err != nil {
		fmt.Printf("rpcCall to %q failed: %v\n", ref.Host, err)
	}
}

// takeImageDynamicSize implements camera.takeImageDynamicSize(out_ptr_ptr, out_size_ptr).
func (r *Runtime) takeImageDynamicSize(ctx context.Context, mod wzapi.Module, stack []uint64) {
	outPtrPtr, outSizePtr := uint32(stack[0]), uint32(stack[1])

	data, err := r.deps.Camera.CaptureJPEG(ctx)
	if err != nil {
		fmt.Printf("takeImageDynamicSize: capture failed: %v\n", err)
		return
	}

	ptr, err := r.allocate(ctx, uint32(len(data)))
	if err != nil {
		fmt.Printf("takeImageDynamicSize: alloc failed: %v\n", err)
		return
	}
	if !mod.Memory().Write(ptr, data) {
		fmt.Println("takeImageDynamicSize: out-of-bounds image write")
		return
	}

	var ptrBytes, lenBytes [4]byte
	binary.LittleEndian.PutUint32(ptrBytes[:], ptr)
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(data)))
	mod.Memory().Write(outPtrPtr, ptrBytes[:])
	mod.Memory().Write(outSizePtr, lenBytes[:])
}

// takeImageStaticSize implements camera.takeImageStaticSize(out_ptr, size_ptr).
func (r *Runtime) takeImageStaticSize(ctx context.Context, mod wzapi.Module, stack []uint64) {
	outPtr, sizePtr := uint32(stack[0]), uint32(stack[1])

	sizeBytes, ok := mod.Memory().Read(sizePtr, 4)
	if !ok {
		fmt.Println("takeImageStaticSize: out-of-bounds size read")
		return
	}
	want := binary.LittleEndian.Uint32(sizeBytes)

	data, err := r.deps.Camera.CaptureJPEG(ctx)
	if err != nil {
		fmt.Printf("takeImageStaticSize: capture failed: %v\n", err)
		return
	}
	if uint32(len(data)) > want {
		data = data[:want]
	}
	if !mod.Memory().Write(outPtr, data) {
		fmt.Println("takeImageStaticSize: out-of-bounds image write")
	}
}

// Factory returns a wasmruntime.Factory backed by this package, binding deps
// to every runtime it creates.
func Factory(deps HostDeps) wasmruntime.Factory {
	return func(moduleName, mountRoot string) (wasmruntime.Runtime, error) {
		return New(context.Background(), moduleName, mountRoot, deps)
	}
}
