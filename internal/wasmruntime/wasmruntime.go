// Package wasmruntime defines the engine-neutral abstraction over a
// WebAssembly engine that the rest of the supervisor programs against:
// loading a module, reading/writing its linear memory, invoking an exported
// function, and discovering a function's argument types. Concrete bindings
// (see the wazero subpackage) implement this interface over a specific
// embeddable engine.
package wasmruntime

import (
	"context"

	"github.com/wasmiot/supervisor/internal/module"
)

// ValueType is a WebAssembly primitive value type.
type ValueType int

const (
	I32 ValueType = iota
	I64
	F32
	F64
)

// Handle identifies a module loaded into a Runtime. It is engine-opaque;
// callers never reach into it.
type Handle interface {
	// ModuleName is the name this handle was loaded under.
	ModuleName() string
}

// Runtime is one isolated WebAssembly execution environment. Implementations
// give each module its own Runtime instance with its own store and its own
// preopened mount root, which makes the "current module name" workaround of
// the original Python supervisor unnecessary and makes concurrent invocation
// across different modules safe.
type Runtime interface {
	// Load compiles and instantiates cfg's binary, linking the fixed
	// host-function catalogue. Load is idempotent by module name: a second
	// Load for an already-loaded module name returns the existing handle.
	Load(ctx context.Context, cfg *module.Config) (Handle, error)

	// GetOrLoad is a convenience wrapper: it returns the handle for an
	// already-loaded module or loads it if absent.
	GetOrLoad(ctx context.Context, cfg *module.Config) (Handle, error)

	// Invoke calls h's named exported function with params in order and
	// returns its single primitive result, or nil for a void function.
	Invoke(ctx context.Context, h Handle, functionName string, params []any) (any, error)

	// ArgTypes returns the ordered parameter types of functionName, used to
	// coerce string query parameters to typed primitives.
	ArgTypes(h Handle, functionName string) ([]ValueType, error)

	// ReadMemory reads length bytes starting at address from h's "memory"
	// export. Out-of-bounds reads are reported as an error, never a panic.
	ReadMemory(h Handle, address, length uint32) ([]byte, error)

	// WriteMemory writes data starting at address into h's "memory" export.
	// Out-of-bounds writes are reported as an error, never a panic.
	WriteMemory(h Handle, address uint32, data []byte) error

	// Close releases the underlying engine resources (store, compiled
	// modules, compilation cache handle).
	Close(ctx context.Context) error
}

// Factory builds a Runtime scoped to one module, preopening mountRoot as the
// module's sole visible directory (".").
type Factory func(moduleName, mountRoot string) (Runtime, error)
