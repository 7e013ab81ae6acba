// Package module holds the identity and on-disk layout of one WebAssembly
// module within a deployment: its binary path, its named data files, and an
// optional ML model pointer.
package module

// MLModel names the data file and WebAssembly export names a module uses to
// run inference against an uploaded model.
type MLModel struct {
	Path              string
	AllocFuncName     string
	InferFuncName     string
}

// DefaultMLModel builds an MLModel for path using the conventional export
// names recovered from the original supervisor's wasm_api.MLModel defaults.
func DefaultMLModel(path string) *MLModel {
	return &MLModel{
		Path:          path,
		AllocFuncName: "alloc",
		InferFuncName: "infer_from_ptrs",
	}
}

// Config is the on-disk identity of a module: its compiled binary and the
// data files it was deployed with. Created when a deployment is accepted and
// lives until the deployment is deleted.
type Config struct {
	ID   string
	Name string
	// Path is the on-disk location of the .wasm binary.
	Path string
	// DataFiles maps a module-relative mount path to the host path of the
	// file that was fetched for it at deployment time.
	DataFiles map[string]string
	MLModel   *MLModel
}

// SetModelFromDataFiles points MLModel at the data file named key, if one was
// deployed, using the default alloc/infer export names. Mirrors
// ModuleConfig.set_model_from_data_files from the original supervisor.
func (c *Config) SetModelFromDataFiles(key string) {
	if key == "" {
		key = "model.pb"
	}
	if path, ok := c.DataFiles[key]; ok {
		c.MLModel = DefaultMLModel(path)
	}
}
