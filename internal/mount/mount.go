// Package mount describes where a module's input and output files live
// relative to its mount root, and at which stage of a deployment they are
// populated.
package mount

import "encoding/json"

// Stage is when a mount is populated: at deployment time, per request, or as
// a function's output.
type Stage string

const (
	StageDeployment Stage = "deployment"
	StageExecution  Stage = "execution"
	StageOutput     Stage = "output"
)

// PathFile is one module-relative path a function expects to read from or
// write to, tagged with the stage that supplies it.
type PathFile struct {
	Path      string `json:"path"`
	MediaType string `json:"mediaType"`
	Stage     Stage  `json:"stage"`
	Required  bool   `json:"required"`
	Encoding  string `json:"encoding"`
}

// UnmarshalJSON applies the original supervisor's defaults: Required
// defaults to true, Encoding defaults to "base64".
func (p *PathFile) UnmarshalJSON(data []byte) error {
	type alias struct {
		Path      string `json:"path"`
		MediaType string `json:"mediaType"`
		Stage     Stage  `json:"stage"`
		Required  *bool  `json:"required"`
		Encoding  string `json:"encoding"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	p.Path = a.Path
	p.MediaType = a.MediaType
	p.Stage = a.Stage
	p.Required = a.Required == nil || *a.Required
	if a.Encoding == "" {
		p.Encoding = "base64"
	} else {
		p.Encoding = a.Encoding
	}
	return nil
}

// StageMap groups a function's mounts by stage, each stage holding an ordered
// list of mounts; within one (module, function, stage) list paths are unique.
// ByPath indexes one such list by module-relative path.
type StageMap map[Stage][]PathFile

// FunctionMounts maps function name to its stage-grouped mounts.
type FunctionMounts map[string]StageMap

// ModuleMounts maps module name to its functions' mounts.
type ModuleMounts map[string]FunctionMounts

// ByPath indexes a stage's mount list by path for lookups during mount
// reconciliation.
func ByPath(mounts []PathFile) map[string]PathFile {
	out := make(map[string]PathFile, len(mounts))
	for _, m := range mounts {
		out[m.Path] = m
	}
	return out
}
