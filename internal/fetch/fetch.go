// Package fetch downloads a deployment's module binaries and data files from
// the orchestrator-supplied URLs, aggregating every failure instead of
// aborting on the first one. Grounded on the original supervisor's
// fetch_modules and its FetchFailures exception.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmiot/supervisor/internal/apperr"
	"github.com/wasmiot/supervisor/internal/module"
)

// Failure records one file that could not be fetched.
type Failure struct {
	URL    string
	Status int
	Err    error
}

// Failures aggregates every Failure encountered while fetching a
// deployment's files. A non-empty Failures is itself an error.
type Failures struct {
	Failures []Failure
}

func (f *Failures) add(url string, status int, err error) {
	f.Failures = append(f.Failures, Failure{URL: url, Status: status, Err: err})
}

// HasAny reports whether any failure was recorded.
func (f *Failures) HasAny() bool { return len(f.Failures) > 0 }

func (f *Failures) Error() string {
	parts := make([]string, 0, len(f.Failures))
	for _, failure := range f.Failures {
		if failure.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", failure.URL, failure.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: status %d", failure.URL, failure.Status))
		}
	}
	return fmt.Sprintf("failed to fetch %d file(s): %s", len(f.Failures), strings.Join(parts, "; "))
}

// ModulesDir and ParamsDir are the instance-relative directories the original
// supervisor downloads module binaries and data files into (_MODULE_DIRECTORY
// and _PARAMS_FOLDER in flask_app/app.py): a module's binary lives at
// {instance}/wasm-modules/{name}, its data files and run-time mounts at
// {instance}/wasm-params/{name}/{mount_path}.
const (
	ModulesDir = "wasm-modules"
	ParamsDir  = "wasm-params"
)

// ModuleSource is where one deployed module's binary and named data files can
// be downloaded from.
type ModuleSource struct {
	ID        string
	Name      string
	BinaryURL string
	// OtherURLs maps a module-relative mount path to the URL it's fetched
	// from, e.g. a pre-trained ML model file.
	OtherURLs map[string]string
}

// Modules downloads every source's binary and data files under root,
// producing a module.Config per source. Every file is attempted regardless
// of earlier failures; a non-nil error is always *Failures.
func Modules(ctx context.Context, client *http.Client, root string, sources []ModuleSource) (map[string]*module.Config, error) {
	failures := &Failures{}
	out := make(map[string]*module.Config, len(sources))

	for _, src := range sources {
		binPath := filepath.Join(root, ModulesDir, src.Name)
		paramsDir := filepath.Join(root, ParamsDir, src.Name)

		cfg := &module.Config{ID: src.ID, Name: src.Name, DataFiles: map[string]string{}}

		if err := fetchOne(ctx, client, src.BinaryURL, binPath, failures); err == nil {
			cfg.Path = binPath
		}

		for mountPath, url := range src.OtherURLs {
			dst := filepath.Join(paramsDir, mountPath)
			if err := fetchOne(ctx, client, url, dst, failures); err == nil {
				cfg.DataFiles[mountPath] = dst
			}
		}

		// Combines the original fetch_modules's options (a) assume the model
		// is the first data file and (b) a dedicated model attribute: look up
		// the default key among whatever was just fetched.
		cfg.SetModelFromDataFiles("")

		out[src.Name] = cfg
	}

	if failures.HasAny() {
		return out, failures
	}
	return out, nil
}

func fetchOne(ctx context.Context, client *http.Client, url, destPath string, failures *Failures) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		failures.add(url, 0, err)
		return apperr.Wrap(apperr.KindFetch, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		failures.add(url, 0, err)
		return apperr.Wrap(apperr.KindFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		failures.add(url, resp.StatusCode, nil)
		return apperr.New(apperr.KindFetch, "GET %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		failures.add(url, resp.StatusCode, err)
		return apperr.Wrap(apperr.KindFetch, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		failures.add(url, resp.StatusCode, err)
		return apperr.Wrap(apperr.KindFetch, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		failures.add(url, resp.StatusCode, err)
		return apperr.Wrap(apperr.KindFetch, err)
	}
	return nil
}
