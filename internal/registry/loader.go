package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/internal/engine"
	"chatd/pkg/types"
)

var quantRe = regexp.MustCompile(`(?i)^(i?q\d+(_[a-z0-9]+)*|f16|f32|bf16)$`)

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// ID is the full filename (including extension); Path is the absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := types.Model{
			ID:    name,
			Name:  name[:len(name)-len(".gguf")],
			Path:  filepath.Join(abs, name),
			Quant: parseQuant(name),
		}
		if fi, err := e.Info(); err == nil {
			m.SizeBytes = fi.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// parseQuant finds a quantization tag such as Q4_K_M among the dot or dash
// separated parts of a file name.
func parseQuant(name string) string {
	stem := strings.TrimSuffix(strings.TrimSuffix(name, ".gguf"), ".GGUF")
	parts := strings.FieldsFunc(stem, func(r rune) bool { return r == '.' || r == '-' })
	for i := len(parts) - 1; i >= 0; i-- {
		if quantRe.MatchString(parts[i]) {
			return strings.ToUpper(parts[i])
		}
	}
	return ""
}

// Registry maps model identifiers to files.
type Registry struct {
	models []types.Model
	byID   map[string]types.Model
}

// New indexes models by ID. Later duplicates win.
func New(models []types.Model) *Registry {
	r := &Registry{models: models, byID: make(map[string]types.Model, len(models))}
	for _, m := range models {
		r.byID[m.ID] = m
	}
	return r
}

// Models returns the registered models.
func (r *Registry) Models() []types.Model {
	out := make([]types.Model, len(r.models))
	copy(out, r.models)
	return out
}

// Resolve returns the file path for id, or an engine model-not-found error.
// Absolute paths to existing files are accepted as-is.
func (r *Registry) Resolve(id string) (string, error) {
	if m, ok := r.byID[id]; ok {
		return m.Path, nil
	}
	if filepath.IsAbs(id) && fsutil.PathExists(id) {
		return id, nil
	}
	return "", engine.NotFound(id)
}
