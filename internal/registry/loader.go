package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"wishmaster/internal/common/fsutil"
	"wishmaster/pkg/types"
)

// GGUFScanner discovers *.gguf model files.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan lists the *.gguf files directly inside dir (case-insensitive extension),
// sorted by name. ID is the file name; Name drops the extension.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
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
		if !strings.EqualFold(filepath.Ext(name), ".gguf") {
			continue
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		models = append(models, describe(filepath.Join(abs, name), size))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// ScanAll scans every directory in order, skipping ones that do not exist.
// A model reachable from several directories is listed once.
func (s *GGUFScanner) ScanAll(dirs []string) ([]types.Model, error) {
	seen := map[string]bool{}
	var out []types.Model
	var errs []error
	for _, d := range dirs {
		models, err := s.Scan(d)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		for _, m := range models {
			if seen[m.Path] {
				continue
			}
			seen[m.Path] = true
			out = append(out, m)
		}
	}
	return out, errors.Join(errs...)
}

// LoadDir scans a single directory; kept for callers that only know one.
func LoadDir(dir string) ([]types.Model, error) { return NewGGUFScanner().Scan(dir) }

// Describe builds the registry entry for a model file outside the scanned directories.
func Describe(path string) (types.Model, error) {
	abs, err := fsutil.ResolveFile(path)
	if err != nil {
		return types.Model{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return types.Model{}, err
	}
	return describe(abs, fi.Size()), nil
}

func describe(path string, size int64) types.Model {
	id := filepath.Base(path)
	name := strings.TrimSuffix(id, filepath.Ext(id))
	return types.Model{
		ID:        id,
		Name:      name,
		Path:      path,
		Quant:     quantOf(name),
		Family:    familyOf(name),
		SizeBytes: size,
		Size:      FormatSize(size),
	}
}

// Find resolves ref against models by ID, name or path.
func Find(models []types.Model, ref string) (types.Model, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Model{}, false
	}
	for _, m := range models {
		if m.ID == ref || m.Name == ref || m.Path == ref {
			return m, true
		}
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, ref) || strings.EqualFold(m.ID, ref) {
			return m, true
		}
	}
	return types.Model{}, false
}

var quantRe = regexp.MustCompile(`(?i)(?:^|[-_.])((?:IQ|Q)\d+(?:_[A-Z0-9]+)*|F16|BF16|F32)(?:$|[-_.])`)

func quantOf(name string) string {
	if m := quantRe.FindStringSubmatch(name); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

var families = []string{"llama", "mistral", "mixtral", "qwen", "phi", "gemma", "deepseek", "tinyllama", "saiga", "vikhr"}

func familyOf(name string) string {
	lower := strings.ToLower(name)
	best := ""
	for _, f := range families {
		if strings.Contains(lower, f) && len(f) > len(best) {
			best = f
		}
	}
	return best
}

// FormatSize renders a byte count with binary units: B, KB and MB as whole
// numbers, GB with one decimal.
func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes < kb:
		return fmt.Sprintf("%d B", bytes)
	case bytes < mb:
		return fmt.Sprintf("%d KB", bytes/kb)
	case bytes < gb:
		return fmt.Sprintf("%d MB", bytes/mb)
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	}
}
