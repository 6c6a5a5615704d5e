package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LoadError records a SKILL.md that could not be indexed.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load skill from %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Index maps skill names to parsed skills. Directories are scanned in order
// and a later directory overrides an earlier one on name clashes, so project
// skills listed after user skills win.
type Index struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	errs   []*LoadError
}

func NewIndex() *Index {
	return &Index{skills: make(map[string]*Skill)}
}

// LoadIndex scans each dir for <dir>/<name>/SKILL.md. Missing directories
// are skipped; broken skills are recorded and skipped.
func LoadIndex(dirs ...string) *Index {
	idx := NewIndex()
	for _, dir := range dirs {
		idx.ScanDir(dir)
	}
	return idx
}

func (idx *Index) ScanDir(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Skill directory unreadable", "dir", dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := ParseFile(path)
		if err != nil {
			slog.Warn("Skipping invalid skill", "path", path, "error", err)
			idx.mu.Lock()
			idx.errs = append(idx.errs, &LoadError{Path: path, Cause: err})
			idx.mu.Unlock()
			continue
		}
		idx.Add(s)
	}
}

func (idx *Index) Add(s *Skill) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.skills[s.Name] = s
}

func (idx *Index) Get(name string) (*Skill, bool) {
	if idx == nil {
		return nil, false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.skills[name]
	return s, ok
}

// All returns skills sorted by name.
func (idx *Index) All() []*Skill {
	if idx == nil {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*Skill, 0, len(idx.skills))
	for _, s := range idx.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.skills)
}

func (idx *Index) Errors() []*LoadError {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]*LoadError(nil), idx.errs...)
}

// FormatForPrompt lists at most maxEntries skills for the system prompt. It
// returns "" when there are no skills.
func (idx *Index) FormatForPrompt(maxEntries int) string {
	all := idx.All()
	if len(all) == 0 {
		return ""
	}

	lines := []string{"Available skill packs:"}
	for i, s := range all {
		if maxEntries > 0 && i >= maxEntries {
			lines = append(lines, fmt.Sprintf("  (+%d more)", len(all)-maxEntries))
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	return strings.Join(lines, "\n")
}
