package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/pathutil"
	toolcore "github.com/jgarizk/brainpro/internal/tool"
)

const (
	grepMaxFileBytes = 2 * 1024 * 1024
	grepMaxLineBytes = 500
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".brainpro":    true,
	"target":       true,
	"vendor":       true,
}

func init() {
	toolcore.RegisterBuiltin("Glob", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &GlobTool{MaxResults: options.SearchMaxResults}, nil
	})
	toolcore.RegisterBuiltin("Grep", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &GrepTool{MaxResults: options.SearchMaxResults}, nil
	})
}

func searchRoot(ctx context.Context, raw string) (string, error) {
	base := toolcore.WorkingDir(ctx)
	if strings.TrimSpace(raw) == "" {
		return base, nil
	}
	root, err := pathutil.Resolve(base, raw)
	if err != nil {
		return "", bpErrors.InvalidInput(err.Error())
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fileError(root, err)
	}
	if !info.IsDir() {
		return "", bpErrors.InvalidInput(fmt.Sprintf("%s is not a directory", root))
	}
	return root, nil
}

// walkFiles visits regular files under root with slash-separated relative
// paths, skipping VCS and dependency directories.
func walkFiles(ctx context.Context, root string, visit func(rel, abs string) (stop bool)) error {
	stopped := false
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if visit(filepath.ToSlash(rel), p) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
	if stopped {
		return nil
	}
	return err
}

// MatchGlob matches a slash-separated path against a pattern where "**"
// spans any number of directories and other segments use path.Match rules.
func MatchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

// GlobTool lists files matching a pattern.
type GlobTool struct {
	MaxResults int
}

type globInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return "Find files by glob pattern such as **/*.go. Paths are relative to the search root."
}

func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
			"path":    map[string]interface{}{"type": "string", "description": "Directory to search, default working directory"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args globInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	pattern := strings.TrimPrefix(strings.TrimSpace(args.Pattern), "./")
	if pattern == "" {
		return nil, bpErrors.InvalidInput("pattern is required")
	}
	if _, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("bad pattern %q: %v", pattern, err))
	}
	root, err := searchRoot(ctx, args.Path)
	if err != nil {
		return nil, err
	}

	var files []string
	truncated := false
	err = walkFiles(ctx, root, func(rel, _ string) bool {
		if !MatchGlob(pattern, rel) {
			return false
		}
		if t.MaxResults > 0 && len(files) >= t.MaxResults {
			truncated = true
			return true
		}
		files = append(files, rel)
		return false
	})
	if err != nil {
		return nil, bpErrors.Wrap(err, "glob")
	}
	sort.Strings(files)
	if files == nil {
		files = []string{}
	}

	return json.Marshal(map[string]interface{}{
		"root":      root,
		"files":     files,
		"count":     len(files),
		"truncated": truncated,
	})
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	MaxResults int
}

type grepInput struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path"`
	Glob            string `json:"glob"`
	CaseInsensitive bool   `json:"case_insensitive"`
}

type grepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression (RE2 syntax). Optionally restrict files with a glob."
}

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern":          map[string]interface{}{"type": "string"},
			"path":             map[string]interface{}{"type": "string"},
			"glob":             map[string]interface{}{"type": "string", "description": "Only search files matching this glob"},
			"case_insensitive": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args grepInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	if args.Pattern == "" {
		return nil, bpErrors.InvalidInput("pattern is required")
	}
	expr := args.Pattern
	if args.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("bad pattern: %v", err))
	}
	root, err := searchRoot(ctx, args.Path)
	if err != nil {
		return nil, err
	}
	fileGlob := strings.TrimPrefix(strings.TrimSpace(args.Glob), "./")

	matches := []grepMatch{}
	truncated := false
	err = walkFiles(ctx, root, func(rel, abs string) bool {
		if fileGlob != "" && !MatchGlob(fileGlob, rel) && !MatchGlob(fileGlob, path.Base(rel)) {
			return false
		}
		found, full := grepFile(abs, rel, re, t.MaxResults-len(matches), t.MaxResults > 0)
		matches = append(matches, found...)
		if full {
			truncated = true
			return true
		}
		return false
	})
	if err != nil {
		return nil, bpErrors.Wrap(err, "grep")
	}

	return json.Marshal(map[string]interface{}{
		"root":      root,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}

// grepFile returns matches in one file. full reports that the budget ran out
// before the file was exhausted.
func grepFile(abs, rel string, re *regexp.Regexp, budget int, bounded bool) (found []grepMatch, full bool) {
	info, err := os.Stat(abs)
	if err != nil || info.Size() > grepMaxFileBytes {
		return nil, false
	}
	data, err := os.ReadFile(abs)
	if err != nil || bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return nil, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), grepMaxFileBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if bounded && len(found) >= budget {
			return found, true
		}
		if len(text) > grepMaxLineBytes {
			text, _ = truncateOutput(text, grepMaxLineBytes)
		}
		found = append(found, grepMatch{File: rel, Line: line, Text: strings.TrimRight(text, "\r")})
	}
	return found, false
}
