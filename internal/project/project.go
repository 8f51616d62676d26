// Package project discovers the workspaces of the package under test.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/mattjoyce/smoker/internal/smoke"
)

const pkgJSONFilename = "package.json"

// Selection narrows which workspaces are smoked.
type Selection struct {
	// Names selects workspaces by package name or relative path.
	Names []string
	// All selects every workspace.
	All bool
	// IncludeRoot adds the root package when workspaces are selected.
	IncludeRoot bool
}

// ConfigError is a user-facing problem with the requested selection.
// It is detected before any worker starts.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

type pkgJSON struct {
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Private    bool              `json:"private"`
	Main       string            `json:"main"`
	Scripts    map[string]string `json:"scripts"`
	Workspaces json.RawMessage   `json:"workspaces"`
}

// ReadWorkspace loads the package.json in dir.
func ReadWorkspace(dir string) (smoke.WorkspaceInfo, []string, error) {
	path := filepath.Join(dir, pkgJSONFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return smoke.WorkspaceInfo{}, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var pkg pkgJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return smoke.WorkspaceInfo{}, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return smoke.WorkspaceInfo{}, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(pkg.Name) == "" {
		return smoke.WorkspaceInfo{}, nil, fmt.Errorf("%s has no name", path)
	}

	patterns, err := workspacePatterns(pkg.Workspaces)
	if err != nil {
		return smoke.WorkspaceInfo{}, nil, fmt.Errorf("%s: %w", path, err)
	}

	return smoke.WorkspaceInfo{
		Name:        pkg.Name,
		Version:     pkg.Version,
		LocalPath:   dir,
		PkgJSONPath: path,
		Private:     pkg.Private,
		Main:        pkg.Main,
		Scripts:     pkg.Scripts,
		Manifest:    raw,
	}, patterns, nil
}

// workspacePatterns accepts both `"workspaces": [...]` and `"workspaces": {"packages": [...]}`.
func workspacePatterns(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("workspaces must be an array or an object with packages")
	}
	return obj.Packages, nil
}

// Resolve returns the workspaces of the project rooted at root according to sel.
//
// With no workspaces declared, the root package is the only candidate.
// With workspaces declared and nothing selected, every non-private workspace is used.
func Resolve(root string, sel Selection) ([]smoke.WorkspaceInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %q: %w", root, err)
	}
	rootPkg, patterns, err := ReadWorkspace(absRoot)
	if err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}

	if len(patterns) == 0 {
		if len(sel.Names) > 0 {
			for _, n := range sel.Names {
				if n != rootPkg.Name && n != "." {
					return nil, &ConfigError{Msg: fmt.Sprintf("workspace %q not found: %s declares no workspaces", n, rootPkg.PkgJSONPath)}
				}
			}
		}
		return []smoke.WorkspaceInfo{rootPkg}, nil
	}

	all, err := expand(absRoot, patterns)
	if err != nil {
		return nil, err
	}

	var picked []smoke.WorkspaceInfo
	switch {
	case len(sel.Names) > 0:
		for _, n := range sel.Names {
			idx := slices.IndexFunc(all, func(w smoke.WorkspaceInfo) bool {
				rel, _ := filepath.Rel(absRoot, w.LocalPath)
				return w.Name == n || rel == filepath.Clean(n)
			})
			if idx < 0 {
				return nil, &ConfigError{Msg: fmt.Sprintf("workspace %q not found (known: %s)", n, strings.Join(names(all), ", "))}
			}
			if !slices.ContainsFunc(picked, func(w smoke.WorkspaceInfo) bool { return w.Name == all[idx].Name }) {
				picked = append(picked, all[idx])
			}
		}
	default:
		for _, w := range all {
			if w.Private && !sel.All {
				continue
			}
			picked = append(picked, w)
		}
	}

	if sel.IncludeRoot && !rootPkg.Private {
		picked = append([]smoke.WorkspaceInfo{rootPkg}, picked...)
	}
	if len(picked) == 0 {
		return nil, &ConfigError{Msg: "no workspaces selected (all candidates are private)"}
	}
	return picked, nil
}

func expand(root string, patterns []string) ([]smoke.WorkspaceInfo, error) {
	seen := map[string]bool{}
	var out []smoke.WorkspaceInfo
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("invalid workspace pattern %q: %v", pattern, err)}
		}
		sort.Strings(matches)
		for _, dir := range matches {
			if seen[dir] {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, pkgJSONFilename)); err != nil {
				continue
			}
			seen[dir] = true
			ws, _, err := ReadWorkspace(dir)
			if err != nil {
				return nil, &ConfigError{Msg: err.Error()}
			}
			out = append(out, ws)
		}
	}
	return out, nil
}

func names(ws []smoke.WorkspaceInfo) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Name
	}
	return out
}
