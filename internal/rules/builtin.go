package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/mattjoyce/smoker/internal/smoke"
)

var defaultBannedFiles = []string{
	".npmrc",
	".env",
	".git-credentials",
	".netrc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	".pgpass",
}

// NoBannedFiles fails when the installed package ships credential files.
//
// Options: deny (extra file names), allow (names exempted from the defaults).
type NoBannedFiles struct{}

func (NoBannedFiles) Name() string { return "no-banned-files" }
func (NoBannedFiles) Description() string {
	return "Ensures no sensitive files are published with the package"
}
func (NoBannedFiles) DefaultSeverity() smoke.Severity { return smoke.SeverityError }

func (NoBannedFiles) Check(ctx context.Context, rc *Context, opts map[string]any) error {
	banned := slices.Clone(defaultBannedFiles)
	deny, err := stringList(opts, "deny")
	if err != nil {
		return err
	}
	allow, err := stringList(opts, "allow")
	if err != nil {
		return err
	}
	banned = append(banned, deny...)
	banned = slices.DeleteFunc(banned, func(s string) bool { return slices.Contains(allow, s) })

	root := rc.InstallPath()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(banned, d.Name()) {
			rel, _ := filepath.Rel(root, path)
			rc.AddViolation(fmt.Sprintf("banned file %q found in package", rel), rel, nil)
		}
		return nil
	})
}

// NoMissingEntryPoint fails when package.json names a main entry that was not published.
type NoMissingEntryPoint struct{}

func (NoMissingEntryPoint) Name() string { return "no-missing-entry-point" }
func (NoMissingEntryPoint) Description() string {
	return "Checks that the package contains its entry point"
}
func (NoMissingEntryPoint) DefaultSeverity() smoke.Severity { return smoke.SeverityError }

func (NoMissingEntryPoint) Check(ctx context.Context, rc *Context, _ map[string]any) error {
	pkg, err := rc.PkgJSON()
	if err != nil {
		return err
	}

	main, _ := pkg["main"].(string)
	if main == "" {
		main = "index.js"
	}

	candidates := []string{main}
	if filepath.Ext(main) == "" {
		candidates = append(candidates, main+".js", main+".json", filepath.Join(main, "index.js"))
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(filepath.Join(rc.InstallPath(), c))
		if err == nil && !info.IsDir() {
			return nil
		}
	}
	rc.AddViolation(fmt.Sprintf("entry point %q is missing from the package", main), main, map[string]any{"main": main})
	return nil
}

func stringList(opts map[string]any, key string) ([]string, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("option %q must be a list of strings", key)
	}
}
