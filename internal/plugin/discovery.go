package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	supportedProtocol = 1
	manifestFilename  = "manifest.yaml"
)

// Registry holds discovered adapters indexed by name.
type Registry struct {
	plugins map[string]*Plugin
	order   []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
	}
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered adapters in discovery order.
func (r *Registry) All() []*Plugin {
	out := make([]*Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// Add registers an adapter in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("adapter %q already registered", plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	r.order = append(r.order, plugin.Name)
	return nil
}

// ForPkgManager returns the first discovered adapter serving the package manager.
func (r *Registry) ForPkgManager(name string) (*Plugin, bool) {
	for _, p := range r.All() {
		if p.Serves(name) {
			return p, true
		}
	}
	return nil, false
}

// PkgManagers returns every package manager name some adapter serves, sorted.
func (r *Registry) PkgManagers() []string {
	var out []string
	for _, p := range r.plugins {
		for _, pm := range p.PkgManagers {
			if !slices.Contains(out, pm) {
				out = append(out, pm)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Discover scans a single adaptersDir for adapters with manifest.yaml and validates them.
// Invalid adapters are logged but not fatal.
func Discover(adaptersDir string, logger func(level, msg string, args ...any)) (*Registry, error) {
	return DiscoverMany([]string{adaptersDir}, logger)
}

// DiscoverMany scans multiple adapter roots for manifest.yaml files and validates adapters.
// Roots are processed in input order; duplicate adapter names keep the first discovered one.
// Missing roots are skipped with a warning so a fresh project can run with builtin defaults.
func DiscoverMany(roots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one adapter root is required")
	}

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve adapter root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				logger("warn", "adapter root does not exist", "root", absRoot)
				continue
			}
			return nil, fmt.Errorf("failed to stat adapter root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("adapter root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)
			plugin, err := loadPlugin(pluginPath, root)
			if err != nil {
				logger("warn", "failed to load adapter", "root", root, "path", pluginPath, "error", err.Error())
				return nil
			}

			if err := registry.Add(plugin); err != nil {
				existing, _ := registry.Get(plugin.Name)
				logger(
					"warn",
					"duplicate adapter ignored (keeping first discovered)",
					"adapter", plugin.Name,
					"ignored_path", plugin.Path,
					"kept_path", existing.Path,
				)
				return nil
			}

			logger("info", "loaded adapter", "adapter", plugin.Name, "path", plugin.Path, "version", plugin.Version, "pkg_managers", plugin.PkgManagers)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan adapter root %s: %w", root, err)
		}
	}

	return registry, nil
}

// loadPlugin reads and validates a single adapter.
func loadPlugin(pluginPath, root string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if manifest.Protocol != supportedProtocol {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, supportedProtocol)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypointPath, pluginPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	pms := make([]string, 0, len(manifest.PkgManagers))
	for _, pm := range manifest.PkgManagers {
		pm = strings.ToLower(strings.TrimSpace(pm))
		if pm != "" && !slices.Contains(pms, pm) {
			pms = append(pms, pm)
		}
	}

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		PkgManagers: pms,
		Commands:    manifest.Commands,
		Config:      manifest.Config,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if len(m.PkgManagers) == 0 {
		return fmt.Errorf("at least one package manager must be declared")
	}

	declared := make([]string, 0, len(m.Commands))
	for _, cmd := range m.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("command name is required")
		}
		if !slices.Contains(validCommands, cmd.Name) {
			return fmt.Errorf("invalid command %q (valid: %s)", cmd.Name, strings.Join(validCommands, ", "))
		}
		declared = append(declared, cmd.Name)
	}
	for _, req := range requiredCommands {
		if !slices.Contains(declared, req) {
			return fmt.Errorf("command %q must be declared", req)
		}
	}

	return nil
}

// validateTrust enforces that the entrypoint lives inside its adapter directory and root,
// is executable, and that the adapter directory is not world-writable.
func validateTrust(entrypointPath, pluginPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve adapter path symlink: %w", err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve adapter root symlink %s: %w", root, err)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under adapter root %s", resolvedEntrypoint, resolvedRoot)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under adapter directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("adapter directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("adapter directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
