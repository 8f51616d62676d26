package adapter

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Resolved pairs a package manager spec with the adapter that serves it.
type Resolved struct {
	Spec    smoke.StaticPkgManagerSpec
	Adapter Adapter
}

// Registry resolves requested package managers against the available providers.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry. Earlier providers win when two serve the same package manager.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Providers returns the registered providers in priority order.
func (r *Registry) Providers() []Provider {
	return slices.Clone(r.providers)
}

// Supported lists every package manager name some provider serves, sorted.
func (r *Registry) Supported() []string {
	var out []string
	for _, p := range r.providers {
		for _, pm := range p.PkgManagers() {
			pm = strings.ToLower(pm)
			if !slices.Contains(out, pm) {
				out = append(out, pm)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) providerFor(name string) (Provider, bool) {
	for _, p := range r.providers {
		for _, pm := range p.PkgManagers() {
			if strings.EqualFold(pm, name) {
				return p, true
			}
		}
	}
	return nil, false
}

// Resolve builds one adapter per requested spec. Specs no provider serves are
// collected into a single UnsupportedPkgManagerError; the supported ones are
// still returned so callers can decide how to report the partial result.
func (r *Registry) Resolve(requested []string) ([]Resolved, error) {
	var (
		out         []Resolved
		unsupported []string
		seen        = map[string]bool{}
	)
	for _, raw := range requested {
		spec, err := smoke.ParsePkgManagerSpec(raw)
		if err != nil {
			return nil, err
		}
		if seen[spec.String()] {
			continue
		}
		seen[spec.String()] = true

		p, ok := r.providerFor(spec.Name)
		if !ok {
			unsupported = append(unsupported, spec.String())
			continue
		}
		spec.Adapter = p.Name()
		a, err := p.New(spec)
		if err != nil {
			return nil, fmt.Errorf("adapter %q for %s: %w", p.Name(), spec, err)
		}
		out = append(out, Resolved{Spec: spec, Adapter: a})
	}
	if len(unsupported) > 0 {
		return out, &smoke.UnsupportedPkgManagerError{Requested: unsupported, Supported: r.Supported()}
	}
	return out, nil
}
