// Package adapter defines the contract between package-manager workers and the
// code that actually packs, installs and runs scripts for one package manager.
package adapter

import (
	"context"
	"time"

	"github.com/mattjoyce/smoker/internal/smoke"
)

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/mattjoyce/smoker/internal/adapter Adapter,Provider

// PackContext is the input to one pack operation.
type PackContext struct {
	PkgManager smoke.StaticPkgManagerSpec
	TmpDir     string
	Workspace  smoke.WorkspaceInfo
}

// InstallContext is the input to one install operation.
type InstallContext struct {
	PkgManager smoke.StaticPkgManagerSpec
	TmpDir     string
	Manifest   smoke.InstallManifest
}

// RunScriptContext is the input to one script run.
type RunScriptContext struct {
	PkgManager smoke.StaticPkgManagerSpec
	TmpDir     string
	Manifest   smoke.RunScriptManifest
}

// LifecycleContext is passed to setup and teardown hooks.
type LifecycleContext struct {
	PkgManager smoke.StaticPkgManagerSpec
	TmpDir     string
	Workspaces []smoke.WorkspaceInfo
}

// Adapter performs the subprocess-backed operations for one package manager.
//
// RunScript reports an ordinary nonzero exit through ScriptOutput; a returned
// error means the script could not be attempted at all.
type Adapter interface {
	Pack(ctx context.Context, pc PackContext) (smoke.InstallManifest, error)
	Install(ctx context.Context, ic InstallContext) (smoke.InstallResult, error)
	RunScript(ctx context.Context, rc RunScriptContext) (smoke.ScriptOutput, error)
}

// SetupHook is implemented by adapters that need to prepare the scratch directory.
type SetupHook interface {
	Setup(ctx context.Context, lc LifecycleContext) error
}

// TeardownHook is implemented by adapters that need to clean up after a worker.
type TeardownHook interface {
	Teardown(ctx context.Context, lc LifecycleContext) error
}

// Provider builds adapters for the package managers it serves.
type Provider interface {
	Name() string
	PkgManagers() []string
	New(spec smoke.StaticPkgManagerSpec) (Adapter, error)
}

// Timeouts bound each adapter operation.
type Timeouts struct {
	Pack      time.Duration
	Install   time.Duration
	RunScript time.Duration
	Lifecycle time.Duration
}
