package adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/plugin"
	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

var testTimeouts = Timeouts{
	Pack:      5 * time.Second,
	Install:   5 * time.Second,
	RunScript: 5 * time.Second,
	Lifecycle: 5 * time.Second,
}

// createTestAdapter writes a bash adapter and returns an ExecAdapter bound to npm.
func createTestAdapter(t *testing.T, script string, commands string, timeouts Timeouts) *ExecAdapter {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "test-adapter")
	require.NoError(t, os.MkdirAll(dir, 0755))

	manifest := `name: test-adapter
version: 1.0.0
protocol: 1
entrypoint: run.sh
pkg_managers: [npm]
commands: ` + commands + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0755))

	reg, err := plugin.Discover(root, nil)
	require.NoError(t, err)
	p, ok := reg.Get("test-adapter")
	require.True(t, ok, "adapter not discovered")

	a, err := NewExecProvider(p, timeouts).New(smoke.StaticPkgManagerSpec{Name: "npm", Version: "10"})
	require.NoError(t, err)
	return a.(*ExecAdapter)
}

func TestExecAdapter_Pack(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
printf 'tarball-bytes' > pkg-1.0.0.tgz
echo '{"status":"ok","tarball":"pkg-1.0.0.tgz","pkg_name":"pkg"}'
`, "[pack, install, run-script]", testTimeouts)

	tmp := t.TempDir()
	ws := smoke.WorkspaceInfo{Name: "pkg", LocalPath: "/src/pkg"}
	m, err := a.Pack(context.Background(), PackContext{PkgManager: a.spec, TmpDir: tmp, Workspace: ws})
	require.NoError(t, err)

	assert.Equal(t, smoke.ManifestWorkspace, m.Kind)
	assert.True(t, m.IsWorkspace())
	assert.Equal(t, filepath.Join(tmp, "pkg-1.0.0.tgz"), m.Spec)
	assert.Equal(t, filepath.Join(tmp, "node_modules", "pkg"), m.InstallPath)
	assert.True(t, strings.HasPrefix(m.Digest, "blake3:"), "digest = %q", m.Digest)
	assert.Equal(t, "pkg", m.Workspace.Name)
}

func TestExecAdapter_PackMissingTarball(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo '{"status":"ok","tarball":"nope.tgz"}'
`, "[pack, install, run-script]", testTimeouts)

	_, err := a.Pack(context.Background(), PackContext{TmpDir: t.TempDir(), Workspace: smoke.WorkspaceInfo{Name: "pkg"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest tarball")
}

func TestExecAdapter_InstallError(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo "registry unreachable" >&2
echo '{"status":"error","error":"install failed"}'
`, "[pack, install, run-script]", testTimeouts)

	_, err := a.Install(context.Background(), InstallContext{TmpDir: t.TempDir(), Manifest: smoke.InstallManifest{PkgName: "pkg"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install failed")
	assert.Contains(t, err.Error(), "registry unreachable")
}

func TestExecAdapter_InstallOverridesPath(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo '{"status":"ok","install_path":"/custom/node_modules/pkg","stdout":"added 1 package"}'
`, "[pack, install, run-script]", testTimeouts)

	res, err := a.Install(context.Background(), InstallContext{TmpDir: t.TempDir(), Manifest: smoke.InstallManifest{PkgName: "pkg", InstallPath: "/x"}})
	require.NoError(t, err)
	assert.Equal(t, "/custom/node_modules/pkg", res.Manifest.InstallPath)
	assert.Equal(t, "added 1 package", res.Stdout)
}

func TestExecAdapter_RunScriptNonzeroIsNotError(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo '{"status":"ok","exit_code":3,"stderr":"boom"}'
`, "[pack, install, run-script]", testTimeouts)

	out, err := a.RunScript(context.Background(), RunScriptContext{TmpDir: t.TempDir(), Manifest: smoke.RunScriptManifest{Script: "smoke"}})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "boom", out.Stderr)
}

func TestExecAdapter_RunScriptMissing(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo '{"status":"ok","missing":true}'
`, "[pack, install, run-script]", testTimeouts)

	out, err := a.RunScript(context.Background(), RunScriptContext{TmpDir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, out.Missing)
}

func TestExecAdapter_InvalidOutput(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
read input
echo 'not json'
`, "[pack, install, run-script]", testTimeouts)

	_, err := a.RunScript(context.Background(), RunScriptContext{TmpDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestExecAdapter_Timeout(t *testing.T) {
	short := testTimeouts
	short.Install = 200 * time.Millisecond
	a := createTestAdapter(t, `#!/bin/bash
exec sleep 10
`, "[pack, install, run-script]", short)

	start := time.Now()
	_, err := a.Install(context.Background(), InstallContext{TmpDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "err = %v", err)
	assert.Less(t, time.Since(start), terminationGracePeriod)
}

func TestExecAdapter_ContextCancel(t *testing.T) {
	a := createTestAdapter(t, `#!/bin/bash
exec sleep 10
`, "[pack, install, run-script]", testTimeouts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := a.Pack(ctx, PackContext{TmpDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}

func TestExecAdapter_LifecycleHooks(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "setup-ran")
	a := createTestAdapter(t, `#!/bin/bash
read input
touch `+marker+`
echo '{"status":"ok"}'
`, "[pack, install, run-script, setup]", testTimeouts)

	require.NoError(t, a.Setup(context.Background(), LifecycleContext{TmpDir: t.TempDir()}))
	_, err := os.Stat(marker)
	require.NoError(t, err, "setup should have invoked the adapter")

	require.NoError(t, os.Remove(marker))
	require.NoError(t, a.Teardown(context.Background(), LifecycleContext{TmpDir: t.TempDir()}))
	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "teardown is not declared and must not spawn the adapter")
}

func TestTruncateStderr(t *testing.T) {
	long := strings.Repeat("x", maxStderrBytes+10)
	assert.Len(t, truncateStderr(long), maxStderrBytes)
	assert.Equal(t, "short", truncateStderr("short"))
}
