package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/plugin"
	"github.com/mattjoyce/smoker/internal/protocol"
	"github.com/mattjoyce/smoker/internal/smoke"
)

const (
	// maxStderrBytes caps the amount of stderr captured from an adapter process.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrTimeout is wrapped by errors returned when an adapter command overruns its timeout.
var ErrTimeout = errors.New("adapter timed out")

// ExecProvider serves package managers through a discovered adapter executable.
type ExecProvider struct {
	plugin   *plugin.Plugin
	timeouts Timeouts
}

// NewExecProvider wraps a discovered adapter plugin.
func NewExecProvider(p *plugin.Plugin, timeouts Timeouts) *ExecProvider {
	return &ExecProvider{plugin: p, timeouts: timeouts}
}

// ExecProviders wraps every adapter in reg, in discovery order.
func ExecProviders(reg *plugin.Registry, timeouts Timeouts) []Provider {
	var out []Provider
	for _, p := range reg.All() {
		out = append(out, NewExecProvider(p, timeouts))
	}
	return out
}

func (p *ExecProvider) Name() string          { return p.plugin.Name }
func (p *ExecProvider) PkgManagers() []string { return p.plugin.PkgManagers }

// New returns an adapter bound to one package manager spec.
func (p *ExecProvider) New(spec smoke.StaticPkgManagerSpec) (Adapter, error) {
	if !p.plugin.Serves(spec.Name) {
		return nil, fmt.Errorf("adapter %q does not serve %q", p.plugin.Name, spec.Name)
	}
	return &ExecAdapter{
		plugin:   p.plugin,
		spec:     spec,
		timeouts: p.timeouts,
		logger:   log.WithAdapter(p.plugin.Name).With("pkg_manager", spec.String()),
	}, nil
}

// ExecAdapter spawns the adapter entrypoint once per operation and speaks the
// JSON protocol over stdin/stdout.
type ExecAdapter struct {
	plugin   *plugin.Plugin
	spec     smoke.StaticPkgManagerSpec
	timeouts Timeouts
	logger   *slog.Logger
}

var (
	_ Adapter      = (*ExecAdapter)(nil)
	_ SetupHook    = (*ExecAdapter)(nil)
	_ TeardownHook = (*ExecAdapter)(nil)
)

// Pack asks the adapter to pack one workspace and returns the manifest for installing it.
func (a *ExecAdapter) Pack(ctx context.Context, pc PackContext) (smoke.InstallManifest, error) {
	ws := pc.Workspace
	req := a.request(protocol.CommandPack, pc.TmpDir, a.timeouts.Pack)
	req.Workspace = &ws

	resp, err := a.call(ctx, req, a.timeouts.Pack)
	if err != nil {
		return smoke.InstallManifest{}, err
	}
	if resp.Tarball == "" {
		return smoke.InstallManifest{}, fmt.Errorf("adapter returned no tarball")
	}

	tarball := resp.Tarball
	if !filepath.IsAbs(tarball) {
		tarball = filepath.Join(pc.TmpDir, tarball)
	}
	digest, err := digestFile(tarball)
	if err != nil {
		return smoke.InstallManifest{}, fmt.Errorf("digest tarball: %w", err)
	}

	name := resp.PkgName
	if name == "" {
		name = ws.Name
	}
	return smoke.InstallManifest{
		Kind:        smoke.ManifestWorkspace,
		Spec:        tarball,
		PkgName:     name,
		Cwd:         pc.TmpDir,
		InstallPath: filepath.Join(pc.TmpDir, "node_modules", name),
		Digest:      digest,
		Workspace:   &ws,
	}, nil
}

// Install asks the adapter to install one manifest into the scratch directory.
func (a *ExecAdapter) Install(ctx context.Context, ic InstallContext) (smoke.InstallResult, error) {
	m := ic.Manifest
	req := a.request(protocol.CommandInstall, ic.TmpDir, a.timeouts.Install)
	req.Manifest = &m

	resp, err := a.call(ctx, req, a.timeouts.Install)
	if err != nil {
		return smoke.InstallResult{}, err
	}
	if resp.InstallPath != "" {
		m.InstallPath = resp.InstallPath
	}
	return smoke.InstallResult{Manifest: m, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

// RunScript asks the adapter to run one script. A nonzero exit is not an error.
func (a *ExecAdapter) RunScript(ctx context.Context, rc RunScriptContext) (smoke.ScriptOutput, error) {
	m := rc.Manifest
	req := a.request(protocol.CommandRunScript, rc.TmpDir, a.timeouts.RunScript)
	req.Script = &m

	resp, err := a.call(ctx, req, a.timeouts.RunScript)
	if err != nil {
		return smoke.ScriptOutput{}, err
	}
	out := smoke.ScriptOutput{Stdout: resp.Stdout, Stderr: resp.Stderr, Missing: resp.Missing}
	if resp.ExitCode != nil {
		out.ExitCode = *resp.ExitCode
	} else if !resp.Missing {
		return smoke.ScriptOutput{}, fmt.Errorf("adapter returned no exit_code")
	}
	return out, nil
}

// Setup runs the adapter's setup command when it declares one.
func (a *ExecAdapter) Setup(ctx context.Context, lc LifecycleContext) error {
	return a.lifecycle(ctx, protocol.CommandSetup, lc)
}

// Teardown runs the adapter's teardown command when it declares one.
func (a *ExecAdapter) Teardown(ctx context.Context, lc LifecycleContext) error {
	return a.lifecycle(ctx, protocol.CommandTeardown, lc)
}

func (a *ExecAdapter) lifecycle(ctx context.Context, command string, lc LifecycleContext) error {
	if !a.plugin.SupportsCommand(command) {
		return nil
	}
	req := a.request(command, lc.TmpDir, a.timeouts.Lifecycle)
	_, err := a.call(ctx, req, a.timeouts.Lifecycle)
	return err
}

func (a *ExecAdapter) request(command, tmpDir string, timeout time.Duration) *protocol.Request {
	return &protocol.Request{
		Protocol:   protocol.Version,
		Command:    command,
		PkgManager: a.spec,
		TmpDir:     tmpDir,
		Config:     a.plugin.Config,
		DeadlineAt: time.Now().Add(timeout),
	}
}

// call spawns the adapter and turns transport failures and error responses into errors.
func (a *ExecAdapter) call(ctx context.Context, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	logger := a.logger.With("command", req.Command)
	resp, stderr, err := spawn(ctx, a.plugin.Entrypoint, req.TmpDir, req, timeout, logger)
	if err != nil {
		return nil, withStderr(err, stderr)
	}

	for _, entry := range resp.Logs {
		logger.Info("adapter log", "level", entry.Level, "message", entry.Message)
	}

	if resp.Status == "error" {
		return nil, withStderr(errors.New(resp.Error), stderr)
	}
	return resp, nil
}

// spawn runs entrypoint, writes the request to stdin, and reads the response from stdout.
// Timeouts and context cancellation both terminate with SIGTERM, then SIGKILL after a grace period.
func spawn(
	ctx context.Context,
	entrypoint string,
	dir string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext; termination is managed below.
	cmd := exec.Command(entrypoint)
	if dir != "" {
		cmd.Dir = dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning adapter", "entrypoint", entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	terminate := func(reason string) {
		logger.Warn("terminating adapter, sending SIGTERM", "reason", reason)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("adapter exited after SIGTERM")
		case <-grace.C:
			logger.Warn("adapter did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
	}

	select {
	case <-timeoutTimer.C:
		terminate("timeout")
		return nil, truncateStderr(stderr.String()), fmt.Errorf("%s after %v: %w", req.Command, timeout, ErrTimeout)

	case <-ctx.Done():
		terminate("cancelled")
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil && !errors.Is(werr, syscall.EPIPE) && !errors.Is(werr, os.ErrClosed) {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("adapter exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode adapter response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

func withStderr(err error, stderr string) error {
	if stderr == "" {
		return err
	}
	return fmt.Errorf("%w\nstderr: %s", err, stderr)
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

// digestFile returns the blake3 digest of a packed artifact.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("blake3:%x", h.Sum(nil)), nil
}
