package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/isdmx/botbox/modcache"
)

// Well-known paths inside the sandbox. The robot's source file is always
// mounted read-only at the same guest path regardless of its host name.
const (
	SourceMount     = "/source"
	SourceFileName  = "sourcecode"
	GuestSourcePath = SourceMount + "/" + SourceFileName
)

// SandboxRunner runs a robot inside an isolated WebAssembly instance. The
// instance sees exactly one read-only directory (the robot's source) and
// its redirected standard streams; no other filesystem, network, or
// environment capability exists in it.
type SandboxRunner struct {
	*pipeRunner
	inst api.Module
}

// NewSandbox instantiates mod as a fresh sandbox with sourceDir mounted
// read-only at /source and args appended after the well-known source
// path. The instance's entry point runs on its own goroutine; its stderr
// is forwarded to the host for diagnostics without touching protocol
// framing. Instantiation failure is fatal and not retried.
func NewSandbox(ctx context.Context, rt *modcache.Runtime, mod *modcache.Module, sourceDir string, args []string, opts ...Option) (*SandboxRunner, error) {
	o := buildOptions(opts)

	if !mod.WASI {
		removeOwnedDir(o)
		return nil, spawnError(fmt.Sprintf("module %s does not use the wasi interface", mod.Hash[:12]), nil)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// The instance must not die with the caller's setup context; it lives
	// until the runner closes, and CloseOnContextDone tears it down.
	instCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	mcfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: concurrent robots of one language must not collide
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStderr(o.stderr).
		WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(sourceDir, SourceMount)).
		WithArgs(append([]string{"robot", GuestSourcePath}, args...)...).
		WithStartFunctions() // defer _start so the handle is usable first

	inst, err := rt.Instantiate(instCtx, mod, mcfg)
	if err != nil {
		cancel()
		removeOwnedDir(o)
		return nil, spawnError("cannot instantiate sandbox", err)
	}

	start := inst.ExportedFunction("_start")
	if start == nil {
		cancel()
		_ = inst.Close(context.Background())
		removeOwnedDir(o)
		return nil, spawnError(fmt.Sprintf("module %s is not a wasi command", mod.Hash[:12]), nil)
	}

	go func() {
		_, err := start.Call(instCtx)
		var exit *sys.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 0 {
			err = nil
		}
		if err != nil {
			o.logger.Debug("sandbox instance stopped", zap.Error(err))
		}
		// Pending and future host reads observe EOF once the robot exits.
		_ = stdoutW.Close()
	}()

	cleanup := []func() error{
		func() error {
			cancel()
			return inst.Close(context.Background())
		},
		func() error {
			_ = stdinW.Close()
			_ = stdinR.Close()
			_ = stdoutR.Close()
			return nil
		},
	}
	if o.ownedDir != "" {
		dir := o.ownedDir
		cleanup = append(cleanup, func() error { return os.RemoveAll(dir) })
	}

	pipe, err := newPipeRunner(ctx, o, stdinW, stdoutR, cleanup...)
	s := &SandboxRunner{pipeRunner: pipe, inst: inst}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// MemorySize reports the instance's current linear memory in bytes, for
// diagnostics. No ceiling is enforced on it.
func (s *SandboxRunner) MemorySize() uint64 {
	mem := s.inst.Memory()
	if mem == nil {
		return 0
	}
	return uint64(mem.Size())
}

func removeOwnedDir(o options) {
	if o.ownedDir != "" {
		_ = os.RemoveAll(o.ownedDir)
	}
}
