package modcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/botbox/config"
	"github.com/isdmx/botbox/robotid"
)

// wasiModule is the import namespace that marks a module as a WASI command
const wasiModule = "wasi_snapshot_preview1"

// Module is a compiled robot runner: opaque bytecode compiled for this
// process plus the content hash it is keyed by. Modules are read-only and
// shared across every sandbox instance of the same language.
type Module struct {
	// Hash is the hex sha256 of the raw bytecode.
	Hash string
	// WASI reports whether the module imports the WASI interface. Modules
	// without it cannot run as sandboxed robots.
	WASI bool

	compiled wazero.CompiledModule
}

// Runtime owns the process-wide wazero runtime, its on-disk compilation
// cache, and the memoized built-in language runners. Constructors receive
// a Runtime explicitly; there is no package-level mutable state.
type Runtime struct {
	logger  *zap.Logger
	runtime wazero.Runtime
	runners config.RunnersConfig

	mu   sync.Mutex // guards lang
	lang map[robotid.Lang]*Module
	sf   singleflight.Group
}

// New creates the wazero runtime with WASI instantiated and an on-disk
// compilation cache under cfg.Cache.Dir. Cache setup failures are logged
// and ignored; the cache is an optimization, not a correctness dependency.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Runtime, error) {
	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	if dir := cfg.Cache.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("cannot create module cache directory, compiling uncached",
				zap.String("dir", dir), zap.Error(err))
		} else if cache, err := wazero.NewCompilationCacheWithDir(dir); err != nil {
			logger.Warn("cannot open module cache, compiling uncached",
				zap.String("dir", dir), zap.Error(err))
		} else {
			rcfg = rcfg.WithCompilationCache(cache)
		}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("cannot instantiate wasi host module: %w", err)
	}

	return &Runtime{
		logger:  logger,
		runtime: rt,
		runners: cfg.Runners,
		lang:    make(map[robotid.Lang]*Module),
	}, nil
}

// GetOrCompile compiles bytecode into a Module keyed by its content hash.
// When a compilation cache directory is configured, the compiled artifact
// is persisted there (atomically, write-then-rename) so later runs load
// instead of recompiling.
func (r *Runtime) GetOrCompile(ctx context.Context, bytecode []byte) (*Module, error) {
	sum := sha256.Sum256(bytecode)
	hash := hex.EncodeToString(sum[:])

	compiled, err := r.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return nil, fmt.Errorf("cannot compile wasm module %s: %w", hash[:12], err)
	}

	return &Module{
		Hash:     hash,
		WASI:     importsWASI(compiled),
		compiled: compiled,
	}, nil
}

// LangModule returns the compiled runner for one of the built-in
// languages, reading its bytecode from the configured runners directory.
// Each language compiles at most once per process, even under concurrent
// first use.
func (r *Runtime) LangModule(ctx context.Context, lang robotid.Lang) (*Module, error) {
	r.mu.Lock()
	if mod, ok := r.lang[lang]; ok {
		r.mu.Unlock()
		return mod, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(string(lang), func() (any, error) {
		path, err := r.runnerPath(lang)
		if err != nil {
			return nil, err
		}
		bytecode, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s runner from %s: %w", lang, path, err)
		}
		r.logger.Debug("compiling language runner",
			zap.String("lang", string(lang)), zap.String("path", path))
		mod, err := r.GetOrCompile(ctx, bytecode)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.lang[lang] = mod
		r.mu.Unlock()
		return mod, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// Instantiate starts one module instance with the given configuration.
// For WASI commands this does not run _start; callers own that.
func (r *Runtime) Instantiate(ctx context.Context, mod *Module, mcfg wazero.ModuleConfig) (api.Module, error) {
	return r.runtime.InstantiateModule(ctx, mod.compiled, mcfg)
}

// Close releases the runtime and every module compiled through it
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func (r *Runtime) runnerPath(lang robotid.Lang) (string, error) {
	switch lang {
	case robotid.LangPython:
		return r.runners.RunnerPath(r.runners.Python), nil
	case robotid.LangJavascript:
		return r.runners.RunnerPath(r.runners.Javascript), nil
	default:
		return "", fmt.Errorf("no built-in runner for language %q", lang)
	}
}

func importsWASI(compiled wazero.CompiledModule) bool {
	for _, f := range compiled.ImportedFunctions() {
		if mod, _, _ := f.Import(); mod == wasiModule {
			return true
		}
	}
	return false
}
