package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/isdmx/botbox/api"
	"github.com/isdmx/botbox/modcache"
	"github.com/isdmx/botbox/robotid"
)

// Deps are the collaborators FromIdentity needs. API may be nil when
// published robots are not reachable (offline use).
type Deps struct {
	Runtime *modcache.Runtime
	API     *api.Client
}

// FromIdentity constructs the Runner a parsed Identity describes.
// Published robots are fetched from the remote service and run like
// inline source; local files and inline source run sandboxed through the
// built-in language runners; command and localrunner identities run as
// external processes.
func FromIdentity(ctx context.Context, deps Deps, id robotid.Identity, opts ...Option) (Runner, error) {
	switch id.Kind {
	case robotid.KindCommand:
		return NewProcess(ctx, id.Program, id.Args, opts...)

	case robotid.KindLocalRunner:
		args := append(append([]string{}, id.Args...), id.SourcePath)
		return NewProcess(ctx, id.Program, args, opts...)

	case robotid.KindLocalFile:
		dir, err := SourceDirForFile(id.Path)
		if err != nil {
			return nil, spawnError("cannot stage robot source", err)
		}
		return langSandbox(ctx, deps, id.Lang, dir, opts)

	case robotid.KindInline:
		dir, err := SourceDirForText(id.Source)
		if err != nil {
			return nil, spawnError("cannot stage robot source", err)
		}
		return langSandbox(ctx, deps, id.Lang, dir, opts)

	case robotid.KindPublished:
		return fromPublished(ctx, deps, id, opts)

	default:
		return nil, spawnError(fmt.Sprintf("unsupported robot identity %v", id.Kind), nil)
	}
}

func fromPublished(ctx context.Context, deps Deps, id robotid.Identity, opts []Option) (Runner, error) {
	if deps.API == nil {
		return nil, spawnError("no remote service configured for published robots", nil)
	}

	info, err := deps.API.RobotInfo(ctx, id.User, id.Name)
	if err != nil {
		return nil, spawnError(fmt.Sprintf("cannot look up %s/%s", id.User, id.Name), err)
	}
	if info == nil {
		return nil, spawnError(fmt.Sprintf("no published robot %s/%s", id.User, id.Name), nil)
	}

	lang, ok := robotid.ParseLang(info.Lang)
	if !ok {
		return nil, spawnError(fmt.Sprintf("published robot %s/%s uses unsupported language %q", id.User, id.Name, info.Lang), nil)
	}

	code, err := deps.API.RobotCode(ctx, info.ID)
	if err != nil {
		return nil, spawnError(fmt.Sprintf("cannot fetch code for %s/%s", id.User, id.Name), err)
	}
	if code == "" {
		return nil, spawnError(fmt.Sprintf("robot %s/%s has no published code", id.User, id.Name), nil)
	}

	dir, err := SourceDirForText(code)
	if err != nil {
		return nil, spawnError("cannot stage robot source", err)
	}
	return langSandbox(ctx, deps, lang, dir, opts)
}

func langSandbox(ctx context.Context, deps Deps, lang robotid.Lang, dir string, opts []Option) (Runner, error) {
	mod, err := deps.Runtime.LangModule(ctx, lang)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, spawnError(fmt.Sprintf("no runner for language %s", lang), err)
	}
	opts = append(append([]Option{}, opts...), WithOwnedDir(dir))
	return NewSandbox(ctx, deps.Runtime, mod, dir, nil, opts...)
}

// SourceDirForFile stages path into a fresh temporary directory under the
// well-known source name, hard-linking when possible and copying
// otherwise. The caller owns the directory.
func SourceDirForFile(path string) (string, error) {
	dir, err := os.MkdirTemp("", "botbox-src-*")
	if err != nil {
		return "", fmt.Errorf("cannot create source directory: %w", err)
	}
	dst := filepath.Join(dir, SourceFileName)
	if err := os.Link(path, dst); err != nil {
		if err := copyFile(path, dst); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("cannot stage %s: %w", path, err)
		}
	}
	return dir, nil
}

// SourceDirForText stages literal source text the same way
func SourceDirForText(source string) (string, error) {
	dir, err := os.MkdirTemp("", "botbox-src-*")
	if err != nil {
		return "", fmt.Errorf("cannot create source directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SourceFileName), []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("cannot write source file: %w", err)
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
