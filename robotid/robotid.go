package robotid

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Lang identifies a supported robot source language
type Lang string

// Supported languages
const (
	LangPython     Lang = "python"
	LangJavascript Lang = "javascript"
)

// Kind discriminates the Identity variants
type Kind int

// Identity variants
const (
	// KindPublished is a robot published to the remote service, addressed
	// as user/name.
	KindPublished Kind = iota
	// KindLocalFile is a local source file whose extension selects the
	// language runner.
	KindLocalFile
	// KindCommand is a literal shell command run as an external process.
	KindCommand
	// KindLocalRunner is an external runner binary invoked with a trailing
	// source file path.
	KindLocalRunner
	// KindInline is source text carried in the identifier itself.
	KindInline
)

// String returns the scheme name of the variant
func (k Kind) String() string {
	switch k {
	case KindPublished:
		return "published"
	case KindLocalFile:
		return "local"
	case KindCommand:
		return "command"
	case KindLocalRunner:
		return "localrunner"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

// Identity is a parsed robot identifier. Exactly one variant is active,
// selected by Kind; only the fields of that variant are populated. An
// Identity is immutable once parsed.
type Identity struct {
	Kind Kind

	// Published
	User string
	Name string

	// LocalFile and Inline
	Path string
	Lang Lang

	// Command and LocalRunner
	Program string
	Args    []string

	// LocalRunner: path handed to the runner as its final argument
	SourcePath string

	// Inline
	Source string
}

// DisplayID returns a user/name pair suitable for UIs. Published robots
// report their real owner; other variants report their scheme and a short
// description.
func (id Identity) DisplayID() (user, name string) {
	switch id.Kind {
	case KindPublished:
		return id.User, id.Name
	case KindLocalFile:
		base := filepath.Base(id.Path)
		return "local", strings.TrimSuffix(base, filepath.Ext(base))
	case KindCommand:
		return "command", filepath.Base(id.Program)
	case KindLocalRunner:
		base := filepath.Base(id.SourcePath)
		return "localrunner", strings.TrimSuffix(base, filepath.Ext(base))
	case KindInline:
		return "inline", string(id.Lang)
	default:
		return "unknown", "unknown"
	}
}

// LangForExt maps a file extension (with or without the leading dot) to a
// supported language.
func LangForExt(ext string) (Lang, bool) {
	switch strings.TrimPrefix(ext, ".") {
	case "py":
		return LangPython, true
	case "js", "ejs", "mjs":
		return LangJavascript, true
	default:
		return "", false
	}
}

// ParseLang maps a language name to a supported language. Short extension
// aliases are accepted.
func ParseLang(name string) (Lang, bool) {
	switch name {
	case "python", "py":
		return LangPython, true
	case "javascript", "js":
		return LangJavascript, true
	default:
		return "", false
	}
}

// Parse resolves an identifier token into an Identity.
//
// Explicit scheme forms take precedence: file:, local:, published:,
// command:, localrunner: and inline:. A bare token matching ident/ident is
// a published robot; anything else is treated as a path to a local source
// file whose extension must map to a supported language.
func Parse(token string) (Identity, error) {
	if scheme, rest, ok := strings.Cut(token, ":"); ok {
		switch scheme {
		case "file", "local":
			return parseLocalFile(rest)
		case "published":
			return parsePublished(rest)
		case "command":
			return parseCommand(rest)
		case "localrunner":
			return parseLocalRunner(rest)
		case "inline":
			return parseInline(rest)
		default:
			// Not a known scheme; single-letter prefixes like C: are
			// ordinary paths on some platforms.
			if looksLikeScheme(scheme) {
				return Identity{}, fmt.Errorf("unknown scheme %q in robot identifier %q", scheme, token)
			}
		}
	}

	if user, name, ok := strings.Cut(token, "/"); ok && validIdent(user) && validIdent(name) {
		return Identity{Kind: KindPublished, User: user, Name: name}, nil
	}

	return parseLocalFile(token)
}

func parseLocalFile(path string) (Identity, error) {
	if path == "" {
		return Identity{}, fmt.Errorf("empty robot file path")
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return Identity{}, fmt.Errorf("robot file %q has no extension; the extension selects the language", path)
	}
	lang, ok := LangForExt(ext)
	if !ok {
		return Identity{}, fmt.Errorf("unknown extension %q in robot file %q", ext, path)
	}
	return Identity{Kind: KindLocalFile, Path: path, Lang: lang}, nil
}

func parsePublished(rest string) (Identity, error) {
	user, name, ok := strings.Cut(rest, "/")
	if !ok || !validIdent(user) || !validIdent(name) {
		return Identity{}, fmt.Errorf("published robot %q must be of the form user/name", rest)
	}
	return Identity{Kind: KindPublished, User: user, Name: name}, nil
}

func parseCommand(rest string) (Identity, error) {
	words, err := shlex.Split(rest)
	if err != nil {
		return Identity{}, fmt.Errorf("cannot split command %q into shell words: %w", rest, err)
	}
	if len(words) == 0 {
		return Identity{}, fmt.Errorf("command identifier %q needs at least one shell word", rest)
	}
	return Identity{Kind: KindCommand, Program: words[0], Args: words[1:]}, nil
}

func parseLocalRunner(rest string) (Identity, error) {
	words, err := shlex.Split(rest)
	if err != nil {
		return Identity{}, fmt.Errorf("cannot split localrunner %q into shell words: %w", rest, err)
	}
	if len(words) < 2 {
		return Identity{}, fmt.Errorf("localrunner identifier %q needs a runner and a trailing source path", rest)
	}
	last := len(words) - 1
	return Identity{
		Kind:       KindLocalRunner,
		Program:    words[0],
		Args:       words[1:last],
		SourcePath: words[last],
	}, nil
}

func parseInline(rest string) (Identity, error) {
	langName, source, ok := strings.Cut(rest, ";")
	if !ok {
		return Identity{}, fmt.Errorf("inline identifier must be of the form inline:lang;source, got %q", rest)
	}
	lang, known := ParseLang(langName)
	if !known {
		return Identity{}, fmt.Errorf("unknown language %q in inline robot", langName)
	}
	return Identity{Kind: KindInline, Lang: lang, Source: source}, nil
}

// validIdent reports whether s is a non-empty run of alphanumerics,
// underscores and hyphens.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// looksLikeScheme reports whether a colon prefix should be treated as an
// identifier scheme rather than part of a path.
func looksLikeScheme(s string) bool {
	return len(s) > 1 && validIdent(s)
}
