package ptysvc

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ResolutionKind tags how a requested command was resolved to the
// argv actually handed to the OS, so callers can log provenance
// without mutating the user's original argv.
type ResolutionKind string

const (
	ResolvedPath             ResolutionKind = "path"
	ResolvedAlias            ResolutionKind = "alias"
	ResolvedBuiltin          ResolutionKind = "builtin"
	ResolvedInteractiveShell ResolutionKind = "interactiveShell"
)

// Resolution is the outcome of resolving a requested command into the
// argv that will actually be exec'd.
type Resolution struct {
	Kind ResolutionKind
	Argv []string
}

var knownShells = map[string]bool{
	"bash": true, "zsh": true, "sh": true, "fish": true, "ksh": true, "tcsh": true, "csh": true, "dash": true,
}

func isInteractiveShellRequest(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	base := lastPathComponent(argv[0])
	if !knownShells[base] {
		return false
	}
	if len(argv) == 1 {
		return true
	}
	for _, a := range argv[1:] {
		if a == "-i" || a == "-l" {
			return true
		}
	}
	return false
}

func lastPathComponent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	if i := strings.LastIndexByte(p, '\\'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func userShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// ResolveCommand distinguishes a PATH-resolvable binary, an
// interactive shell invocation, a user alias, and a shell builtin.
// aliasLookup is injected so tests can stub out the real shell
// invocation used to discover alias definitions.
func ResolveCommand(argv []string, aliasLookup func(name string) (string, bool)) (Resolution, error) {
	if len(argv) == 0 {
		return Resolution{}, fmt.Errorf("ptysvc: empty command")
	}

	if isInteractiveShellRequest(argv) {
		out := argv
		if len(argv) == 1 {
			out = InteractiveArgsFor(argv)
		}
		return Resolution{Kind: ResolvedInteractiveShell, Argv: out}, nil
	}

	name := argv[0]
	if path, err := exec.LookPath(name); err == nil {
		resolved := append([]string{path}, argv[1:]...)
		return Resolution{Kind: ResolvedPath, Argv: resolved}, nil
	}

	if aliasLookup != nil {
		if def, ok := aliasLookup(name); ok {
			rest := strings.Join(argv[1:], " ")
			cmdline := def
			if rest != "" {
				cmdline = def + " " + rest
			}
			return Resolution{
				Kind: ResolvedAlias,
				Argv: []string{userShell(), "-i", "-c", cmdline},
			}, nil
		}
	}

	// Not found anywhere — treat as a shell builtin (e.g. "cd", "history").
	return Resolution{
		Kind: ResolvedBuiltin,
		Argv: NonInteractiveShellCommand(argv),
	}, nil
}

// NonInteractiveShellCommand wraps a command so it runs through the
// user's shell, sourcing an rc file first if one can be found, and
// exits automatically when the command completes.
func NonInteractiveShellCommand(argv []string) []string {
	shell := userShell()
	joined := strings.Join(argv, " ")
	rc := findShellRC(shell)
	script := joined
	if rc != "" {
		script = fmt.Sprintf("source %s >/dev/null 2>&1; %s", rc, joined)
	}
	return []string{shell, "-c", script}
}

func findShellRC(shell string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidates := map[string][]string{
		"bash": {".bashrc"},
		"zsh":  {".zshrc"},
		"fish": {".config/fish/config.fish"},
	}
	base := lastPathComponent(shell)
	for _, rel := range candidates[base] {
		p := home + "/" + rel
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// InteractiveArgsFor inserts -i -l after argv[0]; ResolveCommand uses
// it when a known shell is requested with no arguments. The shell name
// is kept as given, not resolved to an absolute path.
func InteractiveArgsFor(argv []string) []string {
	out := make([]string, 0, len(argv)+2)
	out = append(out, argv[0], "-i", "-l")
	out = append(out, argv[1:]...)
	return out
}
