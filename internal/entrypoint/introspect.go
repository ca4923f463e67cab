package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/psantana5/launchgate/internal/config"
)

// Introspector reports whether module defines a callable symbol.
type Introspector interface {
	HasSymbol(ctx context.Context, module, symbol string) (bool, error)
}

// NewIntrospector returns the introspector for mode, or nil for "none".
func NewIntrospector(mode config.Introspection, pythonBin, appDir string) Introspector {
	python := &PythonIntrospector{Python: pythonBin, Dir: appDir}
	source := &SourceIntrospector{Dir: appDir}

	switch mode {
	case config.IntrospectNone:
		return nil
	case config.IntrospectSource:
		return source
	case config.IntrospectAuto:
		return ChainIntrospector{python, source}
	default:
		return python
	}
}

// Exit codes of the probe script.
const (
	exitPresent     = 0
	exitAbsent      = 3
	exitImportError = 4
)

const probeScript = `import importlib, sys
sys.path.insert(0, "")
try:
    mod = importlib.import_module(sys.argv[1])
except Exception as exc:
    sys.stderr.write("%s: %s\n" % (type(exc).__name__, exc))
    sys.exit(4)
sys.exit(0 if callable(getattr(mod, sys.argv[2], None)) else 3)
`

// PythonIntrospector imports the module in a child interpreter and checks
// the symbol. It is exact but runs the module's import-time code.
type PythonIntrospector struct {
	Python  string
	Dir     string
	Timeout time.Duration
}

func (p *PythonIntrospector) HasSymbol(ctx context.Context, module, symbol string) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	python := p.Python
	if python == "" {
		python = "python"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, python, "-c", probeScript, module, symbol)
	cmd.Dir = p.Dir
	cmd.Stderr = &stderr
	// Grandchildren may hold stderr open after the interpreter is killed.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitAbsent:
			return false, nil
		case exitImportError:
			return false, fmt.Errorf("failed to import %s: %s", module, strings.TrimSpace(stderr.String()))
		}
		if ctx.Err() != nil {
			return false, fmt.Errorf("introspection of %s timed out after %s", module, timeout)
		}
		return false, fmt.Errorf("introspection of %s exited with code %d: %s",
			module, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return false, fmt.Errorf("failed to run %s: %w", python, err)
}

// SourceIntrospector scans the module's source for a top-level definition,
// import or assignment of the symbol. Nothing is executed.
type SourceIntrospector struct {
	Dir string
}

func (s *SourceIntrospector) HasSymbol(ctx context.Context, module, symbol string) (bool, error) {
	src, err := s.read(module)
	if err != nil {
		return false, err
	}

	sym := regexp.QuoteMeta(symbol)
	patterns := []string{
		`(?m)^(?:async\s+)?def\s+` + sym + `\s*\(`,
		`(?m)^` + sym + `\s*(?::[^=\n]*)?=[^=]`,
		`(?m)^from\s+\S+\s+import\s+(?:.*,\s*)?(?:\w+\s+as\s+)?` + sym + `\s*(?:,|$)`,
	}
	for _, p := range patterns {
		if regexp.MustCompile(p).Match(src) {
			return true, nil
		}
	}
	return false, nil
}

func (s *SourceIntrospector) read(module string) ([]byte, error) {
	base := filepath.Join(s.Dir, filepath.FromSlash(strings.ReplaceAll(module, ".", "/")))
	for _, path := range []string{base + ".py", filepath.Join(base, "__init__.py")} {
		src, err := os.ReadFile(path)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no source for module %s under %s: %w", module, s.Dir, fs.ErrNotExist)
}

// ChainIntrospector asks each introspector in turn and returns the first
// answer given without error.
type ChainIntrospector []Introspector

func (c ChainIntrospector) HasSymbol(ctx context.Context, module, symbol string) (bool, error) {
	var errs []error
	for _, in := range c {
		ok, err := in.HasSymbol(ctx, module, symbol)
		if err == nil {
			return ok, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return false, errors.New("no introspector configured")
	}
	return false, errors.Join(errs...)
}
