package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/cochaviz/isoforge/internal/logging"
)

// Prefix marks a directive line.
const Prefix = "%"

// Names of the built-in directives.
const (
	ImportDirective = "import"
	EnvDirective    = "env"
)

// DefaultMaxDepth bounds nested expansion when no explicit depth is configured.
const DefaultMaxDepth = 32

// An ExpandFunc replaces a directive line with zero or more lines. Registered
// expanders run once, after built-in expansion, and their output is not
// re-scanned.
type ExpandFunc func(ctx context.Context, line string) ([]string, error)

type builtinFunc func(ctx context.Context, file, line, args string, depth int) ([]string, error)

// Preprocessor expands %import and %env directives in spec files, then
// applies any caller-registered directives once.
type Preprocessor struct {
	Logger *slog.Logger

	evaluator Evaluator
	maxDepth  int
	builtins  map[string]builtinFunc
	expanders map[string]ExpandFunc
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithEvaluator replaces the shell evaluator used by %env.
func WithEvaluator(evaluator Evaluator) Option {
	return func(p *Preprocessor) {
		if evaluator != nil {
			p.evaluator = evaluator
		}
	}
}

// WithMaxDepth bounds nested directive expansion.
func WithMaxDepth(depth int) Option {
	return func(p *Preprocessor) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preprocessor) {
		p.Logger = logger
	}
}

// New constructs a Preprocessor with the built-in directives registered.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		evaluator: ShellEvaluator{},
		maxDepth:  DefaultMaxDepth,
		builtins:  make(map[string]builtinFunc),
		expanders: make(map[string]ExpandFunc),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.builtins[Prefix+ImportDirective] = p.expandImport
	p.builtins[Prefix+EnvDirective] = p.expandEnv
	return p
}

// AddExpander registers a directive handled in the second, non-recursive pass.
// Names are given without the prefix.
func (p *Preprocessor) AddExpander(name string, fn ExpandFunc) error {
	name = strings.TrimPrefix(strings.TrimSpace(name), Prefix)
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("invalid expander name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("expander %q has no callback", name)
	}
	key := Prefix + name
	if _, exists := p.expanders[key]; exists {
		return fmt.Errorf("%w: %s", ErrExpanderExists, key)
	}
	p.expanders[key] = fn
	return nil
}

// Expand reads path and returns its lines with every directive resolved.
func (p *Preprocessor) Expand(ctx context.Context, path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var content []string
	for _, line := range lines {
		expanded, err := p.expandLine(ctx, path, line, 0)
		if err != nil {
			return nil, err
		}
		content = append(content, expanded...)
	}

	if len(p.expanders) == 0 {
		return content, nil
	}

	final := make([]string, 0, len(content))
	for _, line := range content {
		name, _ := splitDirective(line)
		fn, ok := p.expanders[name]
		if !ok {
			final = append(final, line)
			continue
		}
		replaced, err := fn(ctx, line)
		if err != nil {
			return nil, wrap(path, line, err)
		}
		final = append(final, replaced...)
	}
	return final, nil
}

func (p *Preprocessor) expandLine(ctx context.Context, file, line string, depth int) ([]string, error) {
	name, args := splitDirective(line)
	fn, ok := p.builtins[name]
	if !ok {
		return []string{line}, nil
	}
	if depth >= p.maxDepth {
		return nil, &Error{Path: file, Line: line, Err: fmt.Errorf("%w (%d)", ErrDepthExceeded, p.maxDepth)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, file, line, args, depth)
}

func (p *Preprocessor) expandImport(ctx context.Context, file, line, args string, depth int) ([]string, error) {
	target := strings.TrimSpace(args)
	if target == "" {
		return []string{line}, nil
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(file), target)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, &Error{Path: file, Line: line, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &Error{Path: file, Line: line, Err: fmt.Errorf("%s is not a regular file", target)}
	}

	lines, err := readLines(target)
	if err != nil {
		return nil, &Error{Path: file, Line: line, Err: err}
	}
	logging.Ensure(p.Logger).Debug("importing spec fragment", "from", file, "path", target, "depth", depth+1)

	var out []string
	for _, imported := range lines {
		expanded, err := p.expandLine(ctx, target, imported, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func (p *Preprocessor) expandEnv(ctx context.Context, file, line, args string, depth int) ([]string, error) {
	tokens, err := shlex.Split(args)
	if err != nil {
		return nil, &Error{Path: file, Line: line, Err: err}
	}
	if len(tokens) == 0 {
		return []string{line}, nil
	}

	evaluated := make([]string, 0, len(tokens))
	for _, token := range tokens {
		value, err := p.evaluator.Evaluate(ctx, token)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ctxErr, err)
			}
			return nil, &Error{Path: file, Line: line, Err: err}
		}
		evaluated = append(evaluated, value)
	}

	var out []string
	for _, produced := range strings.Split(strings.Join(evaluated, " "), "\n") {
		expanded, err := p.expandLine(ctx, file, produced, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// splitDirective returns the first word of a left-trimmed line and the rest.
func splitDirective(line string) (string, string) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, Prefix) {
		return "", ""
	}
	idx := strings.IndexAny(trimmed, " \t")
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx+1:]
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", path)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
