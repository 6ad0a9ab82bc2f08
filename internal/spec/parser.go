package spec

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/preprocess"
)

// Resolver finds the strategy registered under an identifier.
type Resolver interface {
	Lookup(id string) (Strategy, bool)
}

// Parser turns spec files into validated Metadata.
type Parser struct {
	Logger *slog.Logger

	resolver       Resolver
	preprocessOpts []preprocess.Option
	expanders      []namedExpander
}

type namedExpander struct {
	name string
	fn   preprocess.ExpandFunc
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithPreprocessOptions forwards options to the preprocessor of every parse.
func WithPreprocessOptions(opts ...preprocess.Option) ParserOption {
	return func(p *Parser) {
		p.preprocessOpts = append(p.preprocessOpts, opts...)
	}
}

// WithExpander registers a caller directive applied after macro expansion.
func WithExpander(name string, fn preprocess.ExpandFunc) ParserOption {
	return func(p *Parser) {
		p.expanders = append(p.expanders, namedExpander{name: name, fn: fn})
	}
}

// WithParserLogger sets the parser logger.
func WithParserLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		p.Logger = logger
	}
}

// NewParser constructs a Parser resolving strategies through resolver.
func NewParser(resolver Resolver, opts ...ParserOption) *Parser {
	p := &Parser{resolver: resolver}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Expand returns the preprocessed lines of path.
func (p *Parser) Expand(ctx context.Context, path string) ([]string, error) {
	pre := preprocess.New(append([]preprocess.Option{preprocess.WithLogger(p.logger())}, p.preprocessOpts...)...)
	for _, e := range p.expanders {
		if err := pre.AddExpander(e.name, e.fn); err != nil {
			return nil, err
		}
	}
	return pre.Expand(ctx, path)
}

// Lines returns the preprocessed lines of path with comments and blank
// lines removed.
func (p *Parser) Lines(ctx context.Context, path string) ([]string, error) {
	content, err := p.Expand(ctx, path)
	if err != nil {
		return nil, err
	}
	return genericLines(content), nil
}

// ExecutionStrategy returns the execution_strategy value declared in path.
func (p *Parser) ExecutionStrategy(ctx context.Context, path string) (string, error) {
	lines, err := p.Lines(ctx, path)
	if err != nil {
		return "", err
	}
	return executionStrategy(path, lines)
}

// Parse preprocesses path, resolves its strategy and applies the strategy
// schema to every line.
func (p *Parser) Parse(ctx context.Context, path string) (Metadata, error) {
	lines, err := p.Lines(ctx, path)
	if err != nil {
		return nil, err
	}

	id, err := executionStrategy(path, lines)
	if err != nil {
		return nil, err
	}

	var strategy Strategy
	if p.resolver != nil {
		strategy, _ = p.resolver.Lookup(id)
	}
	if strategy == nil {
		return nil, &FileError{Path: path, Key: ExecutionStrategyKey, Value: id, Message: "unsupported execution strategy"}
	}

	logger := p.logger().With(logging.SpecKey, path, "strategy", id)
	metadata := parseLines(logger, strategy.Parameters(), lines)
	metadata[StrategyKey] = strategy

	for _, key := range strategy.VitalParameters() {
		if _, ok := metadata[key]; !ok {
			return nil, &FileError{Path: path, Key: key, Message: "missing or invalid vital parameter"}
		}
	}
	return metadata, nil
}

func (p *Parser) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}

func parseLines(logger *slog.Logger, schema Schema, lines []string) Metadata {
	metadata := make(Metadata)
	current := ""

	for _, line := range lines {
		key, value, isStatement := splitStatement(line)

		if _, ok := schema[key]; isStatement && ok {
			current = key
		} else if current != "" {
			key, value = current, strings.TrimSpace(line)
			if value == "" {
				continue
			}
		} else {
			continue
		}

		param := schema[key]
		if param.Parse == nil {
			continue
		}
		parsed, ok := param.Parse(value)
		if !ok {
			logger.Debug("dropping unparsable value", "key", key, "value", value)
			continue
		}
		if param.Verify != nil && !param.Verify(parsed) {
			logger.Debug("dropping rejected value", "key", key, "value", value)
			continue
		}
		if !metadata.merge(key, parsed) {
			logger.Debug("dropping repeated value", "key", key, "value", value)
		}
	}
	return metadata
}

func executionStrategy(path string, lines []string) (string, error) {
	for _, line := range lines {
		if !strings.HasPrefix(line, ExecutionStrategyKey) {
			continue
		}
		key, value, ok := splitStatement(line)
		if !ok || key != ExecutionStrategyKey {
			continue
		}
		return value, nil
	}
	return "", &FileError{Path: path, Key: ExecutionStrategyKey, Message: "no execution strategy declared"}
}

// splitStatement splits "key: value" at the first colon.
func splitStatement(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// genericLines strips comments and drops blank lines.
func genericLines(content []string) []string {
	out := make([]string, 0, len(content))
	for _, line := range content {
		line = strings.TrimSpace(stripComment(line))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// stripComment cuts line at the first unescaped '#'. "\#" yields a literal '#'.
func stripComment(line string) string {
	if !strings.Contains(line, "#") {
		return line
	}
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '#':
			b.WriteByte('#')
			i++
		case line[i] == '#':
			return b.String()
		default:
			b.WriteByte(line[i])
		}
	}
	return b.String()
}
