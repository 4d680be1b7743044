package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dshills/codegraph/internal/symboltable"
	"github.com/dshills/codegraph/pkg/types"
)

// Parser turns one source file into a graph fragment. It is safe for
// concurrent use; compiled tree-sitter queries are shared across calls.
type Parser struct {
	logger *slog.Logger

	mu       sync.Mutex
	compiled map[string]*compiledLanguage
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger used for query compilation warnings
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a new Parser instance
func New(opts ...Option) *Parser {
	p := &Parser{
		logger:   slog.Default(),
		compiled: make(map[string]*compiledLanguage),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexFile parses source as lang and returns its nodes, edges, occurrences
// and diagnostics. Definitions are registered in table (which may be nil) and
// references to names the table already knows concretely do not produce
// UNKNOWN placeholders.
//
// Syntax errors are reported in the result, not as an error. An error is
// returned only when the file could not be processed at all.
func (p *Parser) IndexFile(ctx context.Context, path string, source []byte, lang *Language, table *symboltable.Table) (*types.IndexResult, error) {
	if lang == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLanguage, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := newFragment(path, countLines(source), table)
	var err error
	if lang.IsTreeSitter() {
		err = p.indexTreeSitter(ctx, path, source, lang, f)
	} else {
		err = p.indexGo(ctx, path, source, f)
	}
	if err != nil {
		return nil, err
	}
	return f.finish(), nil
}

// IndexPath selects the adapter from the file extension and indexes source
func (p *Parser) IndexPath(ctx context.Context, path string, source []byte, table *symboltable.Table) (*types.IndexResult, error) {
	lang, ok := LanguageForPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLanguage, path)
	}
	return p.IndexFile(ctx, path, source, lang, table)
}
