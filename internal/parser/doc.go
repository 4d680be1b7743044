// Package parser contains the language adapters that turn one source file
// into a graph fragment (types.IndexResult).
//
// Go files are parsed with go/ast. Python, Java, Rust, JavaScript,
// TypeScript, TSX, C and C++ are parsed with tree-sitter grammars and a set
// of queries per language:
//
//   - definition patterns capture @name and @definition.<kind>
//   - relationship patterns capture @target, plus @source when the source is
//     a named definition (inheritance); otherwise the source is the nearest
//     enclosing function, or the file for imports and top-level calls
//
// Qualified names are built from the module prefix and the chain of
// enclosing definitions, joined with the language delimiter ("::" for Rust,
// C and C++, "." otherwise). Node ids hash the qualified name. A reference
// to a name that is not known concretely yet gets an UNKNOWN placeholder
// node whose id hashes the name as written; the resolution engine later
// points the edge at the real definition.
//
// # Basic Usage
//
//	p := parser.New()
//	lang, ok := parser.LanguageForPath(path)
//	if !ok {
//	    return nil // unsupported files are skipped
//	}
//	result, err := p.IndexFile(ctx, path, source, lang, table)
//
// Syntax errors are returned as non-fatal ErrorInfo entries; the partial
// tree is still indexed.
package parser
