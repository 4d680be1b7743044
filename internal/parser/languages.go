package parser

import (
	"path"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/codegraph/pkg/types"
)

// Relation is one relationship query. A query either captures @source and
// @target (the source is a definition name) or only @target, in which case
// the source is the enclosing callable or the file.
type Relation struct {
	Kind  types.EdgeKind
	Query string
}

// Language describes one adapter. Go is parsed with go/ast; every other
// language runs its tree-sitter grammar against the queries below.
type Language struct {
	Name       string
	Extensions []string
	// Delimiter joins the segments of a qualified name
	Delimiter string

	grammar func() *sitter.Language
	// definitions capture @name and @definition.<kind>, or @name and @scope
	// for containers that are not definitions themselves (rust impl blocks)
	definitions []string
	relations   []Relation
	// moduleQuery captures @module when the module name lives in the source
	moduleQuery string
	// modulePath derives the module prefix from the file path
	modulePath func(p string) string
	// moduleKind is the kind of the node standing for the module prefix.
	// The zero value is MODULE.
	moduleKind types.NodeKind
}

// IsTreeSitter reports whether the language is parsed with a tree-sitter grammar
func (l *Language) IsTreeSitter() bool {
	return l.grammar != nil
}

var languages = []*Language{
	{
		Name:       "go",
		Extensions: []string{".go"},
		Delimiter:  ".",
	},
	{
		Name:        "python",
		Extensions:  []string{".py"},
		Delimiter:   ".",
		grammar:     python.GetLanguage,
		definitions: pythonDefinitions,
		relations:   pythonRelations,
		modulePath: func(p string) string {
			mod := dottedPath(p, ".")
			mod = strings.TrimSuffix(mod, ".__init__")
			if mod == "__init__" {
				return ""
			}
			return mod
		},
	},
	{
		Name:        "java",
		Extensions:  []string{".java"},
		Delimiter:   ".",
		grammar:     java.GetLanguage,
		definitions: javaDefinitions,
		relations:   javaRelations,
		moduleQuery: `(package_declaration [(scoped_identifier) (identifier)] @module)`,
		moduleKind:  types.NodePackage,
	},
	{
		Name:        "rust",
		Extensions:  []string{".rs"},
		Delimiter:   "::",
		grammar:     rust.GetLanguage,
		definitions: rustDefinitions,
		relations:   rustRelations,
		modulePath:  rustModulePath,
	},
	{
		Name:        "javascript",
		Extensions:  []string{".js", ".jsx", ".mjs", ".cjs"},
		Delimiter:   ".",
		grammar:     javascript.GetLanguage,
		definitions: javascriptDefinitions,
		relations:   javascriptRelations,
		modulePath:  func(p string) string { return dottedPath(p, ".") },
	},
	{
		Name:        "typescript",
		Extensions:  []string{".ts", ".mts", ".cts"},
		Delimiter:   ".",
		grammar:     typescript.GetLanguage,
		definitions: typescriptDefinitions,
		relations:   typescriptRelations,
		modulePath:  func(p string) string { return dottedPath(p, ".") },
	},
	{
		Name:        "tsx",
		Extensions:  []string{".tsx"},
		Delimiter:   ".",
		grammar:     tsx.GetLanguage,
		definitions: typescriptDefinitions,
		relations:   typescriptRelations,
		modulePath:  func(p string) string { return dottedPath(p, ".") },
	},
	{
		Name:        "c",
		Extensions:  []string{".c"},
		Delimiter:   "::",
		grammar:     c.GetLanguage,
		definitions: cDefinitions,
		relations:   cRelations,
	},
	{
		Name:        "cpp",
		Extensions:  []string{".cpp", ".cc", ".cxx", ".h", ".hpp", ".hh", ".hxx"},
		Delimiter:   "::",
		grammar:     cpp.GetLanguage,
		definitions: cppDefinitions,
		relations:   cppRelations,
	},
}

var byExtension = func() map[string]*Language {
	m := make(map[string]*Language)
	for _, l := range languages {
		for _, ext := range l.Extensions {
			m[ext] = l
		}
	}
	return m
}()

// LanguageForExt returns the adapter for a file extension (with or without
// the leading dot). The second result is false for unsupported extensions.
func LanguageForExt(ext string) (*Language, bool) {
	if ext == "" {
		return nil, false
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l, ok := byExtension[strings.ToLower(ext)]
	return l, ok
}

// LanguageForPath returns the adapter for a file path
func LanguageForPath(p string) (*Language, bool) {
	return LanguageForExt(filepath.Ext(p))
}

// Supported reports whether some adapter handles the file
func Supported(p string) bool {
	_, ok := LanguageForPath(p)
	return ok
}

// Languages returns the names of every adapter
func Languages() []string {
	names := make([]string, 0, len(languages))
	for _, l := range languages {
		names = append(names, l.Name)
	}
	return names
}

// dottedPath turns "pkg/sub/mod.py" into "pkg<delim>sub<delim>mod"
func dottedPath(p, delim string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	p = strings.TrimSuffix(p, path.Ext(p))
	if p == "." || p == "" {
		return ""
	}
	return strings.ReplaceAll(p, "/", delim)
}

// rustModulePath maps a file to its crate-relative module: src/a/mod.rs is
// "a", src/a/b.rs is "a::b" and src/lib.rs is the crate root.
func rustModulePath(p string) string {
	segs := strings.Split(dottedPath(p, "/"), "/")
	for i, s := range segs {
		if s == "src" {
			segs = segs[i+1:]
			break
		}
	}
	if n := len(segs); n > 0 {
		switch segs[n-1] {
		case "mod", "lib", "main":
			segs = segs[:n-1]
		}
	}
	return strings.Join(segs, "::")
}
