package resolution

import (
	"path"
	"sort"
	"strings"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// SemanticMatch is a candidate proposed by a SemanticResolver
type SemanticMatch struct {
	Candidate
	// Distant matches lie outside the caller's file and class, or were
	// found by a loose path match. They score SuffixPenalty lower.
	Distant bool
}

// SemanticResolver applies language rules to an edge that no name-based
// tier could place. It only sees candidates of the strategy's kinds.
type SemanticResolver interface {
	Language() string
	// Extensions lists the file extensions, with the leading dot, of the
	// files whose edges the resolver handles
	Extensions() []string
	Resolve(kind types.EdgeKind, idx *CandidateIndex, row storage.UnresolvedEdgeRow) []SemanticMatch
}

// SemanticResolvers picks a resolver by the extension of the file an edge
// was written in. A nil *SemanticResolvers resolves nothing.
type SemanticResolvers struct {
	byExt map[string]SemanticResolver
}

// NewSemanticResolvers registers resolvers. A later resolver claiming an
// extension replaces an earlier one.
func NewSemanticResolvers(resolvers ...SemanticResolver) *SemanticResolvers {
	s := &SemanticResolvers{byExt: make(map[string]SemanticResolver)}
	for _, r := range resolvers {
		for _, ext := range r.Extensions() {
			s.byExt[strings.ToLower(ext)] = r
		}
	}
	return s
}

// DefaultSemanticResolvers returns the Java and TypeScript resolvers
func DefaultSemanticResolvers() *SemanticResolvers {
	return NewSemanticResolvers(JavaResolver{}, TypeScriptResolver{})
}

// For returns the resolver for the file at filePath
func (s *SemanticResolvers) For(filePath string) (SemanticResolver, bool) {
	if s == nil || filePath == "" {
		return nil, false
	}
	r, ok := s.byExt[strings.ToLower(path.Ext(filePath))]
	return r, ok
}

// Languages returns the registered language names, sorted
func (s *SemanticResolvers) Languages() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, r := range s.byExt {
		if _, ok := seen[r.Language()]; ok {
			continue
		}
		seen[r.Language()] = struct{}{}
		names = append(names, r.Language())
	}
	sort.Strings(names)
	return names
}

// JavaResolver knows that calls are written as bare method names and that
// an import names a type or member inside a package
type JavaResolver struct{}

func (JavaResolver) Language() string     { return "java" }
func (JavaResolver) Extensions() []string { return []string{".java"} }

func (JavaResolver) Resolve(kind types.EdgeKind, idx *CandidateIndex, row storage.UnresolvedEdgeRow) []SemanticMatch {
	switch kind {
	case types.EdgeCall:
		return methodMatches(idx, row)
	case types.EdgeImport:
		// com.acme.util.Helper and com.acme.util.Helper.run both live in
		// com.acme.util
		for pkg := container(row.TargetName); pkg != ""; pkg = container(pkg) {
			if m := exactMatches(idx, pkg); len(m) > 0 {
				return m
			}
		}
	}
	return nil
}

// TypeScriptResolver handles TypeScript and JavaScript. Module specifiers
// are resolved against the importing file the way a bundler would.
type TypeScriptResolver struct{}

func (TypeScriptResolver) Language() string { return "typescript" }

func (TypeScriptResolver) Extensions() []string {
	return []string{".ts", ".mts", ".cts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
}

func (TypeScriptResolver) Resolve(kind types.EdgeKind, idx *CandidateIndex, row storage.UnresolvedEdgeRow) []SemanticMatch {
	switch kind {
	case types.EdgeCall:
		return methodMatches(idx, row)
	case types.EdgeImport:
		return moduleSpecifierMatches(idx, row)
	}
	return nil
}

// methodMatches proposes callables named like the call. Those in the
// caller's file or class are near, the rest distant.
func methodMatches(idx *CandidateIndex, row storage.UnresolvedEdgeRow) []SemanticMatch {
	name := lastSegment(row.TargetName)
	if name == "" {
		return nil
	}
	class := container(row.CallerQualifiedName)
	var matches []SemanticMatch
	for _, c := range idx.Lookup(name) {
		if lastSegment(c.Name) != name {
			continue
		}
		sameFile := c.FileNodeID != nil && row.FileNodeID != nil && *c.FileNodeID == *row.FileNodeID
		sameClass := class != "" && container(c.Qualified) == class
		matches = append(matches, SemanticMatch{Candidate: c, Distant: !sameFile && !sameClass})
	}
	return matches
}

func moduleSpecifierMatches(idx *CandidateIndex, row storage.UnresolvedEdgeRow) []SemanticMatch {
	spec := strings.TrimSpace(row.TargetName)
	if spec == "" {
		return nil
	}
	if strings.HasPrefix(spec, ".") && row.FilePath != "" {
		target := path.Join(path.Dir(row.FilePath), spec)
		for _, name := range moduleNames(target) {
			if m := exactMatches(idx, name); len(m) > 0 {
				return m
			}
		}
		return nil
	}
	// A bare specifier may still name a workspace module by its trailing path
	for _, name := range moduleNames(strings.TrimPrefix(spec, "@")) {
		var matches []SemanticMatch
		for _, c := range idx.Lookup(name) {
			if c.Qualified == name || endsAtBoundary(c.Qualified, name) {
				matches = append(matches, SemanticMatch{Candidate: c, Distant: true})
			}
		}
		if len(matches) > 0 {
			return matches
		}
	}
	return nil
}

var scriptExtensions = map[string]struct{}{
	".ts": {}, ".mts": {}, ".cts": {}, ".tsx": {},
	".js": {}, ".jsx": {}, ".mjs": {}, ".cjs": {},
}

// moduleNames returns the dotted module names a slash path may refer to:
// the path itself and its index file
func moduleNames(p string) []string {
	p = strings.TrimSuffix(path.Clean(p), "/")
	if _, ok := scriptExtensions[path.Ext(p)]; ok {
		p = strings.TrimSuffix(p, path.Ext(p))
	}
	if p == "." || p == "" {
		return nil
	}
	dotted := strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", ".")
	if strings.HasSuffix(dotted, ".index") {
		return []string{dotted, strings.TrimSuffix(dotted, ".index")}
	}
	return []string{dotted, dotted + ".index"}
}

func exactMatches(idx *CandidateIndex, qualified string) []SemanticMatch {
	var matches []SemanticMatch
	for _, c := range idx.Lookup(qualified) {
		if c.Qualified == qualified {
			matches = append(matches, SemanticMatch{Candidate: c})
		}
	}
	return matches
}
