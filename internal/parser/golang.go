package parser

import (
	"context"
	"errors"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	gotypes "go/types"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/codegraph/pkg/types"
)

// goExtractor walks one Go file and records its definitions, calls and
// imports into a fragment
type goExtractor struct {
	fset   *token.FileSet
	frag   *fragment
	prefix string
	pkgID  types.NodeID
	// imports maps a file-local package name to its import path
	imports map[string]string
}

func (p *Parser) indexGo(ctx context.Context, filePath string, src []byte, f *fragment) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, src, parser.SkipObjectResolution)
	if err != nil {
		// Syntax errors are non-fatal; keep whatever AST was recovered
		var list scanner.ErrorList
		if errors.As(err, &list) && len(list) > 0 {
			f.syntaxError("syntax error: "+list[0].Msg, list[0].Pos.Line, list[0].Pos.Column)
		} else {
			f.syntaxError("syntax error: "+err.Error(), 1, 1)
		}
	}
	if file == nil || file.Name == nil || file.Name.Name == "_" || file.Name.Name == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := &goExtractor{
		fset:    fset,
		frag:    f,
		prefix:  goPackagePath(filePath, file.Name.Name),
		imports: make(map[string]string),
	}
	e.pkgID = f.unowned(file.Name.Name, e.prefix, types.NodePackage)
	f.occurrence(e.pkgID, types.OccurrenceReference, e.span(file.Name.Pos(), file.Name.End()))

	e.extractImports(file)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	return ctx.Err()
}

// goPackagePath qualifies a package by its directory so that two packages
// sharing a name stay distinct
func goPackagePath(filePath, name string) string {
	dir := path.Dir(filepath.ToSlash(filePath))
	dir = strings.TrimPrefix(dir, "./")
	dir = strings.TrimLeft(dir, "/")
	if dir == "." || dir == "" {
		dir = name
	}
	if strings.HasSuffix(name, "_test") && !strings.HasSuffix(dir, "_test") {
		dir += "_test"
	}
	return dir
}

func (e *goExtractor) extractImports(file *ast.File) {
	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil || importPath == "" {
			continue
		}
		local := path.Base(importPath)
		if imp.Name != nil {
			local = imp.Name.Name
		}
		if local != "_" && local != "." {
			e.imports[local] = importPath
		}

		at := e.span(imp.Path.Pos(), imp.Path.End())
		target := e.frag.reference(importPath)
		e.frag.edge(e.frag.fileID, target, types.EdgeImport, &at)
		e.frag.occurrence(target, types.OccurrenceReference, at)
	}
}

func (e *goExtractor) qualify(names ...string) string {
	return e.prefix + "." + strings.Join(names, ".")
}

// define records a top-level or member definition, linking it to its container
func (e *goExtractor) define(container types.NodeID, ident *ast.Ident, qualified string, kind types.NodeKind, node ast.Node) types.NodeID {
	nameSpan := e.span(ident.Pos(), ident.End())
	id := e.frag.define(ident.Name, qualified, kind, e.span(node.Pos(), node.End()), nameSpan)
	e.frag.edge(container, id, types.EdgeMember, &nameSpan)
	return id
}

// extractFunction records a function or method and the calls in its body
func (e *goExtractor) extractFunction(fn *ast.FuncDecl) {
	container := e.pkgID
	qualified := e.qualify(fn.Name.Name)
	kind := types.NodeFunction

	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		if recv := extractReceiverType(fn.Recv.List[0].Type); recv != "" {
			kind = types.NodeMethod
			qualified = e.qualify(recv, fn.Name.Name)
			// The receiver type may be declared in a sibling file
			container = e.frag.reference(e.qualify(recv))
		}
	}

	id := e.define(container, fn.Name, qualified, kind, fn)
	if fn.Body != nil {
		e.extractCalls(id, fn.Body)
	}
}

// extractGenDecl records types, constants and package-level variables
func (e *goExtractor) extractGenDecl(gd *ast.GenDecl) {
	for _, spec := range gd.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s)
		case *ast.ValueSpec:
			e.extractValueSpec(s, gd.Tok)
		}
	}
}

func (e *goExtractor) extractTypeSpec(ts *ast.TypeSpec) {
	kind := types.NodeTypedef
	switch ts.Type.(type) {
	case *ast.StructType:
		kind = types.NodeStruct
	case *ast.InterfaceType:
		kind = types.NodeInterface
	}
	id := e.define(e.pkgID, ts.Name, e.qualify(ts.Name.Name), kind, ts)

	switch t := ts.Type.(type) {
	case *ast.StructType:
		e.extractMembers(id, ts.Name.Name, t.Fields, types.NodeField)
	case *ast.InterfaceType:
		e.extractMembers(id, ts.Name.Name, t.Methods, types.NodeMethod)
	}
}

// extractMembers records named struct fields or interface methods.
// Embedded members have no name of their own and are skipped.
func (e *goExtractor) extractMembers(owner types.NodeID, typeName string, fields *ast.FieldList, kind types.NodeKind) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		for _, name := range field.Names {
			e.define(owner, name, e.qualify(typeName, name.Name), kind, field)
		}
	}
}

func (e *goExtractor) extractValueSpec(vs *ast.ValueSpec, tok token.Token) {
	kind := types.NodeGlobalVariable
	if tok == token.CONST {
		kind = types.NodeConstant
	}
	for _, name := range vs.Names {
		if name.Name == "_" {
			continue
		}
		e.define(e.pkgID, name, e.qualify(name.Name), kind, vs)
	}
	for _, v := range vs.Values {
		e.extractCalls(e.frag.fileID, v)
	}
}

// extractCalls records a CALL edge from caller for every call in node.
// Calls inside function literals belong to the enclosing declaration.
func (e *goExtractor) extractCalls(caller types.NodeID, node ast.Node) {
	ast.Inspect(node, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		written, at := e.callee(call.Fun)
		if written == "" {
			return true
		}
		target := e.frag.reference(written)
		span := e.span(at.Pos(), at.End())
		e.frag.edge(caller, target, types.EdgeCall, &span)
		e.frag.occurrence(target, types.OccurrenceReference, span)
		return true
	})
}

// callee returns the name a call is written with and the identifier to
// place it at. Predeclared functions and conversions are ignored.
func (e *goExtractor) callee(fun ast.Expr) (string, *ast.Ident) {
	switch f := fun.(type) {
	case *ast.Ident:
		if gotypes.Universe.Lookup(f.Name) != nil {
			return "", nil
		}
		return f.Name, f
	case *ast.SelectorExpr:
		if pkg, ok := f.X.(*ast.Ident); ok {
			if importPath, imported := e.imports[pkg.Name]; imported {
				return path.Base(importPath) + "." + f.Sel.Name, f.Sel
			}
		}
		return f.Sel.Name, f.Sel
	case *ast.IndexExpr:
		return e.callee(f.X)
	case *ast.IndexListExpr:
		return e.callee(f.X)
	case *ast.ParenExpr:
		return e.callee(f.X)
	}
	return "", nil
}

// extractReceiverType extracts the receiver type name from a method
func extractReceiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return extractReceiverType(t.X)
	case *ast.IndexExpr:
		return extractReceiverType(t.X)
	case *ast.IndexListExpr:
		return extractReceiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// span converts a token range to a 1-based inclusive span
func (e *goExtractor) span(start, end token.Pos) types.Span {
	s, t := e.fset.Position(start), e.fset.Position(end)
	return types.Span{
		StartLine: s.Line,
		StartCol:  s.Column,
		EndLine:   t.Line,
		EndCol:    max(t.Column-1, 1),
	}
}
