package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codegraph/pkg/types"
)

type compiledRelation struct {
	kind  types.EdgeKind
	query *sitter.Query
}

// compiledLanguage holds the queries of one language. Queries are immutable
// once built and are shared by every goroutine; cursors are per call.
type compiledLanguage struct {
	lang        *sitter.Language
	definitions []*sitter.Query
	relations   []compiledRelation
	module      *sitter.Query
}

// compile builds the queries of l. A pattern the grammar rejects is logged
// and skipped.
func (p *Parser) compile(l *Language) *compiledLanguage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cl, ok := p.compiled[l.Name]; ok {
		return cl
	}

	cl := &compiledLanguage{lang: l.grammar()}
	build := func(pattern string) *sitter.Query {
		q, err := sitter.NewQuery([]byte(pattern), cl.lang)
		if err != nil {
			p.logger.Warn("skipping query pattern",
				"language", l.Name,
				"pattern", pattern,
				"error", err)
			return nil
		}
		return q
	}
	for _, pattern := range l.definitions {
		if q := build(pattern); q != nil {
			cl.definitions = append(cl.definitions, q)
		}
	}
	for _, r := range l.relations {
		if q := build(r.Query); q != nil {
			cl.relations = append(cl.relations, compiledRelation{kind: r.Kind, query: q})
		}
	}
	if l.moduleQuery != "" {
		cl.module = build(l.moduleQuery)
	}
	p.compiled[l.Name] = cl
	return cl
}

type nodeKey struct {
	start, end uint32
	typ        string
}

func keyOf(n *sitter.Node) nodeKey {
	return nodeKey{start: n.StartByte(), end: n.EndByte(), typ: n.Type()}
}

// definition is a captured definition or a naming scope such as an impl block
type definition struct {
	node      *sitter.Node
	nameNode  *sitter.Node
	name      string
	kind      types.NodeKind
	scope     bool
	qualified string
	id        types.NodeID
	parent    *definition
	resolved  bool
}

// tsFile is the state of indexing one file with a tree-sitter grammar
type tsFile struct {
	lang   *Language
	src    []byte
	module string
	frag   *fragment
	defs   map[nodeKey]*definition
	order  []*definition
	byName map[string]types.NodeID
	// moduleID is zero when the file has no module prefix
	moduleID types.NodeID
}

func (p *Parser) indexTreeSitter(ctx context.Context, path string, src []byte, l *Language, f *fragment) error {
	cl := p.compile(l)

	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(cl.lang)

	tree, err := sp.ParseCtx(ctx, nil, src)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()
	root := tree.RootNode()

	if root.HasError() {
		if n := firstErrorNode(root); n != nil {
			pos := n.StartPoint()
			f.syntaxError(fmt.Sprintf("syntax error near %q", n.Type()), int(pos.Row)+1, int(pos.Column)+1)
		} else {
			f.syntaxError("syntax error", 1, 1)
		}
	}

	tf := &tsFile{
		lang:   l,
		src:    src,
		frag:   f,
		defs:   make(map[nodeKey]*definition),
		byName: make(map[string]types.NodeID),
	}
	tf.module = tf.modulePrefix(cl, root, path)

	tf.collectDefinitions(cl, root)
	if err := ctx.Err(); err != nil {
		return err
	}
	tf.emitDefinitions()
	tf.emitRelations(cl, root)
	return ctx.Err()
}

func (tf *tsFile) modulePrefix(cl *compiledLanguage, root *sitter.Node, path string) string {
	if cl.module != nil {
		qc := sitter.NewQueryCursor()
		defer qc.Close()
		qc.Exec(cl.module, root)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			if len(m.Captures) > 0 {
				return m.Captures[0].Node.Content(tf.src)
			}
		}
	}
	if tf.lang.modulePath != nil {
		return tf.lang.modulePath(path)
	}
	return ""
}

func (tf *tsFile) collectDefinitions(cl *compiledLanguage, root *sitter.Node) {
	for _, q := range cl.definitions {
		qc := sitter.NewQueryCursor()
		qc.Exec(q, root)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			d := &definition{}
			for _, c := range m.Captures {
				capture := q.CaptureNameForId(c.Index)
				switch {
				case capture == "name":
					d.nameNode = c.Node
				case capture == "scope":
					d.node = c.Node
					d.scope = true
				case strings.HasPrefix(capture, "definition."):
					d.node = c.Node
					d.kind = definitionKinds[strings.TrimPrefix(capture, "definition.")]
				}
			}
			if d.node == nil || d.nameNode == nil {
				continue
			}
			key := keyOf(d.node)
			if _, exists := tf.defs[key]; exists {
				continue
			}
			d.name = strings.TrimSpace(d.nameNode.Content(tf.src))
			if d.name == "" {
				continue
			}
			tf.defs[key] = d
			tf.order = append(tf.order, d)
		}
		qc.Close()
	}

	// Document order puts containers before their members
	sort.SliceStable(tf.order, func(i, j int) bool {
		a, b := tf.order[i].node, tf.order[j].node
		if a.StartByte() != b.StartByte() {
			return a.StartByte() < b.StartByte()
		}
		return a.EndByte() > b.EndByte()
	})
}

// enclosing returns the nearest definition strictly containing n
func (tf *tsFile) enclosing(n *sitter.Node) *definition {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if d, ok := tf.defs[keyOf(p)]; ok {
			return d
		}
	}
	return nil
}

func (tf *tsFile) qualify(d *definition) {
	if d.resolved {
		return
	}
	d.resolved = true
	d.parent = tf.enclosing(d.node)
	prefix := tf.module
	if d.parent != nil {
		tf.qualify(d.parent)
		prefix = d.parent.qualified
	}
	d.qualified = joinQualified(prefix, tf.lang.Delimiter, d.name)
	d.id = types.GenerateID(d.qualified)

	if d.kind == types.NodeFunction && d.parent != nil {
		switch {
		case d.parent.scope:
			d.kind = types.NodeMethod
		case d.parent.kind == types.NodeClass, d.parent.kind == types.NodeStruct,
			d.parent.kind == types.NodeInterface, d.parent.kind == types.NodeUnion,
			d.parent.kind == types.NodeEnum:
			d.kind = types.NodeMethod
		}
	}
}

func (tf *tsFile) emitDefinitions() {
	f := tf.frag
	if tf.module != "" {
		tf.moduleID = f.unowned(tf.module, tf.module, tf.lang.moduleKind)
	}
	for _, d := range tf.order {
		tf.qualify(d)
		if d.scope {
			continue
		}
		name := d.name
		if i := strings.LastIndex(name, tf.lang.Delimiter); i >= 0 {
			name = name[i+len(tf.lang.Delimiter):]
		}
		nameSpan := spanOf(d.nameNode)
		f.define(name, d.qualified, d.kind, spanOf(d.node), nameSpan)
		if _, ok := tf.byName[name]; !ok {
			tf.byName[name] = d.id
		}

		if d.parent != nil {
			container := d.parent.id
			if d.parent.scope {
				container = f.reference(d.parent.qualified)
			}
			f.edge(container, d.id, types.EdgeMember, &nameSpan)
		} else if tf.moduleID != 0 {
			f.edge(tf.moduleID, d.id, types.EdgeMember, &nameSpan)
		}
	}
}

// enclosingCallable returns the nearest enclosing function, method or macro
func (tf *tsFile) enclosingCallable(n *sitter.Node) *definition {
	for d := tf.enclosing(n); d != nil; d = d.parent {
		switch d.kind {
		case types.NodeFunction, types.NodeMethod, types.NodeMacro:
			if !d.scope {
				return d
			}
		}
	}
	return nil
}

func (tf *tsFile) emitRelations(cl *compiledLanguage, root *sitter.Node) {
	f := tf.frag
	for _, rel := range cl.relations {
		qc := sitter.NewQueryCursor()
		qc.Exec(rel.query, root)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			var sourceNode, targetNode *sitter.Node
			for _, c := range m.Captures {
				switch rel.query.CaptureNameForId(c.Index) {
				case "source":
					sourceNode = c.Node
				case "target":
					targetNode = c.Node
				}
			}
			if targetNode == nil {
				continue
			}
			written := cleanTarget(targetNode.Content(tf.src))
			if written == "" {
				continue
			}

			var source types.NodeID
			switch {
			case sourceNode != nil:
				name := strings.TrimSpace(sourceNode.Content(tf.src))
				if id, ok := tf.byName[name]; ok {
					source = id
				} else {
					source = f.reference(name)
				}
			case rel.kind == types.EdgeImport || rel.kind == types.EdgeInclude:
				source = f.fileID
			case rel.kind == types.EdgeAnnotationUsage:
				source = f.fileID
				if d := tf.enclosing(targetNode); d != nil && !d.scope {
					source = d.id
				}
			default:
				source = f.fileID
				if d := tf.enclosingCallable(targetNode); d != nil {
					source = d.id
				}
			}

			var target types.NodeID
			if id, ok := tf.byName[written]; ok && rel.kind != types.EdgeCall && rel.kind != types.EdgeImport {
				target = id
			} else {
				target = f.reference(written)
			}
			at := spanOf(targetNode)
			f.edge(source, target, rel.kind, &at)
			occKind := types.OccurrenceReference
			if rel.kind == types.EdgeMacroUsage {
				occKind = types.OccurrenceMacroReference
			}
			f.occurrence(target, occKind, at)
		}
		qc.Close()
	}
}

// cleanTarget strips the quoting of import paths and include directives
func cleanTarget(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`<>")
}

func spanOf(n *sitter.Node) types.Span {
	start, end := n.StartPoint(), n.EndPoint()
	return types.Span{
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column),
	}
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}
