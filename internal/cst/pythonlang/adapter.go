// Package pythonlang maps the tree-sitter Python grammar onto the neutral
// cst.Node union. All grammar knowledge for Python lives here.
package pythonlang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/xkilldash9x/vulntrace/internal/cst"
)

// Adapter parses Python source. Safe for concurrent use: each Parse call
// creates its own tree-sitter parser.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Language() string { return "python" }

func (a *Adapter) Parse(ctx context.Context, source []byte) (*cst.Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cst.ErrParse, err)
	}
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil, fmt.Errorf("%w: syntax error", cst.ErrParse)
	}

	c := &converter{source: source}
	return c.module(root), nil
}

type converter struct {
	source []byte
}

func (c *converter) text(n *sitter.Node) string {
	return string(c.source[n.StartByte():n.EndByte()])
}

func (c *converter) site(n *sitter.Node) cst.Site {
	return cst.Site{
		Line:    int(n.StartPoint().Row) + 1,
		Col:     int(n.StartPoint().Column),
		EndLine: int(n.EndPoint().Row) + 1,
	}
}

func (c *converter) module(root *sitter.Node) *cst.Node {
	return &cst.Node{
		Kind: cst.KindModule,
		Site: c.site(root),
		Body: c.block(root),
	}
}

// block converts the named statement children of a block-like node.
func (c *converter) block(n *sitter.Node) []*cst.Node {
	if n == nil {
		return nil
	}
	var out []*cst.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if s := c.statement(n.NamedChild(i)); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *converter) statement(n *sitter.Node) *cst.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "comment":
		return nil

	case "decorated_definition":
		return c.decorated(n)

	case "function_definition":
		return c.functionDef(n, nil)

	case "class_definition":
		return c.classDef(n, nil)

	case "expression_statement":
		// Unwrap the single wrapped expression; keep multi-expression
		// statements as a generic node.
		if n.NamedChildCount() == 1 {
			return c.expr(n.NamedChild(0))
		}
		return c.generic(n)

	case "if_statement":
		return c.ifStmt(n)

	case "while_statement":
		return &cst.Node{
			Kind: cst.KindWhile,
			Site: c.site(n),
			Text: c.line(n),
			Cond: c.expr(n.ChildByFieldName("condition")),
			Body: c.block(n.ChildByFieldName("body")),
		}

	case "for_statement":
		node := &cst.Node{
			Kind:  cst.KindFor,
			Site:  c.site(n),
			Text:  c.line(n),
			Value: c.expr(n.ChildByFieldName("right")),
			Body:  c.block(n.ChildByFieldName("body")),
		}
		node.Targets = c.targets(n.ChildByFieldName("left"))
		return node

	case "try_statement":
		return c.tryStmt(n)

	case "return_statement":
		node := &cst.Node{Kind: cst.KindReturn, Site: c.site(n), Text: c.line(n)}
		if n.NamedChildCount() > 0 {
			node.Value = c.expr(n.NamedChild(0))
		}
		return node

	case "import_statement":
		return c.importStmt(n)

	case "import_from_statement":
		return c.importFromStmt(n)

	case "with_statement", "match_statement", "raise_statement",
		"assert_statement", "delete_statement", "global_statement",
		"nonlocal_statement", "print_statement":
		return c.generic(n)

	default:
		return c.generic(n)
	}
}

// line returns the first source line of a statement, used as flow context.
func (c *converter) line(n *sitter.Node) string {
	t := c.text(n)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	return t
}

func (c *converter) decorated(n *sitter.Node) *cst.Node {
	var decorators []string
	var def *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "decorator":
			decorators = append(decorators, strings.TrimPrefix(c.text(child), "@"))
		case "function_definition":
			def = child
		case "class_definition":
			def = child
		}
	}
	if def == nil {
		return c.generic(n)
	}
	if def.Type() == "class_definition" {
		return c.classDef(def, decorators)
	}
	return c.functionDef(def, decorators)
}

func (c *converter) functionDef(n *sitter.Node, decorators []string) *cst.Node {
	node := &cst.Node{
		Kind:       cst.KindFunctionDef,
		Site:       c.site(n),
		Text:       c.line(n),
		Decorators: decorators,
		Body:       c.block(n.ChildByFieldName("body")),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		node.Name = c.text(name)
	}
	node.Params = c.params(n.ChildByFieldName("parameters"))
	return node
}

func (c *converter) params(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "identifier":
			out = append(out, c.text(p))
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if id := firstChildOfType(p, "identifier"); id != nil {
				out = append(out, c.text(id))
			}
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil {
				out = append(out, c.text(name))
			}
		}
	}
	return out
}

func (c *converter) classDef(n *sitter.Node, decorators []string) *cst.Node {
	node := &cst.Node{
		Kind:       cst.KindClassDef,
		Site:       c.site(n),
		Text:       c.line(n),
		Decorators: decorators,
		Body:       c.block(n.ChildByFieldName("body")),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		node.Name = c.text(name)
	}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			base := supers.NamedChild(i)
			switch base.Type() {
			case "identifier", "attribute":
				node.Bases = append(node.Bases, c.text(base))
			}
		}
	}
	return node
}

func (c *converter) ifStmt(n *sitter.Node) *cst.Node {
	node := &cst.Node{
		Kind: cst.KindIf,
		Site: c.site(n),
		Text: c.line(n),
		Cond: c.expr(n.ChildByFieldName("condition")),
		Body: c.block(n.ChildByFieldName("consequence")),
	}
	// elif chains become nested if nodes in OrElse, matching how the
	// grammar spells `elif` as an alternative clause.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		alt := n.NamedChild(i)
		switch alt.Type() {
		case "elif_clause":
			elif := &cst.Node{
				Kind: cst.KindIf,
				Site: c.site(alt),
				Text: c.line(alt),
				Cond: c.expr(alt.ChildByFieldName("condition")),
				Body: c.block(alt.ChildByFieldName("consequence")),
			}
			node.OrElse = append(node.OrElse, elif)
		case "else_clause":
			node.OrElse = append(node.OrElse, c.block(alt.ChildByFieldName("body"))...)
		}
	}
	return node
}

func (c *converter) tryStmt(n *sitter.Node) *cst.Node {
	node := &cst.Node{
		Kind: cst.KindTry,
		Site: c.site(n),
		Text: "try:",
		Body: c.block(n.ChildByFieldName("body")),
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "except_clause":
			h := &cst.Node{
				Kind: cst.KindExcept,
				Site: c.site(child),
				Text: c.line(child),
			}
			// except_clause children: optional exception expression(s),
			// then the block.
			for j := 0; j < int(child.NamedChildCount()); j++ {
				part := child.NamedChild(j)
				if part.Type() == "block" {
					h.Body = c.block(part)
				} else if h.Cond == nil {
					h.Cond = c.expr(part)
				}
			}
			node.Handlers = append(node.Handlers, h)
		case "else_clause":
			node.OrElse = append(node.OrElse, c.block(child.ChildByFieldName("body"))...)
		case "finally_clause":
			if body := firstChildOfType(child, "block"); body != nil {
				node.OrElse = append(node.OrElse, c.block(body)...)
			}
		}
	}
	return node
}

func (c *converter) importStmt(n *sitter.Node) *cst.Node {
	node := &cst.Node{Kind: cst.KindImport, Site: c.site(n), Text: c.line(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			node.Names = append(node.Names, cst.Alias{Name: c.text(child)})
		case "aliased_import":
			node.Names = append(node.Names, c.aliasedImport(child))
		}
	}
	return node
}

func (c *converter) importFromStmt(n *sitter.Node) *cst.Node {
	node := &cst.Node{Kind: cst.KindImportFrom, Site: c.site(n), Text: c.line(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name", "relative_import":
			if node.Module == "" {
				node.Module = c.text(child)
			} else {
				node.Names = append(node.Names, cst.Alias{Name: c.text(child)})
			}
		case "aliased_import":
			node.Names = append(node.Names, c.aliasedImport(child))
		case "wildcard_import":
			node.Names = append(node.Names, cst.Alias{Name: "*"})
		case "identifier":
			node.Names = append(node.Names, cst.Alias{Name: c.text(child)})
		}
	}
	return node
}

func (c *converter) aliasedImport(n *sitter.Node) cst.Alias {
	var a cst.Alias
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			a.Name = c.text(child)
		case "identifier":
			a.AsName = c.text(child)
		}
	}
	return a
}

// targets flattens an assignment left-hand side into individual targets.
// Tuple and list patterns contribute each element; subscripts and attributes
// stay whole.
func (c *converter) targets(n *sitter.Node) []*cst.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple":
		var out []*cst.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, c.targets(n.NamedChild(i))...)
		}
		return out
	default:
		if e := c.expr(n); e != nil {
			return []*cst.Node{e}
		}
		return nil
	}
}

func (c *converter) expr(n *sitter.Node) *cst.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "assignment":
		node := &cst.Node{
			Kind:  cst.KindAssign,
			Site:  c.site(n),
			Text:  c.line(n),
			Value: c.expr(n.ChildByFieldName("right")),
		}
		node.Targets = c.targets(n.ChildByFieldName("left"))
		return node

	case "augmented_assignment":
		node := &cst.Node{
			Kind:  cst.KindAugAssign,
			Site:  c.site(n),
			Text:  c.line(n),
			Value: c.expr(n.ChildByFieldName("right")),
		}
		node.Targets = c.targets(n.ChildByFieldName("left"))
		return node

	case "call":
		node := &cst.Node{
			Kind: cst.KindCall,
			Site: c.site(n),
			Text: c.line(n),
			Name: c.dottedPath(n.ChildByFieldName("function")),
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				arg := args.NamedChild(i)
				if arg.Type() == "keyword_argument" {
					if v := arg.ChildByFieldName("value"); v != nil {
						node.Args = append(node.Args, c.expr(v))
						continue
					}
				}
				node.Args = append(node.Args, c.expr(arg))
			}
		}
		// Keep the callee expression reachable for dynamic receivers.
		if node.Name == "" {
			if fn := c.expr(n.ChildByFieldName("function")); fn != nil {
				node.Children = append(node.Children, fn)
			}
		}
		return node

	case "attribute":
		return &cst.Node{
			Kind: cst.KindAttribute,
			Site: c.site(n),
			Text: c.text(n),
			Name: c.dottedPath(n),
		}

	case "identifier":
		return &cst.Node{
			Kind: cst.KindIdentifier,
			Site: c.site(n),
			Text: c.text(n),
			Name: c.text(n),
		}

	case "string", "concatenated_string":
		return c.stringExpr(n)

	case "integer", "float", "true", "false", "none", "ellipsis":
		return &cst.Node{Kind: cst.KindOther, Site: c.site(n), Text: c.text(n)}

	default:
		return c.generic(n)
	}
}

// stringExpr distinguishes plain strings from f-strings: an interpolation
// child makes the node an FString whose children are the embedded
// expressions.
func (c *converter) stringExpr(n *sitter.Node) *cst.Node {
	var interps []*cst.Node
	var walk func(s *sitter.Node)
	walk = func(s *sitter.Node) {
		for i := 0; i < int(s.NamedChildCount()); i++ {
			child := s.NamedChild(i)
			switch child.Type() {
			case "interpolation":
				for j := 0; j < int(child.NamedChildCount()); j++ {
					part := child.NamedChild(j)
					if part.Type() == "format_specifier" || part.Type() == "type_conversion" {
						continue
					}
					if e := c.expr(part); e != nil {
						interps = append(interps, e)
					}
				}
			case "string":
				walk(child)
			}
		}
	}
	walk(n)

	if len(interps) > 0 {
		return &cst.Node{
			Kind:     cst.KindFString,
			Site:     c.site(n),
			Text:     c.text(n),
			Children: interps,
		}
	}
	return &cst.Node{Kind: cst.KindString, Site: c.site(n), Text: c.text(n)}
}

// generic wraps an unclassified node, keeping its named children reachable
// so walks still see every call and identifier beneath it.
func (c *converter) generic(n *sitter.Node) *cst.Node {
	node := &cst.Node{Kind: cst.KindOther, Site: c.site(n), Text: c.line(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if converted := c.dispatch(child); converted != nil {
			node.Children = append(node.Children, converted)
		}
	}
	return node
}

// dispatch routes a node to statement or expression conversion based on the
// grammar's statement suffix convention.
func (c *converter) dispatch(n *sitter.Node) *cst.Node {
	t := n.Type()
	if strings.HasSuffix(t, "_statement") || strings.HasSuffix(t, "_definition") || t == "block" {
		if t == "block" {
			return &cst.Node{Kind: cst.KindOther, Site: c.site(n), Children: c.block(n)}
		}
		return c.statement(n)
	}
	return c.expr(n)
}

// dottedPath flattens identifier/attribute chains like os.path.join into a
// dotted string. Any dynamic link (subscript, call result) yields "".
func (c *converter) dottedPath(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier":
		return c.text(n)
	case "attribute":
		obj := c.dottedPath(n.ChildByFieldName("object"))
		if obj == "" {
			return ""
		}
		attr := n.ChildByFieldName("attribute")
		if attr == nil {
			return ""
		}
		return obj + "." + c.text(attr)
	default:
		return ""
	}
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == typ {
			return child
		}
	}
	return nil
}
