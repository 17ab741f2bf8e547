// Package jslang maps the tree-sitter JavaScript grammar onto the neutral
// cst.Node union.
package jslang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/xkilldash9x/vulntrace/internal/cst"
)

// Adapter parses JavaScript source. Safe for concurrent use.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Language() string { return "javascript" }

func (a *Adapter) Parse(ctx context.Context, source []byte) (*cst.Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cst.ErrParse, err)
	}
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil, fmt.Errorf("%w: syntax error", cst.ErrParse)
	}

	c := &converter{source: source}
	return &cst.Node{
		Kind: cst.KindModule,
		Site: c.site(root),
		Body: c.block(root),
	}, nil
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

func (c *converter) line(n *sitter.Node) string {
	t := c.text(n)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	return t
}

func (c *converter) block(n *sitter.Node) []*cst.Node {
	if n == nil {
		return nil
	}
	var out []*cst.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, c.statements(n.NamedChild(i))...)
	}
	return out
}

// statements converts one grammar statement; a declaration with several
// declarators yields one Assign per declarator.
func (c *converter) statements(n *sitter.Node) []*cst.Node {
	if n == nil || n.Type() == "comment" {
		return nil
	}
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		return []*cst.Node{c.functionDef(n)}

	case "class_declaration":
		return []*cst.Node{c.classDef(n)}

	case "variable_declaration", "lexical_declaration":
		var out []*cst.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			d := n.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			name := d.ChildByFieldName("name")
			value := d.ChildByFieldName("value")
			if name == nil || value == nil {
				continue
			}
			// A declarator holding a function expression is a definition,
			// not a data-flow assignment.
			if isFunctionExpr(value) {
				fn := c.functionDef(value)
				if fn.Name == "" {
					fn.Name = c.text(name)
				}
				out = append(out, fn)
				continue
			}
			out = append(out, &cst.Node{
				Kind:    cst.KindAssign,
				Site:    c.site(d),
				Text:    c.line(n),
				Targets: []*cst.Node{c.expr(name)},
				Value:   c.expr(value),
			})
		}
		if len(out) == 0 {
			return []*cst.Node{c.generic(n)}
		}
		return out

	case "expression_statement":
		if n.NamedChildCount() == 1 {
			return []*cst.Node{c.expr(n.NamedChild(0))}
		}
		return []*cst.Node{c.generic(n)}

	case "if_statement":
		node := &cst.Node{
			Kind: cst.KindIf,
			Site: c.site(n),
			Text: c.line(n),
			Cond: c.condition(n.ChildByFieldName("condition")),
			Body: c.branch(n.ChildByFieldName("consequence")),
		}
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			// else_clause wraps either a block or a chained if.
			for i := 0; i < int(alt.NamedChildCount()); i++ {
				node.OrElse = append(node.OrElse, c.statements(alt.NamedChild(i))...)
			}
		}
		return []*cst.Node{node}

	case "while_statement", "do_statement":
		return []*cst.Node{{
			Kind: cst.KindWhile,
			Site: c.site(n),
			Text: c.line(n),
			Cond: c.condition(n.ChildByFieldName("condition")),
			Body: c.branch(n.ChildByFieldName("body")),
		}}

	case "for_statement", "for_in_statement":
		node := &cst.Node{
			Kind: cst.KindFor,
			Site: c.site(n),
			Text: c.line(n),
			Body: c.branch(n.ChildByFieldName("body")),
		}
		if left := n.ChildByFieldName("left"); left != nil {
			node.Targets = []*cst.Node{c.expr(left)}
		}
		if right := n.ChildByFieldName("right"); right != nil {
			node.Value = c.expr(right)
		}
		if cond := n.ChildByFieldName("condition"); cond != nil {
			node.Cond = c.condition(cond)
		}
		return []*cst.Node{node}

	case "try_statement":
		node := &cst.Node{
			Kind: cst.KindTry,
			Site: c.site(n),
			Text: "try {",
			Body: c.branch(n.ChildByFieldName("body")),
		}
		if handler := n.ChildByFieldName("handler"); handler != nil {
			h := &cst.Node{
				Kind: cst.KindExcept,
				Site: c.site(handler),
				Text: c.line(handler),
				Body: c.branch(handler.ChildByFieldName("body")),
			}
			if param := handler.ChildByFieldName("parameter"); param != nil {
				h.Cond = c.expr(param)
			}
			node.Handlers = append(node.Handlers, h)
		}
		if fin := n.ChildByFieldName("finalizer"); fin != nil {
			node.OrElse = c.branch(fin.ChildByFieldName("body"))
			if node.OrElse == nil {
				node.OrElse = c.branch(fin)
			}
		}
		return []*cst.Node{node}

	case "return_statement":
		node := &cst.Node{Kind: cst.KindReturn, Site: c.site(n), Text: c.line(n)}
		if n.NamedChildCount() > 0 {
			node.Value = c.expr(n.NamedChild(0))
		}
		return []*cst.Node{node}

	case "import_statement":
		return []*cst.Node{c.importStmt(n)}

	default:
		return []*cst.Node{c.generic(n)}
	}
}

// branch normalizes a statement_block or a bare single statement into a body
// slice.
func (c *converter) branch(n *sitter.Node) []*cst.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "statement_block" {
		return c.block(n)
	}
	return c.statements(n)
}

// condition unwraps the parenthesized_expression an if/while carries.
func (c *converter) condition(n *sitter.Node) *cst.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "parenthesized_expression" && n.NamedChildCount() > 0 {
		return c.expr(n.NamedChild(0))
	}
	return c.expr(n)
}

func isFunctionExpr(n *sitter.Node) bool {
	switch n.Type() {
	case "function", "function_expression", "arrow_function", "generator_function":
		return true
	}
	return false
}

func (c *converter) functionDef(n *sitter.Node) *cst.Node {
	node := &cst.Node{
		Kind: cst.KindFunctionDef,
		Site: c.site(n),
		Text: c.line(n),
		Body: c.branch(n.ChildByFieldName("body")),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		node.Name = c.text(name)
	}
	params := n.ChildByFieldName("parameters")
	if params == nil {
		// Single-parameter arrow function without parentheses.
		if p := n.ChildByFieldName("parameter"); p != nil {
			node.Params = []string{c.text(p)}
		}
		return node
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			node.Params = append(node.Params, c.text(p))
		case "assignment_pattern":
			if left := p.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
				node.Params = append(node.Params, c.text(left))
			}
		case "rest_parameter":
			if id := firstChildOfType(p, "identifier"); id != nil {
				node.Params = append(node.Params, c.text(id))
			}
		}
	}
	return node
}

func (c *converter) classDef(n *sitter.Node) *cst.Node {
	node := &cst.Node{
		Kind: cst.KindClassDef,
		Site: c.site(n),
		Text: c.line(n),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		node.Name = c.text(name)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "class_heritage" {
			for j := 0; j < int(child.NamedChildCount()); j++ {
				base := child.NamedChild(j)
				switch base.Type() {
				case "identifier", "member_expression":
					node.Bases = append(node.Bases, c.text(base))
				}
			}
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			m := body.NamedChild(i)
			if m.Type() == "method_definition" {
				node.Body = append(node.Body, c.functionDef(m))
			}
		}
	}
	return node
}

func (c *converter) importStmt(n *sitter.Node) *cst.Node {
	node := &cst.Node{Kind: cst.KindImportFrom, Site: c.site(n), Text: c.line(n)}
	if src := n.ChildByFieldName("source"); src != nil {
		node.Module = strings.Trim(c.text(src), "\"'`")
	}
	var walk func(s *sitter.Node)
	walk = func(s *sitter.Node) {
		for i := 0; i < int(s.NamedChildCount()); i++ {
			child := s.NamedChild(i)
			switch child.Type() {
			case "import_specifier":
				a := cst.Alias{}
				if name := child.ChildByFieldName("name"); name != nil {
					a.Name = c.text(name)
				}
				if alias := child.ChildByFieldName("alias"); alias != nil {
					a.AsName = c.text(alias)
				}
				node.Names = append(node.Names, a)
			case "identifier":
				node.Names = append(node.Names, cst.Alias{Name: c.text(child)})
			case "namespace_import":
				if id := firstChildOfType(child, "identifier"); id != nil {
					node.Names = append(node.Names, cst.Alias{Name: "*", AsName: c.text(id)})
				}
			case "import_clause", "named_imports":
				walk(child)
			}
		}
	}
	walk(n)
	return node
}

func (c *converter) expr(n *sitter.Node) *cst.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "assignment_expression", "augmented_assignment_expression":
		kind := cst.KindAssign
		if n.Type() == "augmented_assignment_expression" {
			kind = cst.KindAugAssign
		}
		return &cst.Node{
			Kind:    kind,
			Site:    c.site(n),
			Text:    c.line(n),
			Targets: []*cst.Node{c.expr(n.ChildByFieldName("left"))},
			Value:   c.expr(n.ChildByFieldName("right")),
		}

	case "call_expression", "new_expression":
		callee := n.ChildByFieldName("function")
		if callee == nil {
			callee = n.ChildByFieldName("constructor")
		}
		node := &cst.Node{
			Kind: cst.KindCall,
			Site: c.site(n),
			Text: c.line(n),
			Name: c.dottedPath(callee),
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				node.Args = append(node.Args, c.expr(args.NamedChild(i)))
			}
		}
		if node.Name == "" && callee != nil {
			if fn := c.expr(callee); fn != nil {
				node.Children = append(node.Children, fn)
			}
		}
		return node

	case "member_expression":
		return &cst.Node{
			Kind: cst.KindAttribute,
			Site: c.site(n),
			Text: c.text(n),
			Name: c.dottedPath(n),
		}

	case "identifier", "shorthand_property_identifier":
		return &cst.Node{
			Kind: cst.KindIdentifier,
			Site: c.site(n),
			Text: c.text(n),
			Name: c.text(n),
		}

	case "template_string":
		node := &cst.Node{Kind: cst.KindFString, Site: c.site(n), Text: c.text(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "template_substitution" && child.NamedChildCount() > 0 {
				node.Children = append(node.Children, c.expr(child.NamedChild(0)))
			}
		}
		if len(node.Children) == 0 {
			node.Kind = cst.KindString
		}
		return node

	case "string":
		return &cst.Node{Kind: cst.KindString, Site: c.site(n), Text: c.text(n)}

	case "number", "true", "false", "null", "undefined", "regex":
		return &cst.Node{Kind: cst.KindOther, Site: c.site(n), Text: c.text(n)}

	case "arrow_function", "function", "function_expression", "generator_function":
		return c.functionDef(n)

	default:
		return c.generic(n)
	}
}

func (c *converter) generic(n *sitter.Node) *cst.Node {
	node := &cst.Node{Kind: cst.KindOther, Site: c.site(n), Text: c.line(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		t := child.Type()
		if strings.HasSuffix(t, "_statement") || strings.HasSuffix(t, "_declaration") || t == "statement_block" {
			node.Children = append(node.Children, c.statements(child)...)
			continue
		}
		if converted := c.expr(child); converted != nil {
			node.Children = append(node.Children, converted)
		}
	}
	return node
}

// dottedPath flattens member chains like child_process.exec into a dotted
// string; any dynamic link yields "".
func (c *converter) dottedPath(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "property_identifier":
		return c.text(n)
	case "member_expression":
		obj := c.dottedPath(n.ChildByFieldName("object"))
		if obj == "" {
			return ""
		}
		prop := n.ChildByFieldName("property")
		if prop == nil {
			return ""
		}
		return obj + "." + c.text(prop)
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
