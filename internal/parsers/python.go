package parsers

import (
	"bytes"
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// PythonParser parses Python source code with tree-sitter.
//
// The parser is safe for concurrent use: every Parse call creates and
// closes its own tree-sitter parser over a shared, immutable grammar.
type PythonParser struct {
	language *sitter.Language
}

// NewPythonParser creates a new Python parser.
func NewPythonParser() *PythonParser {
	return &PythonParser{
		language: sitter.NewLanguage(tree_sitter_python.Language()),
	}
}

// Language returns the language this parser handles.
func (p *PythonParser) Language() string {
	return "python"
}

// Parse parses Python source code into a syntax tree.
// A file containing syntax errors is reported as ErrUnparseable.
func (p *PythonParser) Parse(filePath string, content []byte) (*Node, error) {
	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(p.language); err != nil {
		return nil, fmt.Errorf("%s: loading python grammar: %w", filePath, err)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("%s: %w", filePath, ErrUnparseable)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%s: %w", filePath, ErrUnparseable)
	}
	if root.HasError() {
		return nil, fmt.Errorf("%s: syntax error at line %d: %w", filePath, firstErrorLine(root), ErrUnparseable)
	}

	c := &converter{src: content}
	module := &Node{
		Kind:      NodeModule,
		Children:  c.namedChildren(root),
		StartLine: 1,
		EndLine:   lineCount(content),
	}
	return module, nil
}

// converter maps tree-sitter nodes onto the package's Node model.
type converter struct {
	src []byte
}

func (c *converter) convert(n *sitter.Node) *Node {
	switch n.Kind() {
	case "comment":
		return nil
	case "import_statement":
		return c.importStatement(n)
	case "import_from_statement":
		return c.importFromStatement(n)
	case "class_definition":
		return c.classDefinition(n)
	case "function_definition":
		return c.functionDefinition(n)
	case "call":
		return c.call(n)
	case "identifier":
		node := c.node(NodeName, n)
		node.Name = c.text(n)
		return node
	case "attribute":
		node := c.node(NodeAttribute, n)
		node.Name = c.text(n.ChildByFieldName("attribute"))
		if obj := n.ChildByFieldName("object"); obj != nil {
			node.Value = c.convert(obj)
		}
		return node
	default:
		node := c.node(NodeOther, n)
		node.Children = c.namedChildren(n)
		return node
	}
}

func (c *converter) importStatement(n *sitter.Node) *Node {
	node := c.node(NodeImport, n)
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if alias := c.alias(n.NamedChild(i)); alias != nil {
			node.Children = append(node.Children, alias)
		}
	}
	return node
}

func (c *converter) importFromStatement(n *sitter.Node) *Node {
	node := c.node(NodeImportFrom, n)

	moduleNode := n.ChildByFieldName("module_name")
	if moduleNode != nil {
		switch moduleNode.Kind() {
		case "relative_import":
			for i := uint(0); i < moduleNode.NamedChildCount(); i++ {
				child := moduleNode.NamedChild(i)
				switch child.Kind() {
				case "import_prefix":
					node.Level = strings.Count(c.text(child), ".")
				case "dotted_name":
					node.Name = c.text(child)
				}
			}
		default:
			node.Name = c.text(moduleNode)
		}
	}

	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if moduleNode != nil && child.StartByte() == moduleNode.StartByte() {
			continue
		}
		if child.Kind() == "wildcard_import" {
			alias := c.node(NodeAlias, child)
			alias.Name = WildcardName
			node.Children = append(node.Children, alias)
			continue
		}
		if alias := c.alias(child); alias != nil {
			node.Children = append(node.Children, alias)
		}
	}
	return node
}

// alias converts a dotted_name or aliased_import. Anything else is nil.
func (c *converter) alias(n *sitter.Node) *Node {
	if n == nil {
		return nil
	}
	switch n.Kind() {
	case "dotted_name", "identifier":
		node := c.node(NodeAlias, n)
		node.Name = c.text(n)
		return node
	case "aliased_import":
		node := c.node(NodeAlias, n)
		node.Name = c.text(n.ChildByFieldName("name"))
		node.Alias = c.text(n.ChildByFieldName("alias"))
		return node
	default:
		return nil
	}
}

func (c *converter) classDefinition(n *sitter.Node) *Node {
	node := c.node(NodeClass, n)
	node.Name = c.text(n.ChildByFieldName("name"))

	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := uint(0); i < supers.NamedChildCount(); i++ {
			base := supers.NamedChild(i)
			switch base.Kind() {
			case "comment":
				continue
			case "keyword_argument", "list_splat", "dictionary_splat":
				// metaclass=..., *bases and **kwargs are not base classes.
				if conv := c.convert(base); conv != nil {
					node.Signature = append(node.Signature, conv)
				}
				continue
			}
			if conv := c.convert(base); conv != nil {
				node.Bases = append(node.Bases, conv)
			}
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		node.Children = c.namedChildren(body)
	}
	return node
}

func (c *converter) functionDefinition(n *sitter.Node) *Node {
	node := c.node(NodeFunction, n)
	node.Name = c.text(n.ChildByFieldName("name"))
	node.Signature = c.namedChildren(n.ChildByFieldName("parameters"))
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		if conv := c.convert(ret); conv != nil {
			node.Signature = append(node.Signature, conv)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		node.Children = c.namedChildren(body)
	}
	return node
}

func (c *converter) call(n *sitter.Node) *Node {
	node := c.node(NodeCall, n)
	if fn := n.ChildByFieldName("function"); fn != nil {
		node.Func = c.convert(fn)
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		node.Children = c.namedChildren(args)
	}
	return node
}

func (c *converter) namedChildren(n *sitter.Node) []*Node {
	if n == nil {
		return nil
	}
	count := n.NamedChildCount()
	out := make([]*Node, 0, count)
	for i := uint(0); i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if conv := c.convert(child); conv != nil {
			out = append(out, conv)
		}
	}
	return out
}

func (c *converter) node(kind NodeKind, n *sitter.Node) *Node {
	return &Node{
		Kind:      kind,
		StartLine: int(n.StartPosition().Row) + 1,
		EndLine:   int(n.EndPosition().Row) + 1,
	}
}

func (c *converter) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(string(c.src[n.StartByte():n.EndByte()]))
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING
// node under n, or the line of n itself.
func firstErrorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPosition().Row) + 1
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child == nil || !child.HasError() && !child.IsMissing() {
			continue
		}
		return firstErrorLine(child)
	}
	return int(n.StartPosition().Row) + 1
}

func lineCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
