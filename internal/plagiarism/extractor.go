package plagiarism

import (
	"context"
	"fmt"
	"strings"

	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// RawBlockName names the whole-input block emitted when no function or class exists.
const RawBlockName = "full_code"

// Extractor decomposes source text into an ordered sequence of code blocks.
type Extractor interface {
	Extract(ctx context.Context, source string) ([]models.CodeBlock, error)
}

// PythonExtractor decomposes Python source with tree-sitter.
// It is safe for concurrent use: every call builds its own parser.
type PythonExtractor struct {
	log zerolog.Logger
}

func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{log: logger.For("extractor")}
}

// Extract returns every function and class definition, nested ones included,
// in source order. Invalid source yields a *ParseError.
func (e *PythonExtractor) Extract(ctx context.Context, source string) ([]models.CodeBlock, error) {
	content := []byte(source)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		perr := syntaxError(root)
		e.log.Debug().Int("line", perr.Line).Int("column", perr.Column).Msg("Source failed to parse")
		return nil, perr
	}

	// The grammar still accepts Python 2 print and exec statements.
	if node := firstLegacyStatement(root); node != nil {
		perr := &ParseError{
			Line:    int(node.StartPoint().Row) + 1,
			Column:  int(node.StartPoint().Column) + 1,
			Message: fmt.Sprintf("Python 2 %s", strings.ReplaceAll(node.Type(), "_", " ")),
		}
		e.log.Debug().Int("line", perr.Line).Int("column", perr.Column).Msg("Source uses Python 2 syntax")
		return nil, perr
	}

	blocks := make([]models.CodeBlock, 0)
	e.collect(root, content, &blocks)

	if len(blocks) == 0 {
		e.log.Warn().Msg("No functions or classes found in code, using whole input")
		blocks = append(blocks, models.CodeBlock{
			Kind:      models.BlockRaw,
			Name:      RawBlockName,
			Text:      source,
			Lines:     models.LineRange{Start: 1, End: strings.Count(source, "\n") + 1},
			Signature: RawBlockName,
		})
	}

	e.log.Debug().Int("blocks", len(blocks)).Msg("Code split into blocks")
	return blocks, nil
}

// collect walks the tree in pre-order so parents precede the definitions nested in them.
func (e *PythonExtractor) collect(node *sitter.Node, content []byte, blocks *[]models.CodeBlock) {
	switch node.Type() {
	case "function_definition":
		if block, ok := e.definitionBlock(node, content, models.BlockFunction, "def"); ok {
			*blocks = append(*blocks, block)
		}
	case "class_definition":
		if block, ok := e.definitionBlock(node, content, models.BlockClass, "class"); ok {
			*blocks = append(*blocks, block)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		e.collect(child, content, blocks)
	}
}

func (e *PythonExtractor) definitionBlock(node *sitter.Node, content []byte, kind models.BlockKind, keyword string) (models.CodeBlock, bool) {
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1

	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		e.log.Warn().Str("kind", string(kind)).Int("line", startLine).Msg("Could not extract definition name, skipping")
		return models.CodeBlock{}, false
	}
	name, ok := span(content, nameNode)
	if !ok || name == "" {
		e.log.Warn().Str("kind", string(kind)).Int("line", startLine).Msg("Could not extract definition name, skipping")
		return models.CodeBlock{}, false
	}

	text, ok := span(content, node)
	if !ok || strings.TrimSpace(text) == "" {
		e.log.Warn().Str("kind", string(kind)).Str("name", name).Msg("Could not extract definition source, skipping")
		return models.CodeBlock{}, false
	}

	return models.CodeBlock{
		Kind:      kind,
		Name:      name,
		Text:      text,
		Lines:     models.LineRange{Start: startLine, End: endLine},
		Signature: fmt.Sprintf("%s %s(...)", keyword, name),
	}, true
}

func span(content []byte, node *sitter.Node) (string, bool) {
	start, end := int(node.StartByte()), int(node.EndByte())
	if start < 0 || end > len(content) || start > end {
		return "", false
	}
	return string(content[start:end]), true
}

// syntaxError locates the first ERROR or missing node in pre-order.
func syntaxError(root *sitter.Node) *ParseError {
	node := firstErrorNode(root)
	if node == nil {
		node = root
	}

	msg := "syntax error"
	if node.IsMissing() {
		msg = fmt.Sprintf("missing %q", node.Type())
	}
	return &ParseError{
		Line:    int(node.StartPoint().Row) + 1,
		Column:  int(node.StartPoint().Column) + 1,
		Message: msg,
	}
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsMissing() || node.Type() == "ERROR" {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}

func firstLegacyStatement(node *sitter.Node) *sitter.Node {
	switch node.Type() {
	case "print_statement", "exec_statement":
		return node
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		if found := firstLegacyStatement(child); found != nil {
			return found
		}
	}
	return nil
}
