// Package extract provides a default Go-source implementation of the
// Indexer's Extractor contract, built on the standard library's own AST
// parser. It is a usable default for one language, not the multi-language
// extractor the pipeline is ultimately meant to run with: callers indexing
// other languages supply their own indexer.Extractor.
package extract

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/llmc-dev/codeindex/internal/model"
)

// GoExtractor implements indexer.Extractor for Go source using go/parser
// (not tree-sitter): one function/method declaration per span, plus one
// span per top-level type declaration.
type GoExtractor struct{}

// Extract returns one span per top-level func/method/type declaration. lang
// is ignored: this extractor only ever handles "go", and LanguageFor is
// expected to route only .go files to it.
func (GoExtractor) Extract(path, lang string, source []byte) ([]model.Span, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, source, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("extract: parsing %s: %w", path, err)
	}

	var spans []model.Span
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			spans = append(spans, funcSpan(fset, d))
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				spans = append(spans, typeSpan(fset, d, ts))
			}
		}
	}
	return spans, nil
}

func funcSpan(fset *token.FileSet, d *ast.FuncDecl) model.Span {
	symbol := d.Name.Name
	kind := "function"
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = "method"
		if recvType := receiverTypeName(d.Recv.List[0].Type); recvType != "" {
			symbol = recvType + "." + symbol
		}
	}
	start := fset.Position(d.Pos())
	end := fset.Position(d.End())
	return model.Span{
		Symbol:    symbol,
		Kind:      kind,
		StartLine: start.Line,
		EndLine:   end.Line,
		ByteStart: start.Offset,
		ByteEnd:   end.Offset,
		SliceType: model.SliceCode,
	}
}

func typeSpan(fset *token.FileSet, d *ast.GenDecl, ts *ast.TypeSpec) model.Span {
	kind := "type"
	switch ts.Type.(type) {
	case *ast.StructType:
		kind = "struct"
	case *ast.InterfaceType:
		kind = "interface"
	}
	start := fset.Position(ts.Pos())
	end := fset.Position(ts.End())
	if d.Lparen == token.NoPos {
		// Single-spec `type Foo struct{...}` declarations: include the
		// `type` keyword itself in the span.
		start = fset.Position(d.Pos())
	}
	return model.Span{
		Symbol:    ts.Name.Name,
		Kind:      kind,
		StartLine: start.Line,
		EndLine:   end.Line,
		ByteStart: start.Offset,
		ByteEnd:   end.Offset,
		SliceType: model.SliceCode,
	}
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

// LanguageFor routes .go files other than _test.go files to "go" and skips
// everything else (including _test.go files); it is the
// default indexer.LanguageFor paired with GoExtractor.
func LanguageFor(path string) string {
	if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
		return "go"
	}
	return ""
}
