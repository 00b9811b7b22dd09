package languages

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"coderag/internal/chunker"
)

func RegisterPython(r *chunker.Registry) {
	r.Register("python", &chunker.LanguageSpec{
		Language: python.GetLanguage(),
		Rules: chunker.Rules{
			Chunk: map[string]chunker.Kind{
				"function_definition": chunker.KindFunction,
				"class_definition":    chunker.KindClass,
			},
			Method:    map[string]bool{"function_definition": true},
			Wrapper:   map[string]bool{"decorated_definition": true},
			Comment:   map[string]bool{"comment": true},
			Name:      []string{"name"},
			Docstring: pythonDocstring,
		},
		Extensions: []string{"py", "pyi"},
	})
}

// pythonDocstring returns the module docstring statement, if the file
// opens with one (comments may precede it).
func pythonDocstring(root *sitter.Node, src []byte) *sitter.Node {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		ch := root.NamedChild(i)
		if ch.Type() == "comment" {
			continue
		}
		if ch.Type() != "expression_statement" {
			return nil
		}
		if ch.NamedChildCount() == 1 && ch.NamedChild(0).Type() == "string" {
			return ch
		}
		return nil
	}
	return nil
}
