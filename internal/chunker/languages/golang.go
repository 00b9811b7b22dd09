package languages

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"coderag/internal/chunker"
)

func RegisterGo(r *chunker.Registry) {
	r.Register("go", &chunker.LanguageSpec{
		Language: golang.GetLanguage(),
		Rules: chunker.Rules{
			Chunk: map[string]chunker.Kind{
				"function_declaration": chunker.KindFunction,
				"method_declaration":   chunker.KindMethod,
				"type_spec":            chunker.KindClass,
			},
			// A type_declaration spans the `type` keyword and any grouped
			// specs; the first spec names the chunk.
			Wrapper:   map[string]bool{"type_declaration": true},
			Comment:   map[string]bool{"comment": true},
			Name:      []string{"name"},
			Qualifier: goReceiver,
		},
		Extensions: []string{"go"},
	})
}

// goReceiver resolves the receiver type of a method declaration, stripping
// pointers and type parameters: *Server -> Server, Server[T] -> Server.
func goReceiver(def *sitter.Node, src []byte) string {
	recv := def.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.ChildCount()); i++ {
		ch := recv.Child(i)
		if ch.Type() != "parameter_declaration" {
			continue
		}
		if t := ch.ChildByFieldName("type"); t != nil {
			return baseTypeName(t, src)
		}
	}
	return ""
}

func baseTypeName(t *sitter.Node, src []byte) string {
	switch t.Type() {
	case "pointer_type":
		for i := 0; i < int(t.ChildCount()); i++ {
			if ch := t.Child(i); ch.Type() != "*" {
				return baseTypeName(ch, src)
			}
		}
	case "generic_type":
		if inner := t.ChildByFieldName("type"); inner != nil {
			return inner.Content(src)
		}
	case "type_identifier":
		return t.Content(src)
	}
	return ""
}
