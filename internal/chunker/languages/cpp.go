package languages

import (
	"github.com/smacker/go-tree-sitter/cpp"

	"coderag/internal/chunker"
)

func RegisterCpp(r *chunker.Registry) {
	r.Register("cpp", &chunker.LanguageSpec{
		Language: cpp.GetLanguage(),
		Rules: chunker.Rules{
			Chunk: map[string]chunker.Kind{
				"function_definition": chunker.KindFunction,
				"class_specifier":     chunker.KindClass,
				"struct_specifier":    chunker.KindClass,
				"enum_specifier":      chunker.KindClass,
				"union_specifier":     chunker.KindClass,
			},
			// In-class function bodies are methods; out-of-line definitions
			// keep their qualified name (Widget::draw) instead.
			Method:    map[string]bool{"function_definition": true},
			Wrapper:   map[string]bool{"template_declaration": true},
			Container: map[string]bool{"namespace_definition": true},
			Comment:   map[string]bool{"comment": true},
			Name:      []string{"name", "declarator"},
		},
		Extensions: []string{"cpp", "cc", "cxx", "hpp", "hh", "hxx", "c", "h"},
	})
}
