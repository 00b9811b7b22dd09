package languages

import (
	"github.com/smacker/go-tree-sitter/javascript"

	"coderag/internal/chunker"
)

func RegisterJavaScript(r *chunker.Registry) {
	r.Register("javascript", &chunker.LanguageSpec{
		Language: javascript.GetLanguage(),
		Rules: chunker.Rules{
			Chunk: map[string]chunker.Kind{
				"function_declaration":           chunker.KindFunction,
				"generator_function_declaration": chunker.KindFunction,
				"class_declaration":              chunker.KindClass,
				"method_definition":              chunker.KindMethod,
			},
			Wrapper:        map[string]bool{"export_statement": true},
			Comment:        map[string]bool{"comment": true},
			Name:           []string{"name"},
			ArrowFunctions: true,
		},
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
	})
}
