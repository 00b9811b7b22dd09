package languages

import (
	"github.com/smacker/go-tree-sitter/java"

	"coderag/internal/chunker"
)

func RegisterJava(r *chunker.Registry) {
	r.Register("java", &chunker.LanguageSpec{
		Language: java.GetLanguage(),
		Rules: chunker.Rules{
			Chunk: map[string]chunker.Kind{
				"class_declaration":           chunker.KindClass,
				"interface_declaration":       chunker.KindClass,
				"enum_declaration":            chunker.KindClass,
				"record_declaration":          chunker.KindClass,
				"annotation_type_declaration": chunker.KindClass,
				"method_declaration":          chunker.KindMethod,
				"constructor_declaration":     chunker.KindMethod,
			},
			Comment: map[string]bool{
				"line_comment":  true,
				"block_comment": true,
			},
			Name: []string{"name"},
		},
		Extensions: []string{"java"},
	})
}
