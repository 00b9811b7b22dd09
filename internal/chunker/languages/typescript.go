package languages

import (
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"coderag/internal/chunker"
)

// tsRules is shared by the typescript and tsx grammars, which differ only
// in how they parse angle brackets.
var tsRules = chunker.Rules{
	Chunk: map[string]chunker.Kind{
		"function_declaration":           chunker.KindFunction,
		"generator_function_declaration": chunker.KindFunction,
		"class_declaration":              chunker.KindClass,
		"abstract_class_declaration":     chunker.KindClass,
		"method_definition":              chunker.KindMethod,
		"interface_declaration":          chunker.KindClass,
		"type_alias_declaration":         chunker.KindClass,
		"enum_declaration":               chunker.KindClass,
	},
	Wrapper: map[string]bool{
		"export_statement":    true,
		"ambient_declaration": true,
	},
	Comment:        map[string]bool{"comment": true},
	Name:           []string{"name"},
	ArrowFunctions: true,
}

func RegisterTypeScript(r *chunker.Registry) {
	r.Register("typescript", &chunker.LanguageSpec{
		Language:   typescript.GetLanguage(),
		Rules:      tsRules,
		Extensions: []string{"ts", "mts", "cts"},
	})
	r.Register("tsx", &chunker.LanguageSpec{
		Language:   tsx.GetLanguage(),
		Rules:      tsRules,
		Extensions: []string{"tsx"},
	})
}
