// Package languages holds the per-language chunking rules for every
// grammar the indexer understands.
package languages

import "coderag/internal/chunker"

// RegisterAll registers every supported language on the registry.
func RegisterAll(r *chunker.Registry) {
	RegisterGo(r)
	RegisterPython(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	RegisterJava(r)
	RegisterCpp(r)
}
