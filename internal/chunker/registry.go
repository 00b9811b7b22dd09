package chunker

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Rules is the declarative chunking table for one language. Adding a
// language means registering a grammar plus one of these tables; the
// chunker itself contains no per-language code.
type Rules struct {
	// Chunk maps AST node types to the kind of chunk they produce.
	Chunk map[string]Kind

	// Method marks node types that become method chunks. Types listed in
	// both Chunk and Method produce methods only when nested in a class.
	Method map[string]bool

	// Wrapper lists node types that transparently wrap a definition, such
	// as decorators and export statements. The wrapper supplies the span,
	// the inner definition supplies kind and name.
	Wrapper map[string]bool

	// Container lists node types whose members are chunked individually
	// with the container's name on their symbol path (C++ namespaces).
	// The container itself produces no chunk.
	Container map[string]bool

	// Comment lists the language's comment node types.
	Comment map[string]bool

	// Name holds field names tried, in order, when resolving a
	// definition's symbol name.
	Name []string

	// ArrowFunctions chunks top-level const/let declarations whose value
	// is a function expression (JavaScript and TypeScript).
	ArrowFunctions bool

	// Qualifier optionally prefixes a method's symbol name, e.g. the
	// receiver type of a Go method.
	Qualifier func(def *sitter.Node, src []byte) string

	// Docstring returns the module docstring node if the language has the
	// concept (Python), or nil.
	Docstring func(root *sitter.Node, src []byte) *sitter.Node
}

// LanguageSpec ties a tree-sitter grammar to its chunking rules.
type LanguageSpec struct {
	Language   *sitter.Language
	Rules      Rules
	Extensions []string

	name string
}

// Registry maps file extensions to language specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*LanguageSpec // extension (without dot) -> spec
	langs map[string]*LanguageSpec // language name -> spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]*LanguageSpec),
		langs: make(map[string]*LanguageSpec),
	}
}

// Register adds a language spec under the given name.
func (r *Registry) Register(name string, spec *LanguageSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec.name = name
	r.langs[name] = spec
	for _, ext := range spec.Extensions {
		r.specs[ext] = spec
	}
}

// Lookup returns the spec for a file path based on its extension, or nil.
func (r *Registry) Lookup(path string) (spec *LanguageSpec, lang string) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[ext]
	if !ok {
		return nil, ""
	}
	return s, s.name
}

// LanguageName returns the language name for a file path, or "".
func (r *Registry) LanguageName(path string) string {
	_, lang := r.Lookup(path)
	return lang
}

// Extensions returns the set of all registered file extensions (without dot).
func (r *Registry) Extensions() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make(map[string]bool, len(r.specs))
	for ext := range r.specs {
		exts[ext] = true
	}
	return exts
}

// Languages returns extension -> language name for every registered
// extension, the shape the walker consumes.
func (r *Registry) Languages() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make(map[string]string, len(r.specs))
	for ext, spec := range r.specs {
		langs[ext] = spec.name
	}
	return langs
}
