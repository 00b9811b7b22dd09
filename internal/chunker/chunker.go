// Package chunker splits source files into semantically coherent chunks
// using tree-sitter grammars. Top-level definitions become chunks, nested
// definitions are lifted into chunks of their own with a placeholder left
// in the parent, and files without a working grammar fall back to fixed
// line windows.
package chunker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	cerrors "coderag/internal/errors"
)

// Kind classifies a chunk.
type Kind string

const (
	KindModule   Kind = "module"   // docstrings and interstitial top-level code
	KindClass    Kind = "class"    // classes, interfaces, type declarations
	KindFunction Kind = "function" // free functions
	KindMethod   Kind = "method"   // functions bound to a class or receiver
	KindComment  Kind = "comment"  // standalone comment blocks
	KindFile     Kind = "file"     // fallback line windows
)

// Chunk is one embeddable unit of source code. Text is an exact slice of
// the file except where nested definitions were elided; StartLine and
// EndLine are 1-based and inclusive.
type Chunk struct {
	ID         string
	Text       string
	Kind       Kind
	FilePath   string
	SymbolPath string
	Language   string
	StartLine  int
	EndLine    int
	StartByte  int
	EndByte    int
}

// Placeholder is the line left in a parent chunk where the named nested
// definition was lifted out. Substituting each placeholder with the
// corresponding child's text restores the parent's original source span.
func Placeholder(symbolPath string) string {
	return "<<elided: " + symbolPath + ">>"
}

// Line windowing applied to oversized chunks and fallback files.
const (
	windowLines   = 120
	windowOverlap = 20
)

// Options configures a Chunker.
type Options struct {
	// MinChunkBytes is the smallest chunk emitted on its own; smaller
	// candidates merge into an adjacent sibling or stay inline in their
	// parent. Defaults to 50.
	MinChunkBytes int

	// MaxChunkBytes is the largest chunk emitted whole; larger texts are
	// split into line windows. Defaults to 8192.
	MaxChunkBytes int

	Logger *slog.Logger
}

// Chunker parses source files and extracts chunks according to the
// registered language rules.
type Chunker struct {
	registry *Registry
	min      int
	max      int
	logger   *slog.Logger
}

// New creates a chunker backed by the given registry.
func New(registry *Registry, opts Options) *Chunker {
	if opts.MinChunkBytes <= 0 {
		opts.MinChunkBytes = 50
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = 8192
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chunker{registry: registry, min: opts.MinChunkBytes, max: opts.MaxChunkBytes, logger: opts.Logger}
}

// Registry returns the language registry backing this chunker.
func (c *Chunker) Registry() *Registry { return c.registry }

// Chunk parses src and returns its chunks in file order. It is a pure
// function of its inputs: identical files produce identical chunks. A
// missing grammar or a failed parse yields a ParseError; the caller is
// expected to fall back to FallbackWindows.
func (c *Chunker) Chunk(path string, src []byte) ([]Chunk, error) {
	spec, lang := c.registry.Lookup(path)
	if spec == nil {
		return nil, cerrors.NewParseError("chunker.chunk", path, fmt.Errorf("no grammar registered for this extension"))
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, cerrors.NewParseError("chunker.chunk", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || unparsed(root) {
		return nil, cerrors.NewParseError("chunker.chunk", path, fmt.Errorf("source did not parse"))
	}
	if root.HasError() {
		// Tree-sitter recovers from localized syntax errors; chunk what parsed.
		c.logger.Debug("chunker.partial_parse", "path", path, "language", lang)
	}

	ex := &extractor{src: src, rules: spec.Rules, min: c.min}
	docstring := -1
	if spec.Rules.Docstring != nil {
		if n := spec.Rules.Docstring(root, src); n != nil {
			docstring = int(n.StartByte())
		}
	}
	secs := ex.scanScope(root, "", docstring)

	return c.assemble(path, lang, src, secs), nil
}

// FallbackWindows splits a file into fixed-size line windows. Used for
// files without a grammar and files that failed to parse.
func (c *Chunker) FallbackWindows(path, language string, src []byte) []Chunk {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil
	}
	text := string(src)
	wins := splitWindows(text)

	chunks := make([]Chunk, 0, len(wins))
	for i, w := range wins {
		symbol := ""
		if len(wins) > 1 {
			symbol = fmt.Sprintf("#%d", i+1)
		}
		chunks = append(chunks, Chunk{
			Text:       w.text,
			Kind:       KindFile,
			FilePath:   NormalizePath(path),
			SymbolPath: symbol,
			Language:   language,
			StartLine:  1 + w.lineOffset,
			EndLine:    w.lineOffset + w.lineCount,
			StartByte:  0,
			EndByte:    len(src),
		})
	}
	return finalize(chunks, c.logger)
}

// unparsed reports whether the parse produced nothing but error nodes.
func unparsed(root *sitter.Node) bool {
	n := int(root.NamedChildCount())
	if n == 0 {
		return root.Type() == "ERROR"
	}
	for i := 0; i < n; i++ {
		if root.NamedChild(i).Type() != "ERROR" {
			return false
		}
	}
	return true
}

// section is a chunk candidate before sizing and identity assignment.
type section struct {
	kind      Kind
	symbol    string
	parent    string // enclosing symbol path, for sibling grouping
	startByte int
	endByte   int
	text      string
	children  int // nested definitions lifted out of this section
}

type extractor struct {
	src   []byte
	rules Rules
	min   int
}

// scanScope walks the named children of a scope (the file root or a
// container body) and produces sections: definitions, standalone comment
// blocks and interstitial module runs.
func (ex *extractor) scanScope(scope *sitter.Node, prefix string, docstring int) []section {
	var out []section
	var comments []*sitter.Node
	runStart, runEnd := -1, -1

	flushRun := func() {
		if runStart >= 0 && runEnd > runStart {
			out = append(out, section{
				kind:      KindModule,
				parent:    prefix,
				startByte: runStart,
				endByte:   runEnd,
				text:      string(ex.src[runStart:runEnd]),
			})
		}
		runStart, runEnd = -1, -1
	}
	flushComments := func() {
		if len(comments) == 0 {
			return
		}
		if runStart >= 0 {
			// Comments trailing interstitial code belong to the module run.
			runEnd = int(comments[len(comments)-1].EndByte())
		} else {
			cs := int(comments[0].StartByte())
			ce := int(comments[len(comments)-1].EndByte())
			out = append(out, section{
				kind:      KindComment,
				parent:    prefix,
				startByte: cs,
				endByte:   ce,
				text:      string(ex.src[cs:ce]),
			})
		}
		comments = comments[:0]
	}

	n := int(scope.NamedChildCount())
	for i := 0; i < n; i++ {
		ch := scope.NamedChild(i)
		t := ch.Type()

		if docstring >= 0 && int(ch.StartByte()) == docstring {
			flushComments()
			flushRun()
			cs, ce := int(ch.StartByte()), int(ch.EndByte())
			out = append(out, section{
				kind:      KindModule,
				parent:    prefix,
				startByte: cs,
				endByte:   ce,
				text:      string(ex.src[cs:ce]),
			})
			continue
		}

		if ex.rules.Comment[t] {
			if len(comments) > 0 && blankLinesBetween(comments[len(comments)-1], ch) > 1 {
				flushComments()
			}
			comments = append(comments, ch)
			continue
		}

		if ex.rules.Container[t] {
			flushComments()
			flushRun()
			name := ex.nameOf(ch)
			if body := ch.ChildByFieldName("body"); body != nil {
				out = append(out, ex.scanScope(body, joinSymbol(prefix, name), -1)...)
			}
			continue
		}

		if def, kind, ok := ex.resolve(ch, true, false); ok {
			attach := int(ch.StartByte())
			if len(comments) > 0 && blankLinesBetween(comments[len(comments)-1], ch) <= 1 {
				attach = int(comments[0].StartByte())
				comments = comments[:0]
			} else {
				flushComments()
			}
			flushRun()
			out = append(out, ex.definition(ch, def, kind, attach, prefix)...)
			continue
		}

		// Interstitial top-level code joins the current module run, along
		// with any comments directly above it.
		if len(comments) > 0 && blankLinesBetween(comments[len(comments)-1], ch) > 1 {
			flushComments()
		}
		if len(comments) > 0 {
			if runStart < 0 {
				runStart = int(comments[0].StartByte())
			}
			comments = comments[:0]
		}
		if runStart < 0 {
			runStart = int(ch.StartByte())
		}
		runEnd = int(ch.EndByte())
	}

	flushComments()
	flushRun()
	return out
}

// resolve reports whether node is a chunkable definition, unwrapping
// decorators and export statements. The returned def node carries the name
// and drives nested extraction; the caller keeps node itself as the span.
func (ex *extractor) resolve(node *sitter.Node, topLevel, insideClass bool) (def *sitter.Node, kind Kind, ok bool) {
	t := node.Type()

	if k, found := ex.rules.Chunk[t]; found {
		if insideClass && ex.rules.Method[t] {
			return node, KindMethod, true
		}
		return node, k, true
	}
	if ex.rules.Method[t] {
		return node, KindMethod, true
	}
	if ex.rules.Wrapper[t] {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if d, k, found := ex.resolve(node.NamedChild(i), topLevel, insideClass); found {
				return d, k, true
			}
		}
		return nil, "", false
	}
	if ex.rules.ArrowFunctions && topLevel && (t == "lexical_declaration" || t == "variable_declaration") {
		if d := functionDeclarator(node); d != nil {
			return d, KindFunction, true
		}
	}
	return nil, "", false
}

// functionDeclarator returns the sole variable_declarator of a declaration
// whose value is a function expression, or nil.
func functionDeclarator(node *sitter.Node) *sitter.Node {
	var decl *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		ch := node.NamedChild(i)
		if ch.Type() != "variable_declarator" {
			continue
		}
		if decl != nil {
			return nil // multiple declarators stay interstitial
		}
		decl = ch
	}
	if decl == nil {
		return nil
	}
	v := decl.ChildByFieldName("value")
	if v == nil {
		return nil
	}
	switch v.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return decl
	}
	return nil
}

// childRef locates a nested definition to be lifted out of its parent.
type childRef struct {
	span   *sitter.Node // node whose span is elided (wrapper included)
	def    *sitter.Node // inner definition carrying name and kind
	kind   Kind
	attach int // span start extended over attached comments
}

// nestedDefs finds the next level of chunkable definitions anywhere under
// node, without descending into the definitions it finds.
func (ex *extractor) nestedDefs(node *sitter.Node, insideClass bool) []childRef {
	var out []childRef
	var walk func(p *sitter.Node)
	walk = func(p *sitter.Node) {
		var comments []*sitter.Node
		for i := 0; i < int(p.NamedChildCount()); i++ {
			ch := p.NamedChild(i)
			t := ch.Type()
			if ex.rules.Comment[t] {
				if len(comments) > 0 && blankLinesBetween(comments[len(comments)-1], ch) > 1 {
					comments = comments[:0]
				}
				comments = append(comments, ch)
				continue
			}
			if def, kind, ok := ex.resolve(ch, false, insideClass); ok {
				attach := int(ch.StartByte())
				if len(comments) > 0 && blankLinesBetween(comments[len(comments)-1], ch) <= 1 {
					attach = int(comments[0].StartByte())
				}
				out = append(out, childRef{span: ch, def: def, kind: kind, attach: attach})
				comments = comments[:0]
				continue
			}
			comments = comments[:0]
			walk(ch)
		}
	}
	walk(node)
	return out
}

// definition emits the section for a definition plus sections for every
// nested definition large enough to stand alone. The parent's text keeps a
// placeholder where each child was lifted out, so substituting the
// children back restores the original span byte for byte.
func (ex *extractor) definition(span, def *sitter.Node, kind Kind, attach int, prefix string) []section {
	symbol := joinSymbol(prefix, ex.symbolName(def, kind))
	end := int(span.EndByte())

	var kept []childRef
	var keptSyms []string
	for _, k := range ex.nestedDefs(def, kind == KindClass) {
		name := ex.symbolName(k.def, k.kind)
		if name == "" {
			continue // anonymous definitions stay inline
		}
		if int(k.span.EndByte())-k.attach < ex.min {
			continue // undersized definitions stay inline
		}
		kept = append(kept, k)
		keptSyms = append(keptSyms, joinSymbol(symbol, name))
	}

	var b strings.Builder
	var out []section
	cursor := attach
	for i, k := range kept {
		b.Write(ex.src[cursor:k.attach])
		b.WriteString(Placeholder(keptSyms[i]))
		cursor = int(k.span.EndByte())
		out = append(out, ex.definition(k.span, k.def, k.kind, k.attach, symbol)...)
	}
	b.Write(ex.src[cursor:end])

	parent := section{
		kind:      kind,
		symbol:    symbol,
		parent:    prefix,
		startByte: attach,
		endByte:   end,
		text:      b.String(),
		children:  len(kept),
	}
	return append([]section{parent}, out...)
}

// symbolName resolves the name of a definition, including the receiver
// qualifier for languages that have one.
func (ex *extractor) symbolName(def *sitter.Node, kind Kind) string {
	name := ex.nameOf(def)
	if name == "" {
		return ""
	}
	if kind == KindMethod && ex.rules.Qualifier != nil {
		if q := ex.rules.Qualifier(def, ex.src); q != "" {
			return q + "." + name
		}
	}
	return name
}

// nameOf resolves a definition's name by trying the rule table's name
// fields, descending through intermediate declarator nodes.
func (ex *extractor) nameOf(node *sitter.Node) string {
	return ex.identifierIn(node, 0)
}

func (ex *extractor) identifierIn(node *sitter.Node, depth int) string {
	if node == nil || depth > 8 {
		return ""
	}
	t := node.Type()
	if strings.Contains(t, "identifier") || strings.HasSuffix(t, "_name") {
		return node.Content(ex.src)
	}
	for _, field := range ex.rules.Name {
		if ch := node.ChildByFieldName(field); ch != nil {
			if s := ex.identifierIn(ch, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

// blankLinesBetween counts the blank lines separating two sibling nodes.
func blankLinesBetween(a, b *sitter.Node) int {
	gap := int(b.StartPoint().Row) - int(a.EndPoint().Row) - 1
	if gap < 0 {
		return 0
	}
	return gap
}

func joinSymbol(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "." + name
	}
}

// assemble turns sections into final chunks: sorts them into file order,
// merges undersized leaves into an adjacent sibling, splits oversized
// texts into line windows and assigns identities.
func (c *Chunker) assemble(path, lang string, src []byte, secs []section) []Chunk {
	if len(secs) == 0 {
		return nil
	}
	sort.SliceStable(secs, func(i, j int) bool {
		if secs[i].startByte != secs[j].startByte {
			return secs[i].startByte < secs[j].startByte
		}
		return secs[i].endByte > secs[j].endByte
	})
	secs = mergeSmall(src, secs, c.min)

	lineIdx := buildLineIndex(src)
	normPath := NormalizePath(path)

	var chunks []Chunk
	for _, s := range secs {
		startLine := lineAt(lineIdx, s.startByte)
		endLine := lineAt(lineIdx, maxInt(s.startByte, s.endByte-1))
		if len(s.text) <= c.max {
			chunks = append(chunks, Chunk{
				Text:       s.text,
				Kind:       s.kind,
				FilePath:   normPath,
				SymbolPath: s.symbol,
				Language:   lang,
				StartLine:  startLine,
				EndLine:    endLine,
				StartByte:  s.startByte,
				EndByte:    s.endByte,
			})
			continue
		}
		for i, w := range splitWindows(s.text) {
			chunks = append(chunks, Chunk{
				Text:       w.text,
				Kind:       s.kind,
				FilePath:   normPath,
				SymbolPath: fmt.Sprintf("%s#%d", s.symbol, i+1),
				Language:   lang,
				StartLine:  startLine + w.lineOffset,
				EndLine:    minInt(endLine, startLine+w.lineOffset+w.lineCount-1),
				StartByte:  s.startByte,
				EndByte:    s.endByte,
			})
		}
	}
	return finalize(chunks, c.logger)
}

// mergeSmall folds undersized leaf sections into the previous sibling, or
// the next one when there is no previous. Sections that carry elision
// placeholders never merge away. A merge only happens when the gap between
// the two sections holds no third section, so merged text stays a faithful
// rendering of the file.
func mergeSmall(src []byte, secs []section, min int) []section {
	gapClear := func(lo, hi int) bool {
		for k := lo + 1; k < hi; k++ {
			if secs[k].startByte >= secs[lo].endByte {
				return false
			}
		}
		return true
	}
	sibling := func(i, dir int) int {
		for j := i + dir; j >= 0 && j < len(secs); j += dir {
			if secs[j].parent != secs[i].parent {
				continue
			}
			lo, hi := j, i
			if dir > 0 {
				lo, hi = i, j
			}
			if gapClear(lo, hi) {
				return j
			}
			return -1
		}
		return -1
	}

	for i := 0; i < len(secs); {
		s := secs[i]
		if len(s.text) >= min || s.children > 0 {
			i++
			continue
		}
		if j := sibling(i, -1); j >= 0 {
			secs[j].text = secs[j].text + string(src[secs[j].endByte:s.startByte]) + s.text
			secs[j].endByte = s.endByte
			secs = append(secs[:i], secs[i+1:]...)
			continue
		}
		if j := sibling(i, +1); j >= 0 {
			secs[j].text = s.text + string(src[s.endByte:secs[j].startByte]) + secs[j].text
			secs[j].startByte = s.startByte
			secs = append(secs[:i], secs[i+1:]...)
			continue
		}
		i++ // lone undersized section stands
	}
	return secs
}

// finalize assigns chunk identities, dropping empty texts and duplicate IDs.
func finalize(chunks []Chunk, logger *slog.Logger) []Chunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0]
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			continue
		}
		ch.ID = ChunkID(ch.FilePath, ch.SymbolPath, ch.Text)
		if seen[ch.ID] {
			if logger != nil {
				logger.Debug("chunker.duplicate_chunk", "path", ch.FilePath, "symbol", ch.SymbolPath)
			}
			continue
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type window struct {
	text       string
	lineOffset int
	lineCount  int
}

// splitWindows cuts text into overlapping line windows.
func splitWindows(text string) []window {
	lines := strings.Split(text, "\n")
	var wins []window
	for i := 0; i < len(lines); {
		end := i + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		wins = append(wins, window{
			text:       strings.Join(lines[i:end], "\n"),
			lineOffset: i,
			lineCount:  end - i,
		})
		if end >= len(lines) {
			break
		}
		i += windowLines - windowOverlap
	}
	return wins
}

// buildLineIndex returns the byte offset of each line start.
func buildLineIndex(src []byte) []int {
	idx := []int{0}
	for i, b := range src {
		if b == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// lineAt returns the 1-based line containing the byte offset.
func lineAt(idx []int, off int) int {
	lo := sort.Search(len(idx), func(i int) bool { return idx[i] > off })
	return lo
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
