package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/chunker"
	"coderag/internal/chunker/languages"
	cerrors "coderag/internal/errors"
)

func newChunker(t *testing.T, minBytes int) *chunker.Chunker {
	t.Helper()
	reg := chunker.NewRegistry()
	languages.RegisterAll(reg)
	return chunker.New(reg, chunker.Options{MinChunkBytes: minBytes})
}

func chunkSource(t *testing.T, path, src string) []chunker.Chunk {
	t.Helper()
	chunks, err := newChunker(t, 1).Chunk(path, []byte(src))
	require.NoError(t, err)
	return chunks
}

func bySymbol(chunks []chunker.Chunk, symbol string) *chunker.Chunk {
	for i := range chunks {
		if chunks[i].SymbolPath == symbol {
			return &chunks[i]
		}
	}
	return nil
}

func TestChunkGoFile(t *testing.T) {
	src := `package server

import "fmt"

// Server handles requests.
type Server struct {
	port int
}

// Start boots the listener.
func (s *Server) Start() error {
	return fmt.Errorf("not listening on %d", s.port)
}

func Port(s *Server) int {
	return s.port
}
`
	chunks := chunkSource(t, "internal/server.go", src)
	require.Len(t, chunks, 4)

	mod := chunks[0]
	assert.Equal(t, chunker.KindModule, mod.Kind)
	assert.Equal(t, "package server\n\nimport \"fmt\"", mod.Text)
	assert.Equal(t, 1, mod.StartLine)

	typ := bySymbol(chunks, "Server")
	require.NotNil(t, typ)
	assert.Equal(t, chunker.KindClass, typ.Kind)
	assert.True(t, strings.HasPrefix(typ.Text, "// Server handles requests."))
	assert.Equal(t, "go", typ.Language)

	start := bySymbol(chunks, "Server.Start")
	require.NotNil(t, start)
	assert.Equal(t, chunker.KindMethod, start.Kind)
	assert.True(t, strings.HasPrefix(start.Text, "// Start boots the listener."))

	port := bySymbol(chunks, "Port")
	require.NotNil(t, port)
	assert.Equal(t, chunker.KindFunction, port.Kind)
	assert.Equal(t, "internal/server.go", port.FilePath)
}

func TestChunkPythonClassWithElision(t *testing.T) {
	src := `# Greets people politely.

class Greeter:
    def hello(self, name):
        return f"hi {name}"

    def bye(self, name):
        return f"bye {name}"
`
	chunks := chunkSource(t, "greeter.py", src)
	require.Len(t, chunks, 3)

	parent := bySymbol(chunks, "Greeter")
	require.NotNil(t, parent)
	assert.Equal(t, chunker.KindClass, parent.Kind)
	assert.Contains(t, parent.Text, chunker.Placeholder("Greeter.hello"))
	assert.Contains(t, parent.Text, chunker.Placeholder("Greeter.bye"))
	assert.NotContains(t, parent.Text, "return f")
	assert.Equal(t, 1, parent.StartLine)

	hello := bySymbol(chunks, "Greeter.hello")
	bye := bySymbol(chunks, "Greeter.bye")
	require.NotNil(t, hello)
	require.NotNil(t, bye)
	assert.Equal(t, chunker.KindMethod, hello.Kind)
	assert.Equal(t, chunker.KindMethod, bye.Kind)

	// Substituting the children back into the parent restores the
	// original source span byte for byte.
	restored := strings.Replace(parent.Text, chunker.Placeholder("Greeter.hello"), hello.Text, 1)
	restored = strings.Replace(restored, chunker.Placeholder("Greeter.bye"), bye.Text, 1)
	assert.Equal(t, src[parent.StartByte:parent.EndByte], restored)
}

func TestCommentAttachment(t *testing.T) {
	src := `# Copyright notice.


# Square a number.
def square(x):
    return x * x
`
	chunks := chunkSource(t, "m.py", src)
	require.Len(t, chunks, 2)

	assert.Equal(t, chunker.KindComment, chunks[0].Kind)
	assert.Equal(t, "# Copyright notice.", chunks[0].Text)

	fn := bySymbol(chunks, "square")
	require.NotNil(t, fn)
	assert.True(t, strings.HasPrefix(fn.Text, "# Square a number."))
	assert.Equal(t, 4, fn.StartLine)
	assert.Equal(t, 6, fn.EndLine)
}

func TestPythonModuleDocstring(t *testing.T) {
	src := `"""Utilities for parsing."""

import os


def pid():
    return os.getpid()
`
	chunks := chunkSource(t, "util.py", src)
	require.Len(t, chunks, 3)

	assert.Equal(t, chunker.KindModule, chunks[0].Kind)
	assert.Equal(t, `"""Utilities for parsing."""`, chunks[0].Text)
	assert.Equal(t, chunker.KindModule, chunks[1].Kind)
	assert.Equal(t, "import os", chunks[1].Text)
	assert.Equal(t, chunker.KindFunction, chunks[2].Kind)
}

func TestJavaScriptArrowFunction(t *testing.T) {
	src := `// util helpers

export const add = (a, b) => a + b;

function main() {
  console.log(add(1, 2));
}
`
	chunks := chunkSource(t, "util.js", src)
	require.Len(t, chunks, 2)

	add := bySymbol(chunks, "add")
	require.NotNil(t, add)
	assert.Equal(t, chunker.KindFunction, add.Kind)
	assert.True(t, strings.HasPrefix(add.Text, "// util helpers"))
	assert.Contains(t, add.Text, "export const add")

	main := bySymbol(chunks, "main")
	require.NotNil(t, main)
	assert.Equal(t, chunker.KindFunction, main.Kind)
}

func TestTypeScriptDeclarations(t *testing.T) {
	src := `export interface Shape {
  area(): number;
}

export type Point = { x: number; y: number };

export class Circle {
  constructor(private r: number) {}

  area(): number {
    return Math.PI * this.r * this.r;
  }
}
`
	chunks := chunkSource(t, "shapes.ts", src)

	shape := bySymbol(chunks, "Shape")
	require.NotNil(t, shape)
	assert.Equal(t, chunker.KindClass, shape.Kind)

	point := bySymbol(chunks, "Point")
	require.NotNil(t, point)
	assert.Equal(t, chunker.KindClass, point.Kind)

	area := bySymbol(chunks, "Circle.area")
	require.NotNil(t, area)
	assert.Equal(t, chunker.KindMethod, area.Kind)

	circle := bySymbol(chunks, "Circle")
	require.NotNil(t, circle)
	assert.Contains(t, circle.Text, chunker.Placeholder("Circle.area"))
}

func TestJavaClass(t *testing.T) {
	src := `package com.example;

public class Account {
    private long balance;

    public void deposit(long amount) {
        this.balance += amount;
    }

    public long balance() {
        return this.balance;
    }
}
`
	chunks := chunkSource(t, "Account.java", src)

	acc := bySymbol(chunks, "Account")
	require.NotNil(t, acc)
	assert.Equal(t, chunker.KindClass, acc.Kind)

	dep := bySymbol(chunks, "Account.deposit")
	require.NotNil(t, dep)
	assert.Equal(t, chunker.KindMethod, dep.Kind)
	assert.Equal(t, "java", dep.Language)
}

func TestCppNamespaceContainer(t *testing.T) {
	src := `namespace app {

int helper() {
  return 1;
}

class Widget {
public:
  void draw() {
    render(this);
  }
};

}
`
	chunks := chunkSource(t, "widget.cpp", src)

	helper := bySymbol(chunks, "app.helper")
	require.NotNil(t, helper)
	assert.Equal(t, chunker.KindFunction, helper.Kind)

	widget := bySymbol(chunks, "app.Widget")
	require.NotNil(t, widget)
	assert.Equal(t, chunker.KindClass, widget.Kind)

	draw := bySymbol(chunks, "app.Widget.draw")
	require.NotNil(t, draw)
	assert.Equal(t, chunker.KindMethod, draw.Kind)
}

func TestSmallNestedDefinitionStaysInline(t *testing.T) {
	src := `class Box:
    def get(self):
        return self.v

    def put(self, v):
        self.v = v
        self.dirty = True
        self.version += 1
`
	chunks, err := newChunker(t, 60).Chunk("box.py", []byte(src))
	require.NoError(t, err)

	parent := bySymbol(chunks, "Box")
	require.NotNil(t, parent)
	// get is under the size floor so it stays in the class body; put is
	// large enough to be lifted out.
	assert.Contains(t, parent.Text, "return self.v")
	assert.NotContains(t, parent.Text, chunker.Placeholder("Box.get"))
	assert.Contains(t, parent.Text, chunker.Placeholder("Box.put"))
	require.NotNil(t, bySymbol(chunks, "Box.put"))
	assert.Nil(t, bySymbol(chunks, "Box.get"))
}

func TestSmallSiblingsMerge(t *testing.T) {
	src := `package tiny

func a() int { return 1 }

func b() int { return 2 }
`
	chunks, err := newChunker(t, 50).Chunk("tiny.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got := chunks[0]
	assert.Contains(t, got.Text, "func a")
	assert.Contains(t, got.Text, "func b")
	assert.Equal(t, 1, got.StartLine)
	assert.Equal(t, 5, got.EndLine)
}

func TestOversizedChunkSplitsIntoWindows(t *testing.T) {
	var b strings.Builder
	b.WriteString("def huge():\n")
	for i := 0; i < 299; i++ {
		fmt.Fprintf(&b, "    x%d = %d\n", i, i)
	}
	src := b.String()

	ch := chunker.New(newChunker(t, 1).Registry(), chunker.Options{MinChunkBytes: 1, MaxChunkBytes: 200})
	chunks, err := ch.Chunk("huge.py", []byte(src))
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	assert.Equal(t, "huge#1", chunks[0].SymbolPath)
	assert.Equal(t, "huge#2", chunks[1].SymbolPath)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 120, chunks[0].EndLine)
	assert.Equal(t, 101, chunks[1].StartLine)
	for _, c := range chunks {
		assert.Equal(t, chunker.KindFunction, c.Kind)
	}

	// Consecutive windows share their overlap lines.
	head := strings.Split(chunks[1].Text, "\n")[0]
	assert.Contains(t, chunks[0].Text, head)
}

func TestFallbackWindows(t *testing.T) {
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	src := strings.Join(lines, "\n")

	chunks := newChunker(t, 1).FallbackWindows("notes/plan.txt", "unknown", []byte(src))
	require.Len(t, chunks, 3)

	assert.Equal(t, "#1", chunks[0].SymbolPath)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 120, chunks[0].EndLine)
	assert.Equal(t, 101, chunks[1].StartLine)
	assert.Equal(t, 220, chunks[1].EndLine)
	assert.Equal(t, 201, chunks[2].StartLine)
	assert.Equal(t, 300, chunks[2].EndLine)
	for _, c := range chunks {
		assert.Equal(t, chunker.KindFile, c.Kind)
		assert.Equal(t, "unknown", c.Language)
		assert.Equal(t, "notes/plan.txt", c.FilePath)
	}
}

func TestFallbackSingleWindowHasNoSuffix(t *testing.T) {
	chunks := newChunker(t, 1).FallbackWindows("README.md", "unknown", []byte("# Title\n\nSome prose.\n"))
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].SymbolPath)
	assert.Equal(t, chunker.KindFile, chunks[0].Kind)
}

func TestUnknownExtensionIsParseError(t *testing.T) {
	_, err := newChunker(t, 1).Chunk("data.xyz", []byte("whatever"))
	require.Error(t, err)
	assert.True(t, cerrors.IsParse(err))
}

func TestUnparseableSourceIsParseError(t *testing.T) {
	_, err := newChunker(t, 1).Chunk("broken.go", []byte("%%%% not go at all %%%%"))
	require.Error(t, err)
	assert.True(t, cerrors.IsParse(err))
}

func TestEmptyFileYieldsNoChunks(t *testing.T) {
	chunks, err := newChunker(t, 1).Chunk("empty.go", []byte("   \n\t\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkingIsDeterministic(t *testing.T) {
	src := `package p

type T struct{ n int }

func (t *T) N() int { return t.n }

func Make(n int) *T { return &T{n: n} }
`
	c := newChunker(t, 1)
	first, err := c.Chunk("p.go", []byte(src))
	require.NoError(t, err)
	second, err := c.Chunk("p.go", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// Every chunk that carries no placeholder and is not a window must be an
// exact slice of the source at its recorded byte span.
func TestChunkTextMatchesByteSpan(t *testing.T) {
	sources := map[string]string{
		"a.go": "package a\n\nconst K = 1\n\nfunc F() int {\n\treturn K\n}\n",
		"b.py": "import sys\n\n\nclass C:\n    def m(self):\n        return sys.path\n\n\ndef g():\n    return C()\n",
		"c.js": "const x = 1;\n\nexport function f() {\n  return x;\n}\n",
	}
	for path, src := range sources {
		for _, ch := range chunkSource(t, path, src) {
			if strings.Contains(ch.Text, "<<elided:") || strings.Contains(ch.SymbolPath, "#") {
				continue
			}
			assert.Equal(t, src[ch.StartByte:ch.EndByte], ch.Text, "%s %s", path, ch.SymbolPath)
		}
	}
}

func TestChunkIDsAreUniqueAndStable(t *testing.T) {
	src := `package q

func A() {}

func B() {}
`
	chunks := chunkSource(t, "q.go", src)
	seen := map[string]bool{}
	for _, c := range chunks {
		require.Len(t, c.ID, 64)
		require.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.Equal(t, chunker.ChunkID(c.FilePath, c.SymbolPath, c.Text), c.ID)
	}
}
