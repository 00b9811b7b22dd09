package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath converts a file path to the canonical repo-relative form
// used in chunk identities and metadata: forward slashes, cleaned, no
// leading "./" or "/".
func NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// ChunkID derives the stable identity of a chunk from its normalized file
// path, symbol path and exact text. Chunks that survive an edit untouched
// keep their ID; any change to path, symbol or content produces a new one.
func ChunkID(filePath, symbolPath, text string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePath(filePath)))
	h.Write([]byte{0})
	h.Write([]byte(symbolPath))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
