package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkMarkdown_HeadingPathAndParagraphAccumulation(t *testing.T) {
	text := "# Title\n\npara1 text here.\n\n## Sub\n\npara2 text here.\n\npara3 text here."
	chunks := Chunk(text, "docs", "guide.md", Options{ChunkSize: 20, Markdown: true})
	require.GreaterOrEqual(t, len(chunks), 2)
	require.Contains(t, chunks[0].Text, "para1")
	require.Equal(t, "Title", chunks[0].HeadingPath)

	var sub *Chunk
	for i := range chunks {
		if chunks[i].HeadingPath == "Title > Sub" {
			sub = &chunks[i]
			break
		}
	}
	require.NotNil(t, sub, "expected a chunk scoped under Title > Sub")
}

func TestChunkMarkdown_CodeBlockKeptAtomicUnlessOversized(t *testing.T) {
	text := "# Doc\n\n```go\nfunc A() {}\n```\n\nsome text"
	chunks := Chunk(text, "docs", "a.md", Options{ChunkSize: 800, Markdown: true})
	joined := strings.Join(collectTexts(chunks), "\n")
	require.Contains(t, joined, "func A() {}")

	long := "# Doc\n\n```\n" + strings.Repeat("x", 50) + "\n```\n"
	hardSplit := Chunk(long, "docs", "b.md", Options{ChunkSize: 10, Markdown: true})
	require.Greater(t, len(hardSplit), 1)
}

func TestChunkMarkdown_CharacterOverlapPrefixesNextChunk(t *testing.T) {
	text := "# Doc\n\npara one is reasonably long text.\n\npara two is also reasonably long text."
	noOverlap := Chunk(text, "docs", "c.md", Options{ChunkSize: 20, Markdown: true})
	withOverlap := Chunk(text, "docs", "c.md", Options{ChunkSize: 20, Overlap: 5, Markdown: true})
	require.Equal(t, len(noOverlap), len(withOverlap))
	if len(withOverlap) > 1 {
		require.Greater(t, len(withOverlap[1].Text), len(noOverlap[1].Text))
	}
}

func TestChunkFallback_ParagraphAccumulation(t *testing.T) {
	text := "first paragraph.\n\nsecond paragraph.\n\nthird paragraph."
	chunks := Chunk(text, "docs", "plain.txt", Options{ChunkSize: 1000})
	require.Len(t, chunks, 1)
	require.Empty(t, chunks[0].HeadingPath)
}

func TestChunk_IdempotentDeterministicIDs(t *testing.T) {
	text := "# Doc\n\npara one.\n\npara two."
	a := Chunk(text, "docs", "d.md", Options{ChunkSize: 20, Markdown: true})
	b := Chunk(text, "docs", "d.md", Options{ChunkSize: 20, Markdown: true})
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].ID, b[i].ID, "re-chunking identical content must yield identical ids")
	}

	c := Chunk(text, "other-docset", "d.md", Options{ChunkSize: 20, Markdown: true})
	require.NotEqual(t, a[0].ID, c[0].ID, "different docset must change the id")
}

func collectTexts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
