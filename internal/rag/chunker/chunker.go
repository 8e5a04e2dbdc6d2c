// Package chunker splits source documents into retrieval-sized chunks.
//
// Markdown mode partitions text into heading-scoped sections and
// accumulates paragraphs up to a UTF-8 byte budget, keeping fenced code
// blocks atomic where possible. A plain paragraph-accumulating fallback
// handles non-markdown sources. Both modes apply character-level overlap
// and produce deterministic chunk ids so re-indexing unchanged content
// never duplicates vectors.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// chunkNamespace seeds the deterministic UUIDv5-over-SHA1 id derivation.
// Any fixed namespace works as long as it never changes between runs.
var chunkNamespace = uuid.MustParse("6f6e8f2e-6d0b-4f7a-9b0e-9a6c4f6a1d3a")

// Chunk is one unit of chunked text ready for embedding and indexing.
type Chunk struct {
	ID          string
	Text        string
	SourcePath  string
	Docset      string
	ChunkIndex  int
	HeadingPath string
}

// Options configures chunk size and overlap. ChunkSize is compared with
// the UTF-8 byte length of the accumulated text, and oversized code blocks
// are split every ChunkSize bytes; Overlap counts characters (runes).
type Options struct {
	ChunkSize int
	Overlap   int
	Markdown  bool
}

var mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

type headingFrame struct {
	level int
	title string
}

// Chunk splits text into Chunks for the given source, assigning
// deterministic ids derived from docset|source|heading_path|index.
func Chunk(text, docset, sourcePath string, opt Options) []Chunk {
	size := opt.ChunkSize
	if size <= 0 {
		size = 800
	}
	overlap := opt.Overlap
	if overlap < 0 {
		overlap = 0
	}

	var raw []rawChunk
	if opt.Markdown {
		raw = chunkMarkdown(text, size)
	} else {
		raw = chunkFallback(text, size)
	}

	raw = applyOverlap(raw, overlap)

	out := make([]Chunk, 0, len(raw))
	for i, r := range raw {
		out = append(out, Chunk{
			ID:          deterministicID(docset, sourcePath, r.headingPath, i),
			Text:        r.text,
			SourcePath:  sourcePath,
			Docset:      docset,
			ChunkIndex:  i,
			HeadingPath: r.headingPath,
		})
	}
	return out
}

func deterministicID(docset, sourcePath, headingPath string, index int) string {
	key := docset + "|" + sourcePath + "|" + headingPath + "|" + itoa(index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

type rawChunk struct {
	text        string
	headingPath string
}

func applyOverlap(chunks []rawChunk, overlap int) []rawChunk {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	out := make([]rawChunk, 0, len(chunks))
	prevTail := ""
	for _, c := range chunks {
		if prevTail != "" {
			out = append(out, rawChunk{text: prevTail + c.text, headingPath: c.headingPath})
		} else {
			out = append(out, c)
		}
		prevTail = tail(c.text, overlap)
	}
	return out
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// --- markdown mode ---

type mdBlock struct {
	isCode bool
	text   string
}

func splitMarkdownBlocks(text string) []mdBlock {
	lines := strings.Split(text, "\n")
	var out []mdBlock
	var buf []string
	inCode := false

	flush := func(isCode bool) {
		if len(buf) == 0 {
			return
		}
		joined := strings.Trim(strings.Join(buf, "\n"), "\n")
		out = append(out, mdBlock{isCode: isCode, text: joined})
		buf = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inCode {
				buf = append(buf, line)
				flush(true)
				inCode = false
			} else {
				flush(false)
				inCode = true
				buf = append(buf, line)
			}
			continue
		}
		buf = append(buf, line)
	}
	flush(inCode)
	return out
}

func paragraphs(blockText string) []string {
	if blockText == "" {
		return nil
	}
	parts := regexp.MustCompile(`\n\s*\n`).Split(blockText, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func chunkMarkdown(text string, chunkSize int) []rawChunk {
	blocks := splitMarkdownBlocks(text)

	var headingStack []headingFrame
	setHeading := func(level int, title string) {
		for len(headingStack) > 0 && headingStack[len(headingStack)-1].level >= level {
			headingStack = headingStack[:len(headingStack)-1]
		}
		headingStack = append(headingStack, headingFrame{level: level, title: strings.TrimSpace(title)})
	}
	headingPath := func() string {
		parts := make([]string, 0, len(headingStack))
		for _, h := range headingStack {
			if h.title != "" {
				parts = append(parts, h.title)
			}
		}
		return strings.Join(parts, " > ")
	}

	var chunks []rawChunk
	emit := func(piece, section string) {
		t := strings.TrimSpace(piece)
		if t == "" {
			return
		}
		chunks = append(chunks, rawChunk{text: t, headingPath: section})
	}

	var buf string
	curSection := ""
	flushBuf := func() {
		if strings.TrimSpace(buf) != "" {
			emit(buf, curSection)
		}
		buf = ""
	}
	accumulate := func(p string) {
		switch {
		case buf == "":
			buf = p
		case len(buf)+2+len(p) <= chunkSize:
			buf = buf + "\n\n" + p
		default:
			flushBuf()
			buf = p
		}
	}

	for _, block := range blocks {
		if block.isCode {
			code := strings.Trim(block.text, "\n")
			if strings.TrimSpace(code) == "" {
				continue
			}
			if len(code) > chunkSize {
				flushBuf()
				for start := 0; start < len(code); start += chunkSize {
					end := start + chunkSize
					if end > len(code) {
						end = len(code)
					}
					emit(code[start:end], curSection)
				}
			} else {
				if buf != "" && len(buf)+2+len(code) > chunkSize {
					flushBuf()
				}
				if buf != "" {
					buf = strings.TrimSpace(buf + "\n\n" + code)
				} else {
					buf = code
				}
			}
			continue
		}

		lines := strings.Split(block.text, "\n")
		var tmp []string
		for _, line := range lines {
			if m := mdHeadingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				if len(tmp) > 0 {
					for _, p := range paragraphs(strings.Join(tmp, "\n")) {
						accumulate(p)
					}
					tmp = nil
				}
				flushBuf()
				setHeading(len(m[1]), m[2])
				curSection = headingPath()
				continue
			}
			tmp = append(tmp, line)
		}
		if len(tmp) > 0 {
			for _, p := range paragraphs(strings.Join(tmp, "\n")) {
				accumulate(p)
			}
		}
	}
	flushBuf()
	return chunks
}

// --- fallback mode ---

func chunkFallback(text string, chunkSize int) []rawChunk {
	parts := paragraphs(text)
	var out []rawChunk
	buf := ""
	for _, p := range parts {
		switch {
		case buf == "":
			buf = p
		case len(buf)+2+len(p) <= chunkSize:
			buf = buf + "\n\n" + p
		default:
			out = append(out, rawChunk{text: buf})
			buf = p
		}
	}
	if buf != "" {
		out = append(out, rawChunk{text: buf})
	}
	return out
}
