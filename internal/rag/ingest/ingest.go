// Package ingest drives the docset indexing pipeline: listing source
// documents (local filesystem or S3), converting HTML to boilerplate-
// stripped markdown, chunking, and upserting into the vector store.
// Grounded on the original rag-service's index_docs handler and the
// teacher's readability+html-to-markdown web-fetch conversion.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"

	"agenticrag/internal/rag/chunker"
)

// VectorUpserter is the subset of the vector store the pipeline needs,
// narrowed so tests can substitute a fake.
type VectorUpserter interface {
	DeleteByFilter(ctx context.Context, filter map[string]any) error
	Upsert(ctx context.Context, chunks []chunker.Chunk) error
}

// Result summarizes one Index call.
type Result struct {
	IndexedFiles  int
	IndexedChunks int
}

// Pipeline indexes a docset's documents into a VectorUpserter.
type Pipeline struct {
	store    VectorUpserter
	chunkOpt chunker.Options
	maxFiles int
}

// NewPipeline builds a Pipeline with the given default chunking options
// and a safety cap on files scanned per Index call (0 = unbounded).
func NewPipeline(store VectorUpserter, chunkOpt chunker.Options, maxFiles int) *Pipeline {
	return &Pipeline{store: store, chunkOpt: chunkOpt, maxFiles: maxFiles}
}

// FilePreview groups the chunks produced from one source document, for
// the indexing endpoint's preview mode.
type FilePreview struct {
	Path   string
	Chunks []string
}

// buildChunks lists, reads, and chunks every document under src (up to
// the pipeline's maxFiles cap, 0 meaning unbounded), returning the per-file
// chunk groups alongside the flattened chunk set Upsert expects.
func (p *Pipeline) buildChunks(ctx context.Context, docset string, src Source) (indexedFiles int, byFile []FilePreview, flat []chunker.Chunk, err error) {
	paths, err := src.List(ctx)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("list source: %w", err)
	}
	if p.maxFiles > 0 && len(paths) > p.maxFiles {
		paths = paths[:p.maxFiles]
	}

	for _, path := range paths {
		raw, rerr := src.Read(ctx, path)
		if rerr != nil {
			log.Warn().Err(rerr).Str("path", path).Msg("ingest_read_failed")
			continue
		}
		text, isMarkdown, cerr := convertToText(path, raw)
		if cerr != nil {
			log.Warn().Err(cerr).Str("path", path).Msg("ingest_convert_failed")
			continue
		}
		opt := p.chunkOpt
		opt.Markdown = isMarkdown
		fileChunks := chunker.Chunk(text, docset, path, opt)
		if len(fileChunks) == 0 {
			continue
		}
		texts := make([]string, len(fileChunks))
		for i, c := range fileChunks {
			texts[i] = c.Text
		}
		byFile = append(byFile, FilePreview{Path: path, Chunks: texts})
		flat = append(flat, fileChunks...)
		indexedFiles++
	}
	return indexedFiles, byFile, flat, nil
}

// Index lists, converts, and chunks every document under src, then
// replaces the docset's existing points with the freshly computed
// chunk set. Re-running Index on unchanged content reproduces the same
// chunk ids, so the replace is a no-op write at the storage layer.
func (p *Pipeline) Index(ctx context.Context, docset string, src Source) (Result, error) {
	return p.IndexWithOptions(ctx, docset, src, true)
}

// IndexWithOptions is Index with control over whether the docset's
// existing points are deleted before the new chunk set is upserted.
// replace=false appends the freshly computed chunks alongside whatever
// is already indexed for the docset, for callers that index incrementally
// from multiple sources under one docset name.
func (p *Pipeline) IndexWithOptions(ctx context.Context, docset string, src Source, replace bool) (Result, error) {
	indexedFiles, _, chunks, err := p.buildChunks(ctx, docset, src)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{}, nil
	}

	if replace {
		if err := p.store.DeleteByFilter(ctx, map[string]any{"docset": docset}); err != nil {
			return Result{}, fmt.Errorf("replace docset: %w", err)
		}
	}
	if err := p.store.Upsert(ctx, chunks); err != nil {
		return Result{}, fmt.Errorf("upsert chunks: %w", err)
	}

	return Result{IndexedFiles: indexedFiles, IndexedChunks: len(chunks)}, nil
}

// PreviewOptions bounds how much of a dry-run preview is returned.
type PreviewOptions struct {
	MaxFiles        int // 0 = all files buildChunks produced
	ChunksPerFile   int // 0 = all chunks in each file group
	CharsPerChunk   int // 0 = untruncated
}

// Preview runs the same listing/conversion/chunking pass Index does, but
// never touches the store — useful for checking what an Index call would
// do before committing to it.
func (p *Pipeline) Preview(ctx context.Context, docset string, src Source, opt PreviewOptions) (Result, []FilePreview, error) {
	indexedFiles, byFile, flat, err := p.buildChunks(ctx, docset, src)
	if err != nil {
		return Result{}, nil, err
	}

	if opt.MaxFiles > 0 && len(byFile) > opt.MaxFiles {
		byFile = byFile[:opt.MaxFiles]
	}
	for i := range byFile {
		if opt.ChunksPerFile > 0 && len(byFile[i].Chunks) > opt.ChunksPerFile {
			byFile[i].Chunks = byFile[i].Chunks[:opt.ChunksPerFile]
		}
		if opt.CharsPerChunk > 0 {
			for j, c := range byFile[i].Chunks {
				if len(c) > opt.CharsPerChunk {
					byFile[i].Chunks[j] = c[:opt.CharsPerChunk] + "..."
				}
			}
		}
	}

	return Result{IndexedFiles: indexedFiles, IndexedChunks: len(flat)}, byFile, nil
}

// convertToText turns a raw document into plain or markdown text.
// HTML documents are passed through readability's boilerplate-stripping
// extraction, falling back to the full document body, then converted
// to markdown.
func convertToText(path string, raw []byte) (text string, isMarkdown bool, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		base, _ := url.Parse("file:///" + path)
		html := string(raw)
		articleHTML, title := html, ""
		if art, rerr := readability.FromReader(bytes.NewReader(raw), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
		}
		md, mdErr := htmltomarkdown.ConvertString(articleHTML)
		if mdErr != nil {
			return "", false, fmt.Errorf("html to markdown: %w", mdErr)
		}
		md = strings.TrimSpace(md)
		if title != "" && !strings.HasPrefix(md, "#") {
			md = "# " + title + "\n\n" + md
		}
		return md, true, nil
	case ".md", ".markdown":
		return string(raw), true, nil
	default:
		return string(raw), false, nil
	}
}
