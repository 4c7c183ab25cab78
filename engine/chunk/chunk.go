// Package chunk splits documents into overlapping, bounded windows of text.
//
// Boundaries are chosen on the coarsest separator available inside the
// window (paragraph, line, sentence, word) and fall back to a hard cut at
// the window edge. Consecutive chunks share exactly Overlap characters, so
// dropping the first Overlap characters of every chunk after the first and
// concatenating reproduces the original content.
package chunk

import (
	"fmt"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

const (
	// DefaultSize is the window size in characters.
	DefaultSize = 1000
	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 200
)

// DefaultSeparators are tried coarsest first.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Options configures a Splitter.
type Options struct {
	Size       int
	Overlap    int
	Separators []string
}

// DefaultOptions returns the standard 1000/200 window.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap, Separators: DefaultSeparators}
}

// Splitter is a deterministic recursive character splitter. It is safe for
// concurrent use.
type Splitter struct {
	size    int
	overlap int
	seps    [][]rune
}

// New validates opts and returns a Splitter.
func New(opts Options) (*Splitter, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("chunk: size must be positive, got %d", opts.Size)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be in [0, %d)", opts.Overlap, opts.Size)
	}
	if opts.Separators == nil {
		opts.Separators = DefaultSeparators
	}
	seps := make([][]rune, 0, len(opts.Separators))
	for _, s := range opts.Separators {
		if s != "" {
			seps = append(seps, []rune(s))
		}
	}
	return &Splitter{size: opts.Size, overlap: opts.Overlap, seps: seps}, nil
}

// Size returns the window size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the overlap length.
func (s *Splitter) Overlap() int { return s.overlap }

// SplitText splits text into windows of at most Size characters.
func (s *Splitter) SplitText(text string) []string {
	r := []rune(text)
	if len(r) == 0 {
		return nil
	}
	if len(r) <= s.size {
		return []string{text}
	}

	var out []string
	start := 0
	for {
		if len(r)-start <= s.size {
			out = append(out, string(r[start:]))
			return out
		}
		end := s.boundary(r, start)
		out = append(out, string(r[start:end]))
		start = end - s.overlap
	}
}

// boundary picks the end of the window starting at start. The result is
// always in (start+overlap, start+size], which guarantees progress.
func (s *Splitter) boundary(r []rune, start int) int {
	hi := start + s.size
	lo := start + max(s.overlap, s.size/2)

	for _, sep := range s.seps {
		for b := hi; b > lo; b-- {
			if b-len(sep) < start {
				break
			}
			if hasSuffixAt(r, b, sep) {
				return b
			}
		}
	}
	return hi
}

func hasSuffixAt(r []rune, end int, sep []rune) bool {
	off := end - len(sep)
	for i, c := range sep {
		if r[off+i] != c {
			return false
		}
	}
	return true
}

// Split chunks every document. Each chunk carries a copy of its parent's
// metadata plus doc_id, chunk_index and chunk_count.
func (s *Splitter) Split(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, d := range docs {
		out = append(out, s.SplitDocument(d)...)
	}
	return out
}

// SplitDocument chunks a single document.
func (s *Splitter) SplitDocument(d domain.Document) []domain.Chunk {
	texts := s.SplitText(d.Content)
	if len(texts) == 0 {
		return nil
	}
	id := domain.DocID(d)
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		md := d.Metadata.Clone()
		md[domain.KeyDocID] = id
		md[domain.KeyChunkIndex] = i
		md[domain.KeyChunkCount] = len(texts)
		chunks[i] = domain.Chunk{Content: t, Metadata: md}
	}
	return chunks
}
