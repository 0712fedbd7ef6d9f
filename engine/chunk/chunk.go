// Package chunk splits ingested content into overlapping sentence-grouped
// chunks and stamps each with a content hash, generalizing the teacher's
// engine/ingest sentence splitter/chunker (which chunked scraped forum
// posts) to arbitrary episode content.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target number of tokens per chunk.
	DefaultChunkSize = 512
	// DefaultOverlap is the number of overlapping tokens between chunks.
	DefaultOverlap = 50
)

// Chunk is one content-hashed segment of an Episode's document.
type Chunk struct {
	Text        string
	Index       int
	ContentHash string
}

// Split breaks content into paragraph-aware, sentence-grouped chunks of
// approximately chunkSize tokens (word count) with overlap tokens of
// repeated context between adjacent chunks. Falls back to a single chunk
// for short content.
func Split(content string, chunkSize, overlap int) []Chunk {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}
	grouped := chunkSentences(sentences, chunkSize, overlap)
	if len(grouped) == 0 {
		grouped = []string{content}
	}
	chunks := make([]Chunk, len(grouped))
	for i, text := range grouped {
		chunks[i] = Chunk{Text: text, Index: i, ContentHash: HashContent(text)}
	}
	return chunks
}

// HashContent returns the sha256 hex digest of s, used by the Versioning
// Engine to detect which chunks changed between episode versions.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// splitParagraphs splits on blank lines, preserving paragraph boundaries so
// chunking never straddles an unrelated topic shift when the source text
// already signals one.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			paras = append(paras, t)
		}
	}
	return paras
}

// splitSentences splits text into sentences using punctuation and newlines,
// operating paragraph by paragraph so sentence boundaries never bridge a
// paragraph break.
func splitSentences(text string) []string {
	var sentences []string
	for _, para := range splitParagraphs(text) {
		sentences = append(sentences, splitParagraphSentences(para)...)
	}
	return sentences
}

func splitParagraphSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// chunkSentences groups sentences into chunks of ~chunkSize tokens with
// overlap. Token count is approximated as word count.
func chunkSentences(sentences []string, chunkSize, overlap int) []string {
	if len(sentences) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	start := 0

	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start

		for end < len(sentences) {
			words := wordCount(sentences[end])
			if tokens+words > chunkSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}

		chunks = append(chunks, buf.String())

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
