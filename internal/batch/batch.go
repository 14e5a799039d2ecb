// Package batch splits oversized text at sentence or word boundaries and
// processes the pieces in order, so size-limited services never see
// truncated input.
package batch

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DefaultSeparator joins string results from consecutive chunks.
const DefaultSeparator = "\n\n"

// ChunkFunc processes one chunk. index is zero-based, total is the chunk count.
type ChunkFunc[T any] func(ctx context.Context, chunk string, index, total int) (T, error)

// Combiner reassembles per-chunk results.
type Combiner[T, R any] func(results []T) (R, error)

// Parts is a structured aggregate of per-chunk outputs.
type Parts[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

// Collect is a Combiner that keeps every chunk result.
func Collect[T any](results []T) (Parts[T], error) {
	return Parts[T]{Count: len(results), Items: results}, nil
}

// Join returns a Combiner concatenating string results with sep.
func Join(sep string) Combiner[string, string] {
	return func(results []string) (string, error) {
		parts := make([]string, 0, len(results))
		for _, r := range results {
			if r = strings.TrimSpace(r); r != "" {
				parts = append(parts, r)
			}
		}
		return strings.Join(parts, sep), nil
	}
}

// Process runs fn over text, once when it fits in maxLen runes and once per
// chunk otherwise. Chunks are handled strictly in order.
func Process[T, R any](ctx context.Context, text string, maxLen int, fn ChunkFunc[T], combine Combiner[T, R]) (R, error) {
	var zero R
	chunks := Split(text, maxLen)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	results := make([]T, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		r, err := fn(ctx, chunk, i, len(chunks))
		if err != nil {
			if len(chunks) == 1 {
				return zero, err
			}
			return zero, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		results = append(results, r)
	}
	return combine(results)
}

// ProcessText is Process with a string result joined by sep
// (DefaultSeparator when empty).
func ProcessText(ctx context.Context, text string, maxLen int, fn ChunkFunc[string], sep string) (string, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	return Process(ctx, text, maxLen, fn, Join(sep))
}

// Split breaks text into chunks of at most maxLen runes. It cuts after the
// last sentence terminator in range, then at the last whitespace, and only
// hard-cuts when a single word is longer than maxLen. A text that already
// fits is returned as a single chunk.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 || len([]rune(text)) <= maxLen {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > maxLen {
		cut := sentenceCut(rest, maxLen)
		if cut <= 0 {
			cut = wordCut(rest, maxLen)
		}
		if cut <= 0 {
			cut = maxLen
		}
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	if chunk := strings.TrimSpace(string(rest)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// sentenceCut returns the length of the longest prefix of at most maxLen runes
// ending in a sentence terminator followed by whitespace (or the end of text).
func sentenceCut(r []rune, maxLen int) int {
	for i := maxLen - 1; i > 0; i-- {
		switch r[i] {
		case '.', '!', '?':
			if i+1 == len(r) || unicode.IsSpace(r[i+1]) {
				return i + 1
			}
		}
	}
	return 0
}

// wordCut returns the position of the last whitespace at or before maxLen.
func wordCut(r []rune, maxLen int) int {
	for i := maxLen; i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return 0
}
