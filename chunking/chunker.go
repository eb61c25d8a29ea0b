// Package chunking splits decision reasons into overlapping token windows
// for chunk embeddings.
package chunking

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

var sentencePattern = regexp.MustCompile(`(?s)[^.!?\n]+(?:[.!?]+|\n+|$)`)

// Chunker packs sentences into windows of at most Size tokens, carrying
// roughly Overlap tokens of trailing sentences into the next window
type Chunker struct {
	size    int
	overlap int
	count   func(string) int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithEncoding counts tokens with a tiktoken encoding
func WithEncoding(enc *tiktoken.Tiktoken) Option {
	return func(c *Chunker) {
		if enc != nil {
			c.count = func(s string) int { return len(enc.Encode(s, nil, nil)) }
		}
	}
}

// New creates a chunker. Without an encoding tokens are approximated by words.
func New(size, overlap int, opts ...Option) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	c := &Chunker{
		size:    size,
		overlap: overlap,
		count:   func(s string) int { return len(strings.Fields(s)) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefault creates a 500/100 chunker over cl100k_base, falling back to
// word counts when the encoding cannot be loaded
func NewDefault() *Chunker {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return New(DefaultSize, DefaultOverlap)
	}
	return New(DefaultSize, DefaultOverlap, WithEncoding(enc))
}

type unit struct {
	text   string
	tokens int
}

// Split returns the chunks of text in order. Blank text yields no chunks.
func (c *Chunker) Split(text string) []string {
	units := c.units(text)
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(units) {
		end, used := start, 0
		for end < len(units) && (end == start || used+units[end].tokens <= c.size) {
			used += units[end].tokens
			end++
		}
		chunks = append(chunks, join(units[start:end]))
		if end == len(units) {
			break
		}

		// step back over trailing units worth at most overlap tokens
		next, carried := end, 0
		for next > start+1 && carried+units[next-1].tokens <= c.overlap {
			carried += units[next-1].tokens
			next--
		}
		start = next
	}
	return chunks
}

// units splits text into sentences, breaking sentences longer than the
// window into word runs
func (c *Chunker) units(text string) []unit {
	var out []unit
	for _, s := range sentencePattern.FindAllString(text, -1) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		n := c.count(s)
		if n <= c.size {
			out = append(out, unit{text: s, tokens: n})
			continue
		}
		out = append(out, c.splitLong(s)...)
	}
	return out
}

func (c *Chunker) splitLong(sentence string) []unit {
	var out []unit
	var cur []string
	used := 0
	for _, w := range strings.Fields(sentence) {
		n := c.count(w)
		if len(cur) > 0 && used+n > c.size {
			out = append(out, unit{text: strings.Join(cur, " "), tokens: used})
			cur, used = nil, 0
		}
		cur = append(cur, w)
		used += n
	}
	if len(cur) > 0 {
		out = append(out, unit{text: strings.Join(cur, " "), tokens: used})
	}
	return out
}

func join(units []unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.text
	}
	return strings.Join(parts, " ")
}
