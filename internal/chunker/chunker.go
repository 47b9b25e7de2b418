package chunker

import (
	"strings"
	"unicode/utf8"
)

// Chunk is a verbatim slice of the source text: Content is always equal
// to source[StartOffset:EndOffset].
type Chunk struct {
	Content     string
	Ordinal     int
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// DefaultSeparators orders split boundaries from coarse to fine. The
// trailing empty string means a piece that fits no boundary is cut at
// the size limit instead of being emitted oversize.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	". ", "! ", "? ", "。", "！", "？",
	", ", "; ", "，", "；",
	" ",
	"",
}

const charsPerToken = 4

type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

func New(chunkSize int, overlap int) *Chunker {
	return NewWithSeparators(chunkSize, overlap, DefaultSeparators)
}

func NewWithSeparators(chunkSize int, overlap int, separators []string) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Chunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: separators,
	}
}

// span is a half-open byte range into the source text. Working on
// ranges instead of copied strings keeps every chunk a verbatim
// substring with exact offsets, even when the text repeats itself.
type span struct {
	start int
	end   int
}

func (s span) size() int {
	return s.end - s.start
}

func (c *Chunker) Split(text string) []Chunk {
	root := trimSpan(text, span{start: 0, end: len(text)})
	if root.size() == 0 {
		return nil
	}
	pieces := c.split(text, root, 0)
	merged := c.merge(pieces)
	chunks := make([]Chunk, 0, len(merged))
	for i, s := range merged {
		content := text[s.start:s.end]
		chunks = append(chunks, Chunk{
			Content:     content,
			Ordinal:     i,
			StartOffset: s.start,
			EndOffset:   s.end,
			TokenCount:  estimateTokens(content),
		})
	}
	return chunks
}

// split recursively divides a span until every piece fits the chunk
// size or the separator list is exhausted. An indivisible piece comes
// back as-is and is emitted oversize.
func (c *Chunker) split(text string, s span, sepIdx int) []span {
	if s.size() <= c.chunkSize {
		return []span{s}
	}
	if sepIdx >= len(c.separators) {
		return []span{s}
	}
	sep := c.separators[sepIdx]
	var pieces []span
	if sep == "" {
		pieces = c.hardCut(text, s)
	} else {
		pieces = splitOnSeparator(text, s, sep)
	}
	out := make([]span, 0, len(pieces))
	for _, p := range pieces {
		p = trimSpan(text, p)
		if p.size() == 0 {
			continue
		}
		if p.size() > c.chunkSize {
			out = append(out, c.split(text, p, sepIdx+1)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitOnSeparator cuts a span at every occurrence of sep. Punctuation
// separators stay attached to the left piece (minus their trailing
// space); pure-whitespace separators are dropped from both sides.
func splitOnSeparator(text string, s span, sep string) []span {
	attach := len(strings.TrimRight(sep, " "))
	drop := strings.TrimSpace(sep) == ""
	out := make([]span, 0, 4)
	start := s.start
	for start < s.end {
		idx := strings.Index(text[start:s.end], sep)
		if idx < 0 {
			out = append(out, span{start: start, end: s.end})
			break
		}
		abs := start + idx
		end := abs + attach
		if drop {
			end = abs
		}
		out = append(out, span{start: start, end: end})
		start = abs + len(sep)
	}
	return out
}

// hardCut slices a span into chunkSize byte pieces without breaking a
// UTF-8 sequence mid-rune.
func (c *Chunker) hardCut(text string, s span) []span {
	out := make([]span, 0, s.size()/c.chunkSize+1)
	start := s.start
	for start < s.end {
		end := start + c.chunkSize
		if end >= s.end {
			end = s.end
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				_, n := utf8.DecodeRuneInString(text[start:s.end])
				end = start + n
			}
		}
		out = append(out, span{start: start, end: end})
		start = end
	}
	return out
}

// merge greedily packs adjacent pieces into chunks up to the size
// limit, then seeds the next chunk with the tail pieces that fall
// within the overlap window. Merged spans are contiguous ranges of the
// source, so any separators between the pieces reappear in the chunk.
func (c *Chunker) merge(pieces []span) []span {
	out := make([]span, 0, len(pieces))
	var cur []span
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, span{start: cur[0].start, end: cur[len(cur)-1].end})
	}
	for _, p := range pieces {
		if len(cur) > 0 && p.end-cur[0].start > c.chunkSize {
			flush()
			cur = c.overlapTail(cur)
			for len(cur) > 0 && p.end-cur[0].start > c.chunkSize {
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
	}
	flush()
	return out
}

// overlapTail returns the trailing pieces of the just-flushed chunk
// that fit inside the overlap window, measured back from the chunk end.
func (c *Chunker) overlapTail(cur []span) []span {
	if c.overlap <= 0 || len(cur) == 0 {
		return nil
	}
	end := cur[len(cur)-1].end
	keep := len(cur)
	for i := len(cur) - 1; i >= 0; i-- {
		if end-cur[i].start > c.overlap {
			break
		}
		keep = i
	}
	if keep == len(cur) {
		return nil
	}
	tail := make([]span, len(cur)-keep)
	copy(tail, cur[keep:])
	return tail
}

func trimSpan(text string, s span) span {
	for s.start < s.end && isSpace(text[s.start]) {
		s.start++
	}
	for s.end > s.start && isSpace(text[s.end-1]) {
		s.end--
	}
	return s
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := (len(content) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
