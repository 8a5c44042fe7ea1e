package segmenter

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target segment length in runes
	DefaultChunkSize = 1000

	// DefaultOverlap is the number of runes repeated at the head of each
	// segment after the first
	DefaultOverlap = 100

	// CharsPerToken is the heuristic for estimating tokens (chars/4)
	CharsPerToken = 4
)

// Boundary selects which break points are preferred near the target size
type Boundary string

const (
	BoundaryParagraph Boundary = "paragraph" // \n\n, then \n, then sentence end, then space
	BoundarySentence  Boundary = "sentence"  // sentence end, then \n, then space
	BoundaryNone      Boundary = "none"      // always hard split
)

var ErrInvalidConfig = errors.New("invalid segmenter config")

// Config controls segment sizing
type Config struct {
	ChunkSize int      // Target segment size in runes (default 1000)
	Overlap   int      // Runes repeated from the previous segment (default 100)
	Tolerance int      // Window before ChunkSize searched for a break (default ChunkSize/5)
	Boundary  Boundary // Break preference (default paragraph)
}

// DefaultConfig returns the sizing used by the sync engine
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Overlap:   DefaultOverlap,
		Boundary:  BoundaryParagraph,
	}
}

// Segment is one chunk of the input text.
// Text[:Overlap] repeats the last Overlap runes of the previous segment.
type Segment struct {
	Index   int
	Text    string
	Start   int // Rune offset into the input (inclusive)
	End     int // Rune offset into the input (exclusive)
	Overlap int
	Section string // Markdown heading path in effect at Start, e.g. "Guide > Setup"
}

// TokenEstimate estimates the token count of the segment
func (s Segment) TokenEstimate() int {
	return len(s.Text) / CharsPerToken
}

// Segmenter splits extracted document text into overlapping segments
type Segmenter struct {
	cfg Config
}

// New creates a Segmenter, filling defaults for zero fields
func New(cfg Config) (*Segmenter, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Boundary == "" {
		cfg.Boundary = BoundaryParagraph
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, cfg.Overlap, cfg.ChunkSize)
	}
	switch cfg.Boundary {
	case BoundaryParagraph, BoundarySentence, BoundaryNone:
	default:
		return nil, fmt.Errorf("%w: unknown boundary %q", ErrInvalidConfig, cfg.Boundary)
	}

	if cfg.Tolerance <= 0 {
		cfg.Tolerance = cfg.ChunkSize / 5
	}
	// Every break must land past the overlap or segmentation would not advance
	if maxTol := cfg.ChunkSize - cfg.Overlap - 1; cfg.Tolerance > maxTol {
		cfg.Tolerance = maxTol
	}

	return &Segmenter{cfg: cfg}, nil
}

// Config returns the effective configuration
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment splits text into ordered, non-empty segments.
// Empty input yields an empty slice; input no longer than ChunkSize yields
// exactly one segment.
func (s *Segmenter) Segment(text string) []Segment {
	if text == "" {
		return []Segment{}
	}

	runes := []rune(text)
	n := len(runes)
	headings := scanHeadings(runes)

	segments := make([]Segment, 0, n/(s.cfg.ChunkSize-s.cfg.Overlap)+1)
	start, lead := 0, 0
	for {
		end := start + s.cfg.ChunkSize
		if end >= n {
			end = n
		} else {
			end = s.breakPoint(runes, start, end)
		}

		segments = append(segments, Segment{
			Index:   len(segments),
			Text:    string(runes[start:end]),
			Start:   start,
			End:     end,
			Overlap: lead,
			Section: headings.pathAt(start),
		})

		if end >= n {
			break
		}
		start = end - s.cfg.Overlap
		lead = s.cfg.Overlap
	}

	return segments
}

// breakPoint picks the cut position in (start, target] preferring natural
// boundaries inside the tolerance window, otherwise target itself.
func (s *Segmenter) breakPoint(runes []rune, start, target int) int {
	lo := target - s.cfg.Tolerance
	if lo <= start {
		lo = start + 1
	}

	var order []func([]rune, int) bool
	switch s.cfg.Boundary {
	case BoundaryParagraph:
		order = []func([]rune, int) bool{afterParagraph, afterNewline, afterSentence, afterSpace}
	case BoundarySentence:
		order = []func([]rune, int) bool{afterSentence, afterNewline, afterSpace}
	default:
		return target
	}

	for _, match := range order {
		for i := target; i >= lo; i-- {
			if match(runes, i) {
				return i
			}
		}
	}
	return target
}

func afterParagraph(r []rune, i int) bool {
	return i >= 2 && r[i-1] == '\n' && r[i-2] == '\n'
}

func afterNewline(r []rune, i int) bool {
	return i >= 1 && r[i-1] == '\n'
}

func afterSentence(r []rune, i int) bool {
	if i < 2 || !unicode.IsSpace(r[i-1]) {
		return false
	}
	switch r[i-2] {
	case '.', '?', '!', ';':
		return true
	}
	return false
}

func afterSpace(r []rune, i int) bool {
	return i >= 1 && unicode.IsSpace(r[i-1])
}

// Reconstruct joins segments back into the original text by dropping each
// segment's declared overlap.
func Reconstruct(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		runes := []rune(seg.Text)
		if seg.Overlap > len(runes) {
			continue
		}
		b.WriteString(string(runes[seg.Overlap:]))
	}
	return b.String()
}

// heading is a markdown ATX heading (levels 1-3) at a rune offset
type heading struct {
	offset int
	level  int
	title  string
}

type headingIndex []heading

// scanHeadings finds "#", "##" and "###" headings at line starts
func scanHeadings(runes []rune) headingIndex {
	var idx headingIndex
	lineStart := 0
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}
		line := string(runes[lineStart:i])
		if h, ok := parseHeading(line); ok {
			h.offset = lineStart
			idx = append(idx, h)
		}
		lineStart = i + 1
	}
	return idx
}

func parseHeading(line string) (heading, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 3 || level >= len(line) || line[level] != ' ' {
		return heading{}, false
	}
	title := strings.TrimSpace(line[level:])
	if title == "" {
		return heading{}, false
	}
	return heading{level: level, title: title}, true
}

// pathAt returns the heading path in effect at offset
func (idx headingIndex) pathAt(offset int) string {
	var path [3]string
	for _, h := range idx {
		if h.offset > offset {
			break
		}
		path[h.level-1] = h.title
		for l := h.level; l < 3; l++ {
			path[l] = ""
		}
	}

	parts := make([]string, 0, 3)
	for _, p := range path {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " > ")
}
