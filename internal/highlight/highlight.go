// Package highlight renders free text as a sequence of plain and highlighted
// segments, one per configured highlight word occurrence.
package highlight

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// HighlightedWord configures how one word or phrase is styled wherever it
// appears in the history text.
type HighlightedWord struct {
	Word     string `json:"word"`
	Color    string `json:"color"`
	Rotation int    `json:"rotation"`
}

// SegmentKind tells plain text apart from a highlighted occurrence.
type SegmentKind int

const (
	Plain SegmentKind = iota
	Highlighted
)

func (k SegmentKind) String() string {
	if k == Highlighted {
		return "highlighted"
	}
	return "plain"
}

// MarshalText encodes the kind as "plain" or "highlighted".
func (k SegmentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the values produced by MarshalText.
func (k *SegmentKind) UnmarshalText(b []byte) error {
	if string(b) == "highlighted" {
		*k = Highlighted
	} else {
		*k = Plain
	}
	return nil
}

// Segment is one piece of rendered text. Color and Rotation are only set for
// highlighted segments.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Text     string      `json:"text"`
	Color    string      `json:"color,omitempty"`
	Rotation int         `json:"rotation,omitempty"`
}

// IsHighlighted is a template helper.
func (s Segment) IsHighlighted() bool { return s.Kind == Highlighted }

// Clean drops entries whose word is blank. The remaining entries keep their
// configured order and spelling.
func Clean(highlights []HighlightedWord) []HighlightedWord {
	out := make([]HighlightedWord, 0, len(highlights))
	for _, h := range highlights {
		if strings.TrimSpace(h.Word) == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// candidates returns the usable words ordered longest first. The sort is
// stable, so among words of equal length the configured order decides.
func candidates(highlights []HighlightedWord) []HighlightedWord {
	words := Clean(highlights)
	sort.SliceStable(words, func(i, j int) bool {
		return utf8.RuneCountInString(words[i].Word) > utf8.RuneCountInString(words[j].Word)
	})
	return words
}

// Render splits text on every case-insensitive occurrence of a configured
// word, longest word first, and returns the pieces in order. Concatenating
// the segment texts always reproduces text.
func Render(text string, highlights []HighlightedWord) []Segment {
	words := candidates(highlights)
	if len(words) == 0 {
		return []Segment{{Kind: Plain, Text: text}}
	}

	alternatives := make([]string, len(words))
	for i, w := range words {
		alternatives[i] = regexp.QuoteMeta(w.Word)
	}
	// Go regexps prefer the leftmost alternative, which is the longest word
	// after sorting.
	pattern := regexp.MustCompile("(?i)(?:" + strings.Join(alternatives, "|") + ")")

	var segments []Segment
	last := 0
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			segments = append(segments, Segment{Kind: Plain, Text: text[last:loc[0]]})
		}
		segments = append(segments, classify(text[loc[0]:loc[1]], words))
		last = loc[1]
	}
	if last < len(text) {
		segments = append(segments, Segment{Kind: Plain, Text: text[last:]})
	}
	if len(segments) == 0 {
		return []Segment{{Kind: Plain, Text: text}}
	}
	return segments
}

func classify(piece string, words []HighlightedWord) Segment {
	for _, w := range words {
		if strings.EqualFold(w.Word, piece) {
			return Segment{Kind: Highlighted, Text: piece, Color: w.Color, Rotation: w.Rotation}
		}
	}
	return Segment{Kind: Plain, Text: piece}
}

// Scan produces the same segments as Render with a single left-to-right pass:
// at each position it tries the candidates longest first and consumes the
// first one that matches. It does not compile a pattern, so it is the better
// fit for very large highlight sets.
func Scan(text string, highlights []HighlightedWord) []Segment {
	words := candidates(highlights)
	if len(words) == 0 {
		return []Segment{{Kind: Plain, Text: text}}
	}

	var segments []Segment
	plainStart := 0
	for i := 0; i < len(text); {
		matched := false
		for _, w := range words {
			n := foldPrefix(text[i:], w.Word)
			if n == 0 {
				continue
			}
			if i > plainStart {
				segments = append(segments, Segment{Kind: Plain, Text: text[plainStart:i]})
			}
			segments = append(segments, Segment{Kind: Highlighted, Text: text[i : i+n], Color: w.Color, Rotation: w.Rotation})
			i += n
			plainStart = i
			matched = true
			break
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
		}
	}
	if plainStart < len(text) {
		segments = append(segments, Segment{Kind: Plain, Text: text[plainStart:]})
	}
	if len(segments) == 0 {
		return []Segment{{Kind: Plain, Text: text}}
	}
	return segments
}

// foldPrefix reports the byte length of the prefix of s that equals word
// under simple case folding, or 0 when s does not start with word.
func foldPrefix(s, word string) int {
	n := 0
	for _, wr := range word {
		if n >= len(s) {
			return 0
		}
		r, size := utf8.DecodeRuneInString(s[n:])
		if r != wr && !strings.EqualFold(string(r), string(wr)) {
			return 0
		}
		n += size
	}
	return n
}

// Join concatenates the text of every segment.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// DuplicateWords lists words configured more than once when compared
// case-insensitively. Only the first spelling of each duplicate is reported.
func DuplicateWords(highlights []HighlightedWord) []string {
	words := Clean(highlights)
	var dups []string
	for i, w := range words {
		if seenBefore(words[:i], w.Word) {
			continue
		}
		for _, other := range words[i+1:] {
			if strings.EqualFold(w.Word, other.Word) {
				dups = append(dups, w.Word)
				break
			}
		}
	}
	return dups
}

func seenBefore(words []HighlightedWord, word string) bool {
	for _, w := range words {
		if strings.EqualFold(w.Word, word) {
			return true
		}
	}
	return false
}
