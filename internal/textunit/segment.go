package textunit

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit is one bounded slice of sanitized prose, destined for a single synthesis call.
type Unit struct {
	Index int
	Total int
	Text  string
}

// Len returns the unit length in characters.
func (u Unit) Len() int { return utf8.RuneCountInString(u.Text) }

// Segment splits sanitized text into units of at most max characters, preferring
// sentence boundaries and falling back to word boundaries. A single word longer
// than max becomes its own oversized unit. Joining the unit texts with single
// spaces reproduces the input when it is whitespace-normalized.
func Segment(text string, max int) []Unit {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || runeLen(text) <= max {
		return number([]string{text})
	}

	var pieces []string
	for _, packed := range pack(sentences(text), max) {
		if runeLen(packed) <= max {
			pieces = append(pieces, packed)
			continue
		}
		pieces = append(pieces, pack(strings.Fields(packed), max)...)
	}
	return number(pieces)
}

// pack greedily joins parts with single spaces while the result stays within max.
// A part that alone exceeds max is emitted unchanged.
func pack(parts []string, max int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	for _, part := range parts {
		partLen := runeLen(part)
		if curLen == 0 {
			cur.WriteString(part)
			curLen = partLen
			continue
		}
		if curLen+1+partLen <= max {
			cur.WriteByte(' ')
			cur.WriteString(part)
			curLen += 1 + partLen
			continue
		}
		out = append(out, cur.String())
		cur.Reset()
		cur.WriteString(part)
		curLen = partLen
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

// sentences splits after runs of '.', '!' or '?' that are followed by whitespace
// or the end of text. Trailing text without a terminator is kept as a sentence.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func number(texts []string) []Unit {
	units := make([]Unit, len(texts))
	for i, t := range texts {
		units[i] = Unit{Index: i, Total: len(texts), Text: t}
	}
	return units
}
