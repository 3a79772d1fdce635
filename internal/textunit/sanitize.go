// Package textunit turns generated markdown prose into plain text and splits it
// into bounded units for speech synthesis.
package textunit

import (
	"regexp"
	"strings"
)

var (
	reFencedCode = regexp.MustCompile("(?s)```.*?```")
	reFenceMark  = regexp.MustCompile("```[\\w+#-]*")
	reInlineCode = regexp.MustCompile("`([^`\n]*)`")
	reHeading    = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	reImageLink  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reBold       = regexp.MustCompile(`(\*\*|__)(\S(?:[^\n]*?\S)?)(\*\*|__)`)
	reItalicStar = regexp.MustCompile(`\*([^*\s](?:[^*\n]*[^*\s])?)\*`)
	reItalicUnd  = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Sanitize strips markdown syntax from text so it reads naturally when spoken.
// Fenced code blocks are dropped; an unclosed fence loses only its marker.
// Inline code keeps its content, links keep their text, heading markers are
// removed, and emphasis markers are removed when the text inside them starts and
// ends with a non-space, so "2 * 3" survives. Whitespace runs collapse to a
// single space. It never fails.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	s := reFencedCode.ReplaceAllString(text, " ")
	s = reFenceMark.ReplaceAllString(s, " ")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reHeading.ReplaceAllString(s, "")
	s = reImageLink.ReplaceAllString(s, "$1")
	s = reLink.ReplaceAllString(s, "$1")
	s = reBold.ReplaceAllString(s, "$2")
	s = reItalicStar.ReplaceAllString(s, "$1")
	s = reItalicUnd.ReplaceAllString(s, "$1")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
