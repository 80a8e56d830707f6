package emojiart

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Below this code point a lone Emoji scalar (digits, '#', '©', arrows) is
// ordinary text unless it starts a multi-scalar sequence such as a keycap.
const firstPictographic = 0x238D

// Watch and hourglass sit below firstPictographic but have default emoji
// presentation.
var presentationBelowPictographic = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x231A, Hi: 0x231B, Stride: 1}},
}

// IsEmoji reports whether s is exactly one extended grapheme cluster that
// renders as a pictograph.
func IsEmoji(s string) bool {
	if s == "" || uniseg.GraphemeClusterCount(s) != 1 {
		return false
	}
	lead, _ := utf8.DecodeRuneInString(s)
	if !unicode.Is(emojiTable, lead) {
		return false
	}
	return lead >= firstPictographic ||
		unicode.Is(presentationBelowPictographic, lead) ||
		utf8.RuneCountInString(s) > 1
}

// NormalizeGlyph returns the NFC form of content if it is a valid glyph.
func NormalizeGlyph(content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidGlyph)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidGlyph)
	}
	normalized := norm.NFC.String(content)
	if !IsEmoji(normalized) {
		return "", fmt.Errorf("%w: %q is not a single emoji", ErrInvalidGlyph, content)
	}
	return normalized, nil
}
