package emojiart

import "errors"

var (
	// ErrInvalidGlyph is returned when glyph content is not a single
	// pictographic grapheme or the requested size is not positive.
	ErrInvalidGlyph = errors.New("emojiart: invalid glyph")

	// ErrDeserialization is returned when snapshot bytes cannot be decoded
	// into a consistent document.
	ErrDeserialization = errors.New("emojiart: malformed document")
)
