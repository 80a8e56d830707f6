// Package emojiart holds the document model of an emoji canvas: a single
// background and an ordered set of placed emoji glyphs.
//
// Documents are values. Every operation returns a new Document and never
// shares mutable state with its receiver, so earlier values stay valid as
// undo snapshots.
package emojiart

import (
	"fmt"
	"math"
	"strings"
)

// MaxGlyphSize bounds the nominal size a glyph can be scaled to.
const MaxGlyphSize = math.MaxInt32

// Glyph is a single emoji placed on the canvas. X and Y are offsets from the
// canvas center in canvas units, not screen pixels.
type Glyph struct {
	ID      int    `json:"id"`
	Content string `json:"text"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Size    int    `json:"size"`
}

// Document is the persisted state of an emoji canvas. The zero value is an
// empty document with a blank background.
type Document struct {
	background Background
	glyphs     []Glyph
	nextID     int
}

// New returns an empty document. The first glyph added receives id 1.
func New() Document {
	return Document{nextID: 1}
}

// NextID returns the id the next added glyph will receive.
func (d Document) NextID() int {
	if d.nextID < 1 {
		return 1
	}
	return d.nextID
}

func (d Document) Background() Background { return d.background }

// Glyphs returns the glyphs in paint order, bottom first. The slice is a
// copy.
func (d Document) Glyphs() []Glyph {
	return append([]Glyph(nil), d.glyphs...)
}

func (d Document) Len() int { return len(d.glyphs) }

// Glyph returns the glyph with the given id.
func (d Document) Glyph(id int) (Glyph, bool) {
	if i := d.index(id); i >= 0 {
		return d.glyphs[i], true
	}
	return Glyph{}, false
}

// AddGlyph places content at (x, y) with the given nominal size and returns
// the new document together with the id issued for the glyph.
func (d Document) AddGlyph(content string, x, y, size int) (Document, int, error) {
	if size <= 0 {
		return d, 0, fmt.Errorf("%w: size %d is not positive", ErrInvalidGlyph, size)
	}
	content, err := NormalizeGlyph(content)
	if err != nil {
		return d, 0, err
	}

	id := d.NextID()
	if id == math.MaxInt {
		return d, 0, fmt.Errorf("%w: glyph ids exhausted", ErrInvalidGlyph)
	}
	glyphs := make([]Glyph, len(d.glyphs), len(d.glyphs)+1)
	copy(glyphs, d.glyphs)
	glyphs = append(glyphs, Glyph{ID: id, Content: content, X: x, Y: y, Size: size})

	d.glyphs = glyphs
	d.nextID = id + 1
	return d, id, nil
}

// RemoveGlyph removes the glyph with the given id. Removing an absent id
// returns the document unchanged.
func (d Document) RemoveGlyph(id int) Document {
	i := d.index(id)
	if i < 0 {
		return d
	}
	glyphs := make([]Glyph, 0, len(d.glyphs)-1)
	glyphs = append(glyphs, d.glyphs[:i]...)
	glyphs = append(glyphs, d.glyphs[i+1:]...)
	d.glyphs = glyphs
	return d
}

// MoveGlyph offsets the glyph with the given id by (dx, dy).
func (d Document) MoveGlyph(id, dx, dy int) Document {
	return d.update(id, func(g *Glyph) {
		g.X += dx
		g.Y += dy
	})
}

// ScaleGlyph multiplies the size of the glyph with the given id by factor,
// rounding half away from zero. The result never drops below 1. A NaN or
// infinite factor leaves the document unchanged.
func (d Document) ScaleGlyph(id int, factor float64) Document {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return d
	}
	return d.update(id, func(g *Glyph) {
		g.Size = scaleSize(g.Size, factor)
	})
}

func (d Document) SetBackground(bg Background) Document {
	d.background = bg
	return d
}

// Equal reports whether both documents hold the same background, the same
// glyphs in the same order and the same next id.
func (d Document) Equal(other Document) bool {
	if d.NextID() != other.NextID() || !d.background.Equal(other.background) {
		return false
	}
	if len(d.glyphs) != len(other.glyphs) {
		return false
	}
	for i := range d.glyphs {
		if d.glyphs[i] != other.glyphs[i] {
			return false
		}
	}
	return true
}

func (d Document) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document{background: %s, nextId: %d, glyphs: [", d.background, d.NextID())
	for i, g := range d.glyphs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d:%s@(%d,%d)x%d", g.ID, g.Content, g.X, g.Y, g.Size)
	}
	sb.WriteString("]}")
	return sb.String()
}

func (d Document) index(id int) int {
	for i := range d.glyphs {
		if d.glyphs[i].ID == id {
			return i
		}
	}
	return -1
}

func (d Document) update(id int, fn func(g *Glyph)) Document {
	i := d.index(id)
	if i < 0 {
		return d
	}
	glyphs := make([]Glyph, len(d.glyphs))
	copy(glyphs, d.glyphs)
	fn(&glyphs[i])
	d.glyphs = glyphs
	return d
}

func scaleSize(size int, factor float64) int {
	scaled := math.Round(float64(size) * factor)
	switch {
	case scaled < 1:
		return 1
	case scaled > MaxGlyphSize:
		return MaxGlyphSize
	default:
		return int(scaled)
	}
}
