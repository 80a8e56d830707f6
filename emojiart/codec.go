package emojiart

import (
	"encoding/json"
	"fmt"
	"math"
)

// FormatVersion is written into every encoded document. Documents without a
// version are treated as legacy exports that track the last issued id in
// uniqueEmojiID instead of nextId.
const FormatVersion = 1

type documentJSON struct {
	Version       int            `json:"version,omitempty"`
	Background    backgroundJSON `json:"background"`
	Emojis        []Glyph        `json:"emojis"`
	NextID        int            `json:"nextId,omitempty"`
	UniqueEmojiID *int           `json:"uniqueEmojiID,omitempty"`
}

type backgroundJSON struct {
	URL       *string `json:"url,omitempty"`
	ImageData *[]byte `json:"imageData,omitempty"`
}

// MarshalBinary encodes the document as a self-describing snapshot.
func (d Document) MarshalBinary() ([]byte, error) {
	return json.Marshal(d.toJSON())
}

// UnmarshalBinary replaces d with the decoded snapshot. d is left untouched
// on error.
func (d *Document) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	return d.MarshalBinary()
}

func (d *Document) UnmarshalJSON(data []byte) error {
	return d.UnmarshalBinary(data)
}

// Decode parses a snapshot produced by MarshalBinary, or a legacy export.
// Decoding is all or nothing: any inconsistency returns an error wrapping
// ErrDeserialization and no document.
func Decode(data []byte) (Document, error) {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if raw.Version != 0 && raw.Version != FormatVersion {
		return Document{}, fmt.Errorf("%w: unsupported version %d", ErrDeserialization, raw.Version)
	}

	bg, err := raw.Background.toBackground()
	if err != nil {
		return Document{}, err
	}

	seen := make(map[int]struct{}, len(raw.Emojis))
	maxID := 0
	for _, g := range raw.Emojis {
		if g.ID < 1 {
			return Document{}, fmt.Errorf("%w: glyph id %d is not positive", ErrDeserialization, g.ID)
		}
		if _, dup := seen[g.ID]; dup {
			return Document{}, fmt.Errorf("%w: duplicate glyph id %d", ErrDeserialization, g.ID)
		}
		seen[g.ID] = struct{}{}
		if g.Size <= 0 {
			return Document{}, fmt.Errorf("%w: glyph %d has size %d", ErrDeserialization, g.ID, g.Size)
		}
		if !IsEmoji(g.Content) {
			return Document{}, fmt.Errorf("%w: glyph %d content %q is not a single emoji", ErrDeserialization, g.ID, g.Content)
		}
		if g.ID > maxID {
			maxID = g.ID
		}
	}

	nextID, err := raw.resolveNextID(maxID)
	if err != nil {
		return Document{}, err
	}

	doc := Document{background: bg, nextID: nextID}
	if raw.Emojis != nil {
		doc.glyphs = make([]Glyph, len(raw.Emojis))
		copy(doc.glyphs, raw.Emojis)
	}
	return doc, nil
}

func (d Document) toJSON() documentJSON {
	out := documentJSON{
		Version: FormatVersion,
		Emojis:  d.glyphs,
		NextID:  d.NextID(),
	}
	switch d.background.kind {
	case ImageBytes:
		data := d.background.data
		out.Background.ImageData = &data
	case RemoteImage:
		locator := d.background.locator
		out.Background.URL = &locator
	}
	return out
}

func (b backgroundJSON) toBackground() (Background, error) {
	switch {
	case b.URL != nil && b.ImageData != nil:
		return Background{}, fmt.Errorf("%w: background has both url and imageData", ErrDeserialization)
	case b.URL != nil:
		return RemoteBackground(*b.URL), nil
	case b.ImageData != nil:
		return ImageBackground(*b.ImageData), nil
	default:
		return BlankBackground(), nil
	}
}

func (raw documentJSON) resolveNextID(maxID int) (int, error) {
	if raw.Version == 0 {
		last := maxID
		if raw.UniqueEmojiID != nil && *raw.UniqueEmojiID > last {
			last = *raw.UniqueEmojiID
		}
		if last == math.MaxInt {
			return 0, fmt.Errorf("%w: uniqueEmojiID %d leaves no free glyph id", ErrDeserialization, last)
		}
		return last + 1, nil
	}
	if raw.NextID < 1 {
		return 0, fmt.Errorf("%w: nextId %d is not positive", ErrDeserialization, raw.NextID)
	}
	if raw.NextID <= maxID {
		return 0, fmt.Errorf("%w: nextId %d does not exceed glyph id %d", ErrDeserialization, raw.NextID, maxID)
	}
	return raw.NextID, nil
}
