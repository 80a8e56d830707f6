package emojiart

import (
	"bytes"
	"strconv"
)

// BackgroundKind identifies the active variant of a Background.
type BackgroundKind int

const (
	// Blank means the document has no background.
	Blank BackgroundKind = iota
	// ImageBytes means the encoded image is stored inline in the document.
	ImageBytes
	// RemoteImage means the image lives behind a locator and must be fetched.
	RemoteImage
)

func (k BackgroundKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case ImageBytes:
		return "imageData"
	case RemoteImage:
		return "url"
	default:
		return "unknown"
	}
}

// Background is the document's single backing image. The zero value is a
// blank background.
type Background struct {
	kind    BackgroundKind
	data    []byte
	locator string
}

// BlankBackground returns a background with no image.
func BlankBackground() Background {
	return Background{}
}

// ImageBackground returns a background holding encoded image bytes. The
// bytes are copied.
func ImageBackground(data []byte) Background {
	return Background{kind: ImageBytes, data: append([]byte{}, data...)}
}

// RemoteBackground returns a background that must be fetched from locator.
func RemoteBackground(locator string) Background {
	return Background{kind: RemoteImage, locator: locator}
}

func (b Background) Kind() BackgroundKind { return b.kind }

// ImageData returns a copy of the inline image bytes, or nil when the
// background is not ImageBytes.
func (b Background) ImageData() []byte {
	if b.kind != ImageBytes {
		return nil
	}
	return append([]byte{}, b.data...)
}

// Locator returns the remote locator, or "" when the background is not
// RemoteImage.
func (b Background) Locator() string {
	if b.kind != RemoteImage {
		return ""
	}
	return b.locator
}

// NeedsFetch reports whether resolving the background requires a fetch.
func (b Background) NeedsFetch() bool {
	return b.kind == RemoteImage
}

func (b Background) Equal(other Background) bool {
	if b.kind != other.kind {
		return false
	}
	switch b.kind {
	case ImageBytes:
		return bytes.Equal(b.data, other.data)
	case RemoteImage:
		return b.locator == other.locator
	default:
		return true
	}
}

func (b Background) String() string {
	switch b.kind {
	case ImageBytes:
		return "imageData(" + strconv.Itoa(len(b.data)) + " bytes)"
	case RemoteImage:
		return "url(" + b.locator + ")"
	default:
		return "blank"
	}
}
