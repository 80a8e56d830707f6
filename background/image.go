package background

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecodeFailed is returned when bytes cannot be decoded as an image.
var ErrDecodeFailed = errors.New("background: decode failed")

// DefaultMaxPixels bounds the dimensions ImageDecoder accepts.
const DefaultMaxPixels = 64 << 20

// Image is a decoded background. Encoded holds the bytes it was decoded from
// and must not be modified.
type Image struct {
	Format  string
	Width   int
	Height  int
	Encoded []byte
	Decoded image.Image
}

// Decoder turns encoded bytes into an Image.
type Decoder interface {
	Decode(data []byte) (*Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (*Image, error)

func (f DecoderFunc) Decode(data []byte) (*Image, error) { return f(data) }

// ImageDecoder decodes PNG, JPEG, GIF, BMP, TIFF and WebP.
type ImageDecoder struct {
	// MaxPixels rejects images whose width*height exceeds it. Zero means
	// DefaultMaxPixels.
	MaxPixels int
}

func (d ImageDecoder) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecodeFailed)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	limit := d.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > limit/cfg.Height {
		return nil, fmt.Errorf("%w: %s image of %dx%d exceeds limits", ErrDecodeFailed, format, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return &Image{
		Format:  format,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Encoded: append([]byte(nil), data...),
		Decoded: img,
	}, nil
}
