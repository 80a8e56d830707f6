package background

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileAccessDenied is returned for file locators outside the allowed
// root, or when no root is configured.
var ErrFileAccessDenied = errors.New("background: file access denied")

// FileFetcher reads file:// locators. Paths are resolved inside Root and may
// not escape it; an empty Root disables file fetching.
type FileFetcher struct {
	Root     string
	MaxBytes int64
}

func (f *FileFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if f.Root == "" {
		return nil, ErrFileAccessDenied
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(u.Scheme, "file") || (u.Host != "" && u.Host != "localhost") {
		return nil, fmt.Errorf("invalid file locator %q", locator)
	}

	root, err := filepath.Abs(f.Root)
	if err != nil {
		return nil, err
	}
	path := filepath.Clean(filepath.FromSlash(u.Path))
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrFileAccessDenied, u.Path)
	}

	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	file, err := r.Open(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file %s not found", rel)
		}
		return nil, err
	}
	defer file.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readLimited(file, f.MaxBytes)
}

// DataFetcher decodes data: URIs, either base64 or percent-encoded.
type DataFetcher struct{}

func (DataFetcher) Fetch(_ context.Context, locator string) ([]byte, error) {
	if len(locator) < 5 || !strings.EqualFold(locator[:5], "data:") {
		return nil, fmt.Errorf("invalid data locator")
	}
	header, payload, ok := strings.Cut(locator[5:], ",")
	if !ok {
		return nil, fmt.Errorf("data locator has no payload")
	}

	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some producers omit padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, fmt.Errorf("data locator: %w", err)
			}
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("data locator: %w", err)
	}
	return []byte(data), nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("content exceeds %d bytes", maxBytes)
	}
	return data, nil
}
