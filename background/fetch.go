package background

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned by Router for locators it has no fetcher
// for.
var ErrUnsupportedScheme = errors.New("background: unsupported locator scheme")

// Fetcher retrieves the encoded bytes behind a locator. Implementations must
// return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// FetchError reports that the bytes behind Locator could not be retrieved.
type FetchError struct {
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("background: fetch %s failed: %v", e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Router dispatches a locator to the fetcher registered for its scheme.
type Router struct {
	schemes map[string]Fetcher
}

func NewRouter() *Router {
	return &Router{schemes: make(map[string]Fetcher)}
}

// Handle registers f for scheme, replacing any previous registration.
// Schemes are matched case-insensitively.
func (r *Router) Handle(scheme string, f Fetcher) {
	r.schemes[strings.ToLower(scheme)] = f
}

// Schemes returns the number of registered schemes.
func (r *Router) Schemes() int { return len(r.schemes) }

func (r *Router) Fetch(ctx context.Context, locator string) ([]byte, error) {
	scheme, ok := schemeOf(locator)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, locator)
	}
	f, ok := r.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return f.Fetch(ctx, locator)
}

func schemeOf(locator string) (string, bool) {
	// data: URIs are not always valid for url.Parse, so check them first.
	if len(locator) >= 5 && strings.EqualFold(locator[:5], "data:") {
		return "data", true
	}
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme), true
}

// Options configures NewDefaultRouter.
type Options struct {
	HTTPClient *http.Client
	MaxBytes   int64
	MaxTries   uint
	// FileRoot enables file:// locators below it when set.
	FileRoot string
	// S3 enables s3:// locators when set.
	S3 S3API
}

// NewDefaultRouter registers the http, https and data schemes, plus file and
// s3 when configured.
func NewDefaultRouter(o Options) *Router {
	r := NewRouter()
	h := &HTTPFetcher{Client: o.HTTPClient, MaxBytes: o.MaxBytes, MaxTries: o.MaxTries}
	r.Handle("http", h)
	r.Handle("https", h)
	r.Handle("data", DataFetcher{})
	if o.FileRoot != "" {
		r.Handle("file", &FileFetcher{Root: o.FileRoot, MaxBytes: o.MaxBytes})
	}
	if o.S3 != nil {
		r.Handle("s3", &S3Fetcher{Client: o.S3, MaxBytes: o.MaxBytes})
	}
	return r
}
