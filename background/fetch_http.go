package background

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBytes bounds the size of a fetched background.
const DefaultMaxBytes = 32 << 20

// HTTPFetcher fetches http and https locators. Transport errors, 5xx and 429
// responses are retried with exponential backoff; other non-200 responses
// fail immediately.
type HTTPFetcher struct {
	Client *http.Client
	// MaxBytes caps the body size. Zero means DefaultMaxBytes.
	MaxBytes int64
	// MaxTries is the total number of attempts. Zero means 3.
	MaxTries uint
	// RetryInterval is the initial delay between attempts. Zero means 200ms.
	RetryInterval time.Duration
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	tries := f.MaxTries
	if tries == 0 {
		tries = 3
	}
	b := backoff.NewExponentialBackOff()
	if f.RetryInterval > 0 {
		b.InitialInterval = f.RetryInterval
	} else {
		b.InitialInterval = 200 * time.Millisecond
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"locator": locator,
				"attempt": attempt,
			}).Debug("Background request failed")
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		default:
			return nil, backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > maxBytes {
			return nil, backoff.Permanent(fmt.Errorf("response exceeds %d bytes", maxBytes))
		}
		return data, nil
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}
