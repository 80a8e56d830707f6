// Package background resolves a document background to a decoded image.
//
// Controller is a synchronous state machine: Resolve reacts to a new
// background and, for remote backgrounds, hands out a Request that the caller
// fetches however it likes. The result is fed back through Complete, which
// discards anything that is no longer the current request. Only one request
// is current at a time; issuing a new one cancels the context of the
// previous.
package background

import (
	"context"

	"github.com/sirupsen/logrus"

	"emojiart-server/emojiart"
)

// Request identifies one remote fetch. Generation increases with every
// request a Controller issues.
type Request struct {
	Locator    string
	Generation uint64

	ctx context.Context
}

// Context is cancelled when the request is superseded or the controller is
// stopped.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Controller tracks fetch state and the cached background image. It is not
// safe for concurrent use; the owner serializes Resolve and Complete.
type Controller struct {
	decoder    Decoder
	state      State
	image      *Image
	lastErr    error
	generation uint64
	current    *Request
	cancel     context.CancelFunc
}

// NewController returns an idle controller. A nil decoder selects
// ImageDecoder.
func NewController(decoder Decoder) *Controller {
	if decoder == nil {
		decoder = ImageDecoder{}
	}
	return &Controller{decoder: decoder}
}

func (c *Controller) State() State { return c.state }

// Image returns the cached decoded background, or nil.
func (c *Controller) Image() *Image { return c.image }

// Err returns the error behind the current Failed state, or nil.
func (c *Controller) Err() error { return c.lastErr }

// Pending returns the request currently in flight, or nil.
func (c *Controller) Pending() *Request { return c.current }

// Resolve moves the controller to the state implied by bg. It returns a
// Request when bg must be fetched; any request already in flight is
// superseded.
func (c *Controller) Resolve(bg emojiart.Background) *Request {
	c.supersede()
	c.image = nil
	c.lastErr = nil

	switch bg.Kind() {
	case emojiart.RemoteImage:
		c.generation++
		ctx, cancel := context.WithCancel(context.Background())
		req := &Request{Locator: bg.Locator(), Generation: c.generation, ctx: ctx}
		c.current = req
		c.cancel = cancel
		c.state = State{Status: Fetching, Locator: req.Locator}
		logrus.WithFields(logrus.Fields{
			"locator":    req.Locator,
			"generation": req.Generation,
		}).Debug("Background fetch started")
		return req

	case emojiart.ImageBytes:
		c.state = State{Status: Idle}
		img, err := c.decoder.Decode(bg.ImageData())
		if err != nil {
			// Undecodable inline bytes mean "no image", not a failure.
			logrus.WithError(err).Debug("Inline background could not be decoded")
			return nil
		}
		c.image = img

	default:
		c.state = State{Status: Idle}
	}
	return nil
}

// Complete applies the outcome of req. It reports false, leaving the
// controller untouched, when req is not the current request.
func (c *Controller) Complete(req *Request, data []byte, fetchErr error) bool {
	if req == nil || c.current != req || c.state.Status != Fetching || c.state.Locator != req.Locator {
		if req != nil {
			logrus.WithFields(logrus.Fields{
				"locator":    req.Locator,
				"generation": req.Generation,
			}).Debug("Discarding stale background fetch result")
		}
		return false
	}
	c.supersede()

	log := logrus.WithFields(logrus.Fields{
		"locator":    req.Locator,
		"generation": req.Generation,
	})

	if fetchErr != nil {
		c.fail(req.Locator, &FetchError{Locator: req.Locator, Err: fetchErr})
		log.WithError(fetchErr).Warn("Background fetch failed")
		return true
	}

	img, err := c.decoder.Decode(data)
	if err != nil {
		c.fail(req.Locator, err)
		log.WithError(err).Warn("Fetched background could not be decoded")
		return true
	}

	c.image = img
	c.lastErr = nil
	c.state = State{Status: Idle}
	log.WithField("format", img.Format).Debug("Background fetch completed")
	return true
}

// Stop cancels any request in flight. The state is left as it is, so a
// result that arrives later is discarded.
func (c *Controller) Stop() {
	c.supersede()
}

func (c *Controller) fail(locator string, err error) {
	c.image = nil
	c.lastErr = err
	c.state = State{Status: Failed, Locator: locator}
}

func (c *Controller) supersede() {
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	c.current = nil
}
