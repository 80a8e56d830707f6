// Package editor is the single entry point for changing an open document.
//
// An Editor owns the document's undo history and its background fetch
// controller. Every call is executed by one owner goroutine, so mutations,
// undo/redo and fetch completions never interleave. Fetches run on their own
// goroutines and post their results back to the owner, which discards
// results that have been superseded.
package editor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"emojiart-server/background"
	"emojiart-server/emojiart"
	"emojiart-server/history"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("editor: closed")

const defaultEventBuffer = 64

// Config configures an Editor. The zero value is usable.
type Config struct {
	// ID names the document in logs.
	ID string
	// Fetcher retrieves remote backgrounds. Nil selects
	// background.NewDefaultRouter with default options.
	Fetcher background.Fetcher
	// Decoder decodes background bytes. Nil selects background.ImageDecoder.
	Decoder background.Decoder
	// UndoLimit caps the undo stack. Zero keeps every step.
	UndoLimit int
	// EventBuffer is the channel capacity per subscriber.
	EventBuffer int
	Metrics     *Metrics
}

// View is a consistent snapshot of an editor's observable state.
type View struct {
	Revision   uint64            `json:"revision"`
	Document   emojiart.Document `json:"document"`
	FetchState background.State  `json:"fetchState"`
	CanUndo    bool              `json:"canUndo"`
	CanRedo    bool              `json:"canRedo"`
	UndoLabel  string            `json:"undoLabel,omitempty"`
	RedoLabel  string            `json:"redoLabel,omitempty"`
	HasImage   bool              `json:"hasBackgroundImage"`

	image *background.Image
}

// Editor serializes all access to one document.
type Editor struct {
	id      string
	logger  *logrus.Entry
	metrics *Metrics

	calls     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	view atomic.Pointer[View]

	// Owned by the run goroutine.
	history  *history.Log[emojiart.Document]
	ctrl     *background.Controller
	fetcher  background.Fetcher
	revision uint64
	subs     map[int]chan Event
	nextSub  int
	bufSize  int
}

// New starts an editor for doc and begins resolving its background.
func New(doc emojiart.Document, cfg Config) *Editor {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = background.NewDefaultRouter(background.Options{})
	}
	bufSize := cfg.EventBuffer
	if bufSize <= 0 {
		bufSize = defaultEventBuffer
	}
	var opts []history.Option
	if cfg.UndoLimit > 0 {
		opts = append(opts, history.WithLimit(cfg.UndoLimit))
	}

	e := &Editor{
		id:      cfg.ID,
		logger:  logrus.WithField("document_id", cfg.ID),
		metrics: cfg.Metrics,
		calls:   make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		history: history.New(doc, opts...),
		ctrl:    background.NewController(cfg.Decoder),
		fetcher: fetcher,
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
	e.startFetch(e.ctrl.Resolve(doc.Background()))
	e.view.Store(e.snapshot())
	e.metrics.EditorOpened()

	go e.run()
	return e
}

func (e *Editor) ID() string { return e.id }

func (e *Editor) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.calls:
			fn()
		case <-e.quit:
			e.ctrl.Stop()
			for id, ch := range e.subs {
				close(ch)
				delete(e.subs, id)
			}
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (e *Editor) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(finished) }:
	case <-e.quit:
		return ErrClosed
	}
	<-finished
	return nil
}

// post queues fn without waiting. It is dropped when the editor closes.
func (e *Editor) post(fn func()) {
	select {
	case e.calls <- fn:
	case <-e.quit:
	}
}

// change runs mutate against the history and publishes what it changed.
// The background is re-resolved when it differs afterwards, or always when
// force is set.
func (e *Editor) change(mutate func(), force bool) {
	prev := e.view.Load()
	mutate()
	cur := e.history.Current()

	if force || !cur.Background().Equal(prev.Document.Background()) {
		e.startFetch(e.ctrl.Resolve(cur.Background()))
	}
	if !cur.Equal(prev.Document) {
		e.revision++
	}
	e.commit(prev)
}

// commit stores the new view and emits events for whatever differs from
// prev.
func (e *Editor) commit(prev *View) {
	next := e.snapshot()
	e.view.Store(next)

	if next.Revision != prev.Revision {
		e.publish(DocumentChanged, next)
	}
	if next.FetchState != prev.FetchState {
		e.publish(FetchStateChanged, next)
	}
	if next.image != prev.image {
		e.publish(BackgroundImageChanged, next)
	}
}

func (e *Editor) snapshot() *View {
	img := e.ctrl.Image()
	return &View{
		Revision:   e.revision,
		Document:   e.history.Current(),
		FetchState: e.ctrl.State(),
		CanUndo:    e.history.CanUndo(),
		CanRedo:    e.history.CanRedo(),
		UndoLabel:  e.history.UndoLabel(),
		RedoLabel:  e.history.RedoLabel(),
		HasImage:   img != nil,
		image:      img,
	}
}

func (e *Editor) startFetch(req *background.Request) {
	if req == nil {
		return
	}
	fetcher := e.fetcher
	go func() {
		data, err := fetcher.Fetch(req.Context(), req.Locator)
		e.post(func() { e.complete(req, data, err) })
	}()
}

func (e *Editor) complete(req *background.Request, data []byte, err error) {
	prev := e.view.Load()
	if !e.ctrl.Complete(req, data, err) {
		e.metrics.RecordFetch("stale")
		return
	}
	if e.ctrl.State().Status == background.Failed {
		e.metrics.RecordFetch("failed")
		e.logger.WithField("locator", req.Locator).WithError(e.ctrl.Err()).Warn("Background unavailable")
	} else {
		e.metrics.RecordFetch("success")
	}
	e.commit(prev)
}

// record applies mutate either as an undoable step or silently.
func (e *Editor) record(label string, undoable bool, mutate func(emojiart.Document) emojiart.Document) {
	if undoable {
		e.history.Perform(label, mutate)
	} else {
		e.history.Apply(mutate)
	}
}

// AddGlyph places content at (x, y) and returns the new glyph's id.
func (e *Editor) AddGlyph(content string, x, y, size int, undoable bool) (int, error) {
	var id int
	var opErr error
	err := e.do(func() {
		next, newID, err := e.history.Current().AddGlyph(content, x, y, size)
		if err != nil {
			opErr = err
			return
		}
		id = newID
		g, _ := next.Glyph(newID)
		e.change(func() {
			e.record("Add "+g.Content, undoable, func(emojiart.Document) emojiart.Document { return next })
		}, false)
		e.metrics.RecordMutation("add")
		e.logger.WithField("glyph_id", id).Debug("Glyph added")
	})
	if err != nil {
		return 0, err
	}
	return id, opErr
}

// RemoveGlyph removes the glyph with id. An unknown id is a no-op that is
// still recorded for undo.
func (e *Editor) RemoveGlyph(id int, undoable bool) error {
	return e.do(func() {
		label := "Remove"
		if g, ok := e.history.Current().Glyph(id); ok {
			label = "Remove " + g.Content
		}
		e.change(func() {
			e.record(label, undoable, func(d emojiart.Document) emojiart.Document { return d.RemoveGlyph(id) })
		}, false)
		e.metrics.RecordMutation("remove")
	})
}

func (e *Editor) MoveGlyph(id, dx, dy int, undoable bool) error {
	return e.do(func() {
		e.change(func() {
			e.record("Move", undoable, func(d emojiart.Document) emojiart.Document { return d.MoveGlyph(id, dx, dy) })
		}, false)
		e.metrics.RecordMutation("move")
	})
}

func (e *Editor) ScaleGlyph(id int, factor float64, undoable bool) error {
	return e.do(func() {
		e.change(func() {
			e.record("Scale", undoable, func(d emojiart.Document) emojiart.Document { return d.ScaleGlyph(id, factor) })
		}, false)
		e.metrics.RecordMutation("scale")
	})
}

// SetBackground replaces the background and always starts resolving it,
// even when it equals the current one.
func (e *Editor) SetBackground(bg emojiart.Background, undoable bool) error {
	return e.do(func() {
		e.change(func() {
			e.record("Set Background", undoable, func(d emojiart.Document) emojiart.Document { return d.SetBackground(bg) })
		}, true)
		e.metrics.RecordMutation("background")
		e.logger.WithField("background", bg.Kind().String()).Debug("Background set")
	})
}

// Undo reverses the most recent recorded step. It reports false when there
// was nothing to undo.
func (e *Editor) Undo() (bool, error) {
	var ok bool
	err := e.do(func() {
		e.change(func() { ok = e.history.Undo() }, false)
		if ok {
			e.metrics.RecordHistory("undo")
		}
	})
	return ok, err
}

func (e *Editor) Redo() (bool, error) {
	var ok bool
	err := e.do(func() {
		e.change(func() { ok = e.history.Redo() }, false)
		if ok {
			e.metrics.RecordHistory("redo")
		}
	})
	return ok, err
}

// Load replaces the document with a decoded snapshot and clears the undo
// history. On a decode error nothing changes.
func (e *Editor) Load(data []byte) error {
	doc, err := emojiart.Decode(data)
	if err != nil {
		return err
	}
	return e.do(func() {
		e.change(func() { e.history.Reset(doc) }, true)
		// Reset always counts as a change so observers resynchronize.
		if prev := e.view.Load(); prev.Revision == e.revision {
			e.revision++
			e.commit(prev)
		}
		e.metrics.RecordMutation("load")
		e.logger.Info("Document loaded successfully")
	})
}

// Subscribe returns a channel of change events and a function that
// unsubscribes. Events are dropped rather than blocking the editor when the
// channel is full. The channel is closed on unsubscribe or Close.
func (e *Editor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, e.bufSize)
	var id int
	if err := e.do(func() {
		id = e.nextSub
		e.nextSub++
		e.subs[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.do(func() {
				if sub, ok := e.subs[id]; ok {
					close(sub)
					delete(e.subs, id)
				}
			})
		})
	}
}

// Close stops the owner goroutine and cancels any fetch in flight. It is
// safe to call more than once.
func (e *Editor) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
		e.metrics.EditorClosed()
		e.logger.Debug("Editor closed")
	})
	return nil
}

// Closed reports whether Close has been called.
func (e *Editor) Closed() bool {
	select {
	case <-e.quit:
		return true
	default:
		return false
	}
}

// View returns the latest committed view. It stays readable after Close.
func (e *Editor) View() View { return *e.view.Load() }

func (e *Editor) Document() emojiart.Document { return e.view.Load().Document }

func (e *Editor) FetchState() background.State { return e.view.Load().FetchState }

// BackgroundImage returns the decoded background, or nil.
func (e *Editor) BackgroundImage() *background.Image { return e.view.Load().image }

func (e *Editor) Revision() uint64 { return e.view.Load().Revision }

func (e *Editor) CanUndo() bool { return e.view.Load().CanUndo }

func (e *Editor) CanRedo() bool { return e.view.Load().CanRedo }

func (e *Editor) UndoLabel() string { return e.view.Load().UndoLabel }

func (e *Editor) RedoLabel() string { return e.view.Load().RedoLabel }

// Snapshot encodes the current document.
func (e *Editor) Snapshot() ([]byte, error) {
	return e.Document().MarshalBinary()
}

// Sync waits until every call queued before it has run. Fetch results that
// have not been posted yet are not waited for.
func (e *Editor) Sync(ctx context.Context) error {
	finished := make(chan struct{})
	select {
	case e.calls <- func() { close(finished) }:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}
