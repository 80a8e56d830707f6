// Package workspace keeps one live editor per open document and persists
// their snapshots to a document store.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"emojiart-server/background"
	"emojiart-server/core"
	"emojiart-server/editor"
	"emojiart-server/emojiart"
)

// ErrClosed is returned once CloseAll has run.
var ErrClosed = errors.New("workspace: closed")

type Config struct {
	Fetcher   background.Fetcher
	Decoder   background.Decoder
	UndoLimit int
	// AutosaveInterval enables periodic saving of changed documents.
	AutosaveInterval time.Duration
	Metrics          *editor.Metrics
}

type entry struct {
	editor *editor.Editor
	// saving serializes writes of this document so an older snapshot never
	// lands after a newer one.
	saving sync.Mutex
	// saved is the revision last written to the store. Guarded by
	// Workspace.mu.
	saved uint64
}

type Workspace struct {
	store    core.DocumentStore
	activity core.ActivityRegistry
	cfg      Config

	mu     sync.Mutex
	open   map[string]*entry
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a workspace on store. If store also implements
// core.ActivityRegistry, opened and saved documents are marked active.
func New(store core.DocumentStore, cfg Config) *Workspace {
	w := &Workspace{
		store: store,
		cfg:   cfg,
		open:  make(map[string]*entry),
		stop:  make(chan struct{}),
	}
	if reg, ok := store.(core.ActivityRegistry); ok {
		w.activity = reg
	}
	if cfg.AutosaveInterval > 0 {
		w.wg.Add(1)
		go w.autosave(cfg.AutosaveInterval)
	}
	return w
}

// Store returns the underlying document store.
func (w *Workspace) Store() core.DocumentStore { return w.store }

// Create validates data and stores it as a new document. Empty data
// creates a blank document.
func (w *Workspace) Create(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		blank, err := emojiart.New().MarshalBinary()
		if err != nil {
			return "", err
		}
		data = blank
	} else if _, err := emojiart.Decode(data); err != nil {
		return "", err
	}

	id, err := w.store.Create(ctx, &core.Document{Data: *bytes.NewBuffer(data)})
	if err != nil {
		return "", err
	}
	w.touch(ctx, id)
	return id, nil
}

// Open returns the live editor for id, loading it from the store on first
// use.
func (w *Workspace) Open(ctx context.Context, id string) (*editor.Editor, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := w.open[id]; ok {
		w.mu.Unlock()
		return e.editor, nil
	}
	w.mu.Unlock()

	stored, err := w.store.FindID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := emojiart.Decode(stored.Data.Bytes())
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	// Another caller may have loaded the same document meanwhile.
	if e, ok := w.open[id]; ok {
		w.mu.Unlock()
		return e.editor, nil
	}

	ed := editor.New(doc, editor.Config{
		ID:        id,
		Fetcher:   w.cfg.Fetcher,
		Decoder:   w.cfg.Decoder,
		UndoLimit: w.cfg.UndoLimit,
		Metrics:   w.cfg.Metrics,
	})
	w.open[id] = &entry{editor: ed, saved: ed.Revision()}
	w.mu.Unlock()

	logrus.WithField("document_id", id).Info("Document opened successfully")
	w.touch(ctx, id)
	return ed, nil
}

// Lookup returns the editor for id if it is open.
func (w *Workspace) Lookup(id string) (*editor.Editor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.open[id]
	if !ok {
		return nil, false
	}
	return e.editor, true
}

// OpenIDs lists the ids of open documents in sorted order.
func (w *Workspace) OpenIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.open))
	for id := range w.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save writes the current snapshot of an open document to the store.
func (w *Workspace) Save(ctx context.Context, id string) error {
	w.mu.Lock()
	e, ok := w.open[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("open document with id %s %w", id, core.ErrNotFound)
	}
	return w.save(ctx, id, e)
}

func (w *Workspace) save(ctx context.Context, id string, e *entry) error {
	e.saving.Lock()
	defer e.saving.Unlock()

	view := e.editor.View()
	data, err := view.Document.MarshalBinary()
	if err != nil {
		return err
	}
	if err := w.store.Update(ctx, id, &core.Document{Data: *bytes.NewBuffer(data)}); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to save document")
		return err
	}

	w.mu.Lock()
	e.saved = view.Revision
	w.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"revision":    view.Revision,
	}).Info("Document saved successfully")
	w.touch(ctx, id)
	return nil
}

// SaveDirty saves every open document whose revision advanced since its
// last save.
func (w *Workspace) SaveDirty(ctx context.Context) error {
	w.mu.Lock()
	dirty := make(map[string]*entry)
	for id, e := range w.open {
		if e.editor.Revision() != e.saved {
			dirty[id] = e
		}
	}
	w.mu.Unlock()

	var errs []error
	for id, e := range dirty {
		if err := w.save(ctx, id, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close saves unsaved changes and closes the editor for id. Closing a
// document that is not open is a no-op.
func (w *Workspace) Close(ctx context.Context, id string) error {
	w.mu.Lock()
	e, ok := w.open[id]
	if ok {
		delete(w.open, id)
	}
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return w.closeEntry(ctx, id, e)
}

func (w *Workspace) closeEntry(ctx context.Context, id string, e *entry) error {
	w.mu.Lock()
	dirty := e.editor.Revision() != e.saved
	w.mu.Unlock()

	var err error
	if dirty {
		err = w.save(ctx, id, e)
	}
	e.editor.Close()
	logrus.WithField("document_id", id).Info("Document closed successfully")
	return err
}

// CloseAll stops autosaving, then saves and closes every open document.
func (w *Workspace) CloseAll(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	open := w.open
	w.open = make(map[string]*entry)
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()

	var errs []error
	for id, e := range open {
		if err := w.closeEntry(ctx, id, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) autosave(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := w.SaveDirty(ctx); err != nil {
				logrus.WithError(err).Warn("Autosave failed")
			}
			cancel()
		}
	}
}

func (w *Workspace) touch(ctx context.Context, id string) {
	if w.activity == nil {
		return
	}
	if err := w.activity.TouchDocument(ctx, id); err != nil {
		logrus.WithField("document_id", id).WithError(err).Warn("Failed to record document activity")
	}
}
