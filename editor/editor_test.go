package editor

import (
	"context"
	"errors"
	"testing"
	"time"

	"emojiart-server/background"
	"emojiart-server/emojiart"
)

type fetchResult struct {
	data []byte
	err  error
}

type fetchCall struct {
	locator  string
	ctx      context.Context
	reply    chan fetchResult
	returned chan struct{}
}

// stubFetcher hands every fetch to the test and blocks until the test
// replies or the request is cancelled.
type stubFetcher struct {
	calls chan *fetchCall
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: make(chan *fetchCall, 16)}
}

func (f *stubFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	call := &fetchCall{
		locator:  locator,
		ctx:      ctx,
		reply:    make(chan fetchResult, 1),
		returned: make(chan struct{}),
	}
	defer close(call.returned)
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *stubFetcher) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a fetch")
		return nil
	}
}

func (f *stubFetcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected fetch of %s", call.locator)
	case <-time.After(20 * time.Millisecond):
	}
}

// textDecoder "decodes" any payload except "bad" into an image whose format
// is the payload itself.
var textDecoder = background.DecoderFunc(func(data []byte) (*background.Image, error) {
	if string(data) == "bad" {
		return nil, background.ErrDecodeFailed
	}
	return &background.Image{Format: string(data), Width: 1, Height: 1, Encoded: data}, nil
})

func newTestEditor(t *testing.T, doc emojiart.Document) (*Editor, *stubFetcher) {
	t.Helper()
	f := newStubFetcher()
	e := New(doc, Config{ID: t.Name(), Fetcher: f, Decoder: textDecoder})
	t.Cleanup(func() { e.Close() })
	return e, f
}

func waitFor(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

// settle lets a returned fetch post its completion, then drains the owner.
func settle(t *testing.T, e *Editor, call *fetchCall) {
	t.Helper()
	<-call.returned
	time.Sleep(20 * time.Millisecond)
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
}

func TestAddGlyph(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	events, cancel := e.Subscribe()
	defer cancel()

	id, err := e.AddGlyph("😀", 10, -5, 40, true)
	if err != nil {
		t.Fatalf("AddGlyph() failed: %v", err)
	}
	if id != 1 {
		t.Errorf("AddGlyph() id = %d, want 1", id)
	}
	ev := waitFor(t, events, DocumentChanged)
	if ev.Revision != 1 || ev.Document.Len() != 1 {
		t.Errorf("event = revision %d with %d glyphs, want 1/1", ev.Revision, ev.Document.Len())
	}
	if got := e.UndoLabel(); got != "Add 😀" {
		t.Errorf("UndoLabel() = %q, want %q", got, "Add 😀")
	}
	if !e.CanUndo() || e.CanRedo() {
		t.Errorf("CanUndo/CanRedo = %v/%v, want true/false", e.CanUndo(), e.CanRedo())
	}
}

func TestAddGlyph_Invalid(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	for _, content := range []string{"", "a", "😀😀"} {
		if _, err := e.AddGlyph(content, 0, 0, 10, true); !errors.Is(err, emojiart.ErrInvalidGlyph) {
			t.Errorf("AddGlyph(%q) error = %v, want ErrInvalidGlyph", content, err)
		}
	}
	if _, err := e.AddGlyph("😀", 0, 0, 0, true); !errors.Is(err, emojiart.ErrInvalidGlyph) {
		t.Errorf("AddGlyph(size 0) error = %v, want ErrInvalidGlyph", err)
	}
	if e.CanUndo() {
		t.Error("rejected AddGlyph recorded an undo entry")
	}
	if e.Revision() != 0 {
		t.Errorf("Revision() = %d, want 0", e.Revision())
	}
}

func TestLabels(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	id, _ := e.AddGlyph("🍎", 0, 0, 10, true)

	steps := []struct {
		run  func() error
		want string
	}{
		{func() error { return e.MoveGlyph(id, 1, 1, true) }, "Move"},
		{func() error { return e.ScaleGlyph(id, 2, true) }, "Scale"},
		{func() error { return e.RemoveGlyph(99, true) }, "Remove"},
		{func() error { return e.RemoveGlyph(id, true) }, "Remove 🍎"},
		{func() error { return e.SetBackground(emojiart.BlankBackground(), true) }, "Set Background"},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("mutation failed: %v", err)
		}
		if got := e.UndoLabel(); got != s.want {
			t.Errorf("UndoLabel() = %q, want %q", got, s.want)
		}
	}

	if ok, err := e.Undo(); !ok || err != nil {
		t.Fatalf("Undo() = %v, %v", ok, err)
	}
	if got := e.RedoLabel(); got != "Set Background" {
		t.Errorf("RedoLabel() = %q, want %q", got, "Set Background")
	}
}

func TestUndoRedo_RestoresDocuments(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	initial := e.Document()

	id, _ := e.AddGlyph("🍌", 0, 0, 10, true)
	afterAdd := e.Document()
	e.MoveGlyph(id, 5, 5, true)
	afterMove := e.Document()

	e.Undo()
	if !e.Document().Equal(afterAdd) {
		t.Errorf("after one undo = %v, want %v", e.Document(), afterAdd)
	}
	e.Undo()
	if !e.Document().Equal(initial) {
		t.Errorf("after two undos = %v, want %v", e.Document(), initial)
	}
	if ok, _ := e.Undo(); ok {
		t.Error("Undo() on empty history returned true")
	}

	e.Redo()
	e.Redo()
	if !e.Document().Equal(afterMove) {
		t.Errorf("after redo = %v, want %v", e.Document(), afterMove)
	}
	if ok, _ := e.Redo(); ok {
		t.Error("Redo() on empty history returned true")
	}
}

func TestNotUndoable(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	id, _ := e.AddGlyph("🐟", 0, 0, 10, true)
	if err := e.MoveGlyph(id, 7, 0, false); err != nil {
		t.Fatalf("MoveGlyph() failed: %v", err)
	}

	if e.UndoLabel() != "Add 🐟" {
		t.Errorf("UndoLabel() = %q, want %q", e.UndoLabel(), "Add 🐟")
	}
	g, _ := e.Document().Glyph(id)
	if g.X != 7 {
		t.Errorf("glyph x = %d, want 7", g.X)
	}
	if e.Revision() != 2 {
		t.Errorf("Revision() = %d, want 2", e.Revision())
	}
}

func TestNoOpRemoveIsRecorded(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	if err := e.RemoveGlyph(42, true); err != nil {
		t.Fatalf("RemoveGlyph() failed: %v", err)
	}
	if !e.CanUndo() {
		t.Error("no-op remove was not recorded")
	}
	if e.Revision() != 0 {
		t.Errorf("Revision() = %d, want 0 for a no-op", e.Revision())
	}
}

func TestRemoteBackground_Success(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())
	events, cancel := e.Subscribe()
	defer cancel()

	if err := e.SetBackground(emojiart.RemoteBackground("https://a.example/sky"), true); err != nil {
		t.Fatalf("SetBackground() failed: %v", err)
	}
	ev := waitFor(t, events, FetchStateChanged)
	if ev.State.Status != background.Fetching || ev.State.Locator != "https://a.example/sky" {
		t.Fatalf("state = %v, want fetching", ev.State)
	}

	call := f.next(t)
	call.reply <- fetchResult{data: []byte("sky")}

	ev = waitFor(t, events, BackgroundImageChanged)
	if ev.Image == nil || ev.Image.Format != "sky" {
		t.Fatalf("image = %+v, want sky", ev.Image)
	}
	if e.FetchState().Status != background.Idle {
		t.Errorf("FetchState() = %v, want idle", e.FetchState())
	}
	if img := e.BackgroundImage(); img == nil || img.Format != "sky" {
		t.Errorf("BackgroundImage() = %+v, want sky", img)
	}
}

func TestRemoteBackground_Supersession(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())

	e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
	callA := f.next(t)
	e.SetBackground(emojiart.RemoteBackground("https://b.example/b"), true)
	callB := f.next(t)

	if callA.ctx.Err() == nil {
		t.Error("superseded fetch was not cancelled")
	}

	callA.reply <- fetchResult{data: []byte("a")}
	settle(t, e, callA)
	want := background.State{Status: background.Fetching, Locator: "https://b.example/b"}
	if e.FetchState() != want {
		t.Fatalf("FetchState() = %v after stale result, want %v", e.FetchState(), want)
	}
	if e.BackgroundImage() != nil {
		t.Fatal("stale result installed an image")
	}

	callB.reply <- fetchResult{data: []byte("b")}
	settle(t, e, callB)
	if img := e.BackgroundImage(); img == nil || img.Format != "b" {
		t.Errorf("BackgroundImage() = %+v, want b", img)
	}
	if e.FetchState().Status != background.Idle {
		t.Errorf("FetchState() = %v, want idle", e.FetchState())
	}
}

func TestBlankDuringFetch(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())

	e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
	call := f.next(t)
	e.SetBackground(emojiart.BlankBackground(), true)

	call.reply <- fetchResult{data: []byte("a")}
	settle(t, e, call)

	if e.FetchState().Status != background.Idle {
		t.Errorf("FetchState() = %v, want idle", e.FetchState())
	}
	if e.BackgroundImage() != nil {
		t.Error("BackgroundImage() set after switching to blank")
	}
}

func TestRemoteBackground_Failures(t *testing.T) {
	tests := []struct {
		name   string
		result fetchResult
	}{
		{"transport", fetchResult{err: errors.New("connection reset")}},
		{"decode", fetchResult{data: []byte("bad")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, f := newTestEditor(t, emojiart.New())
			events, cancel := e.Subscribe()
			defer cancel()

			e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
			f.next(t).reply <- tt.result

			for {
				ev := waitFor(t, events, FetchStateChanged)
				if ev.State.Status == background.Failed {
					break
				}
			}
			want := background.State{Status: background.Failed, Locator: "https://a.example/a"}
			if e.FetchState() != want {
				t.Errorf("FetchState() = %v, want %v", e.FetchState(), want)
			}
			if e.BackgroundImage() != nil {
				t.Error("BackgroundImage() set after failure")
			}
		})
	}
}

func TestImageBytesBackground(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())
	e.SetBackground(emojiart.ImageBackground([]byte("inline")), true)
	f.expectNone(t)

	if img := e.BackgroundImage(); img == nil || img.Format != "inline" {
		t.Errorf("BackgroundImage() = %+v, want inline", img)
	}

	e.SetBackground(emojiart.ImageBackground([]byte("bad")), true)
	if e.BackgroundImage() != nil {
		t.Error("undecodable inline bytes left an image behind")
	}
	if e.FetchState().Status != background.Idle {
		t.Errorf("FetchState() = %v, want idle", e.FetchState())
	}
}

func TestUndoRefetchesBackground(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())

	e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
	call := f.next(t)
	call.reply <- fetchResult{data: []byte("a")}
	settle(t, e, call)

	e.SetBackground(emojiart.BlankBackground(), true)
	if e.BackgroundImage() != nil {
		t.Fatal("blank background kept the image")
	}

	e.Undo()
	again := f.next(t)
	if again.locator != "https://a.example/a" {
		t.Errorf("refetched %s, want https://a.example/a", again.locator)
	}
	if e.FetchState().Status != background.Fetching {
		t.Errorf("FetchState() = %v, want fetching", e.FetchState())
	}
}

func TestUndoOfGlyphEditDoesNotRefetch(t *testing.T) {
	e, f := newTestEditor(t, emojiart.New())
	e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
	call := f.next(t)
	call.reply <- fetchResult{data: []byte("a")}
	settle(t, e, call)

	e.AddGlyph("🌵", 0, 0, 10, true)
	e.Undo()
	f.expectNone(t)
	if e.BackgroundImage() == nil {
		t.Error("undo of a glyph edit dropped the background image")
	}
}

func TestNewResolvesInitialBackground(t *testing.T) {
	doc := emojiart.New().SetBackground(emojiart.RemoteBackground("https://a.example/start"))
	e, f := newTestEditor(t, doc)

	call := f.next(t)
	if call.locator != "https://a.example/start" {
		t.Errorf("fetched %s, want https://a.example/start", call.locator)
	}
	if e.FetchState().Status != background.Fetching {
		t.Errorf("FetchState() = %v, want fetching", e.FetchState())
	}
}

func TestLoad(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	e.AddGlyph("😀", 0, 0, 10, true)

	other, _, _ := emojiart.New().AddGlyph("🐙", 3, 4, 20)
	data, err := other.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() failed: %v", err)
	}

	if err := e.Load([]byte("{not json")); !errors.Is(err, emojiart.ErrDeserialization) {
		t.Fatalf("Load(garbage) error = %v, want ErrDeserialization", err)
	}
	if e.Document().Len() != 1 || !e.CanUndo() {
		t.Fatal("failed Load() changed the editor")
	}

	before := e.Revision()
	if err := e.Load(data); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !e.Document().Equal(other) {
		t.Errorf("Document() = %v, want %v", e.Document(), other)
	}
	if e.CanUndo() || e.CanRedo() {
		t.Error("Load() kept undo history")
	}
	if e.Revision() <= before {
		t.Errorf("Revision() = %d, want > %d", e.Revision(), before)
	}

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	decoded, err := emojiart.Decode(snap)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if !decoded.Equal(other) {
		t.Errorf("Snapshot() round trip = %v, want %v", decoded, other)
	}
}

func TestUndoLimit(t *testing.T) {
	e := New(emojiart.New(), Config{Fetcher: newStubFetcher(), UndoLimit: 2})
	defer e.Close()
	for i := 0; i < 5; i++ {
		e.AddGlyph("⭐", i, i, 10, true)
	}
	undone := 0
	for {
		ok, _ := e.Undo()
		if !ok {
			break
		}
		undone++
	}
	if undone != 2 {
		t.Errorf("undid %d steps, want 2", undone)
	}
}

func TestClose(t *testing.T) {
	f := newStubFetcher()
	e := New(emojiart.New(), Config{Fetcher: f, Decoder: textDecoder, Metrics: NewMetrics()})
	events, _ := e.Subscribe()

	e.SetBackground(emojiart.RemoteBackground("https://a.example/a"), true)
	call := f.next(t)

	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
	if call.ctx.Err() == nil {
		t.Error("Close() did not cancel the in-flight fetch")
	}
	if !e.Closed() {
		t.Error("Closed() = false after Close()")
	}

	for range events {
	}

	if _, err := e.AddGlyph("😀", 0, 0, 10, true); !errors.Is(err, ErrClosed) {
		t.Errorf("AddGlyph() after Close error = %v, want ErrClosed", err)
	}
	if _, err := e.Undo(); !errors.Is(err, ErrClosed) {
		t.Errorf("Undo() after Close error = %v, want ErrClosed", err)
	}
	if err := e.Sync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync() after Close error = %v, want ErrClosed", err)
	}

	ch, cancel := e.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("Subscribe() after Close returned an open channel")
	}
	if e.FetchState().Status != background.Fetching {
		t.Errorf("FetchState() = %v, want last state before Close", e.FetchState())
	}
}

func TestUnsubscribe(t *testing.T) {
	e, _ := newTestEditor(t, emojiart.New())
	events, cancel := e.Subscribe()
	cancel()
	cancel()

	if _, ok := <-events; ok {
		t.Error("channel still open after unsubscribe")
	}
	if _, err := e.AddGlyph("😀", 0, 0, 10, true); err != nil {
		t.Fatalf("AddGlyph() failed: %v", err)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	f := newStubFetcher()
	e := New(emojiart.New(), Config{Fetcher: f, EventBuffer: 1})
	defer e.Close()
	_, cancel := e.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.AddGlyph("😀", i, 0, 10, true)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutations blocked on a full subscriber")
	}
	if e.Revision() != 10 {
		t.Errorf("Revision() = %d, want 10", e.Revision())
	}
}
