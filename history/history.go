// Package history implements linear undo/redo over immutable values.
//
// A Log keeps the current value plus two stacks of labelled snapshots.
// Entries store complete values rather than diffs, so undo and redo can only
// ever restore a value that was actually observed.
package history

// Entry pairs a display label with the value needed to reverse one step.
type Entry[T any] struct {
	Label string
	Value T
}

// Option configures a Log.
type Option func(*options)

type options struct {
	limit int
}

// WithLimit caps the number of undo entries kept. The oldest entries are
// dropped first. A limit of zero or less keeps every entry.
func WithLimit(n int) Option {
	return func(o *options) {
		o.limit = n
	}
}

// Log is a linear undo/redo history. It is not safe for concurrent use; the
// owner serializes access.
type Log[T any] struct {
	current T
	undo    []Entry[T]
	redo    []Entry[T]
	limit   int
}

// New returns a Log whose current value is initial and whose stacks are
// empty.
func New[T any](initial T, opts ...Option) *Log[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Log[T]{current: initial, limit: o.limit}
}

func (l *Log[T]) Current() T { return l.current }

// Perform replaces the current value with mutate(current) and records the
// previous value under label. Any redo history is discarded. An entry is
// recorded even when mutate returns an identical value.
func (l *Log[T]) Perform(label string, mutate func(T) T) T {
	before := l.current
	l.current = mutate(before)
	l.push(Entry[T]{Label: label, Value: before})
	l.redo = nil
	return l.current
}

// Apply replaces the current value without recording an undo entry. The
// undo and redo stacks are left as they are.
func (l *Log[T]) Apply(mutate func(T) T) T {
	l.current = mutate(l.current)
	return l.current
}

// Undo restores the value recorded by the most recent entry. It reports
// false and leaves the log unchanged when there is nothing to undo.
func (l *Log[T]) Undo() bool {
	n := len(l.undo)
	if n == 0 {
		return false
	}
	entry := l.undo[n-1]
	l.undo = l.undo[:n-1]
	l.redo = append(l.redo, Entry[T]{Label: entry.Label, Value: l.current})
	l.current = entry.Value
	return true
}

// Redo re-applies the most recently undone step.
func (l *Log[T]) Redo() bool {
	n := len(l.redo)
	if n == 0 {
		return false
	}
	entry := l.redo[n-1]
	l.redo = l.redo[:n-1]
	l.push(Entry[T]{Label: entry.Label, Value: l.current})
	l.current = entry.Value
	return true
}

func (l *Log[T]) CanUndo() bool { return len(l.undo) > 0 }

func (l *Log[T]) CanRedo() bool { return len(l.redo) > 0 }

// UndoLabel returns the label of the step Undo would reverse, or "".
func (l *Log[T]) UndoLabel() string {
	if n := len(l.undo); n > 0 {
		return l.undo[n-1].Label
	}
	return ""
}

// RedoLabel returns the label of the step Redo would re-apply, or "".
func (l *Log[T]) RedoLabel() string {
	if n := len(l.redo); n > 0 {
		return l.redo[n-1].Label
	}
	return ""
}

// Depth returns the sizes of the undo and redo stacks.
func (l *Log[T]) Depth() (undo, redo int) {
	return len(l.undo), len(l.redo)
}

// Reset installs value as current and clears both stacks.
func (l *Log[T]) Reset(value T) {
	l.current = value
	l.undo = nil
	l.redo = nil
}

func (l *Log[T]) push(e Entry[T]) {
	l.undo = append(l.undo, e)
	if l.limit > 0 && len(l.undo) > l.limit {
		trimmed := make([]Entry[T], l.limit)
		copy(trimmed, l.undo[len(l.undo)-l.limit:])
		l.undo = trimmed
	}
}
