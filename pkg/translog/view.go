package translog

import (
	"errors"
	"fmt"
	"sync"
)

// View is a long-lived retention handle: it keeps every generation that
// existed at its creation alive, plus any generation created afterward,
// until closed (spec §4.G, §GLOSSARY).
//
// Its last element always tracks whatever the manager's current generation
// is; the manager pushes updates via onNewTranslog as part of prepareCommit.
// The view never drops the live writer's channel as a retention concern
// (see manager.go: the current generation is never eligible for deletion),
// so only the closed-over [ImmutableReader] entries are reference-counted
// here.
type View struct {
	manager *Manager

	mu            sync.Mutex
	readers       []*ImmutableReader // oldest -> newest, excludes the live current generation
	currentWriter *Writer
	closed        bool
}

func newView(manager *Manager, readers []*ImmutableReader, current *Writer) *View {
	return &View{manager: manager, readers: readers, currentWriter: current}
}

// onNewTranslog is called by the manager, under its write lock, once per
// prepareCommit: the old current generation (now rolled, passed as a reader
// this view owns independently) replaces the view's notion of "current",
// which becomes the new writer.
func (v *View) onNewTranslog(oldCurrent *ImmutableReader, newCurrent *Writer) {
	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()
		_ = oldCurrent.Close()

		return
	}

	v.readers = append(v.readers, oldCurrent)
	v.currentWriter = newCurrent

	v.mu.Unlock()
}

// MinGen returns the oldest generation this view retains.
func (v *View) MinGen() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.readers) > 0 {
		return v.readers[0].Generation()
	}

	if v.currentWriter != nil {
		return v.currentWriter.Generation()
	}

	return -1
}

// TotalOperations sums operation counts across every generation this view
// retains, including the live current generation.
func (v *View) TotalOperations() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := 0

	for _, r := range v.readers {
		n := r.TotalOperations()
		if n == UnknownOpCount {
			return UnknownOpCount
		}

		total += n
	}

	if v.currentWriter != nil {
		total += int(v.currentWriter.TotalOperations())
	}

	return total
}

// SizeInBytes sums byte sizes across every generation this view retains.
func (v *View) SizeInBytes() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var total int64

	for _, r := range v.readers {
		total += r.SizeInBytes()
	}

	if v.currentWriter != nil {
		total += v.currentWriter.SizeInBytes()
	}

	return total
}

// Snapshot builds a [Snapshot] over this view's current generation list,
// equivalent to constructing one fresh from the manager but scoped to
// exactly the generations this view retains.
func (v *View) Snapshot() (*Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, fmt.Errorf("translog: view: %w", ErrClosed)
	}

	sources := make([]snapshotSource, 0, len(v.readers)+1)

	for _, r := range v.readers {
		sources = append(sources, newReaderSource(r.clone()))
	}

	if v.currentWriter != nil {
		sources = append(sources, v.currentWriter.snapshotSource())
	}

	return newSnapshot(sources), nil
}

// Close removes the view from the manager's outstanding set and releases
// every channel reference it holds. Idempotent; tolerant of a concurrent
// onNewTranslog delivered just before close wins the race (any readers
// delivered after close are closed by onNewTranslog itself, not here).
func (v *View) Close() error {
	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()
		return nil
	}

	v.closed = true
	readers := v.readers
	v.readers = nil
	v.currentWriter = nil

	v.mu.Unlock()

	v.manager.deregisterView(v)

	var errs []error

	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("translog: closing view: %w", errors.Join(errs...))
}
