package translog

import (
	"errors"
	"fmt"
)

// snapshotSource is whatever a [Snapshot] can iterate: either a closed
// generation's [readerIterator], or the live current generation served
// through the [Writer] itself.
type snapshotSource interface {
	next() (Operation, error) // returns errIterDone at end
	totalOperations() int     // UnknownOpCount if not known
	close() error
}

// readerSource adapts an owned (cloned) [ImmutableReader] to [snapshotSource].
type readerSource struct {
	reader *ImmutableReader
	it     *readerIterator
}

func newReaderSource(r *ImmutableReader) *readerSource {
	return &readerSource{reader: r, it: r.channelSnapshot()}
}

func (s *readerSource) next() (Operation, error) { return s.it.next() }
func (s *readerSource) totalOperations() int     { return s.reader.TotalOperations() }
func (s *readerSource) close() error             { return s.reader.Close() }

// Snapshot is a once-forward, point-in-time iterator over a fixed, ordered
// set of generation readers (spec §4.F). It does not observe operations
// appended to the current generation after it was created, because the
// current generation is represented here by a *cloned channel over its
// flushed bytes plus a copy of its buffered bytes, both captured at
// construction time* (see [Writer.snapshotSource]), not a live view of the
// writer.
type Snapshot struct {
	sources []snapshotSource
	idx     int
	closed  bool
}

func newSnapshot(sources []snapshotSource) *Snapshot {
	return &Snapshot{sources: sources}
}

// Next returns the next operation in append order across all sources, or
// (nil, [ErrSnapshotExhausted]) once every source is drained.
func (s *Snapshot) Next() (Operation, error) {
	for s.idx < len(s.sources) {
		op, err := s.sources[s.idx].next()
		if err == nil {
			return op, nil
		}

		if errors.Is(err, errIterDone) {
			s.idx++
			continue
		}

		return nil, err
	}

	return nil, ErrSnapshotExhausted
}

// ErrSnapshotExhausted is returned by [Snapshot.Next] once every source has
// been drained.
var ErrSnapshotExhausted = errors.New("translog: snapshot exhausted")

// EstimatedTotalOperations sums per-source counts; [UnknownOpCount] from any
// source makes the total -1.
func (s *Snapshot) EstimatedTotalOperations() int {
	total := 0

	for _, src := range s.sources {
		n := src.totalOperations()
		if n == UnknownOpCount {
			return UnknownOpCount
		}

		total += n
	}

	return total
}

// Close releases every underlying reference. Idempotent.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	var errs []error

	for _, src := range s.sources {
		if err := src.close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("translog: closing snapshot: %w", errors.Join(errs...))
}
