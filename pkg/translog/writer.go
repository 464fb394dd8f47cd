package translog

import (
	"fmt"
	"os"
	"sync"

	"github.com/calvinalkan/translog/pkg/fs"
)

// osCreateExclAppend creates a brand new generation file. O_EXCL refuses to
// silently reuse an existing file of the same name, matching invariant 1
// ("generation ids are strictly increasing"). The file is opened read-write
// so the shared channel can serve reads and snapshots; O_APPEND keeps every
// write at the end of the file whatever offset a read last seeked to.
const osCreateExclAppend = os.O_CREATE | os.O_EXCL | os.O_RDWR | os.O_APPEND

// WriterType selects how the active writer buffers appended bytes before
// they reach the OS, per spec §4.C.
type WriterType int8

const (
	// WriterSimple flushes each append straight through to the file.
	WriterSimple WriterType = iota
	// WriterBuffered accumulates up to a configured number of bytes before
	// flushing.
	WriterBuffered
)

func (t WriterType) String() string {
	if t == WriterSimple {
		return "SIMPLE"
	}

	return "BUFFERED"
}

// Writer is the active file writer: a buffered append-only handle on the
// tail of one log generation (spec §4.C).
//
// Appends are serialized by mu (the "writer-local mutex" of spec §5); many
// goroutines may call Append concurrently while the manager only holds its
// outer RW lock in shared mode, because Writer itself guarantees append is
// all-or-nothing.
type Writer struct {
	ch   *channel
	gen  int64
	path string

	mu         sync.Mutex
	writerType WriterType
	bufferSize int
	pending    []byte // bytes appended since the last flush

	totalOffset   int64 // logical end of the append stream, including pending bytes
	flushedOffset int64 // bytes handed to the OS via Write
	syncedOffset  int64 // bytes fsynced

	opCount int64
	rolled  bool
}

// createWriter creates a brand new generation file, writes its header, and
// returns a [Writer] ready to append.
func createWriter(fsys fs.FS, dir string, gen int64, writerType WriterType, bufferSize int) (*Writer, error) {
	path := joinPath(dir, generationFileName(gen))

	f, err := fsys.OpenFile(path, osCreateExclAppend, 0o644)
	if err != nil {
		return nil, wrapIO(path, err)
	}

	if err := writeHeader(f, gen); err != nil {
		_ = f.Close()
		return nil, wrapIO(path, err)
	}

	ch := newChannel(f, gen, path, nil)

	return &Writer{
		ch:            ch,
		gen:           gen,
		path:          path,
		writerType:    writerType,
		bufferSize:    bufferSize,
		totalOffset:   headerSize,
		flushedOffset: headerSize,
		syncedOffset:  headerSize,
	}, nil
}

// Append appends an already-encoded record to the tail of the generation.
// Returns the record's [Location] before any fsync happens.
func (w *Writer) Append(record []byte) (Location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rolled {
		return Location{}, ErrClosed
	}

	loc := Location{Generation: w.gen, Offset: w.totalOffset, Size: int32(len(record))} //nolint:gosec // bounded by codec

	if w.writerType == WriterSimple {
		if err := w.writeThroughLocked(record); err != nil {
			return Location{}, err
		}
	} else {
		w.pending = append(w.pending, record...)
		w.totalOffset += int64(len(record))

		if len(w.pending) >= w.bufferSize {
			if err := w.flushLocked(); err != nil {
				return Location{}, err
			}
		}
	}

	w.opCount++

	return loc, nil
}

func (w *Writer) writeThroughLocked(record []byte) error {
	if _, err := w.ch.file.Write(record); err != nil {
		return wrapIO(w.path, err)
	}

	w.totalOffset += int64(len(record))
	w.flushedOffset = w.totalOffset

	return nil
}

func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	if _, err := w.ch.file.Write(w.pending); err != nil {
		return wrapIO(w.path, err)
	}

	w.flushedOffset += int64(len(w.pending))
	w.pending = w.pending[:0]

	return nil
}

// Sync flushes the buffer and fsyncs the file. Idempotent.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}

	if w.syncedOffset == w.flushedOffset {
		return nil
	}

	if err := w.ch.file.Sync(); err != nil {
		return wrapIO(w.path, err)
	}

	w.syncedOffset = w.flushedOffset

	return nil
}

// SyncUpTo syncs if syncedOffset < offset, reporting whether it did.
func (w *Writer) SyncUpTo(offset int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.syncedOffset >= offset {
		return false, nil
	}

	if err := w.syncLocked(); err != nil {
		return false, err
	}

	return true, nil
}

// SyncNeeded reports whether there are appended bytes not yet fsynced.
func (w *Writer) SyncNeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.pending) > 0 || w.syncedOffset < w.flushedOffset
}

// UpdateBufferSize resizes the append buffer, flushing first if needed.
func (w *Writer) UpdateBufferSize(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.bufferSize = n

	return nil
}

// SetWriterType switches between SIMPLE and BUFFERED, flushing first.
func (w *Writer) SetWriterType(t WriterType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.writerType = t

	return nil
}

// ReadAt serves a positioned read against either the already-flushed file
// contents or the in-memory pending buffer, whichever range the location
// falls in. A record's bytes are never split across the flush boundary
// because flush only happens between whole appends (spec invariant 4: reads
// of a returned location are byte-identical until the generation is
// dropped).
func (w *Writer) ReadAt(loc Location) (Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if loc.Generation != w.gen {
		return nil, fmt.Errorf("%w: writer is for generation %d, location is %d", ErrInvalidLocation, w.gen, loc.Generation)
	}

	end := loc.Offset + int64(loc.Size)

	var buf []byte

	switch {
	case end <= w.flushedOffset:
		buf = make([]byte, loc.Size)
		if err := w.ch.readAt(loc.Offset, buf); err != nil {
			return nil, err
		}
	case loc.Offset >= w.flushedOffset:
		start := loc.Offset - w.flushedOffset
		if start < 0 || start+int64(loc.Size) > int64(len(w.pending)) {
			return nil, fmt.Errorf("%w: location %v out of range of pending buffer", ErrInvalidLocation, loc)
		}

		buf = make([]byte, loc.Size)
		copy(buf, w.pending[start:start+int64(loc.Size)])
	default:
		return nil, fmt.Errorf("%w: location %v straddles the flush boundary", ErrInvalidLocation, loc)
	}

	return Decode(buf)
}

// TotalOperations returns the number of operations appended so far.
func (w *Writer) TotalOperations() int64 { return w.opCount }

// SizeInBytes returns the logical size of the generation, including
// not-yet-flushed bytes.
func (w *Writer) SizeInBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.totalOffset
}

// Generation returns the generation id.
func (w *Writer) Generation() int64 { return w.gen }

// snapshotSource captures a point-in-time, read-only view of everything
// appended to this writer so far (including buffered-but-unflushed bytes)
// and returns it as a [snapshotSource], per spec §4.F "every included reader
// clones its channel reference so the snapshot keeps files alive
// independently". The clone's refcount is bumped so the generation file
// stays open even if the writer itself rolls and is later dropped.
func (w *Writer) snapshotSource() snapshotSource {
	w.mu.Lock()
	defer w.mu.Unlock()

	pendingCopy := append([]byte(nil), w.pending...)

	return &writerSnapshotSource{
		ch:       w.ch.clone(),
		gen:      w.gen,
		offset:   headerSize,
		end:      w.totalOffset,
		flushed:  w.flushedOffset,
		pending:  pendingCopy,
		opsAtCap: w.opCount,
	}
}

// writerSnapshotSource iterates the bytes a [Writer] had appended at the
// moment [Writer.snapshotSource] was called, reading flushed bytes from the
// file and buffered bytes from a captured copy.
type writerSnapshotSource struct {
	ch       *channel
	gen      int64
	offset   int64
	end      int64
	flushed  int64
	pending  []byte
	opsAtCap int64
}

func (s *writerSnapshotSource) totalOperations() int { return int(s.opsAtCap) }
func (s *writerSnapshotSource) close() error         { return s.ch.release() }

func (s *writerSnapshotSource) next() (Operation, error) {
	if s.offset >= s.end {
		return nil, errIterDone
	}

	sizeBuf, err := s.readRange(s.offset, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading opSize at offset %d: %v", ErrTruncated, s.offset, err) //nolint:errorlint
	}

	opSize := beUint32(sizeBuf)
	recordLen := int64(4) + int64(opSize)

	if s.offset+recordLen > s.end {
		return nil, fmt.Errorf("%w: record at offset %d extends past captured snapshot end", ErrTruncated, s.offset)
	}

	buf, err := s.readRange(s.offset, recordLen)
	if err != nil {
		return nil, fmt.Errorf("%w: reading record at offset %d: %v", ErrTruncated, s.offset, err) //nolint:errorlint
	}

	op, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	s.offset += recordLen

	return op, nil
}

func (s *writerSnapshotSource) readRange(offset, length int64) ([]byte, error) {
	if offset+length <= s.flushed {
		buf := make([]byte, length)
		if err := s.ch.readAt(offset, buf); err != nil {
			return nil, err
		}

		return buf, nil
	}

	if offset >= s.flushed {
		start := offset - s.flushed
		if start < 0 || start+length > int64(len(s.pending)) {
			return nil, fmt.Errorf("range [%d,%d) out of bounds of captured pending buffer", offset, offset+length)
		}

		return s.pending[start : start+length], nil
	}

	return nil, fmt.Errorf("range [%d,%d) straddles the flush boundary captured at snapshot time", offset, offset+length)
}

// roll flushes, syncs, stamps the trailing operation-count footer, and
// returns an [ImmutableReader] sharing the channel — "its reader lives on as
// committingReader" (spec §4.E step 6). The writer's own reference passes to
// the returned reader; from this point the writer must not be appended to.
func (w *Writer) roll() (*ImmutableReader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rolled {
		return nil, ErrClosed
	}

	if err := w.syncLocked(); err != nil {
		return nil, err
	}

	footer := buildFooter(w.opCount)
	if _, err := w.ch.file.Write(footer); err != nil {
		return nil, wrapIO(w.path, err)
	}

	if err := w.ch.file.Sync(); err != nil {
		return nil, wrapIO(w.path, err)
	}

	w.rolled = true

	reader := &ImmutableReader{
		ch:         w.ch, // transfer the writer's own reference to the reader
		gen:        w.gen,
		path:       w.path,
		headerEnd:  headerSize,
		recordsEnd: w.flushedOffset,
		totalOps:   int(w.opCount),
	}

	return reader, nil
}
