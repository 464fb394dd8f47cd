package translog

import (
	"fmt"

	"github.com/calvinalkan/translog/pkg/fs"
)

// ImmutableReader is a read-only handle on a closed (or at least
// read-only-from-here-on) generation file, per spec §4.B.
type ImmutableReader struct {
	ch   *channel
	gen  int64
	path string

	headerEnd  int64 // offset of the first record, just past the header
	recordsEnd int64 // offset just past the last successfully-written record
	totalOps   int   // UnknownOpCount if the generation was never footer-stamped
}

// openReader opens an existing generation file read-only, parses its
// generation id from the filename, and reads its header/footer.
func openReader(fsys fs.FS, dir string, path string) (*ImmutableReader, error) {
	gen, ok := parseGeneration(path)
	if !ok {
		return nil, fmt.Errorf("translog: %q does not match generation filename pattern", path)
	}

	full := joinPath(dir, path)

	f, err := fsys.Open(full)
	if err != nil {
		return nil, wrapIO(full, err)
	}

	r, err := newReaderFromOpenFile(f, full, gen)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return r, nil
}

func newReaderFromOpenFile(f fs.File, path string, gen int64) (*ImmutableReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, wrapIO(path, err)
	}

	size := info.Size()

	if size < headerSize {
		return nil, fmt.Errorf("%w: %s shorter than header", ErrTruncated, path)
	}

	headerGen, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("translog: reading header of %s: %w", path, err)
	}

	if headerGen != gen {
		return nil, fmt.Errorf("%w: %s header generation %d != filename generation %d", ErrCorrupted, path, headerGen, gen)
	}

	recordsEnd := size
	totalOps := UnknownOpCount

	opCount, ok, ferr := tryReadFooter(f, size)
	if ferr != nil {
		return nil, wrapIO(path, ferr)
	}

	if ok {
		recordsEnd = size - footerSize
		totalOps = int(opCount)
	}

	ch := newChannel(f, gen, path, nil)

	return &ImmutableReader{
		ch:         ch,
		gen:        gen,
		path:       path,
		headerEnd:  headerSize,
		recordsEnd: recordsEnd,
		totalOps:   totalOps,
	}, nil
}

// withOnZero rewires the release callback, used once a reader is adopted by
// the manager (which needs the retention-watermark deletion hook wired in).
func (r *ImmutableReader) withOnZero(onZero func()) *ImmutableReader {
	r.ch.onZero = onZero
	return r
}

// clone returns a reader sharing the same channel with its refcount bumped.
func (r *ImmutableReader) clone() *ImmutableReader {
	return &ImmutableReader{
		ch:         r.ch.clone(),
		gen:        r.gen,
		path:       r.path,
		headerEnd:  r.headerEnd,
		recordsEnd: r.recordsEnd,
		totalOps:   r.totalOps,
	}
}

// Close releases this reader's reference to the underlying channel. Safe to
// call once per reader/clone; the file itself is only closed when the last
// reference is released.
func (r *ImmutableReader) Close() error {
	return r.ch.release()
}

// Generation returns the generation id.
func (r *ImmutableReader) Generation() int64 { return r.gen }

// SizeInBytes returns the file size, including header and (if present)
// footer.
func (r *ImmutableReader) SizeInBytes() int64 {
	if r.totalOps == UnknownOpCount {
		return r.recordsEnd
	}

	return r.recordsEnd + footerSize
}

// TotalOperations returns the known operation count, or [UnknownOpCount] if
// this generation was never footer-stamped (still being written, or crashed
// mid-roll).
func (r *ImmutableReader) TotalOperations() int { return r.totalOps }

// ReadAt performs a random read of one record at the given location and
// decodes it. Must succeed bit-exactly for any location returned by the
// writer for this generation (spec invariant 4).
func (r *ImmutableReader) ReadAt(loc Location) (Operation, error) {
	if loc.Generation != r.gen {
		return nil, fmt.Errorf("%w: reader is for generation %d, location is %d", ErrInvalidLocation, r.gen, loc.Generation)
	}

	buf := make([]byte, loc.Size)
	if err := r.ch.readAt(loc.Offset, buf); err != nil {
		return nil, err
	}

	op, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	return op, nil
}

// channelSnapshot returns a sequential forward iterator over every record
// from just past the header to the last successfully-written record.
func (r *ImmutableReader) channelSnapshot() *readerIterator {
	return &readerIterator{reader: r, offset: r.headerEnd}
}

// readerIterator sequentially decodes records from one generation file.
type readerIterator struct {
	reader *ImmutableReader
	offset int64
}

// next returns the next operation, (nil, errIterDone) at a clean end of stream,
// or an error ([ErrTruncated]/[ErrCorrupted]) if the stream can't continue.
func (it *readerIterator) next() (Operation, error) {
	r := it.reader

	if it.offset >= r.recordsEnd {
		return nil, errIterDone
	}

	var sizeBuf [4]byte
	if err := r.ch.readAt(it.offset, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading opSize at offset %d: %v", ErrTruncated, it.offset, err) //nolint:errorlint
	}

	opSize := beUint32(sizeBuf[:])
	recordLen := int64(4) + int64(opSize)

	if it.offset+recordLen > r.recordsEnd {
		return nil, fmt.Errorf("%w: record at offset %d extends past end of generation %d", ErrTruncated, it.offset, r.gen)
	}

	buf := make([]byte, recordLen)
	if err := r.ch.readAt(it.offset, buf); err != nil {
		return nil, fmt.Errorf("%w: reading record at offset %d: %v", ErrTruncated, it.offset, err) //nolint:errorlint
	}

	op, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	it.offset += recordLen

	return op, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}

	if dir[len(dir)-1] == '/' {
		return dir + name
	}

	return dir + "/" + name
}
