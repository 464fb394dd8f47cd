package translog

import (
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/translog/pkg/fs"
)

// channel is a reference-counted handle on one generation file's underlying
// [fs.File]. Readers, the committing slot, snapshots, and views each hold
// one reference via clone/release. The file is closed, and onZero invoked,
// the moment the last reference is released.
//
// Grounded on the fileRegistryEntry/openCount discipline in
// pkg/slotcache/lock.go, simplified from cross-process flock coordination
// down to the in-process refcount this spec needs (§5 "Shared resources").
type channel struct {
	file fs.File
	gen  int64
	path string

	// mu serializes positioned reads (Seek+Read) against each other, so two
	// goroutines' Seek+Read pairs never interleave on one fd. The writer's
	// appends do not take mu; readers only read byte ranges that were
	// already flushed.
	mu sync.Mutex

	refs atomic.Int32

	// onZero is invoked exactly once, after file.Close(), when the last
	// reference is released. It must not be a strong back-pointer to the
	// manager (see spec §9 "cyclic ownership"); it is a closure capturing
	// only what's needed to enqueue a deletion.
	onZero func()
}

func newChannel(f fs.File, gen int64, path string, onZero func()) *channel {
	c := &channel{file: f, gen: gen, path: path, onZero: onZero}
	c.refs.Store(1)

	return c
}

// clone returns the same channel with its refcount bumped. Cheap: it never
// touches the file.
func (c *channel) clone() *channel {
	c.refs.Add(1)
	return c
}

// release decrements the refcount. At zero it closes the underlying file and
// invokes onZero. Safe to call multiple times only once per clone()/initial
// reference — callers must not release a reference they don't own.
func (c *channel) release() error {
	if c.refs.Add(-1) == 0 {
		err := c.file.Close()
		if c.onZero != nil {
			c.onZero()
		}

		return wrapIO(c.path, err)
	}

	return nil
}

// readAt performs a positioned read of exactly len(buf) bytes.
func (c *channel) readAt(offset int64, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.file.Seek(offset, 0); err != nil {
		return wrapIO(c.path, err)
	}

	n := 0
	for n < len(buf) {
		m, err := c.file.Read(buf[n:])
		n += m

		if err != nil {
			return wrapIO(c.path, err)
		}
	}

	return nil
}
