package translog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/translog/pkg/fs"
)

// Mode selects how [Open] brings a translog directory up.
type Mode int

const (
	// ModeCreate wipes the directory and starts fresh at generation 1.
	ModeCreate Mode = iota
	// ModeRecover scans the directory for every matching generation file,
	// replays them as recovered readers, and opens a fresh current
	// generation past the highest one found.
	ModeRecover
	// ModeOpen strictly opens exactly the generation the checkpoint names.
	ModeOpen
)

// TranslogIDKey is the well-known commit-user-data key the engine stamps
// with the committed generation id, so a later [ModeOpen] picks the right
// file (spec §6).
const TranslogIDKey = "translog_id"

// Manager is the translog orchestrator: generations, recovery, append,
// snapshots, views, two-phase commit, and durability scheduling (spec §4.E).
//
// Locking follows spec §5: mu is the outer reader/writer lock guarding
// structural changes (roll, commit, construction); each [Writer] serializes
// its own byte-level appends internally. viewsMu is a separate, much
// shorter-lived lock protecting only the outstanding-views set, so that
// [Manager.NewView] only needs mu's *read* side (per the lock-discipline
// table) while still being race-free against concurrent registration.
type Manager struct {
	dir  string
	fsys fs.FS

	logger    *zap.Logger
	scheduler Scheduler

	mu sync.RWMutex

	settings atomic.Pointer[Settings]

	current    *Writer
	committing *ImmutableReader
	recovered  []*ImmutableReader // ascending generation order

	viewsMu sync.Mutex
	views   map[*View]struct{}

	// lastCommittedGen is read by the channel-close deletion hook without
	// acquiring mu at all — see DESIGN.md for why this sidesteps the
	// reentrancy hazard spec §9 flags ("the channel-close hook acquires the
	// write lock... the manager never holds the write lock while blocking on
	// view close").
	lastCommittedGen atomic.Int64

	closed     bool
	cancelSync func()
}

// Open brings up a translog directory in the given mode.
func Open(mode Mode, dir string, fsys fs.FS, opts ...Option) (*Manager, error) {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		dir:       dir,
		fsys:      fsys,
		logger:    o.logger,
		scheduler: o.scheduler,
		views:     make(map[*View]struct{}),
	}
	m.settings.Store(&o.settings)
	m.lastCommittedGen.Store(-1)

	var err error

	switch mode {
	case ModeCreate:
		err = m.openCreate()
	case ModeRecover:
		err = m.openRecover()
	case ModeOpen:
		err = m.openStrict()
	default:
		err = fmt.Errorf("translog: unknown mode %d", mode)
	}

	if err != nil {
		m.closeAllUnlocked()
		return nil, fmt.Errorf("translog: open: %w", err)
	}

	m.startBackgroundSyncLocked(m.loadSettings())

	return m, nil
}

func (m *Manager) openCreate() error {
	if err := m.fsys.RemoveAll(m.dir); err != nil {
		return wrapIO(m.dir, err)
	}

	if err := m.fsys.MkdirAll(m.dir, 0o750); err != nil {
		return wrapIO(m.dir, err)
	}

	settings := m.loadSettings()

	w, err := createWriter(m.fsys, m.dir, 1, settings.WriterType, settings.BufferSize)
	if err != nil {
		return err
	}

	m.current = w

	if err := writeCheckpoint(m.fsys, checkpointPath(m.dir), Checkpoint{Generation: 1}); err != nil {
		return err
	}

	return nil
}

func (m *Manager) openRecover() error {
	if err := m.fsys.MkdirAll(m.dir, 0o750); err != nil {
		return wrapIO(m.dir, err)
	}

	entries, err := m.fsys.ReadDir(m.dir)
	if err != nil {
		return wrapIO(m.dir, err)
	}

	_, cpErr := readCheckpoint(m.fsys, checkpointPath(m.dir))
	hadCheckpoint := cpErr == nil

	if cpErr != nil && !os.IsNotExist(cpErr) {
		return cpErr
	}

	if !hadCheckpoint {
		m.logger.Warn("translog: no checkpoint found, scanning directory", zap.String("dir", m.dir))
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if _, ok := parseGeneration(e.Name()); ok {
			names = append(names, e.Name())
		}
	}

	var readers []*ImmutableReader

	var highest int64

	for _, name := range names {
		r, rErr := openReader(m.fsys, m.dir, name)
		if rErr != nil {
			for _, opened := range readers {
				_ = opened.Close()
			}

			return rErr
		}

		m.wireDeletionHook(r)
		readers = append(readers, r)

		if r.Generation() > highest {
			highest = r.Generation()
		}
	}

	sort.Slice(readers, func(i, j int) bool { return readers[i].Generation() < readers[j].Generation() })

	m.recovered = readers

	newGen := highest + 1
	if newGen < 1 {
		newGen = 1
	}

	settings := m.loadSettings()

	w, err := createWriter(m.fsys, m.dir, newGen, settings.WriterType, settings.BufferSize)
	if err != nil {
		return err
	}

	m.current = w

	if !hadCheckpoint {
		if err := writeCheckpoint(m.fsys, checkpointPath(m.dir), Checkpoint{Generation: newGen}); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) openStrict() error {
	cp, err := readCheckpoint(m.fsys, checkpointPath(m.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoCheckpoint
		}

		return err
	}

	r, err := openReader(m.fsys, m.dir, generationFileName(cp.Generation))
	if err != nil {
		return err
	}

	m.wireDeletionHook(r)
	m.recovered = []*ImmutableReader{r}

	// "Playing safe": nothing is deletable until the next commit (spec §9
	// open question).
	m.lastCommittedGen.Store(-1)

	settings := m.loadSettings()

	w, err := createWriter(m.fsys, m.dir, cp.Generation+1, settings.WriterType, settings.BufferSize)
	if err != nil {
		return err
	}

	m.current = w

	return nil
}

func (m *Manager) wireDeletionHook(r *ImmutableReader) {
	gen := r.Generation()
	path := r.path

	r.withOnZero(func() {
		if gen >= m.lastCommittedGen.Load() {
			return
		}

		if err := m.fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("translog: failed to delete generation file", zap.String("path", path), zap.Error(err))
		}
	})
}

func (m *Manager) closeAllUnlocked() {
	if m.current != nil {
		_ = m.current.ch.release()
		m.current = nil
	}

	if m.committing != nil {
		_ = m.committing.Close()
		m.committing = nil
	}

	for _, r := range m.recovered {
		_ = r.Close()
	}

	m.recovered = nil
}

func (m *Manager) loadSettings() Settings {
	return *m.settings.Load()
}

// Add encodes and appends op, returning its [Location] before any fsync.
func (m *Manager) Add(op Operation) (Location, error) {
	encoded, err := Encode(op)
	if err != nil {
		return Location{}, &OpError{Op: op.describe(), Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Location{}, ErrClosed
	}

	loc, err := m.current.Append(encoded)
	if err != nil {
		return Location{}, &OpError{Generation: m.current.Generation(), Op: op.describe(), Err: err}
	}

	if m.loadSettings().syncOnEachOperation() || m.scheduler == nil {
		if err := m.current.Sync(); err != nil {
			return Location{}, &OpError{Generation: loc.Generation, Offset: loc.Offset, Op: op.describe(), Err: err}
		}
	}

	return loc, nil
}

// Read returns the operation at loc. Only the current and committing
// generations are valid read targets; recovered generations are replayed
// via snapshots only (spec §4.E).
func (m *Manager) Read(loc Location) (Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	if loc.Generation == m.current.Generation() {
		return m.current.ReadAt(loc)
	}

	if m.committing != nil && loc.Generation == m.committing.Generation() {
		return m.committing.ReadAt(loc)
	}

	return nil, fmt.Errorf("%w: generation %d", ErrInvalidLocation, loc.Generation)
}

// EnsureSynced syncs up to loc's end offset if needed, reporting whether a
// sync was actually performed. Already-rolled generations are always fully
// synced by the time they're readable (roll syncs before handing off).
func (m *Manager) EnsureSynced(loc Location) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	if loc.Generation == m.current.Generation() {
		return m.current.SyncUpTo(loc.Offset + int64(loc.Size))
	}

	return false, nil
}

// Sync flushes and fsyncs the current generation.
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	return m.current.Sync()
}

// SyncNeeded reports whether the current generation has unfsynced bytes.
func (m *Manager) SyncNeeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}

	return m.current.SyncNeeded()
}

// NewSnapshot builds a point-in-time iterator over recovered readers,
// committing (if any), and the current generation, in that order, without
// gaps (spec §4.F).
func (m *Manager) NewSnapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	sources := make([]snapshotSource, 0, len(m.recovered)+2)

	for _, r := range m.recovered {
		sources = append(sources, newReaderSource(r.clone()))
	}

	if m.committing != nil {
		sources = append(sources, newReaderSource(m.committing.clone()))
	}

	sources = append(sources, m.current.snapshotSource())

	return newSnapshot(sources), nil
}

// NewView builds a [View] retaining the committing reader (if any) and the
// current generation, registering it so future prepareCommit calls keep it
// updated until it's closed.
func (m *Manager) NewView() (*View, error) {
	m.mu.RLock()

	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}

	var readers []*ImmutableReader
	if m.committing != nil {
		readers = append(readers, m.committing.clone())
	}

	current := m.current

	m.mu.RUnlock()

	v := newView(m, readers, current)

	m.viewsMu.Lock()

	if m.isClosed() {
		m.viewsMu.Unlock()
		_ = v.Close()

		return nil, ErrClosed
	}

	m.views[v] = struct{}{}
	m.viewsMu.Unlock()

	return v, nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}

func (m *Manager) deregisterView(v *View) {
	m.viewsMu.Lock()
	delete(m.views, v)
	m.viewsMu.Unlock()
}

// PrepareCommit rolls the current generation into the committing slot and
// opens a fresh current generation, per spec §4.E.
func (m *Manager) PrepareCommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.prepareCommitLocked()
}

func (m *Manager) prepareCommitLocked() error {
	if m.closed {
		return ErrClosed
	}

	if m.committing != nil {
		return ErrAlreadyCommitting
	}

	oldWriter := m.current

	rolled, err := oldWriter.roll()
	if err != nil {
		return fmt.Errorf("translog: prepareCommit: rolling generation %d: %w", oldWriter.Generation(), err)
	}

	m.wireDeletionHook(rolled)

	newGen := oldWriter.Generation() + 1
	settings := m.loadSettings()

	newWriter, err := createWriter(m.fsys, m.dir, newGen, settings.WriterType, settings.BufferSize)
	if err != nil {
		_ = rolled.Close()
		return fmt.Errorf("translog: prepareCommit: creating generation %d: %w", newGen, err)
	}

	if err := writeCheckpoint(m.fsys, checkpointPath(m.dir), Checkpoint{Generation: newGen}); err != nil {
		_ = rolled.Close()
		_ = newWriter.ch.release()

		return fmt.Errorf("translog: prepareCommit: writing checkpoint: %w", err)
	}

	m.committing = rolled
	m.current = newWriter

	m.viewsMu.Lock()
	views := make([]*View, 0, len(m.views))

	for v := range m.views {
		views = append(views, v)
	}

	m.viewsMu.Unlock()

	for _, v := range views {
		v.onNewTranslog(rolled.clone(), newWriter)
	}

	return nil
}

// Commit finalizes the current committing generation: the current
// generation's id becomes the new retention watermark (so the committing
// generation falls below it), every recovered generation is dropped, and the
// committing reader is released.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.committing == nil {
		if err := m.prepareCommitLocked(); err != nil {
			return err
		}
	}

	if err := m.current.Sync(); err != nil {
		return fmt.Errorf("translog: commit: syncing current: %w", err)
	}

	m.lastCommittedGen.Store(m.current.Generation())

	for _, r := range m.recovered {
		if err := r.Close(); err != nil {
			m.logger.Warn("translog: closing recovered generation", zap.Int64("gen", r.Generation()), zap.Error(err))
		}
	}

	m.recovered = nil

	if err := m.committing.Close(); err != nil {
		m.logger.Warn("translog: closing committing generation", zap.Error(err))
	}

	m.committing = nil

	return nil
}

// Rollback closes the whole translog: any uncommitted current generation
// plus the committing reader, if present. Callers that want to restart
// afterward construct a new [Manager] with [ModeRecover].
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.stopBackgroundSyncLocked()
	m.closeAllUnlocked()
	m.closed = true

	return nil
}

// Close is an alias for [Manager.Rollback]: it closes the whole translog.
func (m *Manager) Close() error {
	return m.Rollback()
}

// CurrentGeneration returns the generation id of the active writer.
func (m *Manager) CurrentGeneration() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current.Generation()
}

// TotalOperations returns the total number of operations across every
// generation the manager currently references, or [UnknownOpCount] when a
// recovered generation's count is unknown.
func (m *Manager) TotalOperations() int64 {
	return m.Stats().NumOps
}

// SizeInBytes returns the total byte size across every generation the
// manager currently references.
func (m *Manager) SizeInBytes() int64 {
	return m.Stats().SizeInBytes
}

// GetDurability reports the configured durability policy.
func (m *Manager) GetDurability() Durability {
	return m.loadSettings().Durability
}

// UpdateBuffer resizes the current writer's append buffer.
func (m *Manager) UpdateBuffer(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	s := m.loadSettings()
	s.BufferSize = n
	m.settings.Store(&s)

	return m.current.UpdateBufferSize(n)
}

// ApplySettings atomically publishes new settings (spec §4.E "settings
// observer"). Durability/sync-interval changes restart background sync;
// buffer-size/writer-type changes flush and resize the current writer.
func (m *Manager) ApplySettings(next Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	old := m.loadSettings()
	m.settings.Store(&next)

	if next.BufferSize != old.BufferSize {
		if err := m.current.UpdateBufferSize(next.BufferSize); err != nil {
			return err
		}
	}

	if next.WriterType != old.WriterType {
		if err := m.current.SetWriterType(next.WriterType); err != nil {
			return err
		}
	}

	if next.Durability != old.Durability || next.SyncInterval != old.SyncInterval {
		m.stopBackgroundSyncLocked()
		m.startBackgroundSyncLocked(next)
	}

	return nil
}

// Stats is a point-in-time counters snapshot (spec §6 stats(), shaped per
// SPEC_FULL.md §12 following the influxdb WAL's Statistics method).
type Stats struct {
	Generation              int64
	NumOps                  int64
	SizeInBytes             int64
	UncommittedOps          int64
	UncommittedSizeInBytes  int64
	EarliestLastModifiedAge time.Duration // age of the oldest generation file still referenced
}

// Stats returns a point-in-time counters snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Generation: m.current.Generation()}

	unknownOps := false

	for _, r := range m.recovered {
		if n := r.TotalOperations(); n == UnknownOpCount {
			unknownOps = true
		} else {
			s.NumOps += int64(n)
		}

		s.SizeInBytes += r.SizeInBytes()
	}

	if m.committing != nil {
		s.NumOps += int64(m.committing.TotalOperations())
		s.SizeInBytes += m.committing.SizeInBytes()
		s.UncommittedOps += int64(m.committing.TotalOperations())
		s.UncommittedSizeInBytes += m.committing.SizeInBytes()
	}

	s.NumOps += m.current.TotalOperations()
	s.SizeInBytes += m.current.SizeInBytes()
	s.UncommittedOps += m.current.TotalOperations()
	s.UncommittedSizeInBytes += m.current.SizeInBytes()

	if unknownOps {
		s.NumOps = UnknownOpCount
	}

	earliestPath := m.current.path
	if m.committing != nil {
		earliestPath = m.committing.path
	}

	if len(m.recovered) > 0 {
		earliestPath = m.recovered[0].path
	}

	if info, err := m.fsys.Stat(earliestPath); err == nil {
		s.EarliestLastModifiedAge = time.Since(info.ModTime())
	}

	return s
}

// CommitData returns the commit-user-data the engine should stamp into the
// segment store's commit, so a later [ModeOpen] picks the right generation.
func (m *Manager) CommitData() map[string]string {
	return map[string]string{TranslogIDKey: strconv.FormatInt(m.CurrentGeneration(), 10)}
}

func (m *Manager) startBackgroundSyncLocked(settings Settings) {
	if settings.Durability != DurabilityAsync || m.scheduler == nil || settings.SyncInterval <= 0 {
		return
	}

	m.cancelSync = m.scheduler.Schedule(settings.SyncInterval, func() {
		m.mu.RLock()

		if m.closed {
			m.mu.RUnlock()
			return
		}

		needed := m.current.SyncNeeded()
		cur := m.current

		m.mu.RUnlock()

		if needed {
			if err := cur.Sync(); err != nil {
				m.logger.Warn("translog: background sync failed", zap.Error(err))
			}
		}
	})
}

func (m *Manager) stopBackgroundSyncLocked() {
	if m.cancelSync != nil {
		m.cancelSync()
		m.cancelSync = nil
	}
}
