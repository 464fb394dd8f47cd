package translog

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/translog/pkg/fs"
)

func newTestManager(t *testing.T, mode Mode, opts ...Option) (*Manager, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "translog")

	m, err := Open(mode, dir, fs.NewReal(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close() })

	return m, dir
}

func Test_Manager_Open_Create_StartsAtGenerationOne_Empty(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	require.Equal(t, int64(1), m.CurrentGeneration())
	require.Equal(t, int64(0), m.TotalOperations())
}

func Test_Manager_Add_Then_Read_RoundTrips(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	op := NewCreate("doc-1", "page", []byte("hello"))

	loc, err := m.Add(op)
	require.NoError(t, err)
	require.Equal(t, int64(1), loc.Generation)

	got, err := m.Read(loc)
	require.NoError(t, err)
	require.Equal(t, OpCreate, got.Kind())
}

func Test_Manager_PrepareCommit_Commit_DropsOldGeneration(t *testing.T) {
	m, dir := newTestManager(t, ModeCreate)

	_, err := m.Add(NewCreate("doc-1", "page", []byte("a")))
	require.NoError(t, err)

	require.NoError(t, m.PrepareCommit())
	require.Equal(t, int64(2), m.CurrentGeneration())

	_, err = m.Add(NewCreate("doc-2", "page", []byte("b")))
	require.NoError(t, err)

	require.NoError(t, m.Commit())

	// generation 1 is no longer referenced and should have been removed.
	_, statErr := os.Stat(filepath.Join(dir, generationFileName(1)))
	require.True(t, os.IsNotExist(statErr))
}

func Test_Manager_PrepareCommit_Twice_ReturnsAlreadyCommitting(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	require.NoError(t, m.PrepareCommit())
	require.ErrorIs(t, m.PrepareCommit(), ErrAlreadyCommitting)
}

func Test_Manager_View_SurvivesPrepareCommit(t *testing.T) {
	m, dir := newTestManager(t, ModeCreate)

	_, err := m.Add(NewCreate("doc-1", "page", []byte("a")))
	require.NoError(t, err)

	view, err := m.NewView()
	require.NoError(t, err)

	require.NoError(t, m.PrepareCommit())
	require.NoError(t, m.Commit())

	// Even though generation 1 was dropped from the manager's own
	// bookkeeping, the view still retains it: reading through its snapshot
	// must still see the operation.
	snap, err := view.Snapshot()
	require.NoError(t, err)

	defer func() { _ = snap.Close() }()

	op, err := snap.Next()
	require.NoError(t, err)
	require.Equal(t, OpCreate, op.Kind())

	require.NoError(t, snap.Close())
	require.NoError(t, view.Close())

	// Now that the snapshot and the view released their holds, generation 1
	// should be gone.
	_, statErr := os.Stat(filepath.Join(dir, generationFileName(1)))
	require.True(t, os.IsNotExist(statErr))
}

func Test_Manager_NewSnapshot_ReturnsEveryAppendedOperation(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	for i := 0; i < 3; i++ {
		_, err := m.Add(NewCreate("doc", "page", []byte{byte(i)}))
		require.NoError(t, err)
	}

	require.NoError(t, m.PrepareCommit())

	_, err := m.Add(NewCreate("doc", "page", []byte("after-roll")))
	require.NoError(t, err)

	snap, err := m.NewSnapshot()
	require.NoError(t, err)

	defer func() { _ = snap.Close() }()

	count := 0

	for {
		_, err := snap.Next()
		if errors.Is(err, ErrSnapshotExhausted) {
			break
		}

		require.NoError(t, err)

		count++
	}

	require.Equal(t, 4, count)
}

func Test_Manager_Recover_ReplaysUncommittedGeneration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "translog")
	fsys := fs.NewReal()

	m, err := Open(ModeCreate, dir, fsys)
	require.NoError(t, err)

	_, err = m.Add(NewCreate("doc-1", "page", []byte("a")))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	recovered, err := Open(ModeRecover, dir, fsys)
	require.NoError(t, err)

	defer func() { _ = recovered.Close() }()

	snap, err := recovered.NewSnapshot()
	require.NoError(t, err)

	defer func() { _ = snap.Close() }()

	op, err := snap.Next()
	require.NoError(t, err)
	require.Equal(t, OpCreate, op.Kind())

	// a fresh generation was opened past whatever was recovered.
	require.Equal(t, int64(2), recovered.CurrentGeneration())
}

// Test_Manager_Recover_Snapshot_SurfacesCorruptionAfterEarlierRecords covers
// scenario S5: a bit flip inside a later record must not hide the records
// that precede it.
func Test_Manager_Recover_Snapshot_SurfacesCorruptionAfterEarlierRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "translog")
	fsys := fs.NewReal()

	m, err := Open(ModeCreate, dir, fsys)
	require.NoError(t, err)

	_, err = m.Add(NewCreate("doc-1", "page", []byte("first")))
	require.NoError(t, err)

	locSecond, err := m.Add(NewCreate("doc-2", "page", []byte("second")))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	genPath := filepath.Join(dir, generationFileName(1))
	raw, err := os.ReadFile(genPath)
	require.NoError(t, err)

	// Flip a byte inside the second record's body, past its 4-byte size
	// prefix and 1-byte tag, leaving the first record untouched.
	corruptAt := locSecond.Offset + 5
	raw[corruptAt] ^= 0xFF
	require.NoError(t, os.WriteFile(genPath, raw, 0o644))

	recovered, err := Open(ModeRecover, dir, fsys)
	require.NoError(t, err)

	defer func() { _ = recovered.Close() }()

	snap, err := recovered.NewSnapshot()
	require.NoError(t, err)

	defer func() { _ = snap.Close() }()

	op, err := snap.Next()
	require.NoError(t, err)
	require.Equal(t, OpCreate, op.Kind())

	_, err = snap.Next()
	require.ErrorIs(t, err, ErrCorrupted)
}

// Test_Manager_Recover_Snapshot_SurfacesTruncationAfterEarlierRecords covers
// scenario S6: a generation cut off mid-record must surface ErrTruncated at
// the cut, not silently drop or misread the tail.
func Test_Manager_Recover_Snapshot_SurfacesTruncationAfterEarlierRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "translog")
	fsys := fs.NewReal()

	m, err := Open(ModeCreate, dir, fsys)
	require.NoError(t, err)

	_, err = m.Add(NewCreate("doc-1", "page", []byte("first")))
	require.NoError(t, err)

	locSecond, err := m.Add(NewCreate("doc-2", "page", []byte("second-and-longer")))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	genPath := filepath.Join(dir, generationFileName(1))

	// Cut the file right after the second record's 4-byte size prefix, so
	// the declared record length extends past what's actually on disk.
	truncateAt := locSecond.Offset + 4
	require.NoError(t, os.Truncate(genPath, truncateAt))

	recovered, err := Open(ModeRecover, dir, fsys)
	require.NoError(t, err)

	defer func() { _ = recovered.Close() }()

	snap, err := recovered.NewSnapshot()
	require.NoError(t, err)

	defer func() { _ = snap.Close() }()

	op, err := snap.Next()
	require.NoError(t, err)
	require.Equal(t, OpCreate, op.Kind())

	_, err = snap.Next()
	require.ErrorIs(t, err, ErrTruncated)
}

// Test_Manager_ConcurrentAdd_ReturnsDistinctNonOverlappingLocations covers
// testable property 3: concurrent Add calls never hand out overlapping
// locations within a generation. Run with -race.
func Test_Manager_ConcurrentAdd_ReturnsDistinctNonOverlappingLocations(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	const goroutines = 16

	locs := make([]Location, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup

	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()

			locs[i], errs[i] = m.Add(NewCreate("doc", "page", []byte{byte(i)}))
		}(i)
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	type span struct{ start, end int64 }

	spans := make([]span, goroutines)
	for i, loc := range locs {
		require.Equal(t, int64(1), loc.Generation)
		spans[i] = span{start: loc.Offset, end: loc.Offset + int64(loc.Size)}
	}

	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}

			overlap := spans[i].start < spans[j].end && spans[j].start < spans[i].end
			require.False(t, overlap, "locations %d and %d overlap: %+v, %+v", i, j, locs[i], locs[j])
		}
	}
}

func Test_Manager_Open_StrictMode_RequiresCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "translog")
	fsys := fs.NewReal()

	require.NoError(t, fsys.MkdirAll(dir, 0o750))

	_, err := Open(ModeOpen, dir, fsys)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func Test_Manager_Closed_RejectsFurtherOperations(t *testing.T) {
	m, _ := newTestManager(t, ModeCreate)

	require.NoError(t, m.Close())

	_, err := m.Add(NewCreate("doc-1", "page", []byte("a")))
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, m.PrepareCommit(), ErrClosed)
}

func Test_Manager_ApplySettings_RestartsBackgroundSync(t *testing.T) {
	sched := &fakeScheduler{}

	m, _ := newTestManager(t, ModeCreate, WithScheduler(sched), WithSettings(Settings{
		Durability:   DurabilityAsync,
		WriterType:   WriterBuffered,
		BufferSize:   1024,
		SyncInterval: time.Second,
	}))

	require.Equal(t, 1, sched.scheduleCalls)

	require.NoError(t, m.ApplySettings(Settings{
		Durability:   DurabilityAsync,
		WriterType:   WriterBuffered,
		BufferSize:   1024,
		SyncInterval: 2 * time.Second,
	}))

	require.Equal(t, 2, sched.scheduleCalls)
	require.Equal(t, 1, sched.cancelCalls)
}

type fakeScheduler struct {
	scheduleCalls int
	cancelCalls   int
}

func (s *fakeScheduler) Schedule(time.Duration, func()) func() {
	s.scheduleCalls++
	return func() { s.cancelCalls++ }
}
