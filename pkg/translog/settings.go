package translog

import "time"

// Durability selects when an appended operation is fsynced, per spec §6.
type Durability int8

const (
	// DurabilityRequest fsyncs after every append (sync-per-request).
	DurabilityRequest Durability = iota
	// DurabilityAsync relies on a periodic background sync instead.
	DurabilityAsync
)

func (d Durability) String() string {
	if d == DurabilityRequest {
		return "REQUEST"
	}

	return "ASYNC"
}

// Settings holds the `index.translog.*` configuration keys consumed by the
// manager (spec §6). Defaults match the spec's table.
type Settings struct {
	Durability   Durability
	WriterType   WriterType
	BufferSize   int
	SyncInterval time.Duration
}

// DefaultSettings returns the spec's documented defaults: REQUEST
// durability, a BUFFERED writer with a 64 KiB buffer, and a 5s sync
// interval.
func DefaultSettings() Settings {
	return Settings{
		Durability:   DurabilityRequest,
		WriterType:   WriterBuffered,
		BufferSize:   64 * 1024,
		SyncInterval: 5 * time.Second,
	}
}

// syncOnEachOperation reports whether the effective policy is sync-per-append
// — true under DurabilityRequest, and also under DurabilityAsync when
// SyncInterval is zero (spec §4.E: "syncInterval = 0 switches the manager
// into syncOnEachOperation mode").
func (s Settings) syncOnEachOperation() bool {
	return s.Durability == DurabilityRequest || s.SyncInterval == 0
}

// Scheduler runs a recurring task until canceled. The manager uses it for
// background sync under ASYNC durability (spec §4.E, §5). An external
// collaborator: the translog engine never implements a thread pool itself.
type Scheduler interface {
	// Schedule runs task every interval until the returned cancel function is
	// called. task must return promptly when it observes the manager has
	// closed.
	Schedule(interval time.Duration, task func()) (cancel func())
}
