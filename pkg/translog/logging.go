package translog

import "go.uber.org/zap"

// Option configures a [Manager] at [Open] time.
type Option func(*managerOptions)

type managerOptions struct {
	logger    *zap.Logger
	scheduler Scheduler
	settings  Settings
}

func defaultManagerOptions() managerOptions {
	return managerOptions{
		logger:   zap.NewNop(),
		settings: DefaultSettings(),
	}
}

// WithLogger sets a structured logger for non-fatal warnings: a missing
// checkpoint on RECOVER, a failure to close a recovered or committing
// generation during commit, a failure to delete a released generation file,
// a failed background sync. Defaults to [zap.NewNop], matching how the pack's own
// write-ahead logs default an injected *zap.Logger (see SPEC_FULL.md §10.1).
func WithLogger(logger *zap.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithScheduler supplies the periodic-task scheduler used for background
// sync under [DurabilityAsync]. Without one, ASYNC durability degrades to
// REQUEST (sync-per-operation), since there is nothing to drive the
// periodic flush.
func WithScheduler(s Scheduler) Option {
	return func(o *managerOptions) {
		o.scheduler = s
	}
}

// WithSettings supplies the initial [Settings]. Defaults to
// [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(o *managerOptions) {
		o.settings = s
	}
}
