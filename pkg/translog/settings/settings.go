// Package settings loads the `index.translog.*` JSONC settings file (spec
// §6) into a [translog.Settings], the way the teacher's config.go loads
// `.tk.json`: hujson.Standardize then json.Unmarshal, with defaults filled
// in and unrecognized values logged and defaulted.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"

	"github.com/calvinalkan/translog/pkg/translog"
)

// errInvalidFile is wrapped with the offending path and underlying parse
// error, mirroring the teacher's errConfigInvalid.
var errInvalidFile = errors.New("translog: invalid settings file")

// fileSchema mirrors the on-disk shape of `index.translog.*`:
//
//	{
//	  "index": {
//	    "translog": {
//	      "durability": "REQUEST",
//	      "sync_interval": "5s",
//	      "fs": { "type": "BUFFERED", "buffer_size": 65536 }
//	    }
//	  }
//	}
type fileSchema struct {
	Index struct {
		Translog struct {
			Durability   string `json:"durability,omitempty"`
			SyncInterval string `json:"sync_interval,omitempty"`
			FS           struct {
				Type       string `json:"type,omitempty"`
				BufferSize int    `json:"buffer_size,omitempty"`
			} `json:"fs,omitempty"`
		} `json:"translog,omitempty"`
	} `json:"index,omitempty"`
}

// Load reads and parses a JSONC settings file at path, merging recognized
// values over [translog.DefaultSettings]. A missing file is not an error: it
// returns the defaults unchanged. Unrecognized enum values are logged
// through logger (defaulting to [zap.NewNop]) and the corresponding default
// is kept, per spec §6 "Unrecognized values are logged and defaults
// applied".
func Load(path string, logger *zap.Logger) (translog.Settings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	out := translog.DefaultSettings()

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied settings path
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}

		return translog.Settings{}, fmt.Errorf("%w: %s: %w", errInvalidFile, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return translog.Settings{}, fmt.Errorf("%w: %s: invalid JSONC: %w", errInvalidFile, path, err)
	}

	var parsed fileSchema

	if err := json.Unmarshal(standardized, &parsed); err != nil {
		return translog.Settings{}, fmt.Errorf("%w: %s: invalid JSON: %w", errInvalidFile, path, err)
	}

	applyDurability(&out, parsed.Index.Translog.Durability, logger)
	applyWriterType(&out, parsed.Index.Translog.FS.Type, logger)
	applySyncInterval(&out, parsed.Index.Translog.SyncInterval, logger)

	if parsed.Index.Translog.FS.BufferSize > 0 {
		out.BufferSize = parsed.Index.Translog.FS.BufferSize
	}

	return out, nil
}

func applyDurability(out *translog.Settings, value string, logger *zap.Logger) {
	switch value {
	case "":
		return
	case "REQUEST":
		out.Durability = translog.DurabilityRequest
	case "ASYNC":
		out.Durability = translog.DurabilityAsync
	default:
		logger.Warn("translog: unrecognized durability setting, using default",
			zap.String("value", value), zap.Stringer("default", out.Durability))
	}
}

func applyWriterType(out *translog.Settings, value string, logger *zap.Logger) {
	switch value {
	case "":
		return
	case "SIMPLE":
		out.WriterType = translog.WriterSimple
	case "BUFFERED":
		out.WriterType = translog.WriterBuffered
	default:
		logger.Warn("translog: unrecognized fs.type setting, using default",
			zap.String("value", value), zap.Stringer("default", out.WriterType))
	}
}

func applySyncInterval(out *translog.Settings, value string, logger *zap.Logger) {
	if value == "" {
		return
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("translog: unrecognized sync_interval setting, using default",
			zap.String("value", value), zap.Duration("default", out.SyncInterval))

		return
	}

	out.SyncInterval = d
}
