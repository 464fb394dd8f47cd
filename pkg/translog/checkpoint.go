package translog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/calvinalkan/translog/pkg/fs"
)

// checkpointFileName is the small on-disk pointer to the generation that
// should be opened on clean restart (spec §3, §4.D, §6).
const checkpointFileName = "translog.ckp"

const (
	checkpointMagic int32 = 0x544C4301 // "TLC" + version
	checkpointVer   int8  = 1
	checkpointSize        = 4 + 1 + 8 + 4 // magic + version + generation + numOps
)

// Checkpoint is the tiny pointer file written atomically whenever
// prepareCommit creates a new generation.
type Checkpoint struct {
	Generation int64
	NumOps     int32
}

func checkpointPath(dir string) string {
	return joinPath(dir, checkpointFileName)
}

// writeCheckpoint rewrites the checkpoint atomically (temp file + rename)
// through fsys, so a fault-injecting [fs.FS] such as [fs.Chaos] can exercise
// torn checkpoint writes the same way it exercises generation writes.
func writeCheckpoint(fsys fs.FS, path string, cp Checkpoint) error {
	buf := make([]byte, 0, checkpointSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(checkpointMagic)) //nolint:gosec // fixed constant
	buf = append(buf, byte(checkpointVer))
	buf = binary.BigEndian.AppendUint64(buf, uint64(cp.Generation)) //nolint:gosec // non-negative by construction
	buf = binary.BigEndian.AppendUint32(buf, uint32(cp.NumOps))     //nolint:gosec // bounded by caller

	writer := fs.NewAtomicWriter(fsys)
	if err := writer.WriteWithDefaults(path, bytes.NewReader(buf)); err != nil {
		return wrapIO(path, err)
	}

	return nil
}

// readCheckpoint reads the checkpoint. A missing file is reported via
// os.IsNotExist on the returned error; callers treat that as "no prior
// checkpoint", not fatal (spec §7).
func readCheckpoint(fsys fs.FS, path string) (Checkpoint, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, err
		}

		return Checkpoint{}, wrapIO(path, err)
	}

	if len(data) != checkpointSize {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %s has wrong size %d", ErrCorrupted, path, len(data))
	}

	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != uint32(checkpointMagic) { //nolint:gosec // fixed constant
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %s has bad magic", ErrCorrupted, path)
	}

	gen := int64(binary.BigEndian.Uint64(data[5:13])) //nolint:gosec // reinterpret
	numOps := int32(binary.BigEndian.Uint32(data[13:17])) //nolint:gosec // reinterpret

	return Checkpoint{Generation: gen, NumOps: numOps}, nil
}
