package translog

import (
	"encoding/binary"
	"errors"
)

// errIterDone marks a clean end of a reader iterator (distinct from
// io.EOF, which DecodeStream uses for the raw-reader-based variant of the
// same idea).
var errIterDone = errors.New("translog: iterator exhausted")

func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
