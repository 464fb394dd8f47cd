package translog

import (
	"fmt"
	"regexp"
	"strconv"
)

// filenamePattern matches "translog-<N>.tlog" and tolerates a
// "translog-<N>.recovering" suffix for generations that were mid-roll at
// crash time (spec §6).
var filenamePattern = regexp.MustCompile(`^translog-(\d+)(\.recovering|\.tlog)?$`)

func generationFileName(gen int64) string {
	return fmt.Sprintf("translog-%d.tlog", gen)
}

// parseGeneration extracts the generation id from a file name, reporting ok
// = false if the name doesn't match the pattern.
func parseGeneration(name string) (gen int64, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// File header/footer constants.
//
// The header is a small fixed prologue written once at generation creation
// and is not part of the record stream (spec §4.B). The footer is written
// once, when a generation is rolled, so a later reader can report
// totalOperations() without a full scan (spec §4.C). A generation file that
// was never cleanly rolled has no footer: an [ImmutableReader] opened on it
// reports [UnknownOpCount], and iterating its records does not change that.
// The live current generation's count comes from its [Writer] instead.
const (
	headerMagic = "TLOG0001"
	headerSize  = 8 + 8 // magic + generation int64

	footerMagic = "TLGF0001"
	footerSize  = 8 + 8 + 4 // magic + opCount int64 + crc32 over opCount bytes

	// UnknownOpCount is returned by totalOperations() when a generation has
	// not been footer-stamped.
	UnknownOpCount = -1
)
