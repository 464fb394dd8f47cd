package translog

import "fmt"

// Location names one record within one generation: (gen, offset, size).
// It is returned by [Manager.Add] and consumed by [Manager.Read].
//
// Totally ordered by (Generation, Offset). Offset points at the record's
// opSize prefix; Size covers the whole record (opSize field + body +
// checksum), so readAt(Offset, Size) returns exactly the bytes [Encode]
// produced.
type Location struct {
	Generation int64
	Offset     int64
	Size       int32
}

// Less reports whether loc sorts before other under (Generation, Offset)
// ordering.
func (loc Location) Less(other Location) bool {
	if loc.Generation != other.Generation {
		return loc.Generation < other.Generation
	}

	return loc.Offset < other.Offset
}

func (loc Location) String() string {
	return fmt.Sprintf("Location{gen=%d, offset=%d, size=%d}", loc.Generation, loc.Offset, loc.Size)
}
