package translog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/calvinalkan/translog/pkg/fs"
)

func writeHeader(f fs.File, gen int64) error {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, headerMagic...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(gen)) //nolint:gosec // gen is non-negative by construction

	_, err := f.Write(buf)

	return err
}

func readHeader(f fs.File) (gen int64, err error) {
	buf := make([]byte, headerSize)

	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		m, rErr := f.Read(buf[n:])
		n += m

		if rErr != nil {
			return 0, fmt.Errorf("%w: reading header", ErrTruncated)
		}
	}

	if string(buf[:8]) != headerMagic {
		return 0, fmt.Errorf("%w: bad header magic", ErrCorrupted)
	}

	return int64(binary.BigEndian.Uint64(buf[8:16])), nil //nolint:gosec // reinterpret
}

// buildFooter encodes the trailing "known operation count" stamp the writer
// appends when a generation is rolled (spec §4.C).
func buildFooter(opCount int64) []byte {
	buf := make([]byte, 0, footerSize)
	buf = append(buf, footerMagic...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(opCount)) //nolint:gosec // non-negative by construction

	crc := crc32.Checksum(buf[8:16], crcTable)
	buf = binary.BigEndian.AppendUint32(buf, crc)

	return buf
}

// tryReadFooter attempts to parse a footer from the last footerSize bytes of
// a file of the given size. ok is false if the tail isn't a valid footer
// (the generation was never cleanly rolled, or crashed mid-roll).
func tryReadFooter(f fs.File, size int64) (opCount int64, ok bool, err error) {
	if size < headerSize+footerSize {
		return 0, false, nil
	}

	buf := make([]byte, footerSize)

	if _, err := f.Seek(size-footerSize, 0); err != nil {
		return 0, false, err
	}

	n := 0
	for n < len(buf) {
		m, rErr := f.Read(buf[n:])
		n += m

		if rErr != nil {
			return 0, false, rErr
		}
	}

	if string(buf[:8]) != footerMagic {
		return 0, false, nil
	}

	count := int64(binary.BigEndian.Uint64(buf[8:16])) //nolint:gosec // reinterpret
	crc := binary.BigEndian.Uint32(buf[16:20])

	if crc32.Checksum(buf[8:16], crcTable) != crc {
		return 0, false, nil
	}

	return count, true, nil
}
