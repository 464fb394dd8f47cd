package translog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// cursor reads the variant-specific field layout described in spec §3:
// vint = unsigned varint, string = vint length + UTF-8 bytes, bytes = vint
// length + raw bytes, all fixed-width integers big-endian.
type cursor struct {
	b   []byte
	pos int
}

var errCursorEOF = errors.New("translog: unexpected end of operation body")

func (c *cursor) atEnd() bool {
	return c.pos >= len(c.b)
}

func (c *cursor) readVint() (uint64, error) {
	v, n := binary.Uvarint(c.b[c.pos:])
	if n <= 0 {
		return 0, errCursorEOF
	}

	c.pos += n

	return v, nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.readVint()
	if err != nil {
		return "", err
	}

	if n > maxReasonableFieldLen {
		return "", fmt.Errorf("%w: string length %d too large", errCursorEOF, n)
	}

	if c.pos+int(n) > len(c.b) {
		return "", errCursorEOF
	}

	s := string(c.b[c.pos : c.pos+int(n)])
	c.pos += int(n)

	return s, nil
}

func (c *cursor) readBytes() ([]byte, error) {
	n, err := c.readVint()
	if err != nil {
		return nil, err
	}

	if n > maxReasonableFieldLen {
		return nil, fmt.Errorf("%w: byte length %d too large", errCursorEOF, n)
	}

	if c.pos+int(n) > len(c.b) {
		return nil, errCursorEOF
	}

	out := make([]byte, n)
	copy(out, c.b[c.pos:c.pos+int(n)])
	c.pos += int(n)

	return out, nil
}

func (c *cursor) readBool() (bool, error) {
	if c.pos >= len(c.b) {
		return false, errCursorEOF
	}

	v := c.b[c.pos]
	c.pos++

	return v != 0, nil
}

func (c *cursor) readInt64() (int64, error) {
	if c.pos+8 > len(c.b) {
		return 0, errCursorEOF
	}

	v := int64(binary.BigEndian.Uint64(c.b[c.pos : c.pos+8])) //nolint:gosec // intentional reinterpret
	c.pos += 8

	return v, nil
}

func (c *cursor) readInt8() (int8, error) {
	if c.pos >= len(c.b) {
		return 0, errCursorEOF
	}

	v := int8(c.b[c.pos])
	c.pos++

	return v, nil
}

// maxReasonableFieldLen guards against a corrupted length prefix making the
// decoder try to allocate gigabytes. Well above any legitimate document
// source size.
const maxReasonableFieldLen = 1 << 30

func writeVint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func writeString(w *bytes.Buffer, s string) {
	writeVint(w, uint64(len(s)))
	w.WriteString(s)
}

func writeBytes(w *bytes.Buffer, b []byte) {
	writeVint(w, uint64(len(b))) //nolint:gosec // bounded by caller
	w.Write(b)
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func writeInt64(w *bytes.Buffer, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)) //nolint:gosec // intentional reinterpret
	w.Write(buf[:])
}
