package translog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Record layout on disk, per spec §3:
//
//	opSize:int32 | opTypeTag:int8 | op body (variant-specific) | checksum:int32
//
// opSize covers everything after itself (tag + body + checksum). checksum is
// a CRC-32 over (tag + body); opSize is not covered by the checksum.
//
// Serialization formats, per variant (spec §3):
//
//	CREATE/SAVE:       vint format(=6) | string id | string type | bytes source |
//	                    bool hasRouting [string routing] | bool hasParent [string parent] |
//	                    int64 version | int64 timestamp | int64 ttl | int8 versionType
//	DELETE:            vint format(=2) | string uidField | string uidText |
//	                    int64 version | int8 versionType
//	DELETE_BY_QUERY:   vint format(=2) | bytes source | vint typeCount [string type]* |
//	                    vint aliasCount [string alias]*
//
// Older format values are accepted for backward compatibility: a field
// introduced at format N is only present when the stored format >= N;
// otherwise it defaults: routing and parent to absent, DELETE's uidField to
// "_uid", DELETE_BY_QUERY's aliases to none.
const (
	indexFormatCurrent          = 6
	indexFormatRoutingIntroduced = 2
	indexFormatParentIntroduced  = 3

	deleteFormatCurrent           = 2
	deleteFormatUIDFieldIntroduced = 2

	deleteByQueryFormatCurrent           = 2
	deleteByQueryFormatAliasesIntroduced = 2

	minRecordBody = 1 + 4 // tag + checksum, smallest possible body+checksum length
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Encode frames op into a self-checksummed record ready to append to a
// generation file.
func Encode(op Operation) ([]byte, error) {
	var body bytes.Buffer

	body.WriteByte(byte(op.Kind()))

	var err error

	switch o := op.(type) {
	case *IndexOperation:
		err = encodeIndexBody(&body, o)
	case *DeleteOperation:
		err = encodeDeleteBody(&body, o)
	case *DeleteByQueryOperation:
		err = encodeDeleteByQueryBody(&body, o)
	default:
		return nil, fmt.Errorf("translog: encode: unsupported operation type %T", op)
	}

	if err != nil {
		return nil, fmt.Errorf("translog: encode %s: %w", op.describe(), err)
	}

	tagAndBody := body.Bytes()
	checksum := crc32.Checksum(tagAndBody, crcTable)

	opSize := len(tagAndBody) + 4

	out := make([]byte, 0, 4+len(tagAndBody)+4)
	out = binary.BigEndian.AppendUint32(out, uint32(opSize)) //nolint:gosec // opSize fits int32 by construction
	out = append(out, tagAndBody...)
	out = binary.BigEndian.AppendUint32(out, checksum)

	return out, nil
}

// Decode parses one record previously produced by [Encode] from raw bytes
// (exactly opSize+4 bytes, as returned by a reader's readAt for a
// [Location]).
func Decode(record []byte) (Operation, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("%w: record shorter than opSize prefix", ErrTruncated)
	}

	opSize := binary.BigEndian.Uint32(record[:4])
	rest := record[4:]

	if uint64(len(rest)) < uint64(opSize) {
		return nil, fmt.Errorf("%w: have %d bytes, opSize wants %d", ErrTruncated, len(rest), opSize)
	}

	rest = rest[:opSize]

	if len(rest) < minRecordBody {
		return nil, fmt.Errorf("%w: record body too short (%d bytes)", ErrCorrupted, len(rest))
	}

	tagAndBody := rest[:len(rest)-4]
	storedChecksum := binary.BigEndian.Uint32(rest[len(rest)-4:])

	actualChecksum := crc32.Checksum(tagAndBody, crcTable)
	if actualChecksum != storedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch: stored %d, computed %d", ErrCorrupted, storedChecksum, actualChecksum)
	}

	kind := OpKind(int8(tagAndBody[0]))
	body := tagAndBody[1:]

	switch kind {
	case OpCreate, OpSave:
		return decodeIndexBody(kind, body)
	case OpDelete:
		return decodeDeleteBody(body)
	case OpDeleteByQuery:
		return decodeDeleteByQueryBody(body)
	default:
		return nil, fmt.Errorf("%w: unknown op tag %d", ErrCorrupted, kind)
	}
}

// DecodeStream reads one record from r the way a sequential channel
// iterator does: opSize prefix first, then exactly opSize more bytes. It
// distinguishes a clean end-of-stream (io.EOF, zero bytes read) from a
// truncated trailing record ([ErrTruncated]).
func DecodeStream(r io.Reader) (Operation, int, error) {
	var sizeBuf [4]byte

	n, err := io.ReadFull(r, sizeBuf[:])
	if err != nil {
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) { //nolint:errorlint // io.ReadFull sentinel
			return nil, 0, io.EOF
		}

		return nil, 0, fmt.Errorf("%w: reading opSize: %v", ErrTruncated, err) //nolint:errorlint
	}

	opSize := binary.BigEndian.Uint32(sizeBuf[:])

	rest := make([]byte, opSize)

	_, err = io.ReadFull(r, rest)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading record body: %v", ErrTruncated, err) //nolint:errorlint
	}

	full := append(sizeBuf[:0:0], sizeBuf[:]...) //nolint:gocritic // explicit fresh slice
	full = append(full, rest...)

	op, err := Decode(full)
	if err != nil {
		return nil, 0, err
	}

	return op, len(full), nil
}

// --- variant bodies ---

func encodeIndexBody(w *bytes.Buffer, op *IndexOperation) error {
	writeVint(w, indexFormatCurrent)
	writeString(w, op.ID)
	writeString(w, op.Type)
	writeBytes(w, op.Source)
	writeBool(w, op.HasRouting)

	if op.HasRouting {
		writeString(w, op.Routing)
	}

	writeBool(w, op.HasParent)

	if op.HasParent {
		writeString(w, op.Parent)
	}

	writeInt64(w, op.Version)
	writeInt64(w, op.Timestamp)
	writeInt64(w, op.TTL)
	w.WriteByte(byte(op.VersionType))

	return nil
}

func decodeIndexBody(kind OpKind, body []byte) (Operation, error) {
	c := &cursor{b: body}

	format, err := c.readVint()
	if err != nil {
		return nil, fmt.Errorf("%w: reading format: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op := &IndexOperation{kind: kind}

	op.ID, err = c.readString()
	if err != nil {
		return nil, fmt.Errorf("%w: reading id: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.Type, err = c.readString()
	if err != nil {
		return nil, fmt.Errorf("%w: reading type: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.Source, err = c.readBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: reading source: %v", ErrCorrupted, err) //nolint:errorlint
	}

	if format >= indexFormatRoutingIntroduced {
		op.HasRouting, err = c.readBool()
		if err != nil {
			return nil, fmt.Errorf("%w: reading hasRouting: %v", ErrCorrupted, err) //nolint:errorlint
		}

		if op.HasRouting {
			op.Routing, err = c.readString()
			if err != nil {
				return nil, fmt.Errorf("%w: reading routing: %v", ErrCorrupted, err) //nolint:errorlint
			}
		}
	}

	if format >= indexFormatParentIntroduced {
		op.HasParent, err = c.readBool()
		if err != nil {
			return nil, fmt.Errorf("%w: reading hasParent: %v", ErrCorrupted, err) //nolint:errorlint
		}

		if op.HasParent {
			op.Parent, err = c.readString()
			if err != nil {
				return nil, fmt.Errorf("%w: reading parent: %v", ErrCorrupted, err) //nolint:errorlint
			}
		}
	}

	op.Version, err = c.readInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.Timestamp, err = c.readInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: reading timestamp: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.TTL, err = c.readInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: reading ttl: %v", ErrCorrupted, err) //nolint:errorlint
	}

	vt, err := c.readInt8()
	if err != nil {
		return nil, fmt.Errorf("%w: reading versionType: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.VersionType = VersionType(vt)
	if !validVersionType(op.VersionType) {
		return nil, fmt.Errorf("%w: invalid versionType %d", ErrCorrupted, vt)
	}

	if !c.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes after index body", ErrCorrupted)
	}

	return op, nil
}

func encodeDeleteBody(w *bytes.Buffer, op *DeleteOperation) error {
	writeVint(w, deleteFormatCurrent)
	writeString(w, op.UIDField)
	writeString(w, op.UIDText)
	writeInt64(w, op.Version)
	w.WriteByte(byte(op.VersionType))

	return nil
}

func decodeDeleteBody(body []byte) (Operation, error) {
	c := &cursor{b: body}

	format, err := c.readVint()
	if err != nil {
		return nil, fmt.Errorf("%w: reading format: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op := &DeleteOperation{UIDField: "_uid"}

	if format >= deleteFormatUIDFieldIntroduced {
		op.UIDField, err = c.readString()
		if err != nil {
			return nil, fmt.Errorf("%w: reading uidField: %v", ErrCorrupted, err) //nolint:errorlint
		}
	}

	op.UIDText, err = c.readString()
	if err != nil {
		return nil, fmt.Errorf("%w: reading uidText: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.Version, err = c.readInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrCorrupted, err) //nolint:errorlint
	}

	vt, err := c.readInt8()
	if err != nil {
		return nil, fmt.Errorf("%w: reading versionType: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.VersionType = VersionType(vt)
	if !validVersionType(op.VersionType) {
		return nil, fmt.Errorf("%w: invalid versionType %d", ErrCorrupted, vt)
	}

	if !c.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes after delete body", ErrCorrupted)
	}

	return op, nil
}

func encodeDeleteByQueryBody(w *bytes.Buffer, op *DeleteByQueryOperation) error {
	writeVint(w, deleteByQueryFormatCurrent)
	writeBytes(w, op.Source)

	writeVint(w, uint64(len(op.Types))) //nolint:gosec // bounded by caller
	for _, t := range op.Types {
		writeString(w, t)
	}

	writeVint(w, uint64(len(op.Aliases))) //nolint:gosec // bounded by caller
	for _, a := range op.Aliases {
		writeString(w, a)
	}

	return nil
}

func decodeDeleteByQueryBody(body []byte) (Operation, error) {
	c := &cursor{b: body}

	format, err := c.readVint()
	if err != nil {
		return nil, fmt.Errorf("%w: reading format: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op := &DeleteByQueryOperation{}

	op.Source, err = c.readBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: reading source: %v", ErrCorrupted, err) //nolint:errorlint
	}

	typeCount, err := c.readVint()
	if err != nil {
		return nil, fmt.Errorf("%w: reading typeCount: %v", ErrCorrupted, err) //nolint:errorlint
	}

	op.Types, err = readStrings(c, typeCount)
	if err != nil {
		return nil, err
	}

	if format >= deleteByQueryFormatAliasesIntroduced {
		aliasCount, aErr := c.readVint()
		if aErr != nil {
			return nil, fmt.Errorf("%w: reading aliasCount: %v", ErrCorrupted, aErr) //nolint:errorlint
		}

		op.Aliases, err = readStrings(c, aliasCount)
		if err != nil {
			return nil, err
		}
	}

	if !c.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes after delete-by-query body", ErrCorrupted)
	}

	return op, nil
}

func readStrings(c *cursor, count uint64) ([]string, error) {
	const maxReasonableCount = 1 << 20
	if count > maxReasonableCount {
		return nil, fmt.Errorf("%w: unreasonable string count %d", ErrCorrupted, count)
	}

	out := make([]string, 0, count)

	for i := uint64(0); i < count; i++ {
		s, err := c.readString()
		if err != nil {
			return nil, fmt.Errorf("%w: reading string %d: %v", ErrCorrupted, i, err) //nolint:errorlint
		}

		out = append(out, s)
	}

	return out, nil
}
