package translog

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func Test_Codec_RoundTrip_Create(t *testing.T) {
	op := NewCreate("doc-1", "page", []byte{0x01, 0x02, 0x03})
	op.Version = 7
	op.Timestamp = 1234
	op.TTL = 0
	op.VersionType = VersionTypeInternal

	encoded, err := Encode(op)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(op, decoded, cmpopts.IgnoreUnexported(IndexOperation{})); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, OpCreate, decoded.Kind())
}

func Test_Codec_RoundTrip_Save_WithRoutingAndParent(t *testing.T) {
	op := NewSave("doc-2", "page", []byte("hello"))
	op.HasRouting = true
	op.Routing = "shard-a"
	op.HasParent = true
	op.Parent = "doc-0"
	op.Version = 42
	op.VersionType = VersionTypeExternal

	encoded, err := Encode(op)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	got, ok := decoded.(*IndexOperation)
	require.True(t, ok)
	require.Equal(t, "shard-a", got.Routing)
	require.Equal(t, "doc-0", got.Parent)
	require.Equal(t, OpSave, got.Kind())
}

func Test_Codec_RoundTrip_Delete(t *testing.T) {
	op := NewDelete("_uid", "doc-3")
	op.Version = 3
	op.VersionType = VersionTypeForce

	encoded, err := Encode(op)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(op, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_Codec_RoundTrip_DeleteByQuery(t *testing.T) {
	op := &DeleteByQueryOperation{
		Source:  []byte(`{"match_all":{}}`),
		Types:   []string{"page", "comment"},
		Aliases: []string{"alias-a"},
	}

	encoded, err := Encode(op)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(op, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_Codec_Decode_TruncatedRecord(t *testing.T) {
	op := NewCreate("doc-1", "page", []byte("x"))

	encoded, err := Encode(op)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-3])
	require.ErrorIs(t, err, ErrTruncated)
}

func Test_Codec_Decode_CorruptedChecksum(t *testing.T) {
	op := NewCreate("doc-1", "page", []byte("x"))

	encoded, err := Encode(op)
	require.NoError(t, err)

	// Flip a bit inside the body, not the opSize prefix.
	encoded[6] ^= 0xFF

	_, err = Decode(encoded)
	require.ErrorIs(t, err, ErrCorrupted)
}

func Test_Codec_Decode_UnknownTag(t *testing.T) {
	op := NewCreate("doc-1", "page", []byte("x"))

	encoded, err := Encode(op)
	require.NoError(t, err)

	encoded[4] = 99 // tag byte, right after opSize

	_, err = Decode(encoded)
	require.ErrorIs(t, err, ErrCorrupted)
}

func Test_Codec_DeleteByQuery_OlderFormat_DefaultsAliases(t *testing.T) {
	var bw bytes.Buffer

	writeVint(&bw, 1) // format 1: no aliases field at all
	writeBytes(&bw, []byte("src"))
	writeVint(&bw, 1)
	writeString(&bw, "page")

	decoded, err := decodeDeleteByQueryBody(bw.Bytes())
	require.NoError(t, err)

	dbq, ok := decoded.(*DeleteByQueryOperation)
	require.True(t, ok)
	require.Equal(t, []string{"page"}, dbq.Types)
	require.Empty(t, dbq.Aliases)
}
