package translog

import "fmt"

// OpKind is the on-disk type tag for an operation variant. It maps 1:1 to
// the tagged-sum discriminant rather than an inheritance hierarchy, per the
// "dynamic dispatch over operation variants" design note.
type OpKind int8

const (
	// OpCreate is a document create.
	OpCreate OpKind = 1
	// OpSave is a document index/save. Same body shape as OpCreate, distinct
	// tag.
	OpSave OpKind = 2
	// OpDelete is a document delete by uid.
	OpDelete OpKind = 3
	// OpDeleteByQuery is the legacy delete-by-query operation. Decode-only:
	// accepted on recovery, never appended by new callers (see open question
	// in spec §9).
	OpDeleteByQuery OpKind = 4
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "CREATE"
	case OpSave:
		return "SAVE"
	case OpDelete:
		return "DELETE"
	case OpDeleteByQuery:
		return "DELETE_BY_QUERY"
	default:
		return fmt.Sprintf("OpKind(%d)", int8(k))
	}
}

// VersionType is the version-conflict policy stamped on CREATE/SAVE/DELETE
// operations.
type VersionType int8

const (
	VersionTypeInternal    VersionType = 0
	VersionTypeExternal    VersionType = 1
	VersionTypeExternalGTE VersionType = 2
	VersionTypeForce       VersionType = 3
)

func validVersionType(v VersionType) bool {
	return v >= VersionTypeInternal && v <= VersionTypeForce
}

// Operation is the tagged sum of every record variant the codec can frame.
type Operation interface {
	// Kind returns the on-disk type tag.
	Kind() OpKind
	// describe renders a short human description used in error context.
	describe() string
}

// IndexOperation is the body shape shared by CREATE and SAVE. The kind field
// (set by [NewCreate] / [NewSave]) picks the on-disk tag.
type IndexOperation struct {
	kind OpKind

	ID     string
	Type   string
	Source []byte

	HasRouting bool
	Routing    string

	HasParent bool
	Parent    string

	Version     int64
	Timestamp   int64
	TTL         int64
	VersionType VersionType
}

// NewCreate builds a CREATE operation.
func NewCreate(id, typ string, source []byte) *IndexOperation {
	return &IndexOperation{kind: OpCreate, ID: id, Type: typ, Source: source}
}

// NewSave builds a SAVE (index) operation.
func NewSave(id, typ string, source []byte) *IndexOperation {
	return &IndexOperation{kind: OpSave, ID: id, Type: typ, Source: source}
}

func (op *IndexOperation) Kind() OpKind { return op.kind }

func (op *IndexOperation) describe() string {
	return fmt.Sprintf("%s id=%s type=%s", op.kind, op.ID, op.Type)
}

// DeleteOperation is a delete-by-uid operation.
type DeleteOperation struct {
	UIDField    string
	UIDText     string
	Version     int64
	VersionType VersionType
}

// NewDelete builds a DELETE operation.
func NewDelete(uidField, uidText string) *DeleteOperation {
	return &DeleteOperation{UIDField: uidField, UIDText: uidText}
}

func (op *DeleteOperation) Kind() OpKind { return OpDelete }

func (op *DeleteOperation) describe() string {
	return fmt.Sprintf("DELETE uid=(%s,%s)", op.UIDField, op.UIDText)
}

// DeleteByQueryOperation is the legacy delete-by-query operation. It is
// decode-only: see spec §9 open question.
type DeleteByQueryOperation struct {
	Source  []byte
	Types   []string
	Aliases []string
}

func (op *DeleteByQueryOperation) Kind() OpKind { return OpDeleteByQuery }

func (op *DeleteByQueryOperation) describe() string {
	return fmt.Sprintf("DELETE_BY_QUERY types=%v", op.Types)
}
