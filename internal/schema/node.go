package schema

// Kind is the tagged-variant discriminant for a resolved schema node. This
// is the Go side of the design note in spec.md §9: one variant per
// supported physical type, matched exhaustively rather than downcast from
// an opaque interface.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBytes
	KindString
	KindUUID
	KindEnum
	KindFixed
	KindDecimal
	KindDate
	KindTimeMillis
	KindTimeMicros
	KindTimestamp
	KindDuration
	KindArray
	KindMap
	KindRecord
	KindUnion
	KindRef // a named-type reference resolved against the Arena, for cycles
)

// TimeUnit mirrors the three resolutions a timestamp/logical type may carry.
type TimeUnit int

const (
	UnitMillis TimeUnit = iota
	UnitMicros
	UnitNanos
)

// RecordField is one (name, child) pair of a KindRecord node, in schema
// declaration order.
type RecordField struct {
	Name string
	Node NodeID
}

// Node is one resolved type in the schema arena. Only the fields relevant
// to Kind are meaningful; see the comment on each for which Kind reads it.
type Node struct {
	Kind Kind
	Name string // record/enum/fixed name, or union/record field name when nested

	Symbols []string // KindEnum

	FixedSize int // KindFixed

	Precision int // KindDecimal
	Scale     int // KindDecimal

	Unit TimeUnit // KindTimestamp

	Element NodeID // KindArray: element type; KindMap: value type

	Fields []RecordField // KindRecord

	Variants   []NodeID // KindUnion, in declared order (1-based type ids externally)
	Nullable   bool     // KindUnion: true if this is the 2-branch [null, T] pattern
	NullableOf NodeID   // KindUnion with Nullable=true: the flattened non-null variant

	Ref NodeID // KindRef: the arena index this name resolves to
}

// NodeID indexes into an Arena.
type NodeID int

// Arena is the resolved-type arena referenced by index, used so that
// self-referential (cyclic) records can be represented without an infinite
// tree: a record field pointing back to an ancestor record is a KindRef
// node whose Ref field is the ancestor's NodeID.
type Arena struct {
	nodes []Node
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) add(n Node) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

// reserve allocates a placeholder node (used for named types so a later
// self-reference can resolve before the real node is filled in) and
// returns its id for later completion via Set.
func (a *Arena) reserve() NodeID {
	return a.add(Node{})
}

func (a *Arena) set(id NodeID, n Node) {
	a.nodes[id] = n
}

func (a *Arena) Get(id NodeID) Node {
	return a.nodes[id]
}

// maxDecodeDepth bounds recursion through KindRef cycles when decoding or
// appending values, per spec.md §9's requirement that cyclic schemas carry
// an enforced depth bound.
const maxDecodeDepth = 64
