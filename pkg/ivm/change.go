package ivm

// ChangeKind tags the variant a Change carries.
type ChangeKind int

const (
	Add ChangeKind = iota
	Remove
	Child
	Edit
)

func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Child:
		return "child"
	case Edit:
		return "edit"
	default:
		return "unknown"
	}
}

// Change is the tagged union of row-level events a pipeline carries: Add,
// Remove, Child, Edit. Exactly the fields relevant to Kind are populated.
type Change struct {
	Kind ChangeKind

	// Origin names the table the change ultimately came from, so
	// operators with more than one upstream (Join) can tell which side
	// fed them without a separate method per side.
	Origin string

	// Add, Remove
	Node Node

	// Child: ParentRow identifies the parent this change is attached to;
	// Inner is the child relationship's own change.
	ParentRow    Node
	RelAlias     string
	Inner        *Change

	// Edit
	OldNode Node
	NewNode Node
}

func NewAdd(n Node) Change    { return Change{Kind: Add, Node: n} }
func NewRemove(n Node) Change { return Change{Kind: Remove, Node: n} }
func NewEdit(old, new Node) Change {
	return Change{Kind: Edit, OldNode: old, NewNode: new}
}
func NewChild(parent Node, alias string, inner Change) Change {
	return Change{Kind: Child, ParentRow: parent, RelAlias: alias, Inner: &inner}
}
