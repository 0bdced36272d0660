package store

// Role distinguishes a registered root that Canon scans for originals from
// one that holds the canonical, deduplicated archive.
type Role string

const (
	RoleSource  Role = "source"
	RoleArchive Role = "archive"
)

// Root is a tracked top-level directory.
type Root struct {
	ID   int64
	Path string
	Role Role
}

// Source is a file observed on disk, identified by (root, relative path).
type Source struct {
	ID       int64
	RootID   int64
	RelPath  string
	Size     int64
	Mtime    int64
	Device   int64
	Inode    int64
	BasisRev int64
	SeenRev  int64
	ObjectID *int64
}

// Object is unique content identified by its SHA-256 hash.
type Object struct {
	ID   int64
	Hash string
}

// TargetKind identifies which aggregate a Fact is attached to.
type TargetKind string

const (
	TargetSource TargetKind = "source"
	TargetObject TargetKind = "object"
)

// ValueKind discriminates the typed column a FactValue occupies.
type ValueKind int

const (
	ValueText ValueKind = iota
	ValueNumber
	ValueTime
)

// FactValue is a scalar fact value: exactly one of Text, Num, or Time (a
// Unix timestamp, UTC) is meaningful, selected by Kind.
type FactValue struct {
	Kind ValueKind
	Text string
	Num  float64
	Time int64
}

func TextValue(s string) FactValue   { return FactValue{Kind: ValueText, Text: s} }
func NumberValue(n float64) FactValue { return FactValue{Kind: ValueNumber, Num: n} }
func TimeValue(t int64) FactValue    { return FactValue{Kind: ValueTime, Time: t} }

// String renders the value for display and for pattern expansion.
func (v FactValue) String() string {
	switch v.Kind {
	case ValueNumber:
		return formatNumber(v.Num)
	case ValueTime:
		return formatUnixUTC(v.Time)
	default:
		return v.Text
	}
}

// Fact is a key/value pair attached to exactly one of (source, object).
type Fact struct {
	TargetKind       TargetKind
	TargetID         int64
	Key              string
	Value            FactValue
	ObservedBasisRev *int64
	ObservedAt       int64
}
