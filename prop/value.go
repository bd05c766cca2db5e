package prop

// Kind discriminates the variants a decoded property value can take.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindName
	KindEnum
	KindStruct
	KindArray
	KindSet
	KindMap
	KindObject
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindName:
		return "name"
	case KindEnum:
		return "enum"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a flat tagged variant over everything a property payload can
// decode to. Only the field matching Kind is meaningful. Blob values
// keep the raw payload bytes plus the declared TypeName so callers can
// attempt their own decoding of formats this package does not know.
type Value struct {
	Kind     Kind
	TypeName string

	Bool   bool
	Int    int64
	Uint   uint64
	Float  float64
	Str    string
	Name   string
	Enum   string
	Struct *Object
	Elems  []Value
	Map    []MapEntry
	Ref    *Reference
	Blob   []byte
}

// MapEntry preserves on-disk pair order.
type MapEntry struct {
	Key   Value
	Value Value
}

// Property is one decoded field of an object: its resolved field name,
// the on-disk type name from the tag, the static-array slot it fills,
// and the decoded value.
type Property struct {
	Name       string
	TypeName   string
	ArrayIndex int32
	Value      Value
}

// Object is a decoded property graph node: a class name plus its
// fields in on-disk order.
type Object struct {
	Class string
	Props []Property
}

// Property returns the first field with the given name. A missing
// field reports ok=false rather than an error; optional fields are the
// norm in this format.
func (o *Object) Property(name string) (Value, bool) {
	for i := range o.Props {
		if o.Props[i].Name == name {
			return o.Props[i].Value, true
		}
	}
	return Value{}, false
}

// PropertyAt returns the field with the given name and static-array
// index, for fields serialized as fixed-size arrays of tagged slots.
func (o *Object) PropertyAt(name string, index int32) (Value, bool) {
	for i := range o.Props {
		if o.Props[i].Name == name && o.Props[i].ArrayIndex == index {
			return o.Props[i].Value, true
		}
	}
	return Value{}, false
}

// Reference is a decoded object reference. Hard references carry a
// packed index into the owning asset's export or import table; soft
// references carry an asset path instead. Resolution is deferred until
// Get and cached, including failures.
type Reference struct {
	Index int32
	Path  string

	lazy *Lazy[*Object]
}

// IsNull reports whether the reference points at nothing.
func (r *Reference) IsNull() bool {
	return r.Index == 0 && r.Path == ""
}

// Get materializes the referenced object, resolving it on first call.
func (r *Reference) Get() (*Object, error) {
	if r.lazy == nil {
		return nil, nil
	}
	return r.lazy.Get()
}

// Resolved reports whether Get has already run.
func (r *Reference) Resolved() bool {
	return r.lazy != nil && r.lazy.Resolved()
}
