package prop

import (
	"errors"
	"fmt"

	"github.com/pakrat/pakrat/cursor"
)

// noneName terminates an object's property stream.
const noneName = "None"

// errUnknownType marks a payload whose type this decoder does not
// understand. The caller recovers by capturing the declared payload
// bytes as a blob; the error never escapes the package.
var errUnknownType = errors.New("unknown property type")

// decodeObject runs the tagged property loop until the end-of-object
// sentinel. Every tag carries its payload size, so even a property the
// decoder cannot parse advances the stream by exactly that size.
func (a *Asset) decodeObject(c *cursor.Cursor, class string) (*Object, error) {
	obj := &Object{Class: class}
	for {
		name, err := readName(c)
		if err != nil {
			return nil, fmt.Errorf("property tag: %w", err)
		}
		fieldName, err := a.Names.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("property tag: %w", err)
		}
		if fieldName == noneName {
			return obj, nil
		}

		typeTag, err := readName(c)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", fieldName, err)
		}
		typeName, err := a.Names.Resolve(typeTag)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", fieldName, err)
		}
		size, err := c.I32()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", fieldName, err)
		}
		if size < 0 {
			return nil, fmt.Errorf("property %q: negative size %d", fieldName, size)
		}
		arrayIndex, err := c.I32()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", fieldName, err)
		}

		val, err := a.decodeTagged(c, fieldName, typeName, int(size))
		if err != nil {
			return nil, err
		}
		obj.Props = append(obj.Props, Property{
			Name:       fieldName,
			TypeName:   typeName,
			ArrayIndex: arrayIndex,
			Value:      val,
		})
	}
}

// decodeTagged reads one tagged property value: the type-specific
// header, then the payload, then an unconditional re-seek to payload
// start plus declared size so a short or unparsed payload cannot
// desynchronize the stream.
func (a *Asset) decodeTagged(c *cursor.Cursor, fieldName, typeName string, size int) (Value, error) {
	// BoolProperty keeps its value in the tag header and has an empty
	// payload.
	if typeName == "BoolProperty" {
		b, err := c.Bool()
		if err != nil {
			return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
		}
		if err := c.Skip(size); err != nil {
			return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
		}
		return Value{Kind: KindBool, TypeName: typeName, Bool: b}, nil
	}

	hdr, err := a.readTypeHeader(c, typeName)
	if err != nil {
		return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
	}

	payloadStart := c.Pos()
	if payloadStart+size > c.Len() {
		return Value{}, fmt.Errorf("property %q: payload of %d bytes exceeds stream", fieldName, size)
	}
	// Types past the asset's declared version keep their payload as an
	// opaque blob; the header shape is still known, so the stream stays
	// aligned.
	if !a.typeSupported(typeName) {
		return a.captureBlob(c, fieldName, typeName, size)
	}
	val, err := a.decodePayload(c, typeName, hdr)
	switch {
	case errors.Is(err, errUnknownType):
		if err := c.Seek(payloadStart); err != nil {
			return Value{}, err
		}
		return a.captureBlob(c, fieldName, typeName, size)
	case err != nil:
		return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
	}
	if err := c.Seek(payloadStart + size); err != nil {
		return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
	}
	return val, nil
}

// typeHeader carries the per-type names read between the common tag
// fields and the payload.
type typeHeader struct {
	structType string
	innerType  string
	keyType    string
	valueType  string
	enumName   string
}

func (a *Asset) readTypeHeader(c *cursor.Cursor, typeName string) (typeHeader, error) {
	var hdr typeHeader
	readOne := func(dst *string) error {
		n, err := readName(c)
		if err != nil {
			return err
		}
		*dst, err = a.Names.Resolve(n)
		return err
	}
	switch typeName {
	case "StructProperty":
		return hdr, readOne(&hdr.structType)
	case "ArrayProperty", "SetProperty":
		return hdr, readOne(&hdr.innerType)
	case "MapProperty":
		if err := readOne(&hdr.keyType); err != nil {
			return hdr, err
		}
		return hdr, readOne(&hdr.valueType)
	case "ByteProperty", "EnumProperty":
		return hdr, readOne(&hdr.enumName)
	default:
		return hdr, nil
	}
}

// typeSupported gates type tags by format version. Unsupported tags
// degrade to blob capture before any type-specific header is read.
func (a *Asset) typeSupported(typeName string) bool {
	switch typeName {
	case "DoubleProperty":
		return a.version >= versionDouble
	case "MapProperty":
		return a.version >= versionMap
	default:
		return true
	}
}

func (a *Asset) captureBlob(c *cursor.Cursor, fieldName, typeName string, size int) (Value, error) {
	raw, err := c.Bytes(size)
	if err != nil {
		return Value{}, fmt.Errorf("property %q: %w", fieldName, err)
	}
	blob := make([]byte, size)
	copy(blob, raw)
	return Value{Kind: KindBlob, TypeName: typeName, Blob: blob}, nil
}

func (a *Asset) decodePayload(c *cursor.Cursor, typeName string, hdr typeHeader) (Value, error) {
	switch typeName {
	case "StructProperty":
		inner, err := a.decodeObject(c, hdr.structType)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindStruct, TypeName: hdr.structType, Struct: inner}, nil

	case "ArrayProperty", "SetProperty":
		count, err := c.U32()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := a.decodeRaw(c, hdr.innerType)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		}
		kind := KindArray
		if typeName == "SetProperty" {
			kind = KindSet
		}
		return Value{Kind: kind, TypeName: hdr.innerType, Elems: elems}, nil

	case "MapProperty":
		count, err := c.U32()
		if err != nil {
			return Value{}, err
		}
		pairs := make([]MapEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			k, err := a.decodeRaw(c, hdr.keyType)
			if err != nil {
				return Value{}, err
			}
			v, err := a.decodeRaw(c, hdr.valueType)
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, MapEntry{Key: k, Value: v})
		}
		return Value{Kind: KindMap, Map: pairs}, nil

	case "ByteProperty":
		if hdr.enumName == noneName {
			b, err := c.U8()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindUint, TypeName: typeName, Uint: uint64(b)}, nil
		}
		n, err := readName(c)
		if err != nil {
			return Value{}, err
		}
		s, err := a.Names.Resolve(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindEnum, TypeName: hdr.enumName, Enum: s}, nil

	case "EnumProperty":
		n, err := readName(c)
		if err != nil {
			return Value{}, err
		}
		s, err := a.Names.Resolve(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindEnum, TypeName: hdr.enumName, Enum: s}, nil

	case "SoftObjectProperty":
		assetPath, err := c.String()
		if err != nil {
			return Value{}, err
		}
		subPath, err := c.String()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindObject, TypeName: typeName, Ref: a.softReference(assetPath, subPath)}, nil

	default:
		return a.decodeRaw(c, typeName)
	}
}

// decodeRaw reads an untagged value of the given type, as found in
// container elements and simple payloads. Container elements of a type
// this decoder does not know cannot be skipped individually, so the
// whole containing property falls back to blob capture.
func (a *Asset) decodeRaw(c *cursor.Cursor, typeName string) (Value, error) {
	switch typeName {
	case "BoolProperty":
		b, err := c.Bool()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBool, TypeName: typeName, Bool: b}, nil
	case "Int8Property":
		v, err := c.I8()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, TypeName: typeName, Int: int64(v)}, nil
	case "Int16Property":
		v, err := c.I16()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, TypeName: typeName, Int: int64(v)}, nil
	case "IntProperty":
		v, err := c.I32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, TypeName: typeName, Int: int64(v)}, nil
	case "Int64Property":
		v, err := c.I64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, TypeName: typeName, Int: v}, nil
	case "ByteProperty":
		v, err := c.U8()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, TypeName: typeName, Uint: uint64(v)}, nil
	case "UInt16Property":
		v, err := c.U16()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, TypeName: typeName, Uint: uint64(v)}, nil
	case "UInt32Property":
		v, err := c.U32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, TypeName: typeName, Uint: uint64(v)}, nil
	case "UInt64Property":
		v, err := c.U64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, TypeName: typeName, Uint: v}, nil
	case "FloatProperty":
		v, err := c.F32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, TypeName: typeName, Float: float64(v)}, nil
	case "DoubleProperty":
		v, err := c.F64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, TypeName: typeName, Float: v}, nil
	case "StrProperty":
		s, err := c.String()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, TypeName: typeName, Str: s}, nil
	case "NameProperty":
		n, err := readName(c)
		if err != nil {
			return Value{}, err
		}
		s, err := a.Names.Resolve(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindName, TypeName: typeName, Name: s}, nil
	case "ObjectProperty":
		packed, err := c.I32()
		if err != nil {
			return Value{}, err
		}
		ref, err := a.reference(packed)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindObject, TypeName: typeName, Ref: ref}, nil
	case "StructProperty":
		inner, err := a.decodeObject(c, "")
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindStruct, Struct: inner}, nil
	default:
		return Value{}, fmt.Errorf("%q: %w", typeName, errUnknownType)
	}
}
