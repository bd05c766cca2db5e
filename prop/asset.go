package prop

import (
	"fmt"

	"github.com/pakrat/pakrat/cursor"
)

// assetMagic is "PAST" in little-endian byte order.
const assetMagic = 0x54534150

// Format versions that gate property types. Types introduced after
// the declared version decode as blobs instead of failing the object.
const (
	versionDouble = 2
	versionMap    = 3
)

// Import identifies an object that lives in another asset, named by
// the package that declares its class, the class itself, and the
// object. Resolution goes through the Resolver supplied at parse time.
type Import struct {
	ClassPackage string
	ClassName    string
	ObjectName   string
}

// Export is an object serialized inside this asset, locating its
// tagged property stream within the asset bytes.
type Export struct {
	ClassName    string
	ObjectName   string
	SerialOffset uint64
	SerialSize   uint64
}

// Resolver materializes an object referenced across asset boundaries.
// Implementations typically consult a loaded-asset registry keyed by
// package name.
type Resolver func(imp Import) (*Object, error)

// Asset is a parsed asset file: its summary tables plus the raw bytes
// the export property streams decode from. Export objects deserialize
// lazily, at most once each.
type Asset struct {
	buf     []byte
	version uint32

	Names   *NameTable
	Imports []Import
	Exports []Export

	resolve Resolver
	cells   []*Lazy[*Object]
}

// ParseAsset reads the summary header and tables of an asset. The
// resolver may be nil when no cross-asset references will be followed.
func ParseAsset(data []byte, resolve Resolver) (*Asset, error) {
	c := cursor.New(data)

	magic, err := c.U32()
	if err != nil {
		return nil, fmt.Errorf("prop: summary: %w", err)
	}
	if magic != assetMagic {
		return nil, fmt.Errorf("prop: bad asset magic %#08x", magic)
	}
	version, err := c.U32()
	if err != nil {
		return nil, fmt.Errorf("prop: summary: %w", err)
	}

	var nameCount, nameOffset uint32
	var importCount, importOffset uint32
	var exportCount, exportOffset uint32
	for _, p := range []*uint32{
		&nameCount, &nameOffset,
		&importCount, &importOffset,
		&exportCount, &exportOffset,
	} {
		if *p, err = c.U32(); err != nil {
			return nil, fmt.Errorf("prop: summary: %w", err)
		}
	}

	a := &Asset{buf: data, version: version, resolve: resolve}

	if err := c.Seek(int(nameOffset)); err != nil {
		return nil, fmt.Errorf("prop: name table: %w", err)
	}
	if a.Names, err = readNameTable(c, nameCount); err != nil {
		return nil, err
	}

	if err := c.Seek(int(importOffset)); err != nil {
		return nil, fmt.Errorf("prop: import table: %w", err)
	}
	a.Imports = make([]Import, importCount)
	for i := range a.Imports {
		if a.Imports[i], err = a.readImport(c); err != nil {
			return nil, fmt.Errorf("prop: import %d: %w", i, err)
		}
	}

	if err := c.Seek(int(exportOffset)); err != nil {
		return nil, fmt.Errorf("prop: export table: %w", err)
	}
	a.Exports = make([]Export, exportCount)
	for i := range a.Exports {
		if a.Exports[i], err = a.readExport(c); err != nil {
			return nil, fmt.Errorf("prop: export %d: %w", i, err)
		}
	}
	for i := range a.Exports {
		end := a.Exports[i].SerialOffset + a.Exports[i].SerialSize
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("prop: export %d: serial region [%d, %d) outside asset of %d bytes",
				i, a.Exports[i].SerialOffset, end, len(data))
		}
	}

	a.cells = make([]*Lazy[*Object], exportCount)
	for i := range a.cells {
		exp := i
		a.cells[i] = NewLazy(func() (*Object, error) {
			return a.deserializeExport(exp)
		})
	}
	return a, nil
}

// Version is the declared format version gating which property types
// are legal in this asset.
func (a *Asset) Version() uint32 { return a.version }

func (a *Asset) readImport(c *cursor.Cursor) (Import, error) {
	var imp Import
	var err error
	for _, p := range []*string{&imp.ClassPackage, &imp.ClassName, &imp.ObjectName} {
		var n Name
		if n, err = readName(c); err != nil {
			return Import{}, err
		}
		if *p, err = a.Names.Resolve(n); err != nil {
			return Import{}, err
		}
	}
	return imp, nil
}

func (a *Asset) readExport(c *cursor.Cursor) (Export, error) {
	var exp Export
	for _, p := range []*string{&exp.ClassName, &exp.ObjectName} {
		n, err := readName(c)
		if err != nil {
			return Export{}, err
		}
		if *p, err = a.Names.Resolve(n); err != nil {
			return Export{}, err
		}
	}
	var err error
	if exp.SerialOffset, err = c.U64(); err != nil {
		return Export{}, err
	}
	if exp.SerialSize, err = c.U64(); err != nil {
		return Export{}, err
	}
	return exp, nil
}

// ExportObject deserializes the i-th export's property stream. Each
// export decodes at most once; later calls return the cached object or
// re-raise the cached error.
func (a *Asset) ExportObject(i int) (*Object, error) {
	if i < 0 || i >= len(a.cells) {
		return nil, fmt.Errorf("prop: export index %d outside table of %d entries", i, len(a.Exports))
	}
	return a.cells[i].Get()
}

func (a *Asset) deserializeExport(i int) (*Object, error) {
	exp := a.Exports[i]
	c := cursor.New(a.buf[exp.SerialOffset : exp.SerialOffset+exp.SerialSize])
	obj, err := a.decodeObject(c, exp.ClassName)
	if err != nil {
		return nil, fmt.Errorf("prop: export %q: %w", exp.ObjectName, err)
	}
	return obj, nil
}

// reference builds a Reference for a packed object index: zero is
// null, positive selects export[index-1], negative selects
// import[-index-1] and resolves through the external resolver.
func (a *Asset) reference(packed int32) (*Reference, error) {
	switch {
	case packed == 0:
		return &Reference{}, nil
	case packed > 0:
		i := int(packed) - 1
		if i >= len(a.Exports) {
			return nil, fmt.Errorf("prop: object reference %d outside export table of %d entries", packed, len(a.Exports))
		}
		return &Reference{
			Index: packed,
			lazy: NewLazy(func() (*Object, error) {
				return a.ExportObject(i)
			}),
		}, nil
	default:
		i := int(-packed) - 1
		if i >= len(a.Imports) {
			return nil, fmt.Errorf("prop: object reference %d outside import table of %d entries", packed, len(a.Imports))
		}
		imp := a.Imports[i]
		return &Reference{
			Index: packed,
			lazy: NewLazy(func() (*Object, error) {
				if a.resolve == nil {
					return nil, fmt.Errorf("prop: no resolver for external reference %s.%s", imp.ClassPackage, imp.ObjectName)
				}
				return a.resolve(imp)
			}),
		}, nil
	}
}

// softReference builds a Reference addressed by asset path rather than
// table index. The path is resolved as an import with only the package
// and object components populated.
func (a *Asset) softReference(assetPath, subPath string) *Reference {
	if assetPath == "" {
		return &Reference{}
	}
	return &Reference{
		Path: assetPath,
		lazy: NewLazy(func() (*Object, error) {
			if a.resolve == nil {
				return nil, fmt.Errorf("prop: no resolver for soft reference %q", assetPath)
			}
			return a.resolve(Import{ClassPackage: assetPath, ObjectName: subPath})
		}),
	}
}
