// Package prop deserializes asset objects into a typed property
// graph: named, typed fields read from a tagged binary stream, with
// lazily-resolved references to other objects. Unknown or
// version-gated property types degrade to raw blob capture instead of
// failing the object; the tag's declared size always recovers the
// stream position.
package prop

import (
	"fmt"

	"github.com/pakrat/pakrat/cursor"
)

// Name is an indexed reference into an asset's name table. Number
// disambiguates repeated instances: Number 0 is the plain name,
// Number n renders as "Base_n".
type Name struct {
	Index  uint32
	Number uint32
}

// NameTable is the deduplicated ordered string table referenced by
// Name values throughout an asset.
type NameTable struct {
	names []string
}

func NewNameTable(names []string) *NameTable {
	return &NameTable{names: names}
}

func (t *NameTable) Len() int { return len(t.names) }

// Resolve renders a Name as its display string.
func (t *NameTable) Resolve(n Name) (string, error) {
	if int(n.Index) >= len(t.names) {
		return "", fmt.Errorf("prop: name index %d outside table of %d entries", n.Index, len(t.names))
	}
	base := t.names[n.Index]
	if n.Number == 0 {
		return base, nil
	}
	return fmt.Sprintf("%s_%d", base, n.Number), nil
}

func readName(c *cursor.Cursor) (Name, error) {
	idx, err := c.U32()
	if err != nil {
		return Name{}, err
	}
	num, err := c.U32()
	if err != nil {
		return Name{}, err
	}
	return Name{Index: idx, Number: num}, nil
}

func readNameTable(c *cursor.Cursor, count uint32) (*NameTable, error) {
	names := make([]string, count)
	for i := range names {
		s, err := c.String()
		if err != nil {
			return nil, fmt.Errorf("prop: name %d: %w", i, err)
		}
		names[i] = s
	}
	return &NameTable{names: names}, nil
}
