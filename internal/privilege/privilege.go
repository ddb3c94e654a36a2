// Package privilege implements the Privileges bitmask of spec.md §4.9,
// grounded on service/security/authorization.go's Permission/Role
// bitmask design, re-specialized to the exact 11-bit mask and bundle set
// spec.md names.
package privilege

import (
	"fmt"
	"strings"
)

// Bit is a single privilege flag.
type Bit int

const (
	Select Bit = iota
	Delete
	Update
	Insert
	References
	Usage
	Compact
	Create
	Alter
	Drop
	List
	bitCount // sentinel, not a real privilege
)

func (b Bit) String() string {
	switch b {
	case Select:
		return "SELECT"
	case Delete:
		return "DELETE"
	case Update:
		return "UPDATE"
	case Insert:
		return "INSERT"
	case References:
		return "REFERENCES"
	case Usage:
		return "USAGE"
	case Compact:
		return "COMPACT"
	case Create:
		return "CREATE"
	case Alter:
		return "ALTER"
	case Drop:
		return "DROP"
	case List:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// Privileges is an immutable 11-bit mask. The zero value has no
// privileges set.
type Privileges struct {
	mask int
}

// All is the bundle with every bit set.
var All = Privileges{mask: (1 << bitCount) - 1}

// None is the empty bundle.
var None = Privileges{}

func bitMask(b Bit) int { return 1 << uint(b) }

// Of builds a Privileges value from individual bits.
func Of(bits ...Bit) Privileges {
	var p Privileges
	for _, b := range bits {
		p.mask |= bitMask(b)
	}
	return p
}

// Add returns a new Privileges with b set, leaving p unmodified —
// Privileges is a value object, per spec.md §4.9.
func (p Privileges) Add(b Bit) Privileges {
	return Privileges{mask: p.mask | bitMask(b)}
}

// Remove returns a new Privileges with b cleared. Removing an absent
// privilege is the identity.
func (p Privileges) Remove(b Bit) Privileges {
	return Privileges{mask: p.mask &^ bitMask(b)}
}

// Merge returns the union of p and other.
func (p Privileges) Merge(other Privileges) Privileges {
	return Privileges{mask: p.mask | other.mask}
}

// Permits reports whether b is set.
func (p Privileges) Permits(b Bit) bool {
	return p.mask&bitMask(b) != 0
}

// ToInt exposes the raw mask.
func (p Privileges) ToInt() int { return p.mask }

// FromInt rebuilds a Privileges from a raw mask, masking off any bits
// beyond the fixed 11-bit width.
func FromInt(v int) Privileges {
	return Privileges{mask: v & All.mask}
}

var nameToBit = func() map[string]Bit {
	m := make(map[string]Bit, bitCount)
	for b := Bit(0); b < bitCount; b++ {
		m[b.String()] = b
	}
	return m
}()

// ParseString parses a single privilege name ("INSERT", "SELECT", ...)
// into its Bit. Unknown names return an error.
func ParseString(name string) (Bit, error) {
	b, ok := nameToBit[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("privilege: unknown privilege name %q", name)
	}
	return b, nil
}

// FormatPriv returns the SQL-spelled name for a single-bit mask.
// Passing a zero or multi-bit mask is an error, per spec.md §4.9.
func FormatPriv(mask int) (string, error) {
	if mask == 0 {
		return "", fmt.Errorf("privilege: mask is zero, not a single bit")
	}
	if mask&(mask-1) != 0 {
		return "", fmt.Errorf("privilege: mask 0x%x carries more than one bit", mask)
	}
	for b := Bit(0); b < bitCount; b++ {
		if bitMask(b) == mask {
			return b.String(), nil
		}
	}
	return "", fmt.Errorf("privilege: mask 0x%x is outside the 11-bit privilege space", mask)
}

// ToEncodedString renders p as "||NAME||NAME||...||", the wire format
// spec.md §8's round-trip test checks against ALL.
func (p Privileges) ToEncodedString() string {
	var names []string
	for b := Bit(0); b < bitCount; b++ {
		if p.Permits(b) {
			names = append(names, b.String())
		}
	}
	if len(names) == 0 {
		return "||"
	}
	return "||" + strings.Join(names, "||") + "||"
}

// Predefined bundles, spec.md §4.9.
var (
	TableAll         = Of(Select, Delete, Update, Insert, References, Usage, Compact, Alter, Drop, List)
	TableRead        = Of(Select, Usage, List)
	SchemaAll        = Of(Create, Alter, Drop, List, Usage)
	SchemaRead       = Of(List, Usage)
	ProcedureAll     = Of(Usage, Alter, Drop, List)
	ProcedureExecute = Of(Usage, List)
)
