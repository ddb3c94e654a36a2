// Package journal implements the Table Journal of spec.md §4.5: an
// append-only, in-memory log of (opcode, slot) entries owned by exactly
// one transaction while open, consumed on commit. The binary encoding
// mirrors the legacy journal sector format of spec.md §6 so the
// recovery path (internal/recovery) and the live, in-memory journal
// share one encoder.
package journal

import (
	"encoding/binary"
	"fmt"
)

// Opcode enumerates the four journal entry kinds of spec.md §3.
type Opcode int

const (
	Add Opcode = iota
	Remove
	UpdateRemove
	UpdateAdd
)

func (o Opcode) String() string {
	switch o {
	case Add:
		return "ADD"
	case Remove:
		return "REMOVE"
	case UpdateRemove:
		return "UPDATE-REMOVE"
	case UpdateAdd:
		return "UPDATE-ADD"
	default:
		return "UNKNOWN"
	}
}

// Entry is one (opcode, slot) journal record.
type Entry struct {
	Op   Opcode
	Slot int64
}

// Journal is the ordered log of one transaction's mutations on one
// table. Never shared between transactions.
type Journal struct {
	entries  []Entry
	commitID int64 // assigned at commit time; 0 while open
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// AddRow appends an ADD entry.
func (j *Journal) AddRow(slot int64) {
	j.entries = append(j.entries, Entry{Op: Add, Slot: slot})
}

// RemoveRow appends a REMOVE entry.
func (j *Journal) RemoveRow(slot int64) {
	j.entries = append(j.entries, Entry{Op: Remove, Slot: slot})
}

// UpdateRow appends the UPDATE-REMOVE/UPDATE-ADD pair an in-place update
// decomposes into, per spec.md's Table Journal opcode set.
func (j *Journal) UpdateRow(oldSlot, newSlot int64) {
	j.entries = append(j.entries, Entry{Op: UpdateRemove, Slot: oldSlot})
	j.entries = append(j.entries, Entry{Op: UpdateAdd, Slot: newSlot})
}

// Entries returns every entry in issue order.
func (j *Journal) Entries() []Entry {
	return j.entries
}

// EntriesByType filters entries matching op.
func (j *Journal) EntriesByType(op Opcode) []Entry {
	var out []Entry
	for _, e := range j.entries {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}

// CommitID returns the commit id assigned at commit time, or 0 if the
// journal has not been committed yet.
func (j *Journal) CommitID() int64 { return j.commitID }

// SetCommitID stamps the commit id once the owning transaction commits.
func (j *Journal) SetCommitID(id int64) { j.commitID = id }

// Len reports the number of entries.
func (j *Journal) Len() int { return len(j.entries) }

// WriteTo serializes the journal using the legacy wire format from
// spec.md §6: int32 version=1, int32 count, count entries of
// (int32 opcode, int32 slot_high, int32 slot_low) — slots are stored as
// two 32-bit halves to stay byte-compatible with the historic 32-bit
// slot ids while this type carries 64-bit slots internally.
func (j *Journal) WriteTo(w []byte) []byte {
	w = appendBE32(w, 1)
	w = appendBE32(w, int32(len(j.entries)))
	for _, e := range j.entries {
		w = appendBE32(w, int32(e.Op))
		w = appendBE32(w, int32(e.Slot>>32))
		w = appendBE32(w, int32(e.Slot))
	}
	return w
}

// ReadFrom parses the format WriteTo produces.
func ReadFrom(buf []byte) (*Journal, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("journal: buffer too short")
	}
	version := readBE32(buf[0:4])
	if version != 1 {
		return nil, fmt.Errorf("journal: unsupported version %d", version)
	}
	count := int(readBE32(buf[4:8]))
	j := &Journal{entries: make([]Entry, 0, count)}
	off := 8
	for i := 0; i < count; i++ {
		if off+12 > len(buf) {
			return nil, fmt.Errorf("journal: truncated entry %d", i)
		}
		op := Opcode(readBE32(buf[off : off+4]))
		hi := int64(readBE32(buf[off+4 : off+8]))
		lo := int64(readBE32(buf[off+8 : off+12]))
		slot := (hi << 32) | (lo & 0xFFFFFFFF)
		j.entries = append(j.entries, Entry{Op: op, Slot: slot})
		off += 12
	}
	return j, nil
}

func appendBE32(w []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(w, buf[:]...)
}

func readBE32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}
