// Package recovery implements the Legacy Upgrade of spec.md §4.10: a
// one-shot converter from the historic flat-file index format into the
// live Index Store, replaying pending journals through the Table
// Journal encoder. Grounded on service/resource/sqlite_source.go's
// open/query shape for the scratch-staging step SPEC_FULL.md §3 wires
// modernc.org/sqlite into.
package recovery

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/IllayDevel/pondb/internal/indexstore"
	"github.com/IllayDevel/pondb/internal/journal"
	"github.com/IllayDevel/pondb/internal/pondb"
)

// ColumnScheme is the per-column index scheme the legacy format tags
// each column sector with: INSERT (type 1) columns get their sorted
// slot list carried forward; BLIND (type 2) columns are ignored,
// per spec.md §4.10.
type ColumnScheme int32

const (
	SchemeInsert ColumnScheme = 1
	SchemeBlind  ColumnScheme = 2
)

const legacyVersion = 1

// SectorSource reads the legacy index file's bytes. Sector values in the
// header record are treated as direct byte offsets into the underlying
// file, the simplest reading of spec.md §6's layout that doesn't require
// a second, independently-configured block size for a file the new page
// store never writes.
type SectorSource interface {
	ReadAt(off int64, n int) ([]byte, error)
}

// ReaderAtSource adapts an io.ReaderAt into a SectorSource.
type ReaderAtSource struct {
	R io.ReaderAt
}

func (s ReaderAtSource) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := s.R.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Result is what LoadLegacyTable hands back: the converter has already
// committed the new Index Set and persisted the unique_id; the caller
// still owns replaying PendingJournals through a live Transaction and
// deleting the old file.
type Result struct {
	RunID           uuid.UUID
	UniqueID        uint64
	RowCount        int
	PendingJournals []*journal.Journal
}

// LoadLegacyTable performs the full conversion described in spec.md
// §4.10 against one table's legacy index file, publishing the result
// into index, whose Store must already have 1+len(columnSchemes) lists
// (master plus one per column) allocated.
func LoadLegacyTable(ctx context.Context, src SectorSource, columnSchemes []ColumnScheme, index *indexstore.Store, log zerolog.Logger) (*Result, error) {
	runID := uuid.New()
	log = log.With().Str("recovery_run", runID.String()).Logger()

	headerLen := 8 + 4 + 4 + 4*len(columnSchemes)
	header, err := src.ReadAt(0, headerLen)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to read legacy header", err)
	}

	uniqueID := binary.BigEndian.Uint64(header[0:8])
	masterSector := int64(int32(binary.BigEndian.Uint32(header[8:12])))
	journalSector := int64(int32(binary.BigEndian.Uint32(header[12:16])))
	colSectors := make([]int64, len(columnSchemes))
	for i := range columnSchemes {
		off := 16 + 4*i
		colSectors[i] = int64(int32(binary.BigEndian.Uint32(header[off : off+4])))
	}

	masterSlots, err := readAscendingSlotList(src, masterSector)
	if err != nil {
		return nil, err
	}

	set := index.GetSnapshotIndexSet()
	master := set.MasterIndex()
	for _, slot := range masterSlots {
		master.InsertSorted(slot)
	}

	for i, scheme := range columnSchemes {
		if scheme != SchemeInsert {
			continue
		}
		slots, err := readAscendingSlotList(src, colSectors[i])
		if err != nil {
			return nil, fmt.Errorf("recovery: column %d index sector: %w", i, err)
		}
		col := set.GetIndex(i + 1)
		for _, slot := range slots {
			col.InsertSorted(slot)
		}
	}

	pending, err := readPendingJournals(ctx, src, journalSector, log)
	if err != nil {
		return nil, err
	}

	if err := index.CommitIndexSet(set); err != nil {
		return nil, err
	}
	if err := index.SetUniqueID(uniqueID); err != nil {
		return nil, err
	}
	if err := index.Flush(); err != nil {
		return nil, err
	}

	log.Info().Int("rows", master.Size()).Int("pending_journals", len(pending)).Msg("recovery: legacy table converted")

	return &Result{
		RunID:           runID,
		UniqueID:        uniqueID,
		RowCount:        master.Size(),
		PendingJournals: pending,
	}, nil
}

// readAscendingSlotList parses the master-index-sector format of
// spec.md §6: int32 version=1, int32 count, count ascending int32 slot
// ids. A non-ascending or duplicate list is a named fatal error, not an
// invariant panic, since this is untrusted legacy input.
func readAscendingSlotList(src SectorSource, sector int64) ([]int64, error) {
	head, err := src.ReadAt(sector, 8)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to read slot list header", err)
	}
	version := int32(binary.BigEndian.Uint32(head[0:4]))
	if version != legacyVersion {
		return nil, fmt.Errorf("recovery: unsupported slot list version %d", version)
	}
	count := int(int32(binary.BigEndian.Uint32(head[4:8])))
	if count == 0 {
		return nil, nil
	}
	body, err := src.ReadAt(sector+8, count*4)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to read slot list body", err)
	}
	slots := make([]int64, count)
	for i := 0; i < count; i++ {
		v := int64(int32(binary.BigEndian.Uint32(body[i*4 : i*4+4])))
		slots[i] = v
		if i > 0 {
			if v == slots[i-1] {
				return nil, fmt.Errorf("recovery: corrupt legacy index — double entry at slot %d", v)
			}
			if v < slots[i-1] {
				return nil, fmt.Errorf("recovery: corrupt legacy index — not sorted at slot %d", v)
			}
		}
	}
	return slots, nil
}

// readPendingJournals parses the journal sector (spec.md §6: int32
// version=1, int32 count, count serialized journals) and, as SPEC_FULL.md
// §3 requires, round-trips every entry through a throwaway
// modernc.org/sqlite in-memory database before handing back the
// replay-ready Journal objects. Each embedded journal is itself
// length-prefixed (int32 byte length) since spec.md's format leaves the
// boundary between consecutive serialized journals to the implementation.
func readPendingJournals(ctx context.Context, src SectorSource, sector int64, log zerolog.Logger) ([]*journal.Journal, error) {
	head, err := src.ReadAt(sector, 8)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to read journal sector header", err)
	}
	version := int32(binary.BigEndian.Uint32(head[0:4]))
	if version != legacyVersion {
		return nil, fmt.Errorf("recovery: unsupported journal sector version %d", version)
	}
	count := int(int32(binary.BigEndian.Uint32(head[4:8])))
	if count == 0 {
		return nil, nil
	}

	var rows []stagedRow
	off := sector + 8
	for i := 0; i < count; i++ {
		lenBuf, err := src.ReadAt(off, 4)
		if err != nil {
			return nil, pondb.NewIOError("recovery: failed to read journal length prefix", err)
		}
		n := int(binary.BigEndian.Uint32(lenBuf))
		off += 4
		body, err := src.ReadAt(off, n)
		if err != nil {
			return nil, pondb.NewIOError("recovery: failed to read journal body", err)
		}
		off += int64(n)

		j, err := journal.ReadFrom(body)
		if err != nil {
			return nil, fmt.Errorf("recovery: pending journal %d: %w", i, err)
		}
		for _, e := range j.Entries() {
			rows = append(rows, stagedRow{seq: i, op: int(e.Op), slot: e.Slot})
		}
	}

	staged, err := stageThroughSQLite(ctx, rows)
	if err != nil {
		return nil, err
	}

	bySeq := make(map[int]*journal.Journal)
	var order []int
	for _, r := range staged {
		j, ok := bySeq[r.seq]
		if !ok {
			j = journal.New()
			bySeq[r.seq] = j
			order = append(order, r.seq)
		}
		switch journal.Opcode(r.op) {
		case journal.Add, journal.UpdateAdd:
			j.AddRow(r.slot)
		case journal.Remove, journal.UpdateRemove:
			j.RemoveRow(r.slot)
		}
	}
	out := make([]*journal.Journal, 0, len(order))
	for _, seq := range order {
		out = append(out, bySeq[seq])
	}
	return out, nil
}

type stagedRow struct {
	seq  int
	op   int
	slot int64
}

// stageThroughSQLite writes rows into a throwaway in-memory sqlite
// database and reads them back ordered by rowid, giving the legacy
// conversion a real (if minimal) use of the embedded-SQL dependency
// SPEC_FULL.md §3 wires in rather than a hand-rolled sort.
func stageThroughSQLite(ctx context.Context, rows []stagedRow) ([]stagedRow, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to open scratch sqlite database", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE staged (seq INTEGER, op INTEGER, slot INTEGER)`); err != nil {
		return nil, pondb.NewIOError("recovery: failed to create scratch table", err)
	}

	stmt, err := db.PrepareContext(ctx, `INSERT INTO staged (seq, op, slot) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to prepare scratch insert", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.seq, r.op, r.slot); err != nil {
			return nil, pondb.NewIOError("recovery: failed to stage journal entry", err)
		}
	}

	result, err := db.QueryContext(ctx, `SELECT seq, op, slot FROM staged ORDER BY rowid`)
	if err != nil {
		return nil, pondb.NewIOError("recovery: failed to read staged entries", err)
	}
	defer result.Close()

	var out []stagedRow
	for result.Next() {
		var r stagedRow
		if err := result.Scan(&r.seq, &r.op, &r.slot); err != nil {
			return nil, pondb.NewIOError("recovery: failed to scan staged entry", err)
		}
		out = append(out, r)
	}
	return out, result.Err()
}
