// Package pagestore implements the fixed-size slot file described in
// spec.md §4.1. The physical medium is a badger instance rather than a
// hand-rolled sector allocator: badger's own LSM tree and WAL give us
// durability and Sync() for hardSynch, and its key ordering backs the
// reserved header and free-list bookkeeping without literal byte-offset
// arithmetic. Grounded on pkg/resource/badger/datasource.go's
// Connect/options shape.
//
// The store is single-writer; callers (the Master Table and Transaction
// commit path) must serialize mutations externally, exactly as spec.md
// §4.1 requires.
package pagestore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/pondb"
)

// Block size bounds from spec.md §4.1.
const (
	MinBlockSize = 1
	MaxBlockSize = 1024
)

const reservedHeaderSize = 64

var (
	reservedKey  = []byte("__reserved__")
	freeListKey  = []byte("__freelist__")
	blockSizeKey = []byte("__blocksize__")
)

func sectorKey(sector int64) []byte {
	k := make([]byte, 9)
	k[0] = 's'
	binary.BigEndian.PutUint64(k[1:], uint64(sector))
	return k
}

// Store is a fixed-size slot file: a 64-byte reserved header and a
// singly-linked free-list threaded through free slot headers. A payload
// of any size is stored as one value per sector; records are not
// chained across sectors.
type Store struct {
	mu         sync.Mutex
	db         *badger.DB
	blockSize  int
	readOnly   bool
	nextSector int64
	freeHead   int64 // -1 == empty
	log        zerolog.Logger
	closed     bool
}

// freeChainTail marks the end of the free-list / record chain, mirroring
// the on-disk convention in spec §6 ("-1 = tail").
const freeChainTail int64 = -1

// Open opens an existing store. readOnly prevents allocSector/freeSector
// from succeeding but still allows readAcross and readReservedBuffer.
func Open(ctx context.Context, dir string, readOnly bool, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithReadOnly(readOnly).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, pondb.NewIOError("open page store", err)
	}

	s := &Store{db: db, readOnly: readOnly, log: log, freeHead: freeChainTail}
	if err := s.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Create initializes a new store with the given block size, tuned
// smaller for system-schema tables per spec §4.1.
func Create(ctx context.Context, dir string, blockSize int, log zerolog.Logger) (*Store, error) {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return nil, pondb.NewUsageError(fmt.Sprintf("block size %d out of range [%d,%d]", blockSize, MinBlockSize, MaxBlockSize))
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, pondb.NewIOError("create page store", err)
	}

	s := &Store{db: db, blockSize: blockSize, log: log, freeHead: freeChainTail, nextSector: 0}
	if err := s.db.Update(func(txn *badger.Txn) error {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(blockSize))
		if err := txn.Set(blockSizeKey, buf[:]); err != nil {
			return err
		}
		if err := txn.Set(reservedKey, make([]byte, reservedHeaderSize)); err != nil {
			return err
		}
		var fl [8]byte
		binary.BigEndian.PutUint64(fl[:], uint64(freeChainTail))
		return txn.Set(freeListKey, fl[:])
	}); err != nil {
		_ = db.Close()
		return nil, pondb.NewIOError("initialize page store header", err)
	}
	return s, nil
}

func (s *Store) loadMeta() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockSizeKey)
		if err != nil {
			return pondb.NewIOError("read block size", err)
		}
		return item.Value(func(val []byte) error {
			s.blockSize = int(binary.BigEndian.Uint32(val))
			return nil
		})
	})
}

// BlockSize returns the block size fixed at Create time.
func (s *Store) BlockSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockSize
}

// ReadReservedBuffer returns a copy of the 64-byte reserved header.
func (s *Store) ReadReservedBuffer() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reservedKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, pondb.NewIOError("read reserved buffer", err)
	}
	return out, nil
}

// WriteReservedBuffer overwrites the 64-byte reserved header.
func (s *Store) WriteReservedBuffer(buf []byte) error {
	if len(buf) != reservedHeaderSize {
		return pondb.NewUsageError(fmt.Sprintf("reserved buffer must be %d bytes, got %d", reservedHeaderSize, len(buf)))
	}
	if s.readOnly {
		return pondb.NewUsageError("store is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(reservedKey, buf)
	}); err != nil {
		return pondb.NewIOError("write reserved buffer", err)
	}
	return nil
}

// AllocSector returns a free sector id, reusing the free-list head if
// one exists, otherwise extending the file.
func (s *Store) AllocSector() (int64, error) {
	if s.readOnly {
		return 0, pondb.NewUsageError("store is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.freeHead != freeChainTail {
		sector := s.freeHead
		next, err := s.readChainPointer(sector)
		if err != nil {
			return 0, err
		}
		s.freeHead = next
		if err := s.persistFreeHead(); err != nil {
			return 0, err
		}
		return sector, nil
	}

	sector := s.nextSector
	s.nextSector++
	return sector, nil
}

// FreeSector threads sector back onto the free-list head.
func (s *Store) FreeSector(sector int64) error {
	if s.readOnly {
		return pondb.NewUsageError("store is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeChainPointer(sector, s.freeHead); err != nil {
		return err
	}
	s.freeHead = sector
	return s.persistFreeHead()
}

func (s *Store) persistFreeHead() error {
	var fl [8]byte
	binary.BigEndian.PutUint64(fl[:], uint64(s.freeHead))
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(freeListKey, fl[:])
	}); err != nil {
		return pondb.NewIOError("persist free-list head", err)
	}
	return nil
}

// writeChainPointer stores a sector's chain pointer (-1 == tail) as an
// 8-byte big-endian value under its own "chain:" key.
func (s *Store) writeChainPointer(sector, next int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte("chain:"), sectorKey(sector)...), buf[:])
	}); err != nil {
		return pondb.NewIOError("write chain pointer", err)
	}
	return nil
}

func (s *Store) readChainPointer(sector int64) (int64, error) {
	var next int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte("chain:"), sectorKey(sector)...))
		if err == badger.ErrKeyNotFound {
			next = freeChainTail
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			next = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, pondb.NewIOError("read chain pointer", err)
	}
	return next, nil
}

// WriteAcross writes the full payload to sector as a single badger
// value. Badger stores values of any size natively, so there is no
// sector-chaining to do here; the name matches ReadAcross and the
// caller-facing contract that a payload spanning "multiple blocks" in
// the legacy format round-trips as one logical write.
func (s *Store) WriteAcross(sector int64, payload []byte) error {
	if s.readOnly {
		return pondb.NewUsageError("store is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sectorKey(sector), payload)
	}); err != nil {
		return pondb.NewIOError("write sector", err)
	}
	return nil
}

// ReadAcross reads the full payload written by WriteAcross at sector.
func (s *Store) ReadAcross(sector int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sectorKey(sector))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, pondb.NewIOError("read sector", err)
	}
	return out, nil
}

// HardSynch flushes all writes to stable storage, the fsync-equivalent
// spec §4.1 requires before a commit is considered durable.
func (s *Store) HardSynch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Sync(); err != nil {
		return pondb.NewIOError("hard synch", err)
	}
	return nil
}

// Delete removes the store's entire backing file, used when a table is
// dropped.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug().Msg("deleting page store")
	return s.db.DropAll()
}

// Close releases the underlying badger handle without deleting data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
