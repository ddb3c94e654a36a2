package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IllayDevel/pondb/internal/logging"
	"github.com/IllayDevel/pondb/internal/mastertable"
)

func tbl(name string) mastertable.TableName {
	return mastertable.TableName{Schema: "public", Name: name}
}

func TestCheckAccessRequiresCoveredTable(t *testing.T) {
	m := New(logging.Nop())
	h := m.LockTables([]mastertable.TableName{tbl("a")}, nil)
	defer h.UnlockAll()

	assert.NoError(t, h.CheckAccess(tbl("a"), Read))
	assert.Error(t, h.CheckAccess(tbl("b"), Read))
}

func TestWriteLockSatisfiesReadCheck(t *testing.T) {
	m := New(logging.Nop())
	h := m.LockTables(nil, []mastertable.TableName{tbl("a")})
	defer h.UnlockAll()
	assert.NoError(t, h.CheckAccess(tbl("a"), Read))
}

func TestReadLockRejectsWriteCheck(t *testing.T) {
	m := New(logging.Nop())
	h := m.LockTables([]mastertable.TableName{tbl("a")}, nil)
	defer h.UnlockAll()
	assert.Error(t, h.CheckAccess(tbl("a"), Write))
}

func TestUnlockAllIsIdempotent(t *testing.T) {
	m := New(logging.Nop())
	h := m.LockTables([]mastertable.TableName{tbl("a")}, nil)
	h.UnlockAll()
	assert.NotPanics(t, func() { h.UnlockAll() })
}

func TestConcurrentReadersShareAccess(t *testing.T) {
	m := New(logging.Nop())
	var active int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := m.LockTables([]mastertable.TableName{tbl("a")}, nil)
			defer h.UnlockAll()
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxConcurrent)
				if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Greater(t, maxConcurrent, int32(1), "readers should run concurrently")
}

func TestWriterExcludesReaders(t *testing.T) {
	m := New(logging.Nop())
	writerHeld := make(chan struct{})
	readerDone := make(chan struct{})

	writer := m.LockTables(nil, []mastertable.TableName{tbl("a")})
	go func() {
		close(writerHeld)
		time.Sleep(20 * time.Millisecond)
		writer.UnlockAll()
	}()

	<-writerHeld
	start := time.Now()
	reader := m.LockTables([]mastertable.TableName{tbl("a")}, nil)
	elapsed := time.Since(start)
	reader.UnlockAll()
	close(readerDone)

	assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(10), "reader must wait for the writer to release")
}

func TestLockTablesOrdersByNameToAvoidDeadlock(t *testing.T) {
	m := New(logging.Nop())
	h := m.LockTables(nil, []mastertable.TableName{tbl("z"), tbl("a")})
	defer h.UnlockAll()
	require.Len(t, h.locks, 2)
	assert.Equal(t, "a", h.locks[0].Table.Name)
	assert.Equal(t, "z", h.locks[1].Table.Name)
}
