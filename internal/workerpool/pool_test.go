package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IllayDevel/pondb/internal/logging"
	"github.com/IllayDevel/pondb/internal/pondb"
)

func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := New(Config{Size: 0}, logging.Nop())
	assert.Error(t, err)
}

func TestExecuteRunsAllJobs(t *testing.T) {
	p, err := New(Config{Size: 2}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Shutdown()

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
			defer wg.Done()
			atomic.AddInt32(&count, 1)
		})))
	}
	wg.Wait()
	assert.Equal(t, int32(20), atomic.LoadInt32(&count))
}

func TestWaitUntilAllWorkersQuiet(t *testing.T) {
	p, err := New(Config{Size: 1}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Shutdown()

	var ran int32
	require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&ran, 1)
	})))
	p.WaitUntilAllWorkersQuiet()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestShutdownDrainsQueueBeforeReturning(t *testing.T) {
	p, err := New(Config{Size: 2}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())

	var count int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
			atomic.AddInt32(&count, 1)
		})))
	}
	p.Shutdown()
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestExecuteAfterShutdownFails(t *testing.T) {
	p, err := New(Config{Size: 1}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	p.Shutdown()

	err = p.Execute("u", "c", pondb.RunnableFunc(func() {}))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSetIsExecutingCommands(t *testing.T) {
	p, err := New(Config{Size: 1}, logging.Nop())
	require.NoError(t, err)
	p.SetIsExecutingCommands(true)
	assert.True(t, p.IsExecutingCommands())
	p.SetIsExecutingCommands(false)
	assert.False(t, p.IsExecutingCommands())
}

// TestSetIsExecutingCommandsStopsDispatch is spec.md scenario 6: queue
// runnables on a pool of 4, call SetIsExecutingCommands(false), then
// WaitUntilAllWorkersQuiet — already-running work finishes, queued
// work stays pending with no new dispatch, until dispatch resumes.
func TestSetIsExecutingCommandsStopsDispatch(t *testing.T) {
	p, err := New(Config{Size: 4}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Shutdown()

	var inFlight sync.WaitGroup
	release := make(chan struct{})
	var started int32
	for i := 0; i < 4; i++ {
		inFlight.Add(1)
		require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
			defer inFlight.Done()
			atomic.AddInt32(&started, 1)
			<-release
		})))
	}
	for atomic.LoadInt32(&started) < 4 {
		time.Sleep(time.Millisecond)
	}

	p.SetIsExecutingCommands(false)

	var ran int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
			atomic.AddInt32(&ran, 1)
		})))
	}

	close(release)
	inFlight.Wait()
	p.WaitUntilAllWorkersQuiet()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "dispatch must not resume while executing is false")

	p.SetIsExecutingCommands(true)
	p.WaitUntilAllWorkersQuiet()
	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
}

func TestPanicInRunnableDoesNotKillWorker(t *testing.T) {
	p, err := New(Config{Size: 1}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Shutdown()

	require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
		panic("boom")
	})))

	var ran int32
	require.NoError(t, p.Execute("u", "c", pondb.RunnableFunc(func() {
		atomic.StoreInt32(&ran, 1)
	})))
	p.WaitUntilAllWorkersQuiet()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
