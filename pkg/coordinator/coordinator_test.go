package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reedbase/reedbase/pkg/reederr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_SerializesWritesWithinTable(t *testing.T) {
	c := New(time.Second, 10)
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Submit(context.Background(), "t1", func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&maxActive)
					if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)

	stats := c.StatsFor("t1")
	assert.Equal(t, int64(20), stats.Writes)
}

func TestSubmit_DifferentTablesRunConcurrently(t *testing.T) {
	c := New(time.Second, 10)
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.Submit(context.Background(), "a", func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_ = c.Submit(context.Background(), "b", func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first write never started")
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second table's write was blocked by the first table's lock")
	}
	close(release)
	wg.Wait()
}

func TestSubmit_QueueFull(t *testing.T) {
	c := New(100*time.Millisecond, 1)
	block := make(chan struct{})

	go func() {
		_ = c.Submit(context.Background(), "t", func(ctx context.Context) error {
			<-block
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), "t", func(ctx context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)

	err := c.Submit(context.Background(), "t", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, reederr.KindQueueFull, reederr.Of(err))

	close(block)
	<-done
}

func TestSubmit_LockTimeout(t *testing.T) {
	c := New(20*time.Millisecond, 10)
	release := make(chan struct{})
	go func() {
		_ = c.Submit(context.Background(), "t", func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	err := c.Submit(context.Background(), "t", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, reederr.KindLockTimeout, reederr.Of(err))
	close(release)
}

func TestSubmit_RecordsConflictCount(t *testing.T) {
	c := New(time.Second, 10)
	err := c.Submit(context.Background(), "t", func(ctx context.Context) error {
		return reederr.New(reederr.KindConflictDetected, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), c.StatsFor("t").Conflicts)
}
