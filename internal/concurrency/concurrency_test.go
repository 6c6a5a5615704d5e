package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoRecoversPanic(t *testing.T) {
	done := make(chan interface{}, 1)
	SafeGo(func() { panic("boom") }, func(r interface{}) { done <- r })

	select {
	case r := <-done:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler not called")
	}
}

func TestSafeCallReportsPanic(t *testing.T) {
	assert.True(t, SafeCall(func() { panic("x") }, nil))
	assert.False(t, SafeCall(func() {}, nil))
}

func TestSessionLockManagerSerializesSameSession(t *testing.T) {
	m := NewSessionLockManager()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("s1")
			defer m.Unlock("s1")
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, m.Len())
}
