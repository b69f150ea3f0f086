package event

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// dispatchLock lets one goroutine dispatch at a time. The holder may
// re-acquire it, which is how a handler emits the next pipeline stage with
// EmitSync while the outer dispatch is still running. Other goroutines,
// including the deferred dispatcher, wait until the whole cascade is done.
type dispatchLock struct {
	mu    sync.Mutex
	free  *sync.Cond
	owner uint64
	depth int
}

func newDispatchLock() *dispatchLock {
	l := &dispatchLock{}
	l.free = sync.NewCond(&l.mu)
	return l
}

func (l *dispatchLock) acquire() {
	id := goroutineID()
	l.mu.Lock()
	for l.depth > 0 && l.owner != id {
		l.free.Wait()
	}
	l.owner = id
	l.depth++
	l.mu.Unlock()
}

func (l *dispatchLock) release() {
	l.mu.Lock()
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.free.Broadcast()
	}
	l.mu.Unlock()
}

// held reports whether the calling goroutine is inside a dispatch.
func (l *dispatchLock) held() bool {
	id := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0 && l.owner == id
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the "goroutine N [state]:" header that
// runtime.Stack writes first.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
