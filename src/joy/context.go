package joy

import (
	"runtime"
	"sync"
)

// TaskContext is what a parked task needs to be resumed.  Each task runs on
// its own goroutine, which is its kernel stack; ra and sp are kept for
// diagnostics only and are meaningful just while the task is not running.
type TaskContext struct {
	ra      uint64
	sp      uint64
	wake    chan struct{}
	entry   func()
	started bool
}

// newTaskContext builds the context of a task that has never run.  The
// first restore calls entry, which plays the part of the trap return into
// user mode.
func newTaskContext(entry func(), kernelSP uint64) *TaskContext {
	return &TaskContext{
		ra:    trapReturnAddr,
		sp:    kernelSP,
		wake:  make(chan struct{}, 1),
		entry: entry,
	}
}

// bootstrapContext is the throwaway context the very first switch saves
// into.  Nothing ever restores it.
func bootstrapContext() *TaskContext {
	return &TaskContext{wake: make(chan struct{}, 1), started: true}
}

// trapReturnAddr is the fake return address stored in a fresh context.
const trapReturnAddr = 0xffff_ffff_ffff_f000

// Switcher moves the cpu from one kernel stack to another.  Switch returns
// only when saveInto is restored by some later Switch.
type Switcher interface {
	Switch(saveInto, restoreFrom *TaskContext)
}

// GoroutineSwitcher passes a baton between task goroutines so that exactly
// one of them runs at a time.
type GoroutineSwitcher struct {
	halted chan struct{}
	once   sync.Once
}

func NewGoroutineSwitcher() *GoroutineSwitcher {
	return &GoroutineSwitcher{halted: make(chan struct{})}
}

func (g *GoroutineSwitcher) Switch(saveInto, restoreFrom *TaskContext) {
	if !restoreFrom.started {
		restoreFrom.started = true
		go restoreFrom.entry()
	} else {
		restoreFrom.wake <- struct{}{}
	}
	select {
	case <-saveInto.wake:
	case <-g.halted:
		runtime.Goexit()
	}
}

// Halt unwinds every parked context.  Safe to call more than once.
func (g *GoroutineSwitcher) Halt() {
	g.once.Do(func() { close(g.halted) })
}

// Halted is closed once Halt has been called.
func (g *GoroutineSwitcher) Halted() <-chan struct{} {
	return g.halted
}

type halter interface {
	Halt()
}
