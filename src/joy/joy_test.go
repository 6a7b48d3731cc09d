package joy

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"serenity/src/hardware/mmu"
	"serenity/src/hardware/timer"
	"serenity/src/lib/abi"
	"serenity/src/lib/loader"
	"serenity/src/lib/trust"
	"serenity/src/lib/upbeat"
)

const testFrames = 512
const testStart = 1_000_000

// recordingSwitcher returns at once, so a test can drive the scheduler
// from a single goroutine.
type recordingSwitcher struct {
	switches [][2]*TaskContext
}

func (r *recordingSwitcher) Switch(saveInto, restoreFrom *TaskContext) {
	r.switches = append(r.switches, [2]*TaskContext{saveInto, restoreFrom})
}

type rig struct {
	tm      *TaskManager
	mmu     *mmu.MMU
	clock   *timer.ManualClock
	console *bytes.Buffer
	log     *bytes.Buffer
	sw      *recordingSwitcher
	halted  chan string
}

func testImage() []byte {
	return make([]byte, mmu.PageSize+mmu.PageSize/2)
}

func testApps(programs ...abi.Program) *loader.Loader {
	apps := make([]loader.App, len(programs))
	for i, p := range programs {
		apps[i] = loader.App{Name: "t" + string(rune('0'+i)), Image: testImage(), Main: p}
	}
	return loader.New(apps...)
}

func nop(abi.CPU) int32 { return 0 }

func newMMU(t *testing.T) *mmu.MMU {
	t.Helper()
	frames, err := upbeat.NewFrameAllocator(upbeat.NewPhysMemory(testFrames))
	if err != nil {
		t.Fatalf("frame allocator: %v", err)
	}
	return mmu.New(frames)
}

// newRig builds a task manager of n idle tasks over a recording switcher.
func newRig(t *testing.T, n int) *rig {
	t.Helper()
	programs := make([]abi.Program, n)
	for i := range programs {
		programs[i] = nop
	}
	r := &rig{
		mmu:     newMMU(t),
		clock:   timer.NewManualClock(testStart),
		console: &bytes.Buffer{},
		log:     &bytes.Buffer{},
		sw:      &recordingSwitcher{},
		halted:  make(chan string, 1),
	}
	tm, err := NewTaskManager(Config{
		Loader:    testApps(programs...),
		PageTable: r.mmu,
		Clock:     r.clock,
		Switcher:  r.sw,
		Console:   r.console,
		Logger:    trust.NewLogger(r.log, ""),
		Halt:      func(msg string) { r.halted <- msg },
	})
	if err != nil {
		t.Fatalf("NewTaskManager: %v", err)
	}
	r.tm = tm
	return r
}

func (r *rig) setStatus(current int, statuses ...TaskStatus) {
	inner, release := r.tm.inner.exclusive()
	defer release()
	for i, s := range statuses {
		inner.tasks[i].status = s
	}
	inner.current = current
}

func (r *rig) task(i int) TaskControlBlock {
	inner, release := r.tm.inner.exclusive()
	defer release()
	return *inner.tasks[i]
}

// stackTop is where the user stack of the current task ends; the two
// stack pages meet one page below it.
func (r *rig) stackTop() uint64 {
	return r.tm.CurrentTrapFrame().Reg(abi.RegSP)
}

func (r *rig) userLoad(t *testing.T, va uint64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if err := r.mmu.UserLoad(r.tm.CurrentToken(), mmu.VirtAddr(va), b); err != nil {
		t.Fatalf("user load at %#x: %v", va, err)
	}
	return b
}

func (r *rig) userStore(t *testing.T, va uint64, b []byte) {
	t.Helper()
	if err := r.mmu.UserStore(r.tm.CurrentToken(), mmu.VirtAddr(va), b); err != nil {
		t.Fatalf("user store at %#x: %v", va, err)
	}
}

func expectPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic containing %q", want)
		}
		if !strings.Contains(toString(r), want) {
			t.Fatalf("expected a panic containing %q, got %v", want, r)
		}
	}()
	fn()
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	}
	return ""
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
	}
	return ""
}
