package joy

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"serenity/src/hardware/mmu"
	"serenity/src/hardware/timer"
	"serenity/src/lib/abi"
	"serenity/src/lib/loader"
	"serenity/src/lib/trust"
	"serenity/src/lib/upbeat"
)

// DefaultFrames is the physical memory size used when no page table is
// configured: 16MiB.
const DefaultFrames = 4096

const allCompleted = "All applications completed!"

// Loader is the source of application images, one per task index.
type Loader interface {
	AppCount() int
	ImageFor(i int) []byte
	App(i int) loader.App
}

// Tracer watches the scheduler.  from is -1 for the first switch.
type Tracer interface {
	OnSwitch(from, to int, atMicros uint64)
	OnExit(task int, code int32, atMicros uint64)
}

// Config is how a TaskManager (and a Kernel) is put together.  Only Loader
// is required.
type Config struct {
	Loader    Loader
	PageTable PageTable
	Clock     timer.Clock
	Switcher  Switcher
	Console   io.Writer
	Logger    *trust.Logger
	TimeSlice time.Duration
	Tracer    Tracer
	// Halt is called with the diagnostic when no task is left to run.
	Halt func(msg string)
}

type taskManagerInner struct {
	tasks   []*TaskControlBlock
	current int
}

// TaskManager owns the tasks and decides which one has the cpu.  It is the
// only thing that changes a task's status, the current index or a start
// time.
type TaskManager struct {
	numApp   int
	inner    *upCell[taskManagerInner]
	pt       PageTable
	tr       Translator
	clock    timer.Clock
	ticker   *timer.Ticker
	switcher Switcher
	console  io.Writer
	log      *trust.Logger
	tracer   Tracer
	halt     func(string)
	switches int
}

func NewTaskManager(cfg Config) (*TaskManager, error) {
	if cfg.Loader == nil || cfg.Loader.AppCount() == 0 {
		return nil, MakeError(ErrorTaskNoApplications, 0)
	}
	if cfg.PageTable == nil {
		frames, err := upbeat.NewFrameAllocator(upbeat.NewPhysMemory(DefaultFrames))
		if err != nil {
			return nil, err
		}
		cfg.PageTable = mmu.New(frames)
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.NewSystemClock()
	}
	if cfg.Switcher == nil {
		cfg.Switcher = NewGoroutineSwitcher()
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = trust.Default()
	}
	if cfg.TimeSlice == 0 {
		cfg.TimeSlice = timer.DefaultSlice
	}
	if cfg.Halt == nil {
		cfg.Halt = func(msg string) { trust.Fatalf(0, "[kernel] %s", msg) }
	}
	tm := &TaskManager{
		numApp:   cfg.Loader.AppCount(),
		pt:       cfg.PageTable,
		tr:       NewTranslator(cfg.PageTable),
		clock:    cfg.Clock,
		ticker:   timer.NewTicker(cfg.Clock, cfg.TimeSlice),
		switcher: cfg.Switcher,
		console:  cfg.Console,
		log:      cfg.Logger,
		tracer:   cfg.Tracer,
		halt:     cfg.Halt,
	}
	tasks := make([]*TaskControlBlock, tm.numApp)
	for i := range tasks {
		tcb, err := newTaskControlBlock(cfg.PageTable, i, cfg.Loader.App(i))
		if err != nil {
			for _, t := range tasks[:i] {
				t.space.Destroy()
			}
			return nil, err
		}
		tcb.context = newTaskContext(tm.trapReturn(i), kernelStackTop-uint64(i)*kernelStackSize)
		tasks[i] = tcb
		tm.log.Debugf("[kernel] loaded app %d (%s), %d bytes, token %s", i, tcb.name, tcb.baseSize, tcb.space.Token())
	}
	tm.inner = newUpCell(taskManagerInner{tasks: tasks})
	return tm, nil
}

// Start runs task 0.  With a real switcher it never returns: the bootstrap
// context it leaves is never resumed.
func (tm *TaskManager) Start() {
	inner, release := tm.inner.exclusive()
	first := inner.tasks[0]
	first.status = TaskRunning
	if first.startTime == 0 {
		first.startTime = tm.clock.NowMicroseconds()
	}
	inner.current = 0
	next := first.context
	release()

	tm.ticker.SetNextTrigger()
	tm.trace(-1, 0)
	var unused = bootstrapContext()
	tm.switcher.Switch(unused, next)
}

// SuspendCurrent marks the running task Ready.  ResumeNext must follow.
func (tm *TaskManager) SuspendCurrent() {
	inner, release := tm.inner.exclusive()
	defer release()
	t := inner.tasks[inner.current]
	if t.status == TaskRunning {
		t.status = TaskReady
	}
}

// ExitCurrent marks the running task Exited.  ResumeNext must follow.
func (tm *TaskManager) ExitCurrent(code int32) {
	inner, release := tm.inner.exclusive()
	t := inner.tasks[inner.current]
	t.status = TaskExited
	t.exitCode = code
	current := inner.current
	release()
	if tm.tracer != nil {
		tm.tracer.OnExit(current, code, tm.clock.NowMicroseconds())
	}
}

// findNext is the round robin policy: the first Ready task strictly after
// current, wrapping around and ending with current itself.
func (inner *taskManagerInner) findNext() (int, bool) {
	n := len(inner.tasks)
	for i := inner.current + 1; i <= inner.current+n; i++ {
		if inner.tasks[i%n].status == TaskReady {
			return i % n, true
		}
	}
	return 0, false
}

// ResumeNext switches to the next Ready task.  It returns when the caller's
// task is scheduled again.  With nothing Ready the kernel halts and the
// calling goroutine is unwound.
func (tm *TaskManager) ResumeNext() {
	inner, release := tm.inner.exclusive()
	next, ok := inner.findNext()
	if !ok {
		release()
		tm.log.Statsf("sched", "switches=%d", tm.switches)
		if h, ok := tm.switcher.(halter); ok {
			h.Halt()
		}
		tm.halt(allCompleted)
		runtime.Goexit()
	}
	current := inner.current
	t := inner.tasks[next]
	t.status = TaskRunning
	if t.startTime == 0 {
		t.startTime = tm.clock.NowMicroseconds()
	}
	inner.current = next
	from, to := inner.tasks[current].context, t.context
	tm.switches++
	release()

	tm.log.Debugf("[kernel] switch %d -> %d", current, next)
	tm.trace(current, next)
	tm.switcher.Switch(from, to)
}

func (tm *TaskManager) trace(from, to int) {
	if tm.tracer != nil {
		tm.tracer.OnSwitch(from, to, tm.clock.NowMicroseconds())
	}
}

func (tm *TaskManager) SuspendCurrentAndRunNext() {
	tm.SuspendCurrent()
	tm.ResumeNext()
}

// ExitCurrentAndRunNext also gives the task's memory back.  It does not
// return.
func (tm *TaskManager) ExitCurrentAndRunNext(code int32) {
	tm.ExitCurrent(code)
	inner, release := tm.inner.exclusive()
	inner.tasks[inner.current].space.Destroy()
	release()
	tm.ResumeNext()
	panic("unreachable in ExitCurrentAndRunNext")
}

func (tm *TaskManager) CurrentToken() mmu.Token {
	inner, release := tm.inner.exclusive()
	defer release()
	return inner.tasks[inner.current].space.Token()
}

func (tm *TaskManager) CurrentTrapFrame() TrapFrame {
	inner, release := tm.inner.exclusive()
	defer release()
	return TrapFrame{page: tm.pt.Frame(inner.tasks[inner.current].trapFrame)}
}

// RecordSyscall counts one call of id against the running task.  Ids past
// the table are not counted.
func (tm *TaskManager) RecordSyscall(id uint64) {
	inner, release := tm.inner.exclusive()
	defer release()
	if id < abi.MaxSyscallNum {
		inner.tasks[inner.current].syscallTimes[id]++
	}
}

// SnapshotTaskInfo copies the running task's accounting; elapsed time is
// in milliseconds since it first ran.
func (tm *TaskManager) SnapshotTaskInfo() abi.TaskInfo {
	inner, release := tm.inner.exclusive()
	defer release()
	t := inner.tasks[inner.current]
	info := abi.TaskInfo{
		Status:       uint32(t.status),
		SyscallTimes: t.syscallTimes,
	}
	if t.startTime != 0 {
		info.Time = (tm.clock.NowMicroseconds() - t.startTime) / 1000
	}
	return info
}

// Mmap maps [start, start+length) into the running task with perm.
func (tm *TaskManager) Mmap(start mmu.VirtAddr, length uint64, perm mmu.Perm) int64 {
	inner, release := tm.inner.exclusive()
	defer release()
	end := start + mmu.VirtAddr(length)
	if end < start {
		return -1
	}
	space := inner.tasks[inner.current].space
	if space.HasConflict(start, end) {
		return -1
	}
	if err := space.InsertRegion(start, end, perm); err != nil {
		tm.log.Warnf("[APP %d] user mmap failed: %v", inner.current, err)
		return -1
	}
	tm.log.Infof("[APP %d] user mmap: [%#x, %#x)", inner.current, uint64(start.Floor().Addr()), uint64(end.Ceil().Addr()))
	return 0
}

// Munmap removes [start, start+length) from the running task.
func (tm *TaskManager) Munmap(start mmu.VirtAddr, length uint64) int64 {
	inner, release := tm.inner.exclusive()
	defer release()
	end := start + mmu.VirtAddr(length)
	if end < start {
		return -1
	}
	if !inner.tasks[inner.current].space.RemoveExact(start, end) {
		return -1
	}
	tm.log.Infof("[APP %d] user munmap: [%#x, %#x)", inner.current, uint64(start.Floor().Addr()), uint64(end.Ceil().Addr()))
	return 0
}

func (tm *TaskManager) Len() int {
	return tm.numApp
}

func (tm *TaskManager) Status(i int) TaskStatus {
	inner, release := tm.inner.exclusive()
	defer release()
	return inner.tasks[i].status
}

func (tm *TaskManager) CurrentIndex() int {
	inner, release := tm.inner.exclusive()
	defer release()
	return inner.current
}

// ExitCode is the code task i exited with; only meaningful once it has.
func (tm *TaskManager) ExitCode(i int) int32 {
	inner, release := tm.inner.exclusive()
	defer release()
	return inner.tasks[i].exitCode
}

// Regions is the region list of task i, for inspection.
func (tm *TaskManager) Regions(i int) []MapArea {
	inner, release := tm.inner.exclusive()
	defer release()
	return inner.tasks[i].space.Regions()
}

func (tm *TaskManager) String() string {
	inner, release := tm.inner.exclusive()
	defer release()
	s := fmt.Sprintf("current=%d", inner.current)
	for i, t := range inner.tasks {
		s += fmt.Sprintf(" %d:%s", i, t.status)
	}
	return s
}

//
// Process wide task manager
//

var (
	defaultMu     sync.Mutex
	defaultConfig *Config
	defaultOnce   sync.Once
	defaultTM     *TaskManager
	defaultUsed   bool
)

// Configure sets up what Default builds.  It panics once Default has been
// called.
func Configure(cfg Config) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultUsed {
		panic("joy: Configure called after the task manager was built")
	}
	defaultConfig = &cfg
}

// Default is the process wide task manager, built on first use and kept
// for the life of the process.
func Default() *TaskManager {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defaultUsed = true
		cfg := defaultConfig
		defaultMu.Unlock()
		if cfg == nil {
			trust.Fatalf(1, "[kernel] task manager used before it was configured")
			return
		}
		tm, err := NewTaskManager(*cfg)
		if err != nil {
			trust.Fatalf(1, "[kernel] cannot build task manager: %v", err)
			return
		}
		defaultTM = tm
	})
	return defaultTM
}
