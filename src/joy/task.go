package joy

import (
	"encoding/binary"
	"fmt"

	"serenity/src/hardware/mmu"
	"serenity/src/lib/abi"
	"serenity/src/lib/loader"
)

// TaskStatus moves UnInit -> Ready -> Running -> {Ready, Exited}.  Exited
// is final.
type TaskStatus uint32

const (
	TaskUnInit TaskStatus = iota
	TaskReady
	TaskRunning
	TaskExited
)

func (s TaskStatus) String() string {
	switch s {
	case TaskUnInit:
		return "UnInit"
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskExited:
		return "Exited"
	}
	return fmt.Sprintf("TaskStatus(%d)", uint32(s))
}

// kernel stacks are goroutines; these addresses only label the contexts
const kernelStackTop = 0xffff_ffff_ffff_0000
const kernelStackSize = 2 * mmu.PageSize

// TaskControlBlock is everything the kernel keeps about one application.
type TaskControlBlock struct {
	name         string
	status       TaskStatus
	context      *TaskContext
	space        *AddressSpace
	trapFrame    mmu.PhysPageNum
	baseSize     uint64
	startTime    uint64
	syscallTimes [abi.MaxSyscallNum]uint32
	exitCode     int32
	program      abi.Program
}

// newTaskControlBlock builds the address space for app: the image at the
// user base, a guard page, the user stack and the kernel only trap frame
// at the top.  The task comes back Ready but with no context.
func newTaskControlBlock(pt PageTable, index int, app loader.App) (*TaskControlBlock, error) {
	tcb := &TaskControlBlock{name: app.Name, status: TaskUnInit, program: app.Main}
	segs, lerr := loader.Segments(app.Image)
	if lerr != loader.LoaderNoError {
		return nil, fmt.Errorf("%s: %w: %v", app.Name, MakeError(ErrorTaskBadImage, index), lerr)
	}
	size := loader.SegmentsSize(segs)
	tcb.baseSize = size

	space, err := NewAddressSpace(pt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", app.Name, MakeError(rawOf(err), index))
	}
	fail := func(err error) (*TaskControlBlock, error) {
		space.Destroy()
		return nil, fmt.Errorf("%s: %w", app.Name, MakeError(rawOf(err), index))
	}

	base := loader.UserImageBase
	imageEnd := base + mmu.VirtAddr(size)
	if err := space.InsertRegion(base, imageEnd, mmu.PermR|mmu.PermW|mmu.PermX|mmu.PermU); err != nil {
		return fail(err)
	}
	tr := NewTranslator(pt)
	for _, s := range segs {
		if err := tr.writeBytes(space.Token(), UserAddr(uint64(base)+s.Offset), s.Data); err != nil {
			return fail(err)
		}
	}

	stackBottom := imageEnd.Ceil().Addr() + loader.UserGuardPages*mmu.PageSize
	stackTop := stackBottom + loader.UserStackPages*mmu.PageSize
	if err := space.InsertRegion(stackBottom, stackTop, mmu.PermR|mmu.PermW|mmu.PermU); err != nil {
		return fail(err)
	}

	tf, err := pt.AllocFrame()
	if err != nil {
		return fail(memoryError(err))
	}
	if err := space.insertFrame(loader.TrapFrameVA, tf, mmu.PermR|mmu.PermW); err != nil {
		return fail(err)
	}
	tcb.trapFrame = tf
	tcb.space = space
	initTrapFrame(TrapFrame{page: pt.Frame(tf)}, uint64(base), uint64(stackTop))
	tcb.status = TaskReady
	return tcb, nil
}

func rawOf(err error) RawJoyError {
	if r, ok := err.(RawJoyError); ok {
		return r
	}
	return ErrorTaskBadImage
}

// trap frame layout: x0..x31, sstatus, sepc
const (
	tfSstatusOffset = 32 * 8
	tfSepcOffset    = tfSstatusOffset + 8
	trapFrameSize   = tfSepcOffset + 8
)

// sstatus with SPP clear (return to user) and SPIE set
const sstatusUserReturn = uint64(1) << 5

// TrapFrame is a view of the user registers saved in the trap frame page.
type TrapFrame struct {
	page []byte
}

func (f TrapFrame) Reg(i int) uint64 {
	return binary.LittleEndian.Uint64(f.page[i*8:])
}

// SetReg ignores writes to x0.
func (f TrapFrame) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	binary.LittleEndian.PutUint64(f.page[i*8:], v)
}

func (f TrapFrame) Sstatus() uint64 {
	return binary.LittleEndian.Uint64(f.page[tfSstatusOffset:])
}

func (f TrapFrame) Sepc() uint64 {
	return binary.LittleEndian.Uint64(f.page[tfSepcOffset:])
}

func (f TrapFrame) SetSepc(v uint64) {
	binary.LittleEndian.PutUint64(f.page[tfSepcOffset:], v)
}

func initTrapFrame(f TrapFrame, entry, sp uint64) {
	for i := range f.page[:trapFrameSize] {
		f.page[i] = 0
	}
	binary.LittleEndian.PutUint64(f.page[tfSstatusOffset:], sstatusUserReturn)
	f.SetSepc(entry)
	f.SetReg(abi.RegSP, sp)
}
