package joy

import (
	"errors"

	"serenity/src/hardware/mmu"
	"serenity/src/lib/abi"
)

// TrapCause is the scause value the trap handler dispatches on.
type TrapCause uint64

const interruptBit = TrapCause(1) << 63

const (
	CauseSupervisorTimer = interruptBit | 5
	CauseUserEnvCall     = TrapCause(8)
	CauseLoadPageFault   = TrapCause(13)
	CauseStorePageFault  = TrapCause(15)
)

func (c TrapCause) String() string {
	switch c {
	case CauseSupervisorTimer:
		return "SupervisorTimer"
	case CauseUserEnvCall:
		return "UserEnvCall"
	case CauseLoadPageFault:
		return "LoadPageFault"
	case CauseStorePageFault:
		return "StorePageFault"
	}
	return "Unknown"
}

// TrapHandler is the kernel side of every trap out of user mode.  It
// returns when the trapping task is to continue.
func (tm *TaskManager) TrapHandler(cause TrapCause, stval uint64) {
	switch cause {
	case CauseUserEnvCall:
		tf := tm.CurrentTrapFrame()
		tf.SetSepc(tf.Sepc() + 4)
		args := [3]uint64{tf.Reg(abi.RegA0), tf.Reg(abi.RegA1), tf.Reg(abi.RegA2)}
		result := tm.Syscall(tf.Reg(abi.RegA7), args)
		// the task may have been switched out and back in
		tf = tm.CurrentTrapFrame()
		tf.SetReg(abi.RegA0, uint64(result))
	case CauseSupervisorTimer:
		tm.ticker.SetNextTrigger()
		tm.SuspendCurrentAndRunNext()
	case CauseLoadPageFault, CauseStorePageFault:
		tm.log.Errorf("[kernel] PageFault in application, bad addr = %#x, kernel killed it.", stval)
		tm.ExitCurrentAndRunNext(-2)
	default:
		tm.log.Fatalf(1, "[kernel] unsupported trap %s (%#x), stval = %#x", cause, uint64(cause), stval)
	}
}

// trapReturn is the entry of task i's kernel stack: drop to user mode and
// run the program; returning from it is an exit.
func (tm *TaskManager) trapReturn(i int) func() {
	return func() {
		inner, release := tm.inner.exclusive()
		t := inner.tasks[i]
		cpu := &userCPU{
			tm:    tm,
			token: t.space.Token(),
			frame: TrapFrame{page: tm.pt.Frame(t.trapFrame)},
		}
		program := t.program
		release()
		code := program(cpu)
		cpu.Ecall(abi.SysExit, uint64(int64(code)), 0, 0)
	}
}

// userCPU is the machine as a user program sees it.  Every operation is
// a point where a pending timer interrupt is taken.
type userCPU struct {
	tm    *TaskManager
	token mmu.Token
	frame TrapFrame
}

func (c *userCPU) interrupt() {
	if c.tm.ticker.Expired() {
		c.tm.TrapHandler(CauseSupervisorTimer, 0)
	}
}

func (c *userCPU) Ecall(id uint64, a0, a1, a2 uint64) int64 {
	c.interrupt()
	c.frame.SetReg(abi.RegA7, id)
	c.frame.SetReg(abi.RegA0, a0)
	c.frame.SetReg(abi.RegA1, a1)
	c.frame.SetReg(abi.RegA2, a2)
	c.tm.TrapHandler(CauseUserEnvCall, 0)
	return int64(c.frame.Reg(abi.RegA0))
}

func (c *userCPU) Load(va uint64, buf []byte) error {
	c.interrupt()
	return c.fault(c.tm.pt.UserLoad(c.token, mmu.VirtAddr(va), buf))
}

func (c *userCPU) Store(va uint64, buf []byte) error {
	c.interrupt()
	return c.fault(c.tm.pt.UserStore(c.token, mmu.VirtAddr(va), buf))
}

// fault turns a hardware fault into a trap, which never comes back.
func (c *userCPU) fault(err error) error {
	var f *mmu.Fault
	if !errors.As(err, &f) {
		return err
	}
	cause := CauseLoadPageFault
	if f.Kind == mmu.StoreFault {
		cause = CauseStorePageFault
	}
	c.tm.TrapHandler(cause, uint64(f.Addr))
	return err
}

func (c *userCPU) StackPointer() uint64 {
	return c.frame.Reg(abi.RegSP)
}

func (c *userCPU) Step() {
	c.interrupt()
}
