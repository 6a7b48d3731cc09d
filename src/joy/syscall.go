package joy

import (
	"serenity/src/hardware/mmu"
	"serenity/src/hardware/timer"
	"serenity/src/lib/abi"
)

// Syscall counts the call against the running task (so task_info sees
// itself) and then runs the handler.
func (tm *TaskManager) Syscall(id uint64, args [3]uint64) int64 {
	tm.RecordSyscall(id)
	switch id {
	case abi.SysWrite:
		return tm.SysWrite(args[0], UserAddr(args[1]), args[2])
	case abi.SysExit:
		tm.SysExit(int32(args[0]))
		return 0
	case abi.SysYield:
		return tm.SysYield()
	case abi.SysSetPriority:
		return tm.SysSetPriority(int64(args[0]))
	case abi.SysGetTime:
		return tm.SysGetTime(UserAddr(args[0]), args[1])
	case abi.SysMunmap:
		return tm.SysMunmap(args[0], args[1])
	case abi.SysMmap:
		return tm.SysMmap(args[0], args[1], args[2])
	case abi.SysTaskInfo:
		return tm.SysTaskInfo(UserAddr(args[0]))
	}
	tm.log.Warnf("[kernel] unsupported syscall id %d", id)
	return -1
}

// SysWrite copies len bytes at buf to the console.  Only stdout exists.
func (tm *TaskManager) SysWrite(fd uint64, buf UserAddr, length uint64) int64 {
	if fd != abi.FdStdout {
		return -1
	}
	frags, err := tm.tr.TranslatedByteBuffer(tm.CurrentToken(), buf, int(length))
	if err != nil {
		tm.log.Warnf("[kernel] write from bad buffer %s: %v", buf, err)
		return -1
	}
	for _, f := range frags {
		if _, err := tm.console.Write(f); err != nil {
			tm.log.Errorf("[kernel] console write failed: %v", err)
			return -1
		}
	}
	return int64(length)
}

func (tm *TaskManager) SysExit(code int32) {
	tm.log.Infof("[kernel] Application exited with code %d", code)
	tm.ExitCurrentAndRunNext(code)
}

func (tm *TaskManager) SysYield() int64 {
	tm.SuspendCurrentAndRunNext()
	return 0
}

// SysSetPriority always fails: there is no priority scheduling.
func (tm *TaskManager) SysSetPriority(prio int64) int64 {
	return -1
}

// SysGetTime writes the time of day to ts.  tz is ignored.
func (tm *TaskManager) SysGetTime(ts UserAddr, tz uint64) int64 {
	us := tm.clock.NowMicroseconds()
	tv := &abi.TimeVal{Sec: us / timer.MicrosPerSecond, Usec: us % timer.MicrosPerSecond}
	if err := tm.tr.CopyOut(tm.CurrentToken(), ts, tv); err != nil {
		tm.log.Warnf("[kernel] get_time to bad pointer %s: %v", ts, err)
		return -1
	}
	return 0
}

func (tm *TaskManager) SysTaskInfo(ti UserAddr) int64 {
	info := tm.SnapshotTaskInfo()
	if err := tm.tr.CopyOut(tm.CurrentToken(), ti, &info); err != nil {
		tm.log.Warnf("[kernel] task_info to bad pointer %s: %v", ti, err)
		return -1
	}
	return 0
}

// SysMmap maps length bytes at start.  The start need not be aligned; the
// page holding it is where the mapping begins, so a zero length at an
// unaligned start still maps that page.
func (tm *TaskManager) SysMmap(start, length, port uint64) int64 {
	perm, ok := PermFromPort(port)
	if !ok {
		return -1
	}
	return tm.Mmap(mmu.VirtAddr(start), length, perm)
}

// SysMunmap unmaps length bytes at start.  An empty span has nothing
// unmapped in it and succeeds.
func (tm *TaskManager) SysMunmap(start, length uint64) int64 {
	return tm.Munmap(mmu.VirtAddr(start), length)
}
