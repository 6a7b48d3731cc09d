// Package user is the library applications link against: one wrapper per
// system call, with arguments staged in the program's own stack.
package user

import (
	"fmt"

	"serenity/src/lib/abi"
)

// writes go out in pieces no bigger than this
const writeChunk = 1024

// scratch is an address below the initial stack pointer with room for
// size bytes.
func scratch(cpu abi.CPU, size int) uint64 {
	return (cpu.StackPointer() - uint64(size)) &^ 0xf
}

func Write(cpu abi.CPU, fd uint64, b []byte) int64 {
	total := int64(0)
	for len(b) > 0 {
		n := min(len(b), writeChunk)
		at := scratch(cpu, n)
		if err := cpu.Store(at, b[:n]); err != nil {
			return -1
		}
		r := cpu.Ecall(abi.SysWrite, fd, at, uint64(n))
		if r < 0 {
			return r
		}
		total += r
		b = b[n:]
	}
	return total
}

// Printf writes to stdout.
func Printf(cpu abi.CPU, format string, params ...interface{}) {
	Write(cpu, abi.FdStdout, []byte(fmt.Sprintf(format, params...)))
}

// Exit does not return.
func Exit(cpu abi.CPU, code int32) {
	cpu.Ecall(abi.SysExit, uint64(int64(code)), 0, 0)
}

func Yield(cpu abi.CPU) int64 {
	return cpu.Ecall(abi.SysYield, 0, 0, 0)
}

func SetPriority(cpu abi.CPU, prio int64) int64 {
	return cpu.Ecall(abi.SysSetPriority, uint64(prio), 0, 0)
}

func Mmap(cpu abi.CPU, start, length, port uint64) int64 {
	return cpu.Ecall(abi.SysMmap, start, length, port)
}

func Munmap(cpu abi.CPU, start, length uint64) int64 {
	return cpu.Ecall(abi.SysMunmap, start, length, 0)
}

// GetTimeAt asks the kernel to write the time at va and reads it back.
func GetTimeAt(cpu abi.CPU, va uint64) (abi.TimeVal, int64) {
	var tv abi.TimeVal
	r := cpu.Ecall(abi.SysGetTime, va, 0, 0)
	if r != 0 {
		return tv, r
	}
	return tv, load(cpu, va, &tv)
}

func GetTime(cpu abi.CPU) (abi.TimeVal, int64) {
	return GetTimeAt(cpu, scratch(cpu, abi.TimeValSize))
}

// GetTimeMs is -1 if the call fails.
func GetTimeMs(cpu abi.CPU) int64 {
	tv, r := GetTime(cpu)
	if r != 0 {
		return -1
	}
	return int64(tv.Micros() / 1000)
}

func TaskInfoAt(cpu abi.CPU, va uint64) (abi.TaskInfo, int64) {
	var ti abi.TaskInfo
	r := cpu.Ecall(abi.SysTaskInfo, va, 0, 0)
	if r != 0 {
		return ti, r
	}
	return ti, load(cpu, va, &ti)
}

func TaskInfo(cpu abi.CPU) (abi.TaskInfo, int64) {
	return TaskInfoAt(cpu, scratch(cpu, abi.TaskInfoSize))
}

// Sleep yields until ms milliseconds have gone by.
func Sleep(cpu abi.CPU, ms int64) {
	start := GetTimeMs(cpu)
	for GetTimeMs(cpu) < start+ms {
		Yield(cpu)
	}
}

func load(cpu abi.CPU, va uint64, v abi.Value) int64 {
	b := make([]byte, v.Size())
	if err := cpu.Load(va, b); err != nil {
		return -1
	}
	if err := v.UnmarshalBinary(b); err != nil {
		return -1
	}
	return 0
}
