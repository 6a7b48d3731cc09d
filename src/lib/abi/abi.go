// Package abi is what user programs and the kernel agree on: syscall
// numbers, register usage and the byte layout of values passed through
// user memory.  Everything is little endian.
package abi

import (
	"encoding/binary"
	"fmt"
)

const (
	SysWrite       = 64
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysMunmap      = 215
	SysMmap        = 222
	SysTaskInfo    = 410
)

// MaxSyscallNum bounds the per task syscall counters.
const MaxSyscallNum = 500

// Registers used by ecall.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

const FdStdout = 1

// CPU is the user mode view of the machine a program runs on.  Load and
// Store go through the program's own page table; a fault never returns to
// the program.
type CPU interface {
	Ecall(id uint64, a0, a1, a2 uint64) int64
	Load(va uint64, buf []byte) error
	Store(va uint64, buf []byte) error
	// StackPointer is the initial user sp.
	StackPointer() uint64
	// Step marks a unit of pure computation, the only point a spinning
	// program can be preempted at.
	Step()
}

// Program is the body of a user application.  Its return value is the
// exit code.
type Program func(cpu CPU) int32

// TimeVal is struct timeval: 16 bytes.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

const TimeValSize = 16

func (t *TimeVal) Size() int { return TimeValSize }

func (t *TimeVal) MarshalBinary() ([]byte, error) {
	b := make([]byte, TimeValSize)
	binary.LittleEndian.PutUint64(b[0:], t.Sec)
	binary.LittleEndian.PutUint64(b[8:], t.Usec)
	return b, nil
}

func (t *TimeVal) UnmarshalBinary(b []byte) error {
	if len(b) != TimeValSize {
		return fmt.Errorf("timeval: need %d bytes, got %d", TimeValSize, len(b))
	}
	t.Sec = binary.LittleEndian.Uint64(b[0:])
	t.Usec = binary.LittleEndian.Uint64(b[8:])
	return nil
}

func (t *TimeVal) Micros() uint64 {
	return t.Sec*1_000_000 + t.Usec
}

// TaskInfo layout: status u32 at 0, counters at 4, padding so that the
// elapsed time u64 is 8 byte aligned at 2008.
type TaskInfo struct {
	Status       uint32
	SyscallTimes [MaxSyscallNum]uint32
	Time         uint64 // ms since the task first ran
}

const taskInfoTimeOffset = 4 + 4*MaxSyscallNum + 4
const TaskInfoSize = taskInfoTimeOffset + 8

func (t *TaskInfo) Size() int { return TaskInfoSize }

func (t *TaskInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, TaskInfoSize)
	binary.LittleEndian.PutUint32(b[0:], t.Status)
	for i, n := range t.SyscallTimes {
		binary.LittleEndian.PutUint32(b[4+4*i:], n)
	}
	binary.LittleEndian.PutUint64(b[taskInfoTimeOffset:], t.Time)
	return b, nil
}

func (t *TaskInfo) UnmarshalBinary(b []byte) error {
	if len(b) != TaskInfoSize {
		return fmt.Errorf("taskinfo: need %d bytes, got %d", TaskInfoSize, len(b))
	}
	t.Status = binary.LittleEndian.Uint32(b[0:])
	for i := range t.SyscallTimes {
		t.SyscallTimes[i] = binary.LittleEndian.Uint32(b[4+4*i:])
	}
	t.Time = binary.LittleEndian.Uint64(b[taskInfoTimeOffset:])
	return nil
}

// Value is anything with a fixed size wire format.
type Value interface {
	Size() int
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}
