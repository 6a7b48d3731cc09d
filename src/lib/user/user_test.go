package user

import (
	"fmt"
	"testing"

	"serenity/src/lib/abi"
)

// flatCPU is a user machine with one flat memory and a kernel that only
// knows get_time and write.
type flatCPU struct {
	mem    []byte
	now    uint64
	out    []byte
	yields int
}

const flatTop = 0x4000

func (c *flatCPU) Ecall(id uint64, a0, a1, a2 uint64) int64 {
	switch id {
	case abi.SysGetTime:
		tv := abi.TimeVal{Sec: c.now / 1_000_000, Usec: c.now % 1_000_000}
		b, _ := tv.MarshalBinary()
		copy(c.mem[a0:], b)
		return 0
	case abi.SysWrite:
		c.out = append(c.out, c.mem[a1:a1+a2]...)
		return int64(a2)
	case abi.SysYield:
		c.yields++
		c.now += 30_000
		return 0
	}
	return -1
}

func (c *flatCPU) Load(va uint64, buf []byte) error {
	if va+uint64(len(buf)) > uint64(len(c.mem)) {
		return fmt.Errorf("load fault at %#x", va)
	}
	copy(buf, c.mem[va:])
	return nil
}

func (c *flatCPU) Store(va uint64, buf []byte) error {
	if va+uint64(len(buf)) > uint64(len(c.mem)) {
		return fmt.Errorf("store fault at %#x", va)
	}
	copy(c.mem[va:], buf)
	return nil
}

func (c *flatCPU) StackPointer() uint64 { return flatTop }
func (c *flatCPU) Step()                {}

func TestWriteIsChunked(t *testing.T) {
	cpu := &flatCPU{mem: make([]byte, flatTop)}
	msg := make([]byte, 3*writeChunk+5)
	for i := range msg {
		msg[i] = byte('a' + i%26)
	}
	if got := Write(cpu, abi.FdStdout, msg); got != int64(len(msg)) {
		t.Fatalf("write returned %d", got)
	}
	if string(cpu.out) != string(msg) {
		t.Errorf("output differs from input")
	}
}

func TestGetTimeAndSleep(t *testing.T) {
	cpu := &flatCPU{mem: make([]byte, flatTop), now: 2_500_000}
	tv, r := GetTime(cpu)
	if r != 0 || tv.Sec != 2 || tv.Usec != 500_000 {
		t.Fatalf("GetTime: %+v %d", tv, r)
	}
	Sleep(cpu, 100)
	if cpu.yields != 4 {
		t.Errorf("expected 4 yields to pass 100ms in 30ms steps, got %d", cpu.yields)
	}
	if ms := GetTimeMs(cpu); ms != 2620 {
		t.Errorf("expected 2620ms, got %d", ms)
	}
}

func TestTaskInfoFailurePassesThrough(t *testing.T) {
	cpu := &flatCPU{mem: make([]byte, flatTop)}
	if _, r := TaskInfo(cpu); r != -1 {
		t.Errorf("expected -1 from an unknown syscall, got %d", r)
	}
}
