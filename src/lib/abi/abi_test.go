package abi

import (
	"encoding/binary"
	"testing"
)

func TestTaskInfoLayout(t *testing.T) {
	if TaskInfoSize != 2016 {
		t.Fatalf("TaskInfo should be 2016 bytes, is %d", TaskInfoSize)
	}
	ti := TaskInfo{Status: 2, Time: 0x1122334455667788}
	ti.SyscallTimes[SysGetTime] = 7
	b, _ := ti.MarshalBinary()
	if binary.LittleEndian.Uint32(b[0:]) != 2 {
		t.Errorf("status not at offset 0")
	}
	if binary.LittleEndian.Uint32(b[4+4*SysGetTime:]) != 7 {
		t.Errorf("get_time counter not at offset %d", 4+4*SysGetTime)
	}
	if binary.LittleEndian.Uint64(b[2008:]) != 0x1122334455667788 {
		t.Errorf("elapsed time not at offset 2008")
	}
	if b[2004] != 0 || b[2007] != 0 {
		t.Errorf("padding must be zero")
	}
}

func TestTimeValRejectsShortBuffer(t *testing.T) {
	var tv TimeVal
	if err := tv.UnmarshalBinary(make([]byte, 15)); err == nil {
		t.Errorf("expected error for a 15 byte timeval")
	}
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b, 3)
	binary.LittleEndian.PutUint64(b[8:], 250)
	if err := tv.UnmarshalBinary(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tv.Micros() != 3_000_250 {
		t.Errorf("expected 3000250us, got %d", tv.Micros())
	}
}
