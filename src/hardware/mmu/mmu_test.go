package mmu

import (
	"bytes"
	"errors"
	"testing"

	"serenity/src/lib/upbeat"
)

func newTestMMU(t *testing.T, frames uint32) *MMU {
	t.Helper()
	alloc, err := upbeat.NewFrameAllocator(upbeat.NewPhysMemory(frames))
	if err != nil {
		t.Fatalf("unable to create frame allocator: %v", err)
	}
	return New(alloc)
}

func TestAddressRounding(t *testing.T) {
	cases := []struct {
		va    VirtAddr
		floor VirtPageNum
		ceil  VirtPageNum
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0x1000, 1, 1},
		{0x1fff, 1, 2},
		{0x10000, 0x10, 0x10},
	}
	for _, c := range cases {
		if c.va.Floor() != c.floor {
			t.Errorf("floor(%s) = %#x, expected %#x", c.va, c.va.Floor(), c.floor)
		}
		if c.va.Ceil() != c.ceil {
			t.Errorf("ceil(%s) = %#x, expected %#x", c.va, c.va.Ceil(), c.ceil)
		}
	}
}

func TestPermSet(t *testing.T) {
	p := PermU.Union(PermR).Union(PermW)
	if !p.Has(PermR | PermW) {
		t.Errorf("%s should contain rw", p)
	}
	if p.Has(PermX) {
		t.Errorf("%s should not contain x", p)
	}
	if p.String() != "rw-u" {
		t.Errorf("unexpected string %q", p.String())
	}
	if Perm(0).String() != "----" {
		t.Errorf("empty set should print as ----")
	}
}

func TestMapTranslateUnmap(t *testing.T) {
	m := newTestMMU(t, 256)
	token, err := m.NewTable()
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if token.Root() == 0 {
		t.Fatalf("root frame should never be frame 0")
	}
	if err := m.Map(token, 0x10, 0x13, PermR|PermW|PermU); err != nil {
		t.Fatalf("Map: %v", err)
	}
	for vpn := VirtPageNum(0x10); vpn < 0x13; vpn++ {
		ppn, perm, ok := m.Translate(token, vpn.Addr()+5)
		if !ok {
			t.Fatalf("vpn %#x not mapped", vpn)
		}
		if ppn == 0 || perm != PermR|PermW|PermU {
			t.Errorf("vpn %#x: ppn %#x perm %s", vpn, ppn, perm)
		}
	}
	if _, _, ok := m.Translate(token, VirtPageNum(0x13).Addr()); ok {
		t.Errorf("page after the range should not be mapped")
	}
	if err := m.Map(token, 0x12, 0x14, PermR|PermU); !errors.Is(err, ErrRemap) {
		t.Errorf("expected ErrRemap, got %v", err)
	}
	if _, _, ok := m.Translate(token, VirtPageNum(0x13).Addr()); ok {
		t.Errorf("failed Map must not leave pages behind")
	}
	if m.Unmap(token, 0x12, 0x14) {
		t.Errorf("Unmap over a hole should fail")
	}
	if _, _, ok := m.Translate(token, VirtPageNum(0x12).Addr()); !ok {
		t.Errorf("failed Unmap must not remove pages")
	}
	if !m.Unmap(token, 0x10, 0x13) {
		t.Errorf("Unmap of mapped range failed")
	}
	if m.Unmap(token, 0x10, 0x13) {
		t.Errorf("second Unmap should fail")
	}
}

func TestFreeTableReturnsFrames(t *testing.T) {
	m := newTestMMU(t, 256)
	before := m.FreeFrames()
	token, _ := m.NewTable()
	if err := m.Map(token, 0, 4, PermR|PermU); err != nil {
		t.Fatalf("Map: %v", err)
	}
	// far away so that new intermediate tables are needed
	if err := m.Map(token, 0x40000, 0x40001, PermR|PermU); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if m.FreeFrames() >= before {
		t.Fatalf("mapping did not consume frames")
	}
	m.FreeTable(token)
	if m.FreeFrames() != before {
		t.Errorf("FreeTable leaked frames: %d free, expected %d", m.FreeFrames(), before)
	}
}

func TestUserAccessChecksPermissions(t *testing.T) {
	m := newTestMMU(t, 128)
	token, _ := m.NewTable()
	_ = m.Map(token, 1, 3, PermR|PermW|PermU)
	_ = m.Map(token, 3, 4, PermR|PermU)
	_ = m.Map(token, 4, 5, PermR|PermW)

	data := []byte("straddles a page boundary")
	va := VirtPageNum(2).Addr() - 10
	if err := m.UserStore(token, va, data); err != nil {
		t.Fatalf("UserStore: %v", err)
	}
	back := make([]byte, len(data))
	if err := m.UserLoad(token, va, back); err != nil {
		t.Fatalf("UserLoad: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("read back %q, expected %q", back, data)
	}

	var f *Fault
	err := m.UserStore(token, VirtPageNum(3).Addr(), []byte{1})
	if !errors.As(err, &f) || f.Kind != StoreFault {
		t.Errorf("store to read-only page: expected store fault, got %v", err)
	}
	err = m.UserLoad(token, VirtPageNum(4).Addr(), []byte{1})
	if !errors.As(err, &f) || f.Kind != LoadFault {
		t.Errorf("load from kernel page: expected load fault, got %v", err)
	}
	err = m.UserStore(token, VirtPageNum(3).Addr()-1, []byte{7, 7})
	if err == nil {
		t.Fatalf("store spanning into read-only page should fault")
	}
	one := make([]byte, 1)
	_ = m.UserLoad(token, VirtPageNum(3).Addr()-1, one)
	if one[0] == 7 {
		t.Errorf("faulting store must not write any byte")
	}
}
