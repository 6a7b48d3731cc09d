package mmu

import (
	"fmt"

	"serenity/src/lib/upbeat"
)

const PageShift = upbeat.PageShift
const PageSize = upbeat.PageSize

// Sv39: 3 levels of 512 entries, 8 bytes each.
const TableShift = 9
const PTECount = 1 << TableShift
const PTESize = 8
const ppnShift = 10

// MaxVA is one bit less than the maximum Sv39 allows, as in xv6, to avoid
// sign-extending virtual addresses that have the high bit set.
const MaxVA = VirtAddr(1) << (3*TableShift + PageShift - 1)

type VirtAddr uint64
type PhysAddr uint64
type VirtPageNum uint64
type PhysPageNum uint64

func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(va >> PageShift)
}

func (va VirtAddr) Ceil() VirtPageNum {
	if va.Aligned() {
		return va.Floor()
	}
	return va.Floor() + 1
}

func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

func (va VirtAddr) String() string {
	return fmt.Sprintf("%#x", uint64(va))
}

func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(vpn) << PageShift
}

// indexes returns the page-table index for each level, root first.
func (vpn VirtPageNum) indexes() [3]uint64 {
	v := uint64(vpn)
	return [3]uint64{
		(v >> (2 * TableShift)) & (PTECount - 1),
		(v >> TableShift) & (PTECount - 1),
		v & (PTECount - 1),
	}
}

func (ppn PhysPageNum) Addr() PhysAddr {
	return PhysAddr(ppn) << PageShift
}

// Token is the satp value for an address space: mode 8 (Sv39) in the top
// four bits and the root table's frame in the low bits.
type Token uint64

const satpModeSv39 = uint64(8) << 60
const satpPPNMask = (uint64(1) << 44) - 1

func makeToken(root PhysPageNum) Token {
	return Token(satpModeSv39 | uint64(root))
}

func (t Token) Root() PhysPageNum {
	return PhysPageNum(uint64(t) & satpPPNMask)
}

func (t Token) String() string {
	return fmt.Sprintf("satp(%#x)", uint64(t))
}
