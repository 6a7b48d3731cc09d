package joy

import (
	"errors"
	"fmt"
	"sort"

	"serenity/src/hardware/mmu"
	"serenity/src/lib/upbeat"
)

// PageTable is the page table walker and frame allocator the address
// spaces are built on.  *mmu.MMU is the one in use.
type PageTable interface {
	NewTable() (mmu.Token, error)
	FreeTable(token mmu.Token)
	AllocFrame() (mmu.PhysPageNum, error)
	Translate(token mmu.Token, va mmu.VirtAddr) (mmu.PhysPageNum, mmu.Perm, bool)
	Map(token mmu.Token, start, end mmu.VirtPageNum, perm mmu.Perm) error
	MapFrame(token mmu.Token, vpn mmu.VirtPageNum, ppn mmu.PhysPageNum, perm mmu.Perm) error
	Unmap(token mmu.Token, start, end mmu.VirtPageNum) bool
	Frame(ppn mmu.PhysPageNum) []byte
	UserLoad(token mmu.Token, va mmu.VirtAddr, buf []byte) error
	UserStore(token mmu.Token, va mmu.VirtAddr, buf []byte) error
}

// MapArea is the half open page range [Start, End) mapped with Perm.
type MapArea struct {
	Start mmu.VirtPageNum
	End   mmu.VirtPageNum
	Perm  mmu.Perm
}

func (a MapArea) String() string {
	return fmt.Sprintf("[%s, %s) %s", a.Start.Addr(), a.End.Addr(), a.Perm)
}

func (a MapArea) overlaps(start, end mmu.VirtPageNum) bool {
	return start < a.End && a.Start < end
}

// AddressSpace is the set of regions one task owns, plus the page table
// that backs them.  Areas are kept sorted and never overlap.
type AddressSpace struct {
	pt    PageTable
	token mmu.Token
	areas []MapArea
}

func NewAddressSpace(pt PageTable) (*AddressSpace, error) {
	token, err := pt.NewTable()
	if err != nil {
		return nil, memoryError(err)
	}
	return &AddressSpace{pt: pt, token: token}, nil
}

func (as *AddressSpace) Token() mmu.Token {
	return as.token
}

// Regions is a copy of the current areas in address order.
func (as *AddressSpace) Regions() []MapArea {
	result := make([]MapArea, len(as.areas))
	copy(result, as.areas)
	return result
}

// HasConflict reports whether any page of [floor(start), ceil(end))
// is already part of a region.
func (as *AddressSpace) HasConflict(start, end mmu.VirtAddr) bool {
	s, e := start.Floor(), end.Ceil()
	if s >= e {
		return false
	}
	for _, a := range as.areas {
		if a.overlaps(s, e) {
			return true
		}
	}
	return false
}

// InsertRegion backs [floor(start), ceil(end)) with fresh frames.  An
// unaligned start maps the page that contains it.  An empty page range
// maps nothing and is not an error.
func (as *AddressSpace) InsertRegion(start, end mmu.VirtAddr, perm mmu.Perm) error {
	if as.HasConflict(start, end) {
		return ErrorMemoryRegionConflict
	}
	s, e := start.Floor(), end.Ceil()
	if s > e {
		return ErrorMemoryBadRange
	}
	if s == e {
		return nil
	}
	if err := as.pt.Map(as.token, s, e, perm); err != nil {
		return memoryError(err)
	}
	as.insert(MapArea{Start: s, End: e, Perm: perm})
	return nil
}

// insertFrame maps a single page onto a frame the caller allocated.  The
// trap frame goes in this way.
func (as *AddressSpace) insertFrame(va mmu.VirtAddr, ppn mmu.PhysPageNum, perm mmu.Perm) error {
	if as.HasConflict(va, va+1) {
		return ErrorMemoryRegionConflict
	}
	if err := as.pt.MapFrame(as.token, va.Floor(), ppn, perm); err != nil {
		return memoryError(err)
	}
	as.insert(MapArea{Start: va.Floor(), End: va.Floor() + 1, Perm: perm})
	return nil
}

func (as *AddressSpace) insert(area MapArea) {
	i := sort.Search(len(as.areas), func(i int) bool { return as.areas[i].Start >= area.End })
	as.areas = append(as.areas, MapArea{})
	copy(as.areas[i+1:], as.areas[i:])
	as.areas[i] = area
}

// RemoveExact unmaps [floor(start), ceil(end)).  Every page of the span
// must be in a user region, otherwise nothing changes and the result is
// false.  Regions are trimmed or split around the hole.  An empty span
// removes nothing and succeeds.
func (as *AddressSpace) RemoveExact(start, end mmu.VirtAddr) bool {
	s, e := start.Floor(), end.Ceil()
	if s == e {
		return true
	}
	if s > e || !as.covered(s, e) {
		return false
	}
	if !as.pt.Unmap(as.token, s, e) {
		return false
	}
	kept := as.areas[:0:0]
	for _, a := range as.areas {
		if !a.overlaps(s, e) {
			kept = append(kept, a)
			continue
		}
		if a.Start < s {
			kept = append(kept, MapArea{Start: a.Start, End: s, Perm: a.Perm})
		}
		if a.End > e {
			kept = append(kept, MapArea{Start: e, End: a.End, Perm: a.Perm})
		}
	}
	as.areas = kept
	return true
}

// covered is true if user regions account for every page in [s, e).
func (as *AddressSpace) covered(s, e mmu.VirtPageNum) bool {
	cur := s
	for _, a := range as.areas {
		if a.End <= cur {
			continue
		}
		if a.Start > cur || !a.Perm.Has(mmu.PermU) {
			return false
		}
		cur = a.End
		if cur >= e {
			return true
		}
	}
	return false
}

// Destroy gives every frame of the space back, page tables included.
func (as *AddressSpace) Destroy() {
	as.pt.FreeTable(as.token)
	as.areas = nil
}

// PermFromPort decodes an mmap port: bit 0 read, bit 1 write, bit 2 exec.
// User access is always granted; zero is a legal (useless) port.
func PermFromPort(port uint64) (mmu.Perm, bool) {
	if port&^0x7 != 0 {
		return 0, false
	}
	perm := mmu.PermU
	if port&(1<<0) != 0 {
		perm = perm.Union(mmu.PermR)
	}
	if port&(1<<1) != 0 {
		perm = perm.Union(mmu.PermW)
	}
	if port&(1<<2) != 0 {
		perm = perm.Union(mmu.PermX)
	}
	return perm, true
}

func memoryError(err error) error {
	switch {
	case errors.Is(err, upbeat.ErrNoFreeFrame):
		return ErrorMemoryOutOfFrames
	case errors.Is(err, mmu.ErrBadRange):
		return ErrorMemoryBadRange
	case errors.Is(err, mmu.ErrRemap):
		return ErrorMemoryRegionConflict
	}
	return err
}
