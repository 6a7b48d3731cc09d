package mmu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"serenity/src/lib/upbeat"
)

const pteValid = uint64(1)

var (
	ErrRemap       = errors.New("page is already mapped")
	ErrBadRange    = errors.New("bad virtual page range")
	ErrUnknownRoot = errors.New("no page table for token")
)

// FaultKind says which kind of user access faulted.
type FaultKind int

const (
	LoadFault FaultKind = iota
	StoreFault
)

func (k FaultKind) String() string {
	if k == StoreFault {
		return "store page fault"
	}
	return "load page fault"
}

// Fault is returned by UserLoad and UserStore when the hardware would trap.
type Fault struct {
	Kind FaultKind
	Addr VirtAddr
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at %s", f.Kind, f.Addr)
}

// MMU walks and edits Sv39 page tables that live in simulated physical
// memory.  Leaf frames handed to Map are owned by the table until Unmap or
// FreeTable gives them back.
type MMU struct {
	frames *upbeat.FrameAllocator
	mem    *upbeat.PhysMemory
	// non-leaf table frames per address space, root first
	tables map[Token][]PhysPageNum
}

func New(frames *upbeat.FrameAllocator) *MMU {
	return &MMU{
		frames: frames,
		mem:    frames.Memory(),
		tables: make(map[Token][]PhysPageNum),
	}
}

// Frame is the kernel's direct mapping of a physical frame.
func (m *MMU) Frame(ppn PhysPageNum) []byte {
	f, err := m.mem.Frame(uint32(ppn))
	if err != nil {
		panic(err)
	}
	return f
}

// AllocFrame hands out a zeroed frame not yet mapped anywhere.
func (m *MMU) AllocFrame() (PhysPageNum, error) {
	n, err := m.frames.Alloc()
	return PhysPageNum(n), err
}

func (m *MMU) FreeFrames() int {
	return int(m.mem.NumFrames()) - 1 - m.frames.InUse()
}

func (m *MMU) NewTable() (Token, error) {
	root, err := m.AllocFrame()
	if err != nil {
		return 0, err
	}
	t := makeToken(root)
	m.tables[t] = []PhysPageNum{root}
	return t, nil
}

// FreeTable releases every leaf frame still mapped and then the table frames.
func (m *MMU) FreeTable(token Token) {
	tables, ok := m.tables[token]
	if !ok {
		return
	}
	m.freeLeaves(token.Root(), 0)
	for _, ppn := range tables {
		_ = m.frames.Dealloc(uint32(ppn))
	}
	delete(m.tables, token)
}

func (m *MMU) freeLeaves(table PhysPageNum, level int) {
	frame := m.Frame(table)
	for i := 0; i < PTECount; i++ {
		pte := binary.LittleEndian.Uint64(frame[i*PTESize:])
		if pte&pteValid == 0 {
			continue
		}
		next := PhysPageNum(pte >> ppnShift)
		if level < 2 {
			m.freeLeaves(next, level+1)
			continue
		}
		_ = m.frames.Dealloc(uint32(next))
	}
}

// walk returns the 8 bytes of the leaf entry for vpn, or nil if an
// intermediate table is missing and create is false.
func (m *MMU) walk(token Token, vpn VirtPageNum, create bool) ([]byte, error) {
	if _, ok := m.tables[token]; !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrUnknownRoot)
	}
	idx := vpn.indexes()
	ppn := token.Root()
	for level := 0; level < 2; level++ {
		entry := m.Frame(ppn)[idx[level]*PTESize : (idx[level]+1)*PTESize]
		pte := binary.LittleEndian.Uint64(entry)
		if pte&pteValid == 0 {
			if !create {
				return nil, nil
			}
			next, err := m.AllocFrame()
			if err != nil {
				return nil, err
			}
			m.tables[token] = append(m.tables[token], next)
			pte = uint64(next)<<ppnShift | pteValid
			binary.LittleEndian.PutUint64(entry, pte)
		}
		ppn = PhysPageNum(pte >> ppnShift)
	}
	return m.Frame(ppn)[idx[2]*PTESize : (idx[2]+1)*PTESize], nil
}

func (m *MMU) lookup(token Token, vpn VirtPageNum) (PhysPageNum, Perm, bool) {
	if vpn >= MaxVA.Floor() {
		return 0, 0, false
	}
	entry, err := m.walk(token, vpn, false)
	if err != nil || entry == nil {
		return 0, 0, false
	}
	pte := binary.LittleEndian.Uint64(entry)
	if pte&pteValid == 0 {
		return 0, 0, false
	}
	return PhysPageNum(pte >> ppnShift), Perm(pte) & permMask, true
}

// Translate resolves va to the frame holding it and that page's permissions.
func (m *MMU) Translate(token Token, va VirtAddr) (PhysPageNum, Perm, bool) {
	return m.lookup(token, va.Floor())
}

func checkRange(start, end VirtPageNum) error {
	if start > end || end > MaxVA.Floor() {
		return fmt.Errorf("[%#x, %#x): %w", uint64(start), uint64(end), ErrBadRange)
	}
	return nil
}

// Map backs every page in [start, end) with a fresh zeroed frame.  Nothing
// changes if any page is already mapped or memory runs out.
func (m *MMU) Map(token Token, start, end VirtPageNum, perm Perm) error {
	if err := checkRange(start, end); err != nil {
		return err
	}
	for vpn := start; vpn < end; vpn++ {
		if _, _, ok := m.lookup(token, vpn); ok {
			return fmt.Errorf("vpn %#x: %w", uint64(vpn), ErrRemap)
		}
	}
	for vpn := start; vpn < end; vpn++ {
		ppn, err := m.AllocFrame()
		if err == nil {
			err = m.MapFrame(token, vpn, ppn, perm)
			if err != nil {
				_ = m.frames.Dealloc(uint32(ppn))
			}
		}
		if err != nil {
			m.Unmap(token, start, vpn)
			return err
		}
	}
	return nil
}

// MapFrame maps one page onto a frame the caller already owns.  Ownership
// moves to the table.
func (m *MMU) MapFrame(token Token, vpn VirtPageNum, ppn PhysPageNum, perm Perm) error {
	if err := checkRange(vpn, vpn+1); err != nil {
		return err
	}
	entry, err := m.walk(token, vpn, true)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint64(entry)&pteValid != 0 {
		return fmt.Errorf("vpn %#x: %w", uint64(vpn), ErrRemap)
	}
	pte := uint64(ppn)<<ppnShift | uint64(perm&permMask) | pteValid
	binary.LittleEndian.PutUint64(entry, pte)
	return nil
}

// Unmap clears [start, end) and frees the frames behind it.  It reports
// false, touching nothing, if any page in the span is not mapped.
func (m *MMU) Unmap(token Token, start, end VirtPageNum) bool {
	if checkRange(start, end) != nil {
		return false
	}
	for vpn := start; vpn < end; vpn++ {
		if _, _, ok := m.lookup(token, vpn); !ok {
			return false
		}
	}
	for vpn := start; vpn < end; vpn++ {
		entry, _ := m.walk(token, vpn, false)
		ppn := PhysPageNum(binary.LittleEndian.Uint64(entry) >> ppnShift)
		binary.LittleEndian.PutUint64(entry, 0)
		_ = m.frames.Dealloc(uint32(ppn))
	}
	return true
}

// UserLoad copies from user memory the way a user mode load would: every
// page must be valid, user accessible and readable.
func (m *MMU) UserLoad(token Token, va VirtAddr, buf []byte) error {
	return m.userAccess(token, va, buf, LoadFault)
}

// UserStore is UserLoad for stores; pages must be writable.
func (m *MMU) UserStore(token Token, va VirtAddr, buf []byte) error {
	return m.userAccess(token, va, buf, StoreFault)
}

func (m *MMU) userAccess(token Token, va VirtAddr, buf []byte, kind FaultKind) error {
	need := PermU | PermR
	if kind == StoreFault {
		need = PermU | PermW
	}
	// check the whole span first so a faulting store writes nothing
	for done := 0; done < len(buf); {
		cur := va + VirtAddr(done)
		_, perm, ok := m.Translate(token, cur)
		if !ok || !perm.Has(need) {
			return &Fault{Kind: kind, Addr: cur}
		}
		done += int(PageSize - cur.PageOffset())
	}
	for done := 0; done < len(buf); {
		cur := va + VirtAddr(done)
		ppn, _, _ := m.Translate(token, cur)
		page := m.Frame(ppn)[cur.PageOffset():]
		var n int
		if kind == StoreFault {
			n = copy(page, buf[done:])
		} else {
			n = copy(buf[done:], page)
		}
		done += n
	}
	return nil
}
