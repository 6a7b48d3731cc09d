package joy

import (
	"fmt"

	"serenity/src/hardware/mmu"
	"serenity/src/lib/abi"
)

// UserAddr is a pointer handed in by user code.  The kernel never uses it
// directly; a Translator turns it into slices of the frames behind it.
type UserAddr uint64

func (u UserAddr) String() string {
	return fmt.Sprintf("user:%#x", uint64(u))
}

// Translator resolves user pointers through a task's page table.  Only
// pages marked user accessible resolve, so a user pointer can never reach
// the trap frame.
type Translator struct {
	pt PageTable
}

func NewTranslator(pt PageTable) Translator {
	return Translator{pt: pt}
}

func (t Translator) userPage(token mmu.Token, va mmu.VirtAddr) ([]byte, bool) {
	ppn, perm, ok := t.pt.Translate(token, va)
	if !ok || !perm.Has(mmu.PermU) {
		return nil, false
	}
	return t.pt.Frame(ppn), true
}

// TryTranslateContained returns the size bytes at ptr as one slice of a
// frame, but only when they all sit in a single mapped page.
func (t Translator) TryTranslateContained(token mmu.Token, ptr UserAddr, size int) ([]byte, bool) {
	va := mmu.VirtAddr(ptr)
	off := va.PageOffset()
	if size <= 0 || off+uint64(size) > mmu.PageSize {
		return nil, false
	}
	page, ok := t.userPage(token, va)
	if !ok {
		return nil, false
	}
	return page[off : off+uint64(size) : off+uint64(size)], true
}

// TranslateSpanning returns one fragment per page touched by
// [ptr, ptr+size), in address order.  If any page does not resolve the
// result is ErrorTranslateFault and no fragments.
func (t Translator) TranslateSpanning(token mmu.Token, ptr UserAddr, size int) ([][]byte, error) {
	if size < 0 || uint64(ptr)+uint64(size) < uint64(ptr) || mmu.VirtAddr(uint64(ptr)+uint64(size)) > mmu.MaxVA {
		return nil, ErrorTranslateFault
	}
	var frags [][]byte
	for done := 0; done < size; {
		va := mmu.VirtAddr(uint64(ptr) + uint64(done))
		page, ok := t.userPage(token, va)
		if !ok {
			return nil, ErrorTranslateFault
		}
		off := int(va.PageOffset())
		n := min(mmu.PageSize-off, size-done)
		frags = append(frags, page[off:off+n:off+n])
		done += n
	}
	return frags, nil
}

// CopyIntoFragments spreads value over frags in order, filling each one
// before moving on.
func CopyIntoFragments(value []byte, frags [][]byte) {
	for _, f := range frags {
		n := copy(f, value)
		value = value[n:]
	}
}

func copyFromFragments(frags [][]byte) []byte {
	var result []byte
	for _, f := range frags {
		result = append(result, f...)
	}
	return result
}

// CopyOut writes v to user memory at ptr, in place when it fits in one
// page and through fragments when it straddles pages.
func (t Translator) CopyOut(token mmu.Token, ptr UserAddr, v abi.Value) error {
	b, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	if dst, ok := t.TryTranslateContained(token, ptr, len(b)); ok {
		copy(dst, b)
		return nil
	}
	frags, err := t.TranslateSpanning(token, ptr, len(b))
	if err != nil {
		return err
	}
	CopyIntoFragments(b, frags)
	return nil
}

// CopyIn is the reverse of CopyOut.
func (t Translator) CopyIn(token mmu.Token, ptr UserAddr, v abi.Value) error {
	if src, ok := t.TryTranslateContained(token, ptr, v.Size()); ok {
		b := make([]byte, len(src))
		copy(b, src)
		return v.UnmarshalBinary(b)
	}
	frags, err := t.TranslateSpanning(token, ptr, v.Size())
	if err != nil {
		return err
	}
	return v.UnmarshalBinary(copyFromFragments(frags))
}

// TranslatedByteBuffer is the user buffer [ptr, ptr+length) as fragments.
func (t Translator) TranslatedByteBuffer(token mmu.Token, ptr UserAddr, length int) ([][]byte, error) {
	return t.TranslateSpanning(token, ptr, length)
}

// writeBytes copies raw bytes into user pages; used to place images.
func (t Translator) writeBytes(token mmu.Token, ptr UserAddr, b []byte) error {
	frags, err := t.TranslateSpanning(token, ptr, len(b))
	if err != nil {
		return err
	}
	CopyIntoFragments(b, frags)
	return nil
}
