package upbeat

import (
	"errors"
	"fmt"
)

const PageShift = 12
const PageSize = 1 << PageShift

var (
	ErrNoFreeFrame      = errors.New("no free physical frame")
	ErrBadFrame         = errors.New("bad physical frame number")
	ErrFrameAlreadyFree = errors.New("physical frame is already free")
)

// PhysMemory is the simulated RAM.  Frame n lives at physical address
// n*PageSize.
type PhysMemory struct {
	frames [][PageSize]byte
}

func NewPhysMemory(numFrames uint32) *PhysMemory {
	return &PhysMemory{frames: make([][PageSize]byte, numFrames)}
}

func (p *PhysMemory) NumFrames() uint32 {
	return uint32(len(p.frames))
}

// Frame returns the bytes of the given frame.  Writes through the slice
// are writes to physical memory.
func (p *PhysMemory) Frame(n uint32) ([]byte, error) {
	if n >= uint32(len(p.frames)) {
		return nil, fmt.Errorf("frame %d: %w", n, ErrBadFrame)
	}
	return p.frames[n][:], nil
}

// FrameAllocator hands out physical frames first-fit from an in-use bitmap.
// Frame 0 is never handed out so that a zero frame number can mean "none".
type FrameAllocator struct {
	mem   *PhysMemory
	inUse *BitSet
}

// NewFrameAllocator manages all of mem.  The number of frames must be a
// multiple of 64.
func NewFrameAllocator(mem *PhysMemory) (*FrameAllocator, error) {
	bits, err := NewBitSet(mem.NumFrames())
	if err != nil {
		return nil, err
	}
	if bits.Size() == 0 {
		return nil, fmt.Errorf("physical memory has no frames: %w", ErrBadFrame)
	}
	bits.Set(0)
	return &FrameAllocator{mem: mem, inUse: bits}, nil
}

func (f *FrameAllocator) Memory() *PhysMemory {
	return f.mem
}

// Alloc returns a zeroed frame.
func (f *FrameAllocator) Alloc() (uint32, error) {
	for i := uint32(1); i < f.inUse.Size(); i++ {
		if f.inUse.On(BitIndex(i)) {
			continue
		}
		f.inUse.Set(BitIndex(i))
		frame := f.mem.frames[i][:]
		for j := range frame {
			frame[j] = 0
		}
		return i, nil
	}
	return 0, ErrNoFreeFrame
}

func (f *FrameAllocator) Dealloc(n uint32) error {
	if n == 0 || n >= f.inUse.Size() {
		return fmt.Errorf("frame %d: %w", n, ErrBadFrame)
	}
	if !f.inUse.On(BitIndex(n)) {
		return fmt.Errorf("frame %d: %w", n, ErrFrameAlreadyFree)
	}
	f.inUse.Clear(BitIndex(n))
	return nil
}

// InUse counts allocated frames, not including the reserved frame 0.
func (f *FrameAllocator) InUse() int {
	return f.inUse.Count() - 1
}
