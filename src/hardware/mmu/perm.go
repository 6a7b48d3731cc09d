package mmu

// Perm is a set over {Read, Write, Execute, UserAccessible}.  The bit values
// are the RISC-V page table entry flag positions, so a Perm can be or'ed
// straight into a leaf entry.
type Perm uint8

const (
	PermR Perm = 1 << 1
	PermW Perm = 1 << 2
	PermX Perm = 1 << 3
	PermU Perm = 1 << 4
)

const permMask = PermR | PermW | PermX | PermU

func (p Perm) Union(q Perm) Perm {
	return p | q
}

// Has is true if every element of q is in p.
func (p Perm) Has(q Perm) bool {
	return p&q == q
}

func (p Perm) String() string {
	b := []byte("----")
	if p.Has(PermR) {
		b[0] = 'r'
	}
	if p.Has(PermW) {
		b[1] = 'w'
	}
	if p.Has(PermX) {
		b[2] = 'x'
	}
	if p.Has(PermU) {
		b[3] = 'u'
	}
	return string(b)
}
