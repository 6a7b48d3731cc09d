package loader

import "serenity/src/hardware/mmu"

// total addressable size of a user process is mmu.MaxVA (256GB)

// user process image is placed here, whatever address it was linked at
const UserImageBase = mmu.VirtAddr(0x1_0000)

// one unmapped guard page between the image and the stack
const UserGuardPages = 1
const UserStackPages = 2

// the top page is reserved for the trampoline (never mapped for users), the
// trap frame is just below it and is not user accessible
const TrampolineVA = mmu.MaxVA - mmu.PageSize
const TrapFrameVA = TrampolineVA - mmu.PageSize
