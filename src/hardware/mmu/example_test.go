package mmu_test

import (
	"fmt"

	"serenity/src/hardware/mmu"
)

func ExampleVirtAddr_Ceil() {
	start, end := mmu.VirtAddr(0x10010), mmu.VirtAddr(0x12000)
	fmt.Println(start.Floor(), end.Ceil(), start.Aligned(), end.Aligned())
	// Output: 16 18 false true
}
