// Package ladies holds the demo applications the kernel runs when no image
// directory is given.
package ladies

import (
	"serenity/src/hardware/mmu"
	"serenity/src/lib/abi"
	"serenity/src/lib/loader"
	"serenity/src/lib/user"
)

// mmapBase is well above any image and below the stack of every app here.
const mmapBase = 0x1000_0000

type app struct {
	name string
	main abi.Program
}

var all = []app{
	{"00_power", power},
	{"01_sleep", sleep},
	{"02_mmap", mmapRW},
	{"03_munmap", munmap},
	{"04_taskinfo", taskInfo},
	{"05_badaddr", badAddr},
}

// Programs maps application names to their code, for loader.LoadDir.
func Programs() map[string]abi.Program {
	result := make(map[string]abi.Program, len(all))
	for _, a := range all {
		result[a.name] = a.main
	}
	return result
}

// Apps is the built in batch, with a raw image of a page and a half for
// each program.
func Apps() []loader.App {
	result := make([]loader.App, len(all))
	for i, a := range all {
		result[i] = loader.App{Name: a.name, Image: Image(a.name), Main: a.main}
	}
	return result
}

func Image(name string) []byte {
	image := make([]byte, mmu.PageSize+mmu.PageSize/2)
	copy(image, "serenity:"+name)
	return image
}

const powerIterations = 20000
const powerModulus = 998244353

// power computes 3^n mod p, printing progress.
func power(cpu abi.CPU) int32 {
	p := uint64(1)
	for i := 1; i <= powerIterations; i++ {
		cpu.Step()
		p = p * 3 % powerModulus
		if i%(powerIterations/4) == 0 {
			user.Printf(cpu, "power_3 [%d/%d]\n", i, powerIterations)
		}
	}
	user.Printf(cpu, "3^%d = %d(MOD %d)\n", powerIterations, p, powerModulus)
	user.Printf(cpu, "Test power_3 OK!\n")
	return 0
}

func sleep(cpu abi.CPU) int32 {
	start := user.GetTimeMs(cpu)
	user.Sleep(cpu, 100)
	if user.GetTimeMs(cpu) < start+100 {
		user.Printf(cpu, "sleep woke early\n")
		return 1
	}
	user.Printf(cpu, "Test sleep OK!\n")
	return 0
}

func mmapRW(cpu abi.CPU) int32 {
	if user.Mmap(cpu, mmapBase, mmu.PageSize, 0b011) != 0 {
		user.Printf(cpu, "mmap failed\n")
		return 1
	}
	for i := uint64(0); i < mmu.PageSize; i += 512 {
		b := []byte{byte(i >> 9)}
		_ = cpu.Store(mmapBase+i, b)
		_ = cpu.Load(mmapBase+i, b)
		if b[0] != byte(i>>9) {
			user.Printf(cpu, "mmap readback mismatch at %#x\n", mmapBase+i)
			return 1
		}
	}
	if user.Mmap(cpu, mmapBase, mmu.PageSize, 0b011) != -1 {
		user.Printf(cpu, "overlapping mmap succeeded\n")
		return 1
	}
	if user.Mmap(cpu, mmapBase+mmu.PageSize, mmu.PageSize, 0b1000) != -1 {
		user.Printf(cpu, "bad port accepted\n")
		return 1
	}
	user.Printf(cpu, "Test mmap OK!\n")
	return 0
}

func munmap(cpu abi.CPU) int32 {
	if user.Mmap(cpu, mmapBase, 2*mmu.PageSize, 0b011) != 0 {
		return 1
	}
	if user.Munmap(cpu, mmapBase, mmu.PageSize) != 0 {
		user.Printf(cpu, "munmap of first page failed\n")
		return 1
	}
	if user.Munmap(cpu, mmapBase, 2*mmu.PageSize) != -1 {
		user.Printf(cpu, "munmap of partly unmapped range succeeded\n")
		return 1
	}
	if user.Munmap(cpu, mmapBase+mmu.PageSize, mmu.PageSize) != 0 {
		return 1
	}
	if user.Munmap(cpu, mmapBase+mmu.PageSize, mmu.PageSize) != -1 {
		user.Printf(cpu, "second munmap succeeded\n")
		return 1
	}
	user.Printf(cpu, "Test munmap OK!\n")
	return 0
}

// taskInfo puts the result across the boundary of the two stack pages.
func taskInfo(cpu abi.CPU) int32 {
	user.Yield(cpu)
	if user.SetPriority(cpu, 5) != -1 {
		user.Printf(cpu, "set_priority should be disabled\n")
		return 1
	}
	at := cpu.StackPointer() - mmu.PageSize - abi.TaskInfoSize/2
	ti, r := user.TaskInfoAt(cpu, at)
	if r != 0 {
		user.Printf(cpu, "task_info failed\n")
		return 1
	}
	ok := ti.Status == 2 &&
		ti.SyscallTimes[abi.SysYield] == 1 &&
		ti.SyscallTimes[abi.SysSetPriority] == 1 &&
		ti.SyscallTimes[abi.SysTaskInfo] == 1
	if !ok {
		user.Printf(cpu, "unexpected task info: status %d, yield %d, task_info %d\n",
			ti.Status, ti.SyscallTimes[abi.SysYield], ti.SyscallTimes[abi.SysTaskInfo])
		return 1
	}
	user.Printf(cpu, "Test task info OK!\n")
	return 0
}

// badAddr stores to page zero, which no app has mapped.
func badAddr(cpu abi.CPU) int32 {
	_ = cpu.Store(0, []byte{42})
	user.Printf(cpu, "store to a null pointer went through\n")
	return 0
}
