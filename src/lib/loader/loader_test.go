package loader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"serenity/src/lib/abi"
)

// tinyElf builds a RISC-V executable with one PT_LOAD segment holding
// payload followed by bss bytes of zeroes.
func tinyElf(payload []byte, bss uint64) []byte {
	const ehsize, phsize = 64, 56
	b := make([]byte, ehsize+phsize+len(payload))
	copy(b, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le := binary.LittleEndian
	le.PutUint16(b[16:], 2)   // ET_EXEC
	le.PutUint16(b[18:], 243) // EM_RISCV
	le.PutUint32(b[20:], 1)
	le.PutUint64(b[24:], 0x80400000)
	le.PutUint64(b[32:], ehsize)
	le.PutUint16(b[52:], ehsize)
	le.PutUint16(b[54:], phsize)
	le.PutUint16(b[56:], 1)
	le.PutUint16(b[58:], 64)
	ph := b[ehsize:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 5)
	le.PutUint64(ph[8:], ehsize+phsize)
	le.PutUint64(ph[16:], 0x80400000)
	le.PutUint64(ph[24:], 0x80400000)
	le.PutUint64(ph[32:], uint64(len(payload)))
	le.PutUint64(ph[40:], uint64(len(payload))+bss)
	le.PutUint64(ph[48:], 0x1000)
	copy(b[ehsize+phsize:], payload)
	return b
}

func TestImageSizeRaw(t *testing.T) {
	size, lerr := ImageSize(make([]byte, 5000))
	if lerr != LoaderNoError || size != 5000 {
		t.Errorf("raw image: got size %d err %s", size, lerr)
	}
	if _, lerr := ImageSize(nil); lerr != LoaderEmptyImage {
		t.Errorf("empty image: expected LoaderEmptyImage, got %s", lerr)
	}
}

func TestSegmentsSizeIsFurthestEnd(t *testing.T) {
	segs := []Segment{
		{Offset: 0x2000, Data: make([]byte, 16), MemSize: 0x100},
		{Offset: 0, Data: make([]byte, 8), MemSize: 0x800},
	}
	if got := SegmentsSize(segs); got != 0x2100 {
		t.Errorf("expected %#x, got %#x", 0x2100, got)
	}
	if got := SegmentsSize(nil); got != 0 {
		t.Errorf("no segments should be size 0, got %d", got)
	}
}

func TestImageSizeElfIncludesBss(t *testing.T) {
	image := tinyElf([]byte("text and data"), 0x100)
	size, lerr := ImageSize(image)
	if lerr != LoaderNoError {
		t.Fatalf("unexpected loader error %s", lerr)
	}
	if size != uint64(len("text and data"))+0x100 {
		t.Errorf("unexpected size %d", size)
	}
	segs, _ := Segments(image)
	if len(segs) != 1 || segs[0].Offset != 0 || string(segs[0].Data) != "text and data" {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestLoadDirPairsImagesWithPrograms(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "01_second.bin"), []byte{2}, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "00_first.elf"), tinyElf([]byte{1}, 0), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644)
	prog := func(abi.CPU) int32 { return 0 }
	l, err := LoadDir(dir, map[string]abi.Program{"00_first": prog, "01_second": prog})
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if l.AppCount() != 2 {
		t.Fatalf("expected 2 apps, got %d", l.AppCount())
	}
	if l.App(0).Name != "00_first" || l.App(1).Name != "01_second" {
		t.Errorf("apps not in name order: %s, %s", l.App(0).Name, l.App(1).Name)
	}
	if len(l.ImageFor(1)) != 1 {
		t.Errorf("wrong image for app 1")
	}

	_ = os.WriteFile(filepath.Join(dir, "02_stranger.bin"), []byte{3}, 0o644)
	if _, err := LoadDir(dir, map[string]abi.Program{"00_first": prog, "01_second": prog}); err == nil {
		t.Errorf("expected error for image without a program")
	}
}
