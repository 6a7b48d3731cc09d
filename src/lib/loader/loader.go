package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"serenity/src/lib/abi"
)

type LoaderError int

const LoaderNoError LoaderError = 0
const LoaderCannotAttachElf LoaderError = -1
const LoaderNoLoadableSegment LoaderError = -2
const LoaderCannotReadSegment LoaderError = -3
const LoaderEmptyImage LoaderError = -4

func (e LoaderError) Error() string {
	return e.String()
}

func (e LoaderError) String() string {
	switch e {
	case LoaderNoError:
		return "LoaderNoError"
	case LoaderCannotAttachElf:
		return "LoaderCannotAttachElf"
	case LoaderNoLoadableSegment:
		return "LoaderNoLoadableSegment"
	case LoaderCannotReadSegment:
		return "LoaderCannotReadSegment"
	case LoaderEmptyImage:
		return "LoaderEmptyImage"
	default:
		return "unknown loader error code"
	}
}

// App is one application of the batch: the bytes that get placed in its
// address space and the code that runs in user mode.
type App struct {
	Name  string
	Image []byte
	Main  abi.Program
}

// Loader holds the fixed set of applications known at boot.
type Loader struct {
	apps []App
}

func New(apps ...App) *Loader {
	return &Loader{apps: apps}
}

func (l *Loader) AppCount() int {
	return len(l.apps)
}

func (l *Loader) ImageFor(i int) []byte {
	return l.apps[i].Image
}

func (l *Loader) App(i int) App {
	return l.apps[i]
}

// Segment is a piece of an image to copy to Offset bytes above the image base.
type Segment struct {
	Offset  uint64
	Data    []byte
	MemSize uint64
}

func isElf(image []byte) bool {
	return len(image) >= 4 && bytes.Equal(image[:4], []byte(elf.ELFMAG))
}

// Segments splits an image into the parts that must be loaded.  A raw
// binary is a single segment; an ELF file contributes one segment per
// PT_LOAD program header, placed relative to the lowest one.
func Segments(image []byte) ([]Segment, LoaderError) {
	if len(image) == 0 {
		return nil, LoaderEmptyImage
	}
	if !isElf(image) {
		return []Segment{{Offset: 0, Data: image, MemSize: uint64(len(image))}}, LoaderNoError
	}
	fp, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, LoaderCannotAttachElf
	}
	defer fp.Close()

	lowest := ^uint64(0)
	for _, prog := range fp.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < lowest {
			lowest = prog.Vaddr
		}
	}
	var result []Segment
	for _, prog := range fp.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil && prog.Filesz > 0 {
			return nil, LoaderCannotReadSegment
		}
		result = append(result, Segment{Offset: prog.Vaddr - lowest, Data: data, MemSize: prog.Memsz})
	}
	if len(result) == 0 {
		return nil, LoaderNoLoadableSegment
	}
	return result, LoaderNoError
}

// ImageSize is how many bytes the image occupies once loaded, bss included.
func ImageSize(image []byte) (uint64, LoaderError) {
	segs, lerr := Segments(image)
	if lerr != LoaderNoError {
		return 0, lerr
	}
	return SegmentsSize(segs), LoaderNoError
}

// SegmentsSize is the loaded size of segs: the furthest end of any of them.
func SegmentsSize(segs []Segment) uint64 {
	size := uint64(0)
	for _, s := range segs {
		if end := s.Offset + s.MemSize; end > size {
			size = end
		}
	}
	return size
}

// LoadDir reads every *.bin and *.elf file in dir, in name order, and pairs
// it with the program registered under the file's base name.
func LoadDir(dir string, programs map[string]abi.Program) (*Loader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".bin", ".elf":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	l := &Loader{}
	for _, n := range names {
		base := strings.TrimSuffix(n, filepath.Ext(n))
		prog, ok := programs[base]
		if !ok {
			return nil, fmt.Errorf("image %s: no program named %q", n, base)
		}
		image, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		if _, lerr := ImageSize(image); lerr != LoaderNoError {
			return nil, fmt.Errorf("image %s: %w", n, lerr)
		}
		l.apps = append(l.apps, App{Name: base, Image: image, Main: prog})
	}
	if len(l.apps) == 0 {
		return nil, fmt.Errorf("no application images in %s", dir)
	}
	return l, nil
}
