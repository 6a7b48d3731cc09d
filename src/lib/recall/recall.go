// Package recall remembers which task had the cpu when, and can draw it.
package recall

import (
	"fmt"
	"io"
	"sync"

	"github.com/fogleman/gg"
)

// Slice is one stretch of time a task ran for.
type Slice struct {
	Task  int
	Start uint64
	End   uint64
}

// Timeline is a scheduler tracer.  Times are microseconds.
type Timeline struct {
	mu      sync.Mutex
	slices  []Slice
	open    *Slice
	exits   map[int]int32
	maxTask int
	first   uint64
	last    uint64
}

func NewTimeline() *Timeline {
	return &Timeline{exits: make(map[int]int32), maxTask: -1}
}

func (t *Timeline) note(at uint64, task int) {
	if len(t.slices) == 0 && t.open == nil {
		t.first = at
	}
	if at > t.last {
		t.last = at
	}
	if task > t.maxTask {
		t.maxTask = task
	}
}

func (t *Timeline) close(at uint64) {
	if t.open == nil {
		return
	}
	t.open.End = at
	t.slices = append(t.slices, *t.open)
	t.open = nil
}

func (t *Timeline) OnSwitch(from, to int, atMicros uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.note(atMicros, to)
	t.close(atMicros)
	t.open = &Slice{Task: to, Start: atMicros}
}

func (t *Timeline) OnExit(task int, code int32, atMicros uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.note(atMicros, task)
	if t.open != nil && t.open.Task == task {
		t.close(atMicros)
	}
	t.exits[task] = code
}

// Slices are the finished slices in time order.
func (t *Timeline) Slices() []Slice {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]Slice, len(t.slices))
	copy(result, t.slices)
	return result
}

// ExitCode reports the code task exited with, if it has.
func (t *Timeline) ExitCode(task int) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.exits[task]
	return c, ok
}

const rowGap = 4
const labelWidth = 40

var palette = [][3]float64{
	{0.90, 0.30, 0.24},
	{0.20, 0.60, 0.86},
	{0.18, 0.80, 0.44},
	{0.95, 0.77, 0.06},
	{0.61, 0.35, 0.71},
	{0.90, 0.49, 0.13},
	{0.10, 0.74, 0.61},
	{0.50, 0.55, 0.55},
}

// RenderPNG draws one row per task, a bar for every slice, and an x for
// tasks that exited with a non zero code.
func (t *Timeline) RenderPNG(w io.Writer, width, height int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxTask < 0 {
		return fmt.Errorf("timeline is empty")
	}
	if width <= labelWidth || height <= 0 {
		return fmt.Errorf("bad image size %dx%d", width, height)
	}
	rows := t.maxTask + 1
	rowHeight := float64(height)/float64(rows) - rowGap
	span := float64(t.last - t.first)
	if span == 0 {
		span = 1
	}
	scale := float64(width-labelWidth) / span

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for task := 0; task < rows; task++ {
		y := float64(task) * (rowHeight + rowGap)
		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%d", task), 8, y+rowHeight/2+4)
		dc.SetRGB(0.93, 0.93, 0.93)
		dc.DrawRectangle(labelWidth, y, float64(width-labelWidth), rowHeight)
		dc.Fill()
	}
	for _, s := range t.slices {
		c := palette[s.Task%len(palette)]
		dc.SetRGB(c[0], c[1], c[2])
		x := labelWidth + float64(s.Start-t.first)*scale
		wd := float64(s.End-s.Start) * scale
		if wd < 1 {
			wd = 1
		}
		y := float64(s.Task) * (rowHeight + rowGap)
		dc.DrawRectangle(x, y, wd, rowHeight)
		dc.Fill()
	}
	for task, code := range t.exits {
		if code == 0 {
			continue
		}
		y := float64(task) * (rowHeight + rowGap)
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(2)
		dc.DrawLine(labelWidth-14, y+2, labelWidth-4, y+rowHeight-2)
		dc.DrawLine(labelWidth-14, y+rowHeight-2, labelWidth-4, y+2)
		dc.Stroke()
	}
	return dc.EncodePNG(w)
}
