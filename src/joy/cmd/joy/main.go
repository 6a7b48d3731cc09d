package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tty "github.com/mattn/go-tty"

	"serenity/src/hardware/mmu"
	"serenity/src/hardware/timer"
	"serenity/src/joy"
	"serenity/src/ladies"
	"serenity/src/lib/loader"
	"serenity/src/lib/recall"
	"serenity/src/lib/trust"
	"serenity/src/lib/upbeat"
)

var helpFlag = flag.Bool("h", false, "get usage info")
var appsDir = flag.String("apps", "", "directory of application images (default: built in demo apps)")
var memFrames = flag.Uint("mem", joy.DefaultFrames, "physical memory size in 4KiB frames (multiple of 64)")
var slice = flag.Duration("slice", timer.DefaultSlice, "scheduling time slice")
var verbose = flag.Int("v", 0, "verbosity level: 0 info (default), 1 debug")
var ttyPath = flag.String("tty", "", "send application output to this terminal device")
var timelinePath = flag.String("timeline", "", "write a png of the schedule to this file")

type options struct {
	AppsDir  string
	Frames   uint32
	Slice    time.Duration
	Verbose  int
	TTY      string
	Timeline string
}

func main() {
	flag.Parse()
	if *helpFlag {
		usage()
	}
	opts := &options{
		AppsDir:  *appsDir,
		Frames:   uint32(*memFrames),
		Slice:    *slice,
		Verbose:  *verbose,
		TTY:      *ttyPath,
		Timeline: *timelinePath,
	}
	os.Exit(run(opts))
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: joy [-apps dir] [-mem frames] [-slice d] [-v level] [-tty device] [-timeline out.png]\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func run(opts *options) int {
	if opts.Verbose > 0 {
		trust.SetLevel(trust.DebugMask)
	}
	var apps joy.Loader
	if opts.AppsDir == "" {
		apps = loader.New(ladies.Apps()...)
	} else {
		l, err := loader.LoadDir(opts.AppsDir, ladies.Programs())
		if err != nil {
			trust.Errorf("unable to load applications: %v", err)
			return 1
		}
		apps = l
	}

	frames, err := upbeat.NewFrameAllocator(upbeat.NewPhysMemory(opts.Frames))
	if err != nil {
		trust.Errorf("bad memory size %d: %v", opts.Frames, err)
		return 1
	}

	var console io.Writer = os.Stdout
	if opts.TTY != "" {
		t, err := tty.OpenDevice(opts.TTY)
		if err != nil {
			trust.Errorf("unable to open %s: %v", opts.TTY, err)
			return 1
		}
		defer t.Close()
		restore := t.MustRaw()
		defer restore()
		console = joy.NewConsole(t.Output(), true)
	}

	var timeline *recall.Timeline
	cfg := joy.Config{
		Loader:    apps,
		PageTable: mmu.New(frames),
		Clock:     timer.NewSystemClock(),
		Console:   console,
		Logger:    trust.Default(),
		TimeSlice: opts.Slice,
	}
	if opts.Timeline != "" {
		timeline = recall.NewTimeline()
		cfg.Tracer = timeline
	}
	k, err := joy.NewKernel(cfg)
	if err != nil {
		trust.Errorf("unable to start kernel: %v", err)
		return 1
	}
	trust.Infof("[kernel] %s", k.Run())

	if timeline != nil {
		fp, err := os.Create(opts.Timeline)
		if err != nil {
			trust.Errorf("unable to create %s: %v", opts.Timeline, err)
			return 1
		}
		defer fp.Close()
		if err := timeline.RenderPNG(fp, 1024, 48*k.TaskManager().Len()); err != nil {
			trust.Errorf("unable to render timeline: %v", err)
			return 1
		}
	}
	return 0
}
