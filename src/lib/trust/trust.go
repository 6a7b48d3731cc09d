package trust

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80
)

// Logger writes level-masked messages to a single writer.  The zero value is
// not usable, use NewLogger.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
	level  MaskLevel
	exit   func(int)
}

var std = NewLogger(os.Stdout, "")

// NewLogger returns a logger that prints everything but debug messages to w.
// The prefix, if any, is printed after the level marker.
func NewLogger(w io.Writer, prefix string) *Logger {
	return &Logger{
		out:    w,
		prefix: prefix,
		level:  fatalMask | StatsMask | ErrorMask | WarnMask | InfoMask,
		exit:   os.Exit,
	}
}

// Default returns the package level logger used by Errorf, Infof and friends.
func Default() *Logger {
	return std
}

// SetLevel lets you set an error mask directly. You can pass in something like
// ErrorMask | DebugMask to control exactly what gets printed.  It returns the
// previous mask.
func (l *Logger) SetLevel(mask MaskLevel) MaskLevel {
	result := Nothing
	switch {
	case mask&DebugMask > 0:
		result |= DebugMask
		fallthrough
	case mask&InfoMask > 0:
		result |= InfoMask
		fallthrough
	case mask&WarnMask > 0:
		result |= WarnMask
		fallthrough
	case mask&ErrorMask > 0:
		result |= ErrorMask
	}
	result |= mask & StatsMask
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.level & 0x1f
	l.level = result | fatalMask
	return r
}

func (l *Logger) Level() MaskLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetOutput changes where messages go.  It returns the previous writer.
func (l *Logger) SetOutput(w io.Writer) io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.out
	l.out = w
	return prev
}

// SetExit replaces the function Fatalf calls after printing.  Tests use
// this to keep the process alive.
func (l *Logger) SetExit(fn func(int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exit = fn
}

func (l *Logger) LevelToString() string {
	level := l.Level()
	result := ""
	if level&ErrorMask > 0 {
		result += "error "
	}
	if level&WarnMask > 0 {
		result += "warn "
	}
	if level&InfoMask > 0 {
		result += "info "
	}
	if level&DebugMask > 0 {
		result += "debug "
	}
	if level&StatsMask > 0 {
		result += "stats"
	}
	return result
}

func (l *Logger) logf(m MaskLevel, format string, params ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level&m == 0 {
		return
	}
	start := 0
	marker := ""
	switch {
	case m&fatalMask > 0:
		marker = "FATAL:"
	case m&ErrorMask > 0:
		marker = "ERROR:"
	case m&WarnMask > 0:
		marker = " WARN:"
	case m&InfoMask > 0:
		marker = " INFO:"
	case m&DebugMask > 0:
		marker = "DEBUG:"
	case m&StatsMask > 0:
		s, ok := params[0].(string)
		if !ok {
			s = "unknown"
		}
		marker = fmt.Sprintf("STATS[%s]:", s)
		start = 1
	}
	if len(format) == 0 {
		format = "\n"
	} else if format[len(format)-1] != '\n' {
		format += "\n"
	}
	fmt.Fprint(l.out, marker, l.prefix)
	fmt.Fprintf(l.out, format, params[start:]...)
}

//Fatalf prints the given log message (format + params) and then calls the
//exit function with the exitCode provided.  Fatalf is not maskable.
func (l *Logger) Fatalf(exitCode int, format string, params ...interface{}) {
	l.logf(fatalMask, format, params...)
	l.mu.Lock()
	exit := l.exit
	l.mu.Unlock()
	exit(exitCode)
}

func (l *Logger) Errorf(format string, params ...interface{}) {
	l.logf(ErrorMask, format, params...)
}

func (l *Logger) Warnf(format string, params ...interface{}) {
	l.logf(WarnMask, format, params...)
}

func (l *Logger) Infof(format string, params ...interface{}) {
	l.logf(InfoMask, format, params...)
}

func (l *Logger) Debugf(format string, params ...interface{}) {
	l.logf(DebugMask, format, params...)
}

// Statsf takes an extra parameter that will be visible in the log message as
// the category of stats that is reported.
func (l *Logger) Statsf(category string, format string, params ...interface{}) {
	l.logf(StatsMask, format, append([]interface{}{category}, params...)...)
}

func SetLevel(mask MaskLevel) MaskLevel {
	return std.SetLevel(mask)
}

func Level() MaskLevel {
	return std.Level()
}

func SetOutput(w io.Writer) io.Writer {
	return std.SetOutput(w)
}

//Fatalf prints the given log message (format + params) on the default logger
//and then exits with the exitCode provided.  Fatalf is not maskable.
func Fatalf(exitCode int, format string, params ...interface{}) {
	std.Fatalf(exitCode, format, params...)
}

//Errorf prints the given log message (format + params) using the ErrorMask level.
func Errorf(format string, params ...interface{}) {
	std.Errorf(format, params...)
}

//Warnf prints the given log message (format + params) using the WarnMask level.
func Warnf(format string, params ...interface{}) {
	std.Warnf(format, params...)
}

//Infof prints the given log message (format + params) using the InfoMask level.
func Infof(format string, params ...interface{}) {
	std.Infof(format, params...)
}

//Debugf prints the given log message (format + params) using the DebugMask level.
func Debugf(format string, params ...interface{}) {
	std.Debugf(format, params...)
}

//Statsf prints the given log message (format + params) using the StatsMask level.
func Statsf(category string, format string, params ...interface{}) {
	std.Statsf(category, format, params...)
}
