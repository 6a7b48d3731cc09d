package joy

import (
	"bytes"
	"io"
)

// Console is where the write syscall sends bytes.  A terminal in raw mode
// wants "\r\n" for every newline, so the console can add the carriage
// return the way a uart driver would.
type Console struct {
	out  io.Writer
	crlf bool
}

func NewConsole(out io.Writer, crlf bool) *Console {
	return &Console{out: out, crlf: crlf}
}

func (c *Console) Write(p []byte) (int, error) {
	if !c.crlf || bytes.IndexByte(p, '\n') < 0 {
		return c.out.Write(p)
	}
	expanded := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	if _, err := c.out.Write(expanded); err != nil {
		return 0, err
	}
	return len(p), nil
}
