package hal

import (
	"bufio"
	"os"
)

/// StdioConsole implements Console_i over the host process's own
/// stdin/stdout, the simulation-side counterpart of the VGA
/// text-buffer/PS-2 keyboard pair named in the adaptation-layer
/// boundary (console_putc, keyboard scancodes); a real port swaps this
/// for a driver talking to actual hardware without any caller above it
/// noticing.
type StdioConsole struct {
	out *bufio.Writer
	in  chan byte
}

/// MkStdioConsole starts a reader goroutine draining os.Stdin into a
/// small channel, so Pollc never blocks the caller waiting on a human.
func MkStdioConsole() *StdioConsole {
	c := &StdioConsole{
		out: bufio.NewWriter(os.Stdout),
		in:  make(chan byte, 256),
	}
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				c.in <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *StdioConsole) Putb(b byte) {
	c.out.WriteByte(b)
	if b == '\n' {
		c.out.Flush()
	}
}

func (c *StdioConsole) Pollc() (byte, bool) {
	select {
	case b := <-c.in:
		return b, true
	default:
		return 0, false
	}
}
