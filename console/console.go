// Package console adapts hal.Console_i (the adaptation layer's
// console_putc/keyboard-scancode boundary) into an fdops.Fdops_i, so a
// process's stdin/stdout descriptors are ordinary file descriptors like
// any other. Buffered input rides circbuf.Circbuf_t the same way a pipe
// or socket would, rather than a bespoke ring buffer.
package console

import (
	"eduos/circbuf"
	"eduos/defs"
	"eduos/fdops"
	"eduos/hal"
	"eduos/mem"
)

/// Cons_t is one console descriptor backing fd 0/1/2 of init and
/// anything it forks; every process shares the same underlying device.
type Cons_t struct {
	dev hal.Console_i
	in  circbuf.Circbuf_t
}

/// MkCons wraps dev as a readable/writable file descriptor.
func MkCons(dev hal.Console_i) *Cons_t {
	c := &Cons_t{dev: dev}
	c.in.Cb_init(mem.PGSIZE, mem.Physmem)
	return c
}

// drain pulls whatever the keyboard handler has queued into the
// circular buffer so Read has something to hand back without blocking
// the whole kernel on a single byte at a time.
func (c *Cons_t) drain() {
	for !c.in.Full() {
		b, ok := c.dev.Pollc()
		if !ok {
			return
		}
		if err := c.in.Cb_ensure(); err != 0 {
			return
		}
		r1, _ := c.in.Rawwrite(0, 1)
		r1[0] = b
		c.in.Advhead(1)
	}
}

func (c *Cons_t) Close() defs.Err_t { return 0 }

func (c *Cons_t) Fstat(st fdops.StatAdapter_i) defs.Err_t {
	st.Wmode(0620 | (1 << 30)) // character device, parallel to fsFops_t's directory bit
	return 0
}

func (c *Cons_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

func (c *Cons_t) Mmapi(off, length int, inherit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}

func (c *Cons_t) Pathi() (string, defs.Err_t) { return "", -defs.EINVAL }

func (c *Cons_t) Read(io fdops.Userio_i) (int, defs.Err_t) {
	c.drain()
	if c.in.Empty() {
		return 0, 0
	}
	return c.in.Copyout(io)
}

func (c *Cons_t) Pread(io fdops.Userio_i, offset int) (int, defs.Err_t) { return c.Read(io) }

func (c *Cons_t) Write(io fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, io.Remain())
	n, err := io.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	for _, b := range buf[:n] {
		c.dev.Putb(b)
	}
	return n, 0
}

func (c *Cons_t) Pwrite(io fdops.Userio_i, offset int) (int, defs.Err_t) { return c.Write(io) }

func (c *Cons_t) Reopen() defs.Err_t { return 0 }

func (c *Cons_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }

func (c *Cons_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	c.drain()
	r := fdops.R_WRITE
	if !c.in.Empty() {
		r |= fdops.R_READ
	}
	return r, 0
}
