// Package acia implements the ACIA character driver from spec.md 4.E: an
// asynchronous one-byte-at-a-time UART, served either in Interrupt mode
// (client calls serialised by semaphores, bytes pushed by interrupt
// handlers) or BusyWait mode (the wait inlined into the client call,
// interrupt handlers unused). Grounded on original_source/drivers/drvACIA.cc
// for the protocol and on the teacher module's circbuf.Circbuf_t for the
// index-bookkeeping style.
package acia

import (
	"sync"

	"vmkern/sched"
)

// Mode selects how TtySend/TtyReceive wait for the UART, fixed at
// construction.
type Mode int

const (
	Interrupt Mode = iota
	BusyWait
)

// Working-mode mask bits accepted by UART.SetWorkingMode.
const (
	RecInterrupt  = 1 << 0
	SendInterrupt = 1 << 1
)

// UART is the machine model's ACIA register interface.
type UART interface {
	PutChar(c byte)
	GetChar() byte
	SetWorkingMode(mask int)
}

const bufSize = 256

// Driver_t is the ACIA driver. TtySend/TtyReceive are the client-facing
// calls; InterruptSend/InterruptReceive are invoked by the machine model
// on UART events and are only meaningful in Interrupt mode.
type Driver_t struct {
	mode Mode
	uart UART

	mu      sync.Mutex
	sendBuf [bufSize]byte
	indSend int
	recvBuf [bufSize]byte
	indRec  int

	sendSema *sched.Sema_t
	recvSema *sched.Sema_t
}

// New constructs a driver over uart in the given mode. In Interrupt mode
// it arms both interrupt sources immediately, as the original
// constructor does.
func New(mode Mode, uart UART) *Driver_t {
	d := &Driver_t{mode: mode, uart: uart}
	if mode == Interrupt {
		d.sendSema = sched.NewSema(1)
		d.recvSema = sched.NewSema(0)
		d.indSend = 1
		uart.SetWorkingMode(RecInterrupt | SendInterrupt)
	}
	return d
}

func zeroTerminated(buf []byte) []byte {
	for i, c := range buf {
		if c == 0 {
			return buf[:i+1]
		}
	}
	return buf
}

// TtySend transmits buf up to and including its first zero byte. self is
// the calling guest thread: required (non-nil) in Interrupt mode, since
// send_sema.P may block it; optional in BusyWait mode, where it is only
// used to yield between bytes (pass nil outside the cooperative
// scheduler).
func (d *Driver_t) TtySend(self *sched.Thread_t, buf []byte) {
	msg := zeroTerminated(buf)

	if d.mode == Interrupt {
		d.sendSema.P(self)
		d.mu.Lock()
		copy(d.sendBuf[:], msg)
		d.indSend = 0
		first := d.sendBuf[0]
		d.mu.Unlock()
		d.uart.PutChar(first)
		return
	}

	for _, c := range msg {
		d.uart.PutChar(c)
		if c == 0 {
			break
		}
		if self != nil {
			self.Yield()
		}
	}
}

// TtyReceive copies into buf up to len(buf) bytes, or up to and
// including the first zero byte, whichever is shorter, null-terminating
// the output when the copy stops short of len(buf) because of a zero
// byte. It returns the number of bytes written. This does not reproduce
// the source driver's "borne = lg" bug, which always copied the full
// requested length regardless of where the terminating byte fell.
func (d *Driver_t) TtyReceive(self *sched.Thread_t, buf []byte) int {
	if d.mode == Interrupt {
		d.recvSema.P(self)
		d.mu.Lock()
		n := d.copyReceivedLocked(buf)
		d.indRec = 0
		d.mu.Unlock()
		return n
	}

	d.mu.Lock()
	d.indRec = 0
	d.mu.Unlock()
	for {
		c := d.uart.GetChar()
		d.mu.Lock()
		if d.indRec < len(d.recvBuf) {
			d.recvBuf[d.indRec] = c
		}
		d.indRec++
		d.mu.Unlock()
		if c == 0 {
			break
		}
		if self != nil {
			self.Yield()
		}
	}
	d.mu.Lock()
	n := d.copyReceivedLocked(buf)
	d.mu.Unlock()
	return n
}

// copyReceivedLocked implements TtyReceive's copy contract. Must be
// called with d.mu held.
func (d *Driver_t) copyReceivedLocked(buf []byte) int {
	limit := d.indRec
	if limit > len(buf) {
		limit = len(buf)
	}
	for i := 0; i < limit; i++ {
		buf[i] = d.recvBuf[i]
		if buf[i] == 0 {
			return i + 1
		}
	}
	if limit < len(buf) {
		buf[limit] = 0
		return limit + 1
	}
	return limit
}

// InterruptSend is the send-complete interrupt handler: it pushes the
// next queued byte, or, once the terminating zero has gone out, releases
// send_sema so the next TtySend can proceed.
func (d *Driver_t) InterruptSend() {
	d.mu.Lock()
	if d.sendBuf[d.indSend] != 0 {
		d.indSend++
		next := d.sendBuf[d.indSend]
		d.mu.Unlock()
		d.uart.PutChar(next)
		return
	}
	d.mu.Unlock()
	d.sendSema.V()
}

// InterruptReceive is the byte-received interrupt handler: it stores the
// incoming byte and, on a terminating zero, releases recv_sema so a
// blocked TtyReceive can proceed.
func (d *Driver_t) InterruptReceive() {
	c := d.uart.GetChar()
	d.mu.Lock()
	if d.indRec < len(d.recvBuf) {
		d.recvBuf[d.indRec] = c
	}
	if c == 0 {
		d.mu.Unlock()
		d.recvSema.V()
		return
	}
	d.indRec++
	d.mu.Unlock()
}
