// Package threewire implements the host side of the half-duplex,
// three-wire synchronous serial bus used by the Sony Felica Plug
// contactless front-end.
//
// The bus has a select line, a clock line and a single shared data
// line. The host always generates the clock; it only drives the data
// line between BeginSend and the matching End. At all other times the
// data line is an input so the peer is free to drive it.
package threewire

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// bitDelay separates every clock transition from the next. The chip
// specifies a maximum bus speed of 1 MHz; one microsecond per clock
// phase stays inside that limit.
const bitDelay = 1 * time.Microsecond

// Bus drives one three-wire bus. It assumes exclusive ownership of its
// pins and a single caller at a time; no operation may be invoked
// concurrently with another.
type Bus struct {
	sel, clk, data gpio.PinIO
	delay          func(time.Duration)
}

type Option func(*Bus)

// WithDelay substitutes the wait used between clock transitions. Tests
// use it to record or skip the per-bit waits.
func WithDelay(f func(time.Duration)) Option {
	return func(b *Bus) {
		b.delay = f
	}
}

// New returns a bus over the three pins. The pins are not touched
// until Configure.
func New(sel, clk, data gpio.PinIO, opts ...Option) *Bus {
	b := &Bus{
		sel:   sel,
		clk:   clk,
		data:  data,
		delay: busyWait,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// busyWait spins instead of sleeping. The scheduler cannot be relied
// on to wake a goroutine again within a microsecond.
func busyWait(d time.Duration) {
	t0 := time.Now()
	for time.Since(t0) < d {
	}
}

// Configure claims the bus: select and clock are driven to their idle
// (high) levels and the data line is released to the peer. Safe to
// call more than once.
func (b *Bus) Configure() error {
	if err := b.sel.Out(gpio.High); err != nil {
		return fmt.Errorf("threewire: select: %w", err)
	}
	if err := b.clk.Out(gpio.High); err != nil {
		return fmt.Errorf("threewire: clock: %w", err)
	}
	if err := b.data.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("threewire: data: %w", err)
	}
	return nil
}

// Close releases every line to high impedance. A transfer in progress
// is abandoned with no notification to the peer.
func (b *Bus) Close() error {
	var first error
	for _, p := range []gpio.PinIO{b.sel, b.clk, b.data} {
		if err := p.In(gpio.Float, gpio.NoEdge); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return fmt.Errorf("threewire: %w", first)
	}
	return nil
}

// BeginSend asserts select and takes over the data line, announcing a
// host-to-peer transfer. Select falls one bit delay before the data
// line starts driving, so the peer has released the line by the time
// the host takes over.
//
// The returned Sender owns the bus until End is called; receive
// operations are invalid in between.
func (b *Bus) BeginSend() (*Sender, error) {
	if err := b.sel.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("threewire: select: %w", err)
	}
	b.delay(bitDelay)
	if err := b.data.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("threewire: data: %w", err)
	}
	return &Sender{b: b}, nil
}

// ReadByte clocks one byte off the bus, most significant bit first.
// The peer presents each bit during the low clock phase. There is no
// timeout: the call completes after eight fixed-length clock cycles
// whether or not a peer is driving the line, reading high (pulled-up)
// levels otherwise.
func (b *Bus) ReadByte() (byte, error) {
	var c byte
	for i := 0; i < 8; i++ {
		if err := b.clk.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("threewire: clock: %w", err)
		}
		b.delay(bitDelay)
		c <<= 1
		if b.data.Read() == gpio.High {
			c |= 1
		}
		if err := b.clk.Out(gpio.High); err != nil {
			return 0, fmt.Errorf("threewire: clock: %w", err)
		}
		b.delay(bitDelay)
	}
	return c, nil
}

// Read fills p with bytes clocked off the bus, in order. An empty p is
// a no-op.
func (b *Bus) Read(p []byte) error {
	for i := range p {
		c, err := b.ReadByte()
		if err != nil {
			return err
		}
		p[i] = c
	}
	return nil
}

// A Sender is the bus while the host owns the data line.
type Sender struct {
	b *Bus
}

// SendByte shifts one byte onto the bus, most significant bit first.
// Each bit is presented during the low clock phase and held through
// the rising edge, where the peer samples it.
func (s *Sender) SendByte(c byte) error {
	b := s.b
	for i := 0; i < 8; i++ {
		if err := b.clk.Out(gpio.Low); err != nil {
			return fmt.Errorf("threewire: clock: %w", err)
		}
		if err := b.data.Out(gpio.Level(c&0x80 != 0)); err != nil {
			return fmt.Errorf("threewire: data: %w", err)
		}
		c <<= 1
		b.delay(bitDelay)
		if err := b.clk.Out(gpio.High); err != nil {
			return fmt.Errorf("threewire: clock: %w", err)
		}
		b.delay(bitDelay)
	}
	return nil
}

// Send shifts every byte of p onto the bus, in order. An empty p is a
// no-op.
func (s *Sender) Send(p []byte) error {
	for _, c := range p {
		if err := s.SendByte(c); err != nil {
			return err
		}
	}
	return nil
}

// End hands the data line back to the peer and releases select. The
// data line must be an input again before select rises; the two delays
// bound the hand-off window in which both sides could drive the line.
func (s *Sender) End() error {
	b := s.b
	b.delay(bitDelay)
	if err := b.data.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("threewire: data: %w", err)
	}
	b.delay(bitDelay)
	if err := b.sel.Out(gpio.High); err != nil {
		return fmt.Errorf("threewire: select: %w", err)
	}
	return nil
}
