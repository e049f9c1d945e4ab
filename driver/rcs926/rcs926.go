// Package rcs926 implements a driver for the Sony RC-S926 ("Felica
// Plug") contactless front-end.
//
// The chip is attached through the three-wire serial bus plus three
// side-band lines: SW gates the chip's power state, IRQ signals that
// the chip holds data for the host, and RFDET signals an external RF
// field (active low). The driver exchanges raw bytes only; command
// framing and Felica protocol semantics belong to higher layers.
package rcs926

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/spac3lord/nfc-smart-tag/driver/threewire"
)

// resumeDelay is the settle time required after releasing SW before
// the chip accepts any bus activity. No delay is needed on suspend.
const resumeDelay = 50 * time.Microsecond

// A WakeSource identifies one of the chip's side-band lines as a host
// wake-up trigger.
type WakeSource int

const (
	// WakeRF wakes the host on a change of the RFDET line.
	WakeRF WakeSource = iota
	// WakeIRQ wakes the host on a change of the IRQ line.
	WakeIRQ
)

// A WakeController arms the host machinery that wakes it on a pin
// change. The controller has a single top-level gate shared by all
// sources and an individual mask bit per source; a source fires only
// when both its mask and the gate are set.
type WakeController interface {
	SetGate(on bool) error
	SetMask(src WakeSource, on bool) error
}

// Device is an RC-S926 attached to one three-wire bus. It assumes a
// single caller at a time; callers arming wake sources must ensure no
// transfer is in progress when a wake handler may touch the bus.
type Device struct {
	bus   *threewire.Bus
	sw    gpio.PinIO
	irq   gpio.PinIO
	rfdet gpio.PinIO
	wake  WakeController
	delay func(time.Duration)
}

type Option func(*Device)

// WithWakeController supplies the pin-change wake machinery backing
// WakeOnRF and WakeOnIRQ. Without one, both are no-ops.
func WithWakeController(w WakeController) Option {
	return func(d *Device) {
		d.wake = w
	}
}

// WithDelay substitutes the wait used for the post-resume settle
// delay.
func WithDelay(f func(time.Duration)) Option {
	return func(d *Device) {
		d.delay = f
	}
}

// New returns a device over bus and the three side-band pins. The pins
// are not touched until Configure.
func New(bus *threewire.Bus, sw, irq, rfdet gpio.PinIO, opts ...Option) *Device {
	d := &Device{
		bus:   bus,
		sw:    sw,
		irq:   irq,
		rfdet: rfdet,
		delay: time.Sleep,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Configure claims the bus and side-band pins. The chip starts out
// suspended (SW low), matching its power-on state; call Resume before
// the first transfer.
func (d *Device) Configure() error {
	if err := d.bus.Configure(); err != nil {
		return err
	}
	if err := d.sw.Out(gpio.Low); err != nil {
		return fmt.Errorf("rcs926: sw: %w", err)
	}
	if err := d.irq.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("rcs926: irq: %w", err)
	}
	if err := d.rfdet.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("rcs926: rfdet: %w", err)
	}
	return nil
}

// Close releases every pin to high impedance. The chip sees all
// control lines floating.
func (d *Device) Close() error {
	err := d.bus.Close()
	for _, p := range []gpio.PinIO{d.sw, d.irq, d.rfdet} {
		if e := p.In(gpio.Float, gpio.NoEdge); e != nil && err == nil {
			err = fmt.Errorf("rcs926: %w", e)
		}
	}
	return err
}

// Suspend puts the chip in its low-power state. Transfers are invalid
// until Resume.
func (d *Device) Suspend() error {
	if err := d.sw.Out(gpio.Low); err != nil {
		return fmt.Errorf("rcs926: sw: %w", err)
	}
	return nil
}

// Resume powers the chip up. It returns after the settle delay has
// elapsed; from that point on status queries and transfers are valid.
func (d *Device) Resume() error {
	if err := d.sw.Out(gpio.High); err != nil {
		return fmt.Errorf("rcs926: sw: %w", err)
	}
	d.delay(resumeDelay)
	return nil
}

// DataReady reports whether the chip holds data for the host to read.
func (d *Device) DataReady() bool {
	return d.irq.Read() == gpio.High
}

// RFPresent reports whether the chip detects an external RF field.
// RFDET is active low.
func (d *Device) RFPresent() bool {
	return d.rfdet.Read() == gpio.Low
}

// WakeOnRF arms or disarms waking the host on a change of the RFDET
// line.
//
// Enabling any source also sets the shared gate. Disabling clears only
// this source's mask: the gate and other sources stay armed, and the
// gate is left set even when the last source is disabled. An armed
// gate with no mask bits has no effect.
func (d *Device) WakeOnRF(enable bool) error {
	return d.setWake(WakeRF, enable)
}

// WakeOnIRQ arms or disarms waking the host on a change of the IRQ
// line. Same gate and mask semantics as WakeOnRF.
func (d *Device) WakeOnIRQ(enable bool) error {
	return d.setWake(WakeIRQ, enable)
}

func (d *Device) setWake(src WakeSource, enable bool) error {
	if d.wake == nil {
		return nil
	}
	if enable {
		if err := d.wake.SetGate(true); err != nil {
			return fmt.Errorf("rcs926: wake: %w", err)
		}
		if err := d.wake.SetMask(src, true); err != nil {
			return fmt.Errorf("rcs926: wake: %w", err)
		}
		return nil
	}
	if err := d.wake.SetMask(src, false); err != nil {
		return fmt.Errorf("rcs926: wake: %w", err)
	}
	return nil
}

// BeginSend opens a host-to-chip send window on the bus.
func (d *Device) BeginSend() (*threewire.Sender, error) {
	return d.bus.BeginSend()
}

// Send writes p to the chip inside a single send window.
func (d *Device) Send(p []byte) error {
	s, err := d.bus.BeginSend()
	if err != nil {
		return err
	}
	if err := s.Send(p); err != nil {
		s.End()
		return err
	}
	return s.End()
}

// ReadByte clocks one byte from the chip. Callers should check
// DataReady first; the bus has no receive timeout.
func (d *Device) ReadByte() (byte, error) {
	return d.bus.ReadByte()
}

// Read fills p with bytes clocked from the chip.
func (d *Device) Read(p []byte) error {
	return d.bus.Read(p)
}

// EdgeWake adapts WakeController onto periph.io edge detection, for
// hosts whose GPIO driver delivers pin events instead of a pin-change
// interrupt gate. The gate has no hardware equivalent there and is a
// no-op.
type EdgeWake struct {
	RF   gpio.PinIn
	IRQ  gpio.PinIn
	Pull gpio.Pull
}

func (w *EdgeWake) SetGate(on bool) error {
	return nil
}

func (w *EdgeWake) SetMask(src WakeSource, on bool) error {
	edge := gpio.NoEdge
	if on {
		edge = gpio.BothEdges
	}
	switch src {
	case WakeRF:
		return w.RF.In(w.Pull, edge)
	case WakeIRQ:
		return w.IRQ.In(w.Pull, edge)
	}
	return fmt.Errorf("rcs926: unknown wake source %d", src)
}
