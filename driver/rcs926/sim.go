package rcs926

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Simulator models an RC-S926 and its six lines at pin level. The six
// exported pins plug into New and threewire.New in place of real
// GPIOs; the simulator plays the chip's side of the protocol: it
// samples host bits on rising clock edges during a send window, and
// presents queued bytes bit by bit on falling edges while the host
// receives.
//
// The simulator also records protocol violations that on real hardware
// would contend the bus, and implements WakeController by modeling the
// gate and mask registers.
//
// Like the driver, it is single-threaded: all modeling happens inside
// the driver's own pin calls.
type Simulator struct {
	Sel, Clk, Data, SW, IRQ, RFDet gpio.PinIO

	// Received holds the bytes the host clocked out, in order.
	Received []byte
	// Faults records bus violations, e.g. driving the data line
	// outside a send window.
	Faults []string
	// ClockCycles counts complete clock cycles; the protocol uses
	// exactly one per bit.
	ClockCycles int

	// Wake register state.
	Gate    bool
	RFMask  bool
	IRQMask bool

	sel, clk, data, sw, irq, rfdet *simPin

	// Pending bytes for the host to read, presented MSB first.
	queue []byte
	txBit uint

	// Host send window accumulator.
	rxAcc  byte
	rxBits uint
}

func NewSimulator() *Simulator {
	s := &Simulator{}
	s.sel = s.newPin("SEL", 0)
	s.clk = s.newPin("CLK", 1)
	s.data = s.newPin("DATA", 2)
	s.sw = s.newPin("SW", 3)
	s.irq = s.newPin("IRQ", 4)
	s.rfdet = s.newPin("RFDET", 5)
	// The chip drives IRQ low until data is pending, and RFDET high
	// until a field appears.
	s.irq.peerOn = true
	s.irq.peer = gpio.Low
	s.rfdet.peerOn = true
	s.rfdet.peer = gpio.High
	s.Sel, s.Clk, s.Data = s.sel, s.clk, s.data
	s.SW, s.IRQ, s.RFDet = s.sw, s.irq, s.rfdet
	return s
}

// QueueRead queues p for the host to clock off the bus and raises the
// data-ready line. The line drops once the last queued byte has been
// clocked out.
func (s *Simulator) QueueRead(p []byte) {
	s.queue = append(s.queue, p...)
	if len(s.queue) > 0 {
		s.irq.peer = gpio.High
	}
}

// SetRFField drives the RFDET line; an external field pulls it low.
func (s *Simulator) SetRFField(present bool) {
	s.rfdet.peer = gpio.Level(!present)
}

// Suspended reports whether the host holds SW low.
func (s *Simulator) Suspended() bool {
	return s.sw.line() == gpio.Low
}

func (s *Simulator) SetGate(on bool) error {
	s.Gate = on
	return nil
}

func (s *Simulator) SetMask(src WakeSource, on bool) error {
	if on && !s.Gate {
		s.faultf("wake mask set while gate disabled")
	}
	switch src {
	case WakeRF:
		s.RFMask = on
	case WakeIRQ:
		s.IRQMask = on
	default:
		return fmt.Errorf("sim: unknown wake source %d", src)
	}
	return nil
}

func (s *Simulator) faultf(format string, args ...any) {
	s.Faults = append(s.Faults, fmt.Sprintf(format, args...))
}

// hostSending reports whether the host currently owns the data line:
// select asserted and the data pin driven from the host side.
func (s *Simulator) hostSending() bool {
	return s.sel.line() == gpio.Low && s.data.dir == dirOutput
}

// pinChanged is called from every In/Out on a simulated pin, with the
// line level before the change.
func (s *Simulator) pinChanged(p *simPin, prev gpio.Level) {
	now := p.line()
	switch p {
	case s.clk:
		if prev == now {
			return
		}
		if now == gpio.Low {
			s.clockFall()
		} else {
			s.clockRise()
		}
	case s.sel:
		if prev == now {
			return
		}
		if now == gpio.Low {
			// A send window opens.
			s.rxAcc, s.rxBits = 0, 0
		} else {
			if s.data.dir == dirOutput {
				s.faultf("select released while host drives data")
			}
			if s.rxBits != 0 {
				s.faultf("select released mid-byte after %d bits", s.rxBits)
			}
		}
	case s.data:
		if p.dir == dirOutput && s.sel.line() == gpio.High {
			s.faultf("data driven outside a send window")
		}
	}
}

func (s *Simulator) clockFall() {
	if s.hostSending() || len(s.queue) == 0 {
		return
	}
	// Present the next bit for the host to sample.
	bit := s.queue[0]&(0x80>>s.txBit) != 0
	s.data.peerOn = true
	s.data.peer = gpio.Level(bit)
	s.txBit++
	if s.txBit == 8 {
		s.txBit = 0
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.irq.peer = gpio.Low
		}
	}
}

func (s *Simulator) clockRise() {
	s.ClockCycles++
	if s.hostSending() {
		s.rxAcc <<= 1
		if s.data.line() == gpio.High {
			s.rxAcc |= 1
		}
		s.rxBits++
		if s.rxBits == 8 {
			s.Received = append(s.Received, s.rxAcc)
			s.rxAcc, s.rxBits = 0, 0
		}
		return
	}
	if len(s.queue) == 0 && s.txBit == 0 {
		// Last queued bit consumed; the line floats again.
		s.data.peerOn = false
	}
}

type pinDir int

const (
	dirHiZ pinDir = iota
	dirInput
	dirOutput
)

// simPin is one simulated line. The embedded gpiotest.Pin supplies the
// identity boilerplate; direction, level and edge modeling live here.
type simPin struct {
	gpiotest.Pin
	sim   *Simulator
	dir   pinDir
	level gpio.Level // host-driven, valid while dir == dirOutput
	// peer is the level the chip drives when the host side is not
	// driving. With neither side driving, the line floats high.
	peer   gpio.Level
	peerOn bool
}

func (s *Simulator) newPin(name string, num int) *simPin {
	return &simPin{
		Pin: gpiotest.Pin{N: name, Num: num},
		sim: s,
	}
}

// line resolves the electrical level: host output wins, then the
// peer, then the pull-up.
func (p *simPin) line() gpio.Level {
	if p.dir == dirOutput {
		return p.level
	}
	if p.peerOn {
		return p.peer
	}
	return gpio.High
}

func (p *simPin) In(pull gpio.Pull, edge gpio.Edge) error {
	prev := p.line()
	p.dir = dirInput
	p.sim.pinChanged(p, prev)
	return nil
}

func (p *simPin) Out(l gpio.Level) error {
	prev := p.line()
	p.dir = dirOutput
	p.level = l
	p.sim.pinChanged(p, prev)
	return nil
}

func (p *simPin) Read() gpio.Level {
	return p.line()
}
