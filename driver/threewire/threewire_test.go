package threewire

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// trace records every pin operation and delay in order, so tests can
// assert the exact transition sequences the bus protocol requires.
type trace struct {
	events []string
}

func (t *trace) add(format string, args ...any) {
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

type tracePin struct {
	gpiotest.Pin
	t    *trace
	name string
	// reads is consumed one level per Read; an exhausted pin reads
	// high, like a floating line with a pull-up.
	reads []gpio.Level
}

func (p *tracePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.t.add("%s in", p.name)
	return nil
}

func (p *tracePin) Out(l gpio.Level) error {
	p.t.add("%s out %s", p.name, l)
	return nil
}

func (p *tracePin) Read() gpio.Level {
	l := gpio.High
	if len(p.reads) > 0 {
		l = p.reads[0]
		p.reads = p.reads[1:]
	}
	p.t.add("%s read %s", p.name, l)
	return l
}

func newTestBus() (*Bus, *trace, *tracePin) {
	tr := &trace{}
	sel := &tracePin{t: tr, name: "sel"}
	clk := &tracePin{t: tr, name: "clk"}
	data := &tracePin{t: tr, name: "data"}
	b := New(sel, clk, data, WithDelay(func(d time.Duration) {
		tr.add("delay %s", d)
	}))
	return b, tr, data
}

func TestConfigure(t *testing.T) {
	b, tr, _ := newTestBus()
	if err := b.Configure(); err != nil {
		t.Fatal(err)
	}
	want := []string{"sel out High", "clk out High", "data in"}
	if !reflect.DeepEqual(tr.events, want) {
		t.Errorf("got %v, want %v", tr.events, want)
	}
}

func TestClose(t *testing.T) {
	b, tr, _ := newTestBus()
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	want := []string{"sel in", "clk in", "data in"}
	if !reflect.DeepEqual(tr.events, want) {
		t.Errorf("got %v, want %v", tr.events, want)
	}
}

// An empty send window must restore the idle pin state: data back to
// input strictly before select releases, one delay on each side of the
// direction change.
func TestEmptySendWindow(t *testing.T) {
	b, tr, _ := newTestBus()
	s, err := b.BeginSend()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"sel out Low",
		"delay 1µs",
		"data out High",
		"delay 1µs",
		"data in",
		"delay 1µs",
		"sel out High",
	}
	if !reflect.DeepEqual(tr.events, want) {
		t.Errorf("got %v, want %v", tr.events, want)
	}
}

func sendBitSequence(c byte) []string {
	var seq []string
	for i := 7; i >= 0; i-- {
		bit := gpio.Level(c&(1<<i) != 0)
		seq = append(seq,
			"clk out Low",
			"data out "+bit.String(),
			"delay 1µs",
			"clk out High",
			"delay 1µs",
		)
	}
	return seq
}

func TestSendByte(t *testing.T) {
	for _, c := range []byte{0x00, 0xff, 0xa5, 0x3c, 0x80, 0x01} {
		b, tr, _ := newTestBus()
		s, err := b.BeginSend()
		if err != nil {
			t.Fatal(err)
		}
		tr.events = nil
		if err := s.SendByte(c); err != nil {
			t.Fatal(err)
		}
		if want := sendBitSequence(c); !reflect.DeepEqual(tr.events, want) {
			t.Errorf("byte %#02x: got %v, want %v", c, tr.events, want)
		}
	}
}

func TestSend(t *testing.T) {
	b, tr, _ := newTestBus()
	s, err := b.BeginSend()
	if err != nil {
		t.Fatal(err)
	}
	tr.events = nil
	if err := s.Send([]byte{0xa5, 0x3c}); err != nil {
		t.Fatal(err)
	}
	want := append(sendBitSequence(0xa5), sendBitSequence(0x3c)...)
	if !reflect.DeepEqual(tr.events, want) {
		t.Errorf("got %v, want %v", tr.events, want)
	}
}

func TestSendEmpty(t *testing.T) {
	b, tr, _ := newTestBus()
	s, err := b.BeginSend()
	if err != nil {
		t.Fatal(err)
	}
	tr.events = nil
	if err := s.Send(nil); err != nil {
		t.Fatal(err)
	}
	if len(tr.events) != 0 {
		t.Errorf("empty send touched the bus: %v", tr.events)
	}
}

func TestReadByte(t *testing.T) {
	b, tr, data := newTestBus()
	// 0x3c, most significant bit first.
	data.reads = []gpio.Level{
		gpio.Low, gpio.Low, gpio.High, gpio.High,
		gpio.High, gpio.High, gpio.Low, gpio.Low,
	}
	c, err := b.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if c != 0x3c {
		t.Errorf("got %#02x, want 0x3c", c)
	}
	// Every bit is sampled during the low clock phase, after the
	// settle delay.
	var want []string
	for _, l := range []gpio.Level{
		gpio.Low, gpio.Low, gpio.High, gpio.High,
		gpio.High, gpio.High, gpio.Low, gpio.Low,
	} {
		want = append(want,
			"clk out Low",
			"delay 1µs",
			"data read "+l.String(),
			"clk out High",
			"delay 1µs",
		)
	}
	if !reflect.DeepEqual(tr.events, want) {
		t.Errorf("got %v, want %v", tr.events, want)
	}
}

// A floating data line reads as all ones; the read still completes
// after its fixed eight cycles.
func TestReadByteFloating(t *testing.T) {
	b, _, _ := newTestBus()
	c, err := b.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if c != 0xff {
		t.Errorf("got %#02x, want 0xff", c)
	}
}

func TestRead(t *testing.T) {
	b, _, data := newTestBus()
	var levels []gpio.Level
	for _, c := range []byte{0xde, 0xad} {
		for i := 7; i >= 0; i-- {
			levels = append(levels, gpio.Level(c&(1<<i) != 0))
		}
	}
	data.reads = levels
	got := make([]byte, 2)
	if err := b.Read(got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xde || got[1] != 0xad {
		t.Errorf("got % x, want de ad", got)
	}
}

func TestReadEmpty(t *testing.T) {
	b, tr, _ := newTestBus()
	if err := b.Read(nil); err != nil {
		t.Fatal(err)
	}
	if len(tr.events) != 0 {
		t.Errorf("empty read touched the bus: %v", tr.events)
	}
}
