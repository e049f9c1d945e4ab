// command nfcpoll exercises a Felica Plug wired to the Raspberry Pi
// GPIO header: it powers the chip up, reports RF field transitions and
// hex dumps data as the chip signals it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"

	"github.com/spac3lord/nfc-smart-tag/driver/rcs926"
	"github.com/spac3lord/nfc-smart-tag/driver/threewire"
)

var (
	PLUG_SEL   = bcm283x.GPIO8
	PLUG_CLK   = bcm283x.GPIO11
	PLUG_DATA  = bcm283x.GPIO10
	PLUG_SW    = bcm283x.GPIO25
	PLUG_IRQ   = bcm283x.GPIO24
	PLUG_RFDET = bcm283x.GPIO23
)

var (
	interval = flag.Duration("interval", 100*time.Millisecond, "polling interval")
	count    = flag.Int("n", 16, "bytes to read when the chip signals data")
	wake     = flag.Bool("wake", false, "arm edge events on RF detect and IRQ")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nfcpoll: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	flag.Parse()
	if _, err := host.Init(); err != nil {
		return err
	}
	bus := threewire.New(PLUG_SEL, PLUG_CLK, PLUG_DATA)
	var opts []rcs926.Option
	if *wake {
		opts = append(opts, rcs926.WithWakeController(&rcs926.EdgeWake{
			RF:   PLUG_RFDET,
			IRQ:  PLUG_IRQ,
			Pull: gpio.PullUp,
		}))
	}
	dev := rcs926.New(bus, PLUG_SW, PLUG_IRQ, PLUG_RFDET, opts...)
	if err := dev.Configure(); err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Resume(); err != nil {
		return err
	}
	if *wake {
		if err := dev.WakeOnRF(true); err != nil {
			return err
		}
		if err := dev.WakeOnIRQ(true); err != nil {
			return err
		}
	}
	log.Printf("chip resumed, polling every %v", *interval)
	rf := false
	buf := make([]byte, *count)
	for {
		if p := dev.RFPresent(); p != rf {
			rf = p
			log.Printf("rf field: %v", rf)
		}
		if dev.DataReady() {
			if err := dev.Read(buf); err != nil {
				return err
			}
			log.Printf("read % x", buf)
		}
		time.Sleep(*interval)
	}
}
