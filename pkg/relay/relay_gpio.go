//go:build linux

package relay

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIODriver drives a real GPIO line through a Linux gpiod character
// device, honoring an inverted-polarity wiring (some solid-state relay
// boards are active-low).
type GPIODriver struct {
	line    *gpiocdev.Line
	invert  bool
}

// NewGPIODriver requests exclusive output control of lineOffset on chip
// (e.g. "/dev/gpiochip0"), starting deasserted.
func NewGPIODriver(chip string, lineOffset int, invert bool) (*GPIODriver, error) {
	initial := 0
	if invert {
		initial = 1
	}
	line, err := gpiocdev.RequestLine(chip, lineOffset,
		gpiocdev.AsOutput(initial),
		gpiocdev.WithConsumer("kiln-controller"),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: requesting gpio line %s:%d: %w", chip, lineOffset, err)
	}
	return &GPIODriver{line: line, invert: invert}, nil
}

func (g *GPIODriver) assert(on bool) error {
	v := 0
	if on != g.invert {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *GPIODriver) Heat(d time.Duration) error {
	if err := g.assert(true); err != nil {
		return fmt.Errorf("relay: asserting heat: %w", err)
	}
	time.Sleep(d)
	return nil
}

func (g *GPIODriver) Cool(d time.Duration) error {
	if err := g.assert(false); err != nil {
		return fmt.Errorf("relay: deasserting heat: %w", err)
	}
	time.Sleep(d)
	return nil
}

func (g *GPIODriver) Close() error {
	return g.line.Close()
}
