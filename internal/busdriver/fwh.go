package busdriver

import "qiprog/internal/wire"

// FWHDriver drives a chip over the Firmware Hub bus, electrically similar
// to LPC but addressed as its own wire.Bus bit since a programmer may
// support one without the other.
type FWHDriver struct {
	base
}

// NewFWHDriver returns a Driver that answers for wire.BusFWH.
func NewFWHDriver() *FWHDriver {
	return &FWHDriver{base: newBase(wire.BusFWH)}
}

func (d *FWHDriver) Open() error  { return nil }
func (d *FWHDriver) Close() error { return nil }
