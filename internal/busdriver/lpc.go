package busdriver

import "qiprog/internal/wire"

// LPCDriver drives a chip over the parallel LPC firmware-hub bus. LPC has
// no per-transfer timing knob exposed by the protocol, so it takes the
// base's no-op defaults for SetClock/SetSPITiming/SetVDD.
type LPCDriver struct {
	base
}

// NewLPCDriver returns a Driver that answers for wire.BusLPC.
func NewLPCDriver() *LPCDriver {
	return &LPCDriver{base: newBase(wire.BusLPC)}
}

func (d *LPCDriver) Open() error  { return nil }
func (d *LPCDriver) Close() error { return nil }
