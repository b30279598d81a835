package busdriver

import "qiprog/internal/wire"

// SPIDriver drives a chip attached over SPI. It is the only bus that
// actually implements SetSPITiming: clock phase/polarity and clock divider
// are packed into wValue/wIndex the same way the host driver forwards them.
type SPIDriver struct {
	base

	clockDivider uint16
	mode         uint16 // SPI mode 0-3 packed in wIndex
}

// NewSPIDriver returns a Driver that answers for wire.BusSPI.
func NewSPIDriver() *SPIDriver {
	return &SPIDriver{base: newBase(wire.BusSPI)}
}

func (d *SPIDriver) Open() error  { return nil }
func (d *SPIDriver) Close() error { return nil }

func (d *SPIDriver) SetSPITiming(wValue, wIndex uint16) error {
	d.clockDivider = wValue
	d.mode = wIndex
	return nil
}
