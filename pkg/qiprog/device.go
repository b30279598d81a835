package qiprog

import (
	"fmt"

	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/wire"
)

// Device is a caller-owned handle over a host-side USB-master device (spec
// §3/§4.5). It is not safe for concurrent use from multiple goroutines.
type Device struct {
	ctx  *Context
	host *hostdrv.Host

	Manufacturer, Product, Serial string
}

func (d *Device) checkOpen() error {
	if d == nil || d.host == nil {
		return newError(qierr.Arg, fmt.Errorf("qiprog: nil device handle"))
	}
	return nil
}

// Close releases the underlying transport handle and forgets this Device
// in its owning Context.
func (d *Device) Close() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.ctx.forget(d)
	if err := d.host.Close(); err != nil {
		return classify(err)
	}
	return nil
}

// GetCapabilities returns the programmer's declared capability set.
func (d *Device) GetCapabilities() (wire.Capabilities, error) {
	if err := d.checkOpen(); err != nil {
		return wire.Capabilities{}, err
	}
	caps, err := d.host.GetCapabilities()
	if err != nil {
		return wire.Capabilities{}, classify(err)
	}
	return caps, nil
}

// SetBus selects the active bus; mask == 0 is rejected (spec §4.3).
func (d *Device) SetBus(mask uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetBus(mask); err != nil {
		return classify(err)
	}
	return nil
}

// SetClock forwards SET_CLOCK.
func (d *Device) SetClock(wValue, wIndex uint16) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetClock(wValue, wIndex); err != nil {
		return classify(err)
	}
	return nil
}

// ReadChipID returns the programmer's reported chip identity vector.
func (d *Device) ReadChipID() ([wire.MaxChipIDs]wire.ChipID, error) {
	if err := d.checkOpen(); err != nil {
		return [wire.MaxChipIDs]wire.ChipID{}, err
	}
	ids, err := d.host.ReadChipID()
	if err != nil {
		return [wire.MaxChipIDs]wire.ChipID{}, classify(err)
	}
	return ids, nil
}

// SetChipSize issues SET_CHIP_SIZE(idx, size).
func (d *Device) SetChipSize(idx uint16, size uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetChipSize(idx, size); err != nil {
		return classify(err)
	}
	return nil
}

// SetAddress defines the address window subsequent bulk calls operate on.
func (d *Device) SetAddress(start, end uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetAddress(start, end); err != nil {
		return classify(err)
	}
	return nil
}

// SetEraseSize issues SET_ERASE_SIZE(idx, sizes...); len(sizes) must be in
// [1, 12].
func (d *Device) SetEraseSize(idx uint16, sizes []hostdrv.EraseSizeEntry) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetEraseSize(idx, sizes); err != nil {
		return classify(err)
	}
	return nil
}

// SetEraseCommand issues the preset erase-command form.
func (d *Device) SetEraseCommand(idx uint16, cmd, sub uint8, flags uint16) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetEraseCommand(idx, cmd, sub, flags); err != nil {
		return classify(err)
	}
	return nil
}

// SetCustomEraseCommand issues the variable-length custom erase form.
func (d *Device) SetCustomEraseCommand(idx uint16, header uint32, steps []hostdrv.EraseSizeEntry) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetCustomEraseCommand(idx, header, steps); err != nil {
		return classify(err)
	}
	return nil
}

// SetWriteCommand issues SET_WRITE_COMMAND(idx, cmd).
func (d *Device) SetWriteCommand(idx uint16, cmd uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetWriteCommand(idx, cmd); err != nil {
		return classify(err)
	}
	return nil
}

// SetSPITiming forwards SET_SPI_TIMING.
func (d *Device) SetSPITiming(wValue, wIndex uint16) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetSPITiming(wValue, wIndex); err != nil {
		return classify(err)
	}
	return nil
}

// SetVDD issues SET_VDD(millivolts).
func (d *Device) SetVDD(millivolts uint16) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.SetVDD(millivolts); err != nil {
		return classify(err)
	}
	return nil
}

// Read8/Read16/Read32 issue direct reads at addr.
func (d *Device) Read8(addr uint32) (uint8, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	v, err := d.host.Read8(addr)
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

func (d *Device) Read16(addr uint32) (uint16, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	v, err := d.host.Read16(addr)
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

func (d *Device) Read32(addr uint32) (uint32, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	v, err := d.host.Read32(addr)
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

// Write8/Write16/Write32 issue direct writes at addr.
func (d *Device) Write8(addr uint32, val uint8) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.Write8(addr, val); err != nil {
		return classify(err)
	}
	return nil
}

func (d *Device) Write16(addr uint32, val uint16) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.Write16(addr, val); err != nil {
		return classify(err)
	}
	return nil
}

func (d *Device) Write32(addr uint32, val uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.Write32(addr, val); err != nil {
		return classify(err)
	}
	return nil
}

// ReadBulk reads len(dst) bytes from the chip starting at where.
func (d *Device) ReadBulk(where uint32, dst []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.ReadBulk(where, dst); err != nil {
		return classify(err)
	}
	return nil
}

// WriteBulk writes src to the chip starting at where.
func (d *Device) WriteBulk(where uint32, src []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.host.WriteBulk(where, src); err != nil {
		return classify(err)
	}
	return nil
}
