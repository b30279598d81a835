// Package busdriver implements the device-side pluggable internal bus
// drivers the Device Translator dispatches onto (spec §4.4): one concrete
// Driver per physical bus (SPI, LPC, FWH, ...), each addressing an abstract
// ChipBackend so the flash-chip model catalog itself stays out of scope.
package busdriver

import (
	"errors"
	"fmt"

	"qiprog/internal/wire"
)

// ErrNoBackend is returned when a Driver is asked to perform chip I/O
// before a ChipBackend has been attached.
var ErrNoBackend = errors.New("busdriver: no chip backend attached")

// ChipBackend is the narrow byte-addressable interface a Driver drives.
// Concrete flash-chip models are out of scope; tests and demo binaries
// supply a simple in-memory backend.
type ChipBackend interface {
	ReadByte(addr uint32) (uint8, error)
	WriteByte(addr uint32, val uint8) error
}

// Driver is the vtable the Device Translator calls through for every
// protocol operation below GET_CAPABILITIES/READ_DEVICE_ID (spec §4.3/§4.4
// protocol map). Open/Close bracket a change_device swap.
type Driver interface {
	// Mask identifies which bus bit(s) (wire.Bus*) this driver answers for.
	Mask() uint32

	Open() error
	Close() error

	Attach(chip ChipBackend)

	SetAddress(start, end uint32) error
	SetClock(wValue, wIndex uint16) error
	SetSPITiming(wValue, wIndex uint16) error
	SetVDD(millivolts uint16) error
	SetChipSize(idx uint16, size uint32) error
	SetEraseSize(idx uint16, raw []byte) error
	SetEraseCommand(idx uint16, cmd, sub uint8, flags uint16) error
	SetWriteCommand(idx uint16, cmd uint32) error

	Read8(addr uint32) (uint8, error)
	Read16(addr uint32) (uint16, error)
	Read32(addr uint32) (uint32, error)
	Write8(addr uint32, val uint8) error
	Write16(addr uint32, val uint16) error
	Write32(addr uint32, val uint32) error

	// Remaining reports end - pread + 1 bytes left in the current address
	// window, the quantity the device-side event loop streams out (spec
	// §4.4 step 2).
	Remaining() uint32

	// ReadStream reads exactly len(dst) bytes starting at the current
	// pread and advances pread by that amount, for the event loop to hand
	// to an outbound task.
	ReadStream(dst []byte) error

	// WriteStream writes every byte of src starting at the current pwrite
	// and advances pwrite by len(src), for the event loop to drain
	// incoming bulk-out packets into the chip.
	WriteStream(src []byte) error
}

// eraseRegion records one {type, size} pair from a set_erase_size call.
type eraseRegion struct {
	typ  uint8
	size uint32
}

// eraseCommand records a configured erase command for one erase-size slot.
type eraseCommand struct {
	cmd, sub uint8
	flags    uint16
}

// base implements the bus-agnostic bookkeeping (address window, erase
// config, VDD/clock/timing passthrough-with-no-op-default, per the resolved
// Open Question in spec §9) that every concrete Driver embeds and extends.
// Concrete drivers override only what their physical bus actually needs;
// everything else falls through to base's no-op defaults.
type base struct {
	mask uint32
	chip ChipBackend

	start, end, pread, pwrite uint32

	eraseSizes  map[uint16][]eraseRegion
	eraseCmds   map[uint16]eraseCommand
	writeCmds   map[uint16]uint32
	chipSizes   map[uint16]uint32
}

func newBase(mask uint32) base {
	return base{
		mask:       mask,
		eraseSizes: make(map[uint16][]eraseRegion),
		eraseCmds:  make(map[uint16]eraseCommand),
		writeCmds:  make(map[uint16]uint32),
		chipSizes:  make(map[uint16]uint32),
	}
}

func (b *base) Mask() uint32 { return b.mask }

func (b *base) Attach(chip ChipBackend) { b.chip = chip }

func (b *base) SetAddress(start, end uint32) error {
	b.start, b.end = start, end
	b.pread, b.pwrite = start, start
	return nil
}

// Remaining implements Driver.Remaining.
func (b *base) Remaining() uint32 {
	if b.pread > b.end {
		return 0
	}
	return b.end - b.pread + 1
}

// ReadStream implements Driver.ReadStream.
func (b *base) ReadStream(dst []byte) error {
	for i := range dst {
		v, err := b.Read8(b.pread)
		if err != nil {
			return err
		}
		dst[i] = v
		b.pread++
	}
	return nil
}

// WriteStream implements Driver.WriteStream.
func (b *base) WriteStream(src []byte) error {
	for _, v := range src {
		if err := b.Write8(b.pwrite, v); err != nil {
			return err
		}
		b.pwrite++
	}
	return nil
}

// SetClock is a no-op default: most backends (SPI flash over a fixed-rate
// bridge, parallel LPC/FWH) have nothing to reconfigure.
func (b *base) SetClock(wValue, wIndex uint16) error { return nil }

// SetSPITiming is a no-op default overridden by the SPI driver.
func (b *base) SetSPITiming(wValue, wIndex uint16) error { return nil }

// SetVDD is a no-op default: voltage switching is a board-level concern
// most backends don't own.
func (b *base) SetVDD(millivolts uint16) error { return nil }

func (b *base) SetChipSize(idx uint16, size uint32) error {
	b.chipSizes[idx] = size
	return nil
}

func (b *base) SetEraseSize(idx uint16, raw []byte) error {
	if len(raw)%5 != 0 {
		return fmt.Errorf("busdriver: set_erase_size: malformed payload length %d", len(raw))
	}
	regions := make([]eraseRegion, 0, len(raw)/5)
	for off := 0; off < len(raw); off += 5 {
		regions = append(regions, eraseRegion{typ: raw[off], size: wire.GetU32(raw[off+1 : off+5])})
	}
	b.eraseSizes[idx] = regions
	return nil
}

func (b *base) SetEraseCommand(idx uint16, cmd, sub uint8, flags uint16) error {
	b.eraseCmds[idx] = eraseCommand{cmd: cmd, sub: sub, flags: flags}
	return nil
}

func (b *base) SetWriteCommand(idx uint16, cmd uint32) error {
	b.writeCmds[idx] = cmd
	return nil
}

func (b *base) Read8(addr uint32) (uint8, error) {
	if b.chip == nil {
		return 0, ErrNoBackend
	}
	return b.chip.ReadByte(addr)
}

func (b *base) Read16(addr uint32) (uint16, error) {
	lo, err := b.Read8(addr)
	if err != nil {
		return 0, err
	}
	hi, err := b.Read8(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (b *base) Read32(addr uint32) (uint32, error) {
	lo, err := b.Read16(addr)
	if err != nil {
		return 0, err
	}
	hi, err := b.Read16(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

func (b *base) Write8(addr uint32, val uint8) error {
	if b.chip == nil {
		return ErrNoBackend
	}
	return b.chip.WriteByte(addr, val)
}

func (b *base) Write16(addr uint32, val uint16) error {
	if err := b.Write8(addr, uint8(val)); err != nil {
		return err
	}
	return b.Write8(addr+1, uint8(val>>8))
}

func (b *base) Write32(addr uint32, val uint32) error {
	if err := b.Write16(addr, uint16(val)); err != nil {
		return err
	}
	return b.Write16(addr+2, uint16(val>>16))
}
