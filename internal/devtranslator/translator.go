// Package devtranslator is the programmer-side endpoint of the protocol
// (spec §4.4): it deserializes incoming control requests, dispatches to
// the currently-selected internal bus driver, re-serializes replies, and
// drives the outbound task ring that streams chip data back to the host.
package devtranslator

import (
	"sync"

	"qiprog/internal/busdriver"
	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport"
	"qiprog/internal/wire"
)

// scratchSize is the reply staging buffer; every wire payload the protocol
// defines fits in it (spec §4.1: "all payloads fit in a 64-byte buffer").
const scratchSize = 64

// Translator holds the device-side protocol state: the active internal
// driver, the control-reply scratch buffer, and the outbound task ring.
// It has no global state (spec §9: "model as a single owned slot in a
// translator instance").
type Translator struct {
	mu sync.Mutex

	current busdriver.Driver
	scratch [scratchSize]byte

	ring  *taskRing
	dev   transport.DeviceTransport
}

// New builds a Translator bound to a DeviceTransport; the task ring sizes
// itself to the transport's advertised max TX packet.
func New(dev transport.DeviceTransport) *Translator {
	return &Translator{
		dev:  dev,
		ring: newTaskRing(dev.MaxTxPacket()),
	}
}

// ChangeDevice closes the previous driver (if any) via Close, installs
// new, then opens it (spec §4.4 "device lifecycle"). Bus drivers are
// swapped only by calling ChangeDevice directly: the SET_BUS handler never
// calls it and accepts only the mask of the driver already installed.
func (t *Translator) ChangeDevice(new busdriver.Driver) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		if err := t.current.Close(); err != nil {
			return err
		}
	}
	t.current = new
	if t.current == nil {
		return nil
	}
	return t.current.Open()
}

// HandleControl is the single control-request entry point (spec §4.4).
// It is synchronous and non-suspending: callers must not invoke it from
// more than one goroutine at a time (the transport's control endpoint
// already serializes real control transfers).
//
// data is both input (OUT transfers: the payload already written by the
// transport) and output (IN transfers: replaced with the scratch buffer
// slice holding the reply). The returned status matches the QiProg error
// taxonomy; GENERIC_ERR means the caller should STALL the endpoint.
func (t *Translator) HandleControl(bRequest uint8, wValue, wIndex uint16, data []byte) (reply []byte, status qierr.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, qierr.Generic
	}
	drv := t.current

	switch bRequest {
	case hostdrv.ReqGetCapabilities:
		// The reference device has no dynamic capability model in this
		// split; report the active driver's bus mask with a permissive
		// instruction set and no declared voltages.
		caps := wire.Capabilities{InstructionSet: 1, BusMaster: drv.Mask()}
		wire.PackCapabilities(caps, t.scratch[:wire.CapabilitiesSize])
		return t.scratch[:wire.CapabilitiesSize], qierr.Success

	case hostdrv.ReqSetBus:
		mask := uint32(wValue)<<16 | uint32(wIndex)
		if mask == 0 || mask != drv.Mask() {
			return nil, qierr.Arg
		}
		return nil, qierr.Success

	case hostdrv.ReqReadDeviceID:
		var ids [wire.MaxChipIDs]wire.ChipID
		wire.PackChipIDs(ids, t.scratch[:wire.ChipIDsSize])
		return t.scratch[:wire.ChipIDsSize], qierr.Success

	case hostdrv.ReqSetChipSize:
		if len(data) < 4 {
			return nil, qierr.Arg
		}
		if err := drv.SetChipSize(wIndex, wire.GetU32(data)); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetAddress:
		// Bypasses the core Device surface by design (spec §9): calls the
		// driver's set_address directly rather than routing through any
		// higher-level dispatch.
		if len(data) < wire.AddressSize {
			return nil, qierr.Arg
		}
		start, end := wire.DecodeAddress(data)
		if err := drv.SetAddress(start, end); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetEraseSize:
		if len(data)%5 != 0 || len(data)/5 == 0 || len(data)/5 > hostdrv.MaxVariadicArgs {
			return nil, qierr.Arg
		}
		if err := drv.SetEraseSize(wIndex, data); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetEraseCommand:
		// Same bRequest serves both the preset form {cmd,sub,flags} (4
		// bytes) and the custom form, a 4-byte header plus 5n step bytes
		// for n >= 1 (spec §4.3); the payload length disambiguates them.
		if len(data) == 4 {
			flags := wire.GetU16(data[2:4])
			if err := drv.SetEraseCommand(wIndex, data[0], data[1], flags); err != nil {
				return nil, qierr.Generic
			}
			return nil, qierr.Success
		}
		if len(data) > 4 && (len(data)-4)%5 == 0 && (len(data)-4)/5 <= hostdrv.MaxVariadicArgs {
			if err := drv.SetEraseCommand(wIndex, 0, 0, uint16(wire.GetU32(data[0:4]))); err != nil {
				return nil, qierr.Generic
			}
			return nil, qierr.Success
		}
		return nil, qierr.Arg

	case hostdrv.ReqSetWriteCommand:
		if len(data) != 4 {
			return nil, qierr.Arg
		}
		if err := drv.SetWriteCommand(wIndex, wire.GetU32(data)); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetSPITiming:
		if err := drv.SetSPITiming(wValue, wIndex); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetClock:
		if err := drv.SetClock(wValue, wIndex); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqSetVDD:
		if err := drv.SetVDD(wIndex); err != nil {
			return nil, qierr.Generic
		}
		return nil, qierr.Success

	case hostdrv.ReqRead8:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		v, err := drv.Read8(addr)
		if err != nil {
			return nil, classifyChipErr(err)
		}
		t.scratch[0] = v
		return t.scratch[:1], qierr.Success

	case hostdrv.ReqRead16:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		v, err := drv.Read16(addr)
		if err != nil {
			return nil, classifyChipErr(err)
		}
		wire.PutU16(v, t.scratch[:2])
		return t.scratch[:2], qierr.Success

	case hostdrv.ReqRead32:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		v, err := drv.Read32(addr)
		if err != nil {
			return nil, classifyChipErr(err)
		}
		wire.PutU32(v, t.scratch[:4])
		return t.scratch[:4], qierr.Success

	case hostdrv.ReqWrite8:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		if len(data) != 1 {
			return nil, qierr.Arg
		}
		if err := drv.Write8(addr, data[0]); err != nil {
			return nil, classifyChipErr(err)
		}
		return nil, qierr.Success

	case hostdrv.ReqWrite16:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		if len(data) != 2 {
			return nil, qierr.Arg
		}
		if err := drv.Write16(addr, wire.GetU16(data)); err != nil {
			return nil, classifyChipErr(err)
		}
		return nil, qierr.Success

	case hostdrv.ReqWrite32:
		addr := uint32(wValue)<<16 | uint32(wIndex)
		if len(data) != 4 {
			return nil, qierr.Arg
		}
		if err := drv.Write32(addr, wire.GetU32(data)); err != nil {
			return nil, classifyChipErr(err)
		}
		return nil, qierr.Success

	default:
		// Unrecognized bRequest: treat as a protocol error so the
		// transport can STALL the endpoint (spec §4.4 step 2, §7).
		return nil, qierr.Generic
	}
}

// classifyChipErr maps a bus-driver error onto the chip-facing subset of
// the taxonomy; busdriver itself does not yet distinguish timeout classes,
// so everything that isn't ErrNoBackend degrades to the generic chip
// timeout bucket. A richer busdriver.Driver could return a typed error
// here for NoResponse specifically.
func classifyChipErr(err error) qierr.Code {
	if err == busdriver.ErrNoBackend {
		return qierr.Generic
	}
	return qierr.ChipTimeout
}
