// Package hostdrv implements the QiProg Host Driver (spec §4.3): it
// exposes every Device operation by serializing requests through a
// transport.HostTransport, and owns the per-device address cursor and
// residual buffer that make bulk reads byte-granular above a
// packet-granular transport.
package hostdrv

import "time"

// Request codes carried in bRequest (spec §6).
const (
	ReqGetCapabilities     = 0x00
	ReqSetBus              = 0x01
	ReqSetClock            = 0x02
	ReqReadDeviceID        = 0x03
	ReqSetAddress          = 0x04
	ReqSetEraseSize        = 0x05
	ReqSetEraseCommand     = 0x06
	ReqSetWriteCommand     = 0x07
	ReqSetChipSize         = 0x08
	ReqSetSPITiming        = 0x20
	ReqRead8               = 0x30
	ReqRead16              = 0x31
	ReqRead32              = 0x32
	ReqWrite8              = 0x33
	ReqWrite16             = 0x34
	ReqWrite32             = 0x35
	ReqSetVDD              = 0xF0
)

// EndpointOut and EndpointIn are the reference bulk endpoint addresses
// (spec §6): EP1 OUT carries chip writes, EP1 IN carries chip reads.
const (
	EndpointOut uint8 = 0x01
	EndpointIn  uint8 = 0x81
)

// ReferenceVendorID and ReferenceProductID are the OpenMoko/VultureProg
// identifiers the reference enumerate() filters on (spec §6).
const (
	ReferenceVendorID  uint16 = 0x1d50
	ReferenceProductID uint16 = 0x6076
)

// MaxConcurrentTransfers bounds the async bulk fan-out (spec §4.3 step 4).
const MaxConcurrentTransfers = 32

// MaxVariadicArgs bounds set_erase_size/set_erase_command/set_write_command
// argument lists (spec §4.3).
const MaxVariadicArgs = 12

// DefaultTimeout is the reference 3-second per-operation timeout (spec §5).
const DefaultTimeout = 3 * time.Second
