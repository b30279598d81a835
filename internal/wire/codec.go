// Package wire implements the QiProg wire codec: little-endian pack/unpack
// of the protocol's structured payloads. Every payload fits a fixed-size
// buffer; there is no dynamic allocation and no error return, because a
// short buffer here is a caller bug, not a runtime condition.
package wire

import "encoding/binary"

// GetU16 reads a little-endian u16 from the front of src.
func GetU16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// GetU32 reads a little-endian u32 from the front of src.
func GetU32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// PutU16 writes val to the front of dst as little-endian.
func PutU16(val uint16, dst []byte) {
	binary.LittleEndian.PutUint16(dst, val)
}

// PutU32 writes val to the front of dst as little-endian.
func PutU32(val uint32, dst []byte) {
	binary.LittleEndian.PutUint32(dst, val)
}

// Bus mask bits (spec §3).
const (
	BusISA   uint32 = 1
	BusLPC   uint32 = 2
	BusFWH   uint32 = 4
	BusSPI   uint32 = 8
	BusBDM17 uint32 = 16
	BusBDM35 uint32 = 32
	BusAUD   uint32 = 64
)

// CapabilitiesSize is the wire size of a Capabilities struct.
const CapabilitiesSize = 32

// numVoltages is the fixed slot count for voltages on the wire.
const numVoltages = 10

// Capabilities mirrors the wire layout in spec §3: instruction_set(u16),
// bus_master(u32), max_direct_data(u32), voltages[10](u16 each).
type Capabilities struct {
	InstructionSet uint16
	BusMaster      uint32
	MaxDirectData  uint32
	Voltages       [numVoltages]uint16
}

// PackCapabilities serializes caps into dst[0:32]. Trailing voltage slots
// beyond the populated prefix are zero-filled, matching the "zero-terminated
// or exactly 10 entries" wire contract, and so are the two bytes after the
// voltages that pad the payload to 32 bytes.
func PackCapabilities(caps Capabilities, dst []byte) {
	_ = dst[:CapabilitiesSize]
	PutU16(caps.InstructionSet, dst[0:2])
	PutU32(caps.BusMaster, dst[2:6])
	PutU32(caps.MaxDirectData, dst[6:10])
	for i := 0; i < numVoltages; i++ {
		PutU16(caps.Voltages[i], dst[10+2*i:12+2*i])
	}
	for i := 10 + 2*numVoltages; i < CapabilitiesSize; i++ {
		dst[i] = 0
	}
}

// UnpackCapabilities deserializes src[0:32] into a Capabilities value.
func UnpackCapabilities(src []byte) Capabilities {
	_ = src[:CapabilitiesSize]
	var caps Capabilities
	caps.InstructionSet = GetU16(src[0:2])
	caps.BusMaster = GetU32(src[2:6])
	caps.MaxDirectData = GetU32(src[6:10])
	for i := 0; i < numVoltages; i++ {
		caps.Voltages[i] = GetU16(src[10+2*i : 12+2*i])
	}
	return caps
}

// MaxChipIDs is the maximum number of chip-identity entries on the wire.
const MaxChipIDs = 9

// chipIDEntrySize is the per-entry wire size: id_method(u8) + vendor_id(u16)
// + device_id(u32).
const chipIDEntrySize = 7

// ChipIDsSize is the wire size of a full chip-identity vector.
const ChipIDsSize = MaxChipIDs * chipIDEntrySize

// ChipID is one entry of the chip-identity vector (spec §3). IDMethod == 0
// is the sentinel that terminates the meaningful prefix.
type ChipID struct {
	IDMethod uint8
	VendorID uint16
	DeviceID uint32
}

// PackChipIDs serializes up to MaxChipIDs entries into dst[0:63].
func PackChipIDs(ids [MaxChipIDs]ChipID, dst []byte) {
	_ = dst[:ChipIDsSize]
	for i, id := range ids {
		off := i * chipIDEntrySize
		dst[off] = id.IDMethod
		PutU16(id.VendorID, dst[off+1:off+3])
		PutU32(id.DeviceID, dst[off+3:off+7])
	}
}

// UnpackChipIDs deserializes src[0:63] into MaxChipIDs entries.
func UnpackChipIDs(src []byte) [MaxChipIDs]ChipID {
	_ = src[:ChipIDsSize]
	var ids [MaxChipIDs]ChipID
	for i := range ids {
		off := i * chipIDEntrySize
		ids[i] = ChipID{
			IDMethod: src[off],
			VendorID: GetU16(src[off+1 : off+3]),
			DeviceID: GetU32(src[off+3 : off+7]),
		}
	}
	return ids
}

// AddressSize is the wire size of an encoded address window.
const AddressSize = 8

// EncodeAddress packs the inclusive [start, end] window into dst[0:8].
func EncodeAddress(start, end uint32, dst []byte) {
	_ = dst[:AddressSize]
	PutU32(start, dst[0:4])
	PutU32(end, dst[4:8])
}

// DecodeAddress unpacks an 8-byte address window.
func DecodeAddress(src []byte) (start, end uint32) {
	_ = src[:AddressSize]
	return GetU32(src[0:4]), GetU32(src[4:8])
}
