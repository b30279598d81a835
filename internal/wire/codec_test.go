package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetU16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x1234, 0xFFFF} {
		var buf [2]byte
		PutU16(v, buf[:])
		assert.Equal(t, v, GetU16(buf[:]))
	}
}

func TestPutGetU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF} {
		var buf [4]byte
		PutU32(v, buf[:])
		assert.Equal(t, v, GetU32(buf[:]))
	}
}

func TestPutU32Endianness(t *testing.T) {
	var buf [4]byte
	PutU32(0xDEADBEEF, buf[:])
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf[:])
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	src := []byte{
		0x01, 0x00, // instruction_set = 1
		0x0F, 0x00, 0x00, 0x00, // bus_master = 0x0F
		0x40, 0x00, 0x00, 0x00, // max_direct_data = 0x40
		0x00, 0x05, // voltages[0] = 1280
		0x20, 0x03, // voltages[1] = 800
		0x00, 0x00, // voltages[2] = 0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, // padding to 32 bytes
	}
	require.Len(t, src, CapabilitiesSize)

	caps := UnpackCapabilities(src)
	assert.EqualValues(t, 1, caps.InstructionSet)
	assert.EqualValues(t, 0x0F, caps.BusMaster)
	assert.EqualValues(t, 0x40, caps.MaxDirectData)
	assert.EqualValues(t, 1280, caps.Voltages[0])
	assert.EqualValues(t, 800, caps.Voltages[1])
	assert.Zero(t, caps.Voltages[2])

	var out [CapabilitiesSize]byte
	PackCapabilities(caps, out[:])
	assert.Equal(t, src, out[:])
}

func TestPackCapabilitiesZeroFillsTrailingVoltages(t *testing.T) {
	caps := Capabilities{InstructionSet: 7}
	caps.Voltages[0] = 3300
	var out [CapabilitiesSize]byte
	PackCapabilities(caps, out[:])

	for i := 1; i < numVoltages; i++ {
		assert.Zero(t, GetU16(out[10+2*i:12+2*i]))
	}
}

func TestChipIDsRoundTrip(t *testing.T) {
	var ids [MaxChipIDs]ChipID
	ids[0] = ChipID{IDMethod: 1, VendorID: 0xEF, DeviceID: 0x00112233}
	ids[1] = ChipID{IDMethod: 2, VendorID: 0xC2, DeviceID: 0xAA}

	var buf [ChipIDsSize]byte
	PackChipIDs(ids, buf[:])

	got := UnpackChipIDs(buf[:])
	assert.Equal(t, ids, got)
}

func TestAddressRoundTrip(t *testing.T) {
	var buf [AddressSize]byte
	EncodeAddress(0xFFE00000, 0xFFFFFFFF, buf[:])
	start, end := DecodeAddress(buf[:])
	assert.EqualValues(t, 0xFFE00000, start)
	assert.EqualValues(t, 0xFFFFFFFF, end)
}
