package busdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qiprog/internal/wire"
)

func TestSPIDriverMask(t *testing.T) {
	d := NewSPIDriver()
	assert.Equal(t, wire.BusSPI, d.Mask())
}

func TestSPIDriverSetSPITiming(t *testing.T) {
	d := NewSPIDriver()
	require.NoError(t, d.SetSPITiming(4, 2))
	assert.Equal(t, uint16(4), d.clockDivider)
	assert.Equal(t, uint16(2), d.mode)
}

func TestLPCDriverNoOpDefaults(t *testing.T) {
	d := NewLPCDriver()
	assert.NoError(t, d.SetClock(1, 2))
	assert.NoError(t, d.SetSPITiming(1, 2))
	assert.NoError(t, d.SetVDD(3300))
}

func TestReadWriteRoundTrip(t *testing.T) {
	d := NewFWHDriver()
	chip := NewMemChip(65536)
	d.Attach(chip)

	require.NoError(t, d.Write32(0x100, 0xDEADBEEF))
	chip.Erase(0x104, 0x108)

	got8, err := d.Read8(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xEF), got8)

	got32, err := d.Read32(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got32)
}

func TestReadWriteWithoutBackend(t *testing.T) {
	d := NewSPIDriver()
	_, err := d.Read8(0)
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.ErrorIs(t, d.Write8(0, 1), ErrNoBackend)
}

func TestSetEraseSizeRejectsMalformedPayload(t *testing.T) {
	d := NewSPIDriver()
	err := d.SetEraseSize(0, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSetEraseSizeParsesRegions(t *testing.T) {
	d := NewSPIDriver()
	buf := make([]byte, 10)
	buf[0] = 1
	wire.PutU32(0x1000, buf[1:5])
	buf[5] = 2
	wire.PutU32(0x10000, buf[6:10])

	require.NoError(t, d.SetEraseSize(3, buf))
	regions := d.eraseSizes[3]
	require.Len(t, regions, 2)
	assert.Equal(t, eraseRegion{typ: 1, size: 0x1000}, regions[0])
	assert.Equal(t, eraseRegion{typ: 2, size: 0x10000}, regions[1])
}
