package devtranslator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qiprog/internal/busdriver"
	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport/simtransport"
	"qiprog/internal/wire"
)

func newFixture(t *testing.T) (*Translator, *busdriver.MemChip, *simtransport.Link) {
	t.Helper()
	link := simtransport.NewLink(64, 64, 8)
	tr := New(link.DeviceSide())

	drv := busdriver.NewFWHDriver()
	chip := busdriver.NewMemChip(1 << 20)
	drv.Attach(chip)
	require.NoError(t, tr.ChangeDevice(drv))
	return tr, chip, link
}

func TestHandleControlWrite8DispatchesToActiveDriver(t *testing.T) {
	tr, chip, _ := newFixture(t)

	// write8(0xFFFFFFF0, 0xDB): wValue=0xFFFF, wIndex=0xFFF0, data=[0xDB]
	// (spec §8 scenario 6).
	_, status := tr.HandleControl(hostdrv.ReqWrite8, 0xFFFF, 0xFFF0, []byte{0xDB})
	assert.Equal(t, qierr.Success, status)

	got, err := chip.ReadByte(0xFFFFFFF0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xDB), got)
}

func TestHandleControlRead8(t *testing.T) {
	tr, chip, _ := newFixture(t)
	require.NoError(t, chip.WriteByte(0x100, 0xA5))

	reply, status := tr.HandleControl(hostdrv.ReqRead8, 0, 0x100, nil)
	require.Equal(t, qierr.Success, status)
	require.Len(t, reply, 1)
	assert.Equal(t, uint8(0xA5), reply[0])
}

func TestHandleControlUnknownRequestIsGenericError(t *testing.T) {
	tr, _, _ := newFixture(t)
	_, status := tr.HandleControl(0xAB, 0, 0, nil)
	assert.Equal(t, qierr.Generic, status)
}

func TestHandleControlSetBusZeroMaskIsArgError(t *testing.T) {
	tr, _, _ := newFixture(t)
	_, status := tr.HandleControl(hostdrv.ReqSetBus, 0, 0, nil)
	assert.Equal(t, qierr.Arg, status)
}

func TestHandleControlSetAddressBypassesCoreAndHitsDriverDirectly(t *testing.T) {
	tr, _, _ := newFixture(t)
	var buf [wire.AddressSize]byte
	wire.EncodeAddress(0x1000, 0x1FFF, buf[:])

	_, status := tr.HandleControl(hostdrv.ReqSetAddress, 0, 0, buf[:])
	assert.Equal(t, qierr.Success, status)
	assert.Equal(t, uint32(0x1000), tr.current.Remaining())
}

func TestHandleControlNoDeviceIsGenericError(t *testing.T) {
	link := simtransport.NewLink(64, 64, 8)
	tr := New(link.DeviceSide())
	_, status := tr.HandleControl(hostdrv.ReqRead8, 0, 0, nil)
	assert.Equal(t, qierr.Generic, status)
}

func TestTickStreamsChipDataInAddressOrder(t *testing.T) {
	tr, chip, link := newFixture(t)
	for i := 0; i < 200; i++ {
		require.NoError(t, chip.WriteByte(uint32(i), byte(i)))
	}

	var buf [wire.AddressSize]byte
	wire.EncodeAddress(0, 199, buf[:])
	_, status := tr.HandleControl(hostdrv.ReqSetAddress, 0, 0, buf[:])
	require.Equal(t, qierr.Success, status)

	host := link.HostSide()
	var collected []byte
	for iter := 0; iter < 10000 && len(collected) < 200; iter++ {
		tr.Tick()
		pkt := make([]byte, 64)
		n, err := host.BulkIn(hostdrv.EndpointIn, pkt, time.Millisecond)
		if err != nil {
			continue
		}
		collected = append(collected, pkt[:n]...)
	}

	require.Len(t, collected, 200)
	for i, b := range collected {
		assert.Equal(t, byte(i), b)
	}
}

func TestTaskRingNeverDoubleSendsOrMarksIdleAsReady(t *testing.T) {
	r := newTaskRing(64)
	s1 := r.peekFree()
	require.NotNil(t, s1)
	s1.state = taskReadySend
	s1.len = 10
	r.commit()

	head, ok := r.headTask()
	require.True(t, ok)
	assert.Equal(t, taskReadySend, head.state)

	r.advanceHead()
	_, ok = r.headTask()
	assert.False(t, ok)
}

func TestTaskRingBackpressureWhenFull(t *testing.T) {
	r := newTaskRing(64)
	for i := 0; i < ringSize; i++ {
		s := r.peekFree()
		require.NotNil(t, s)
		r.commit()
	}
	assert.Nil(t, r.peekFree())
}
