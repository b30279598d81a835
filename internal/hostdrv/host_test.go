package hostdrv_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qiprog/internal/busdriver"
	"qiprog/internal/devtranslator"
	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport/simtransport"
	"qiprog/internal/wire"
)

// fixture wires a Host driver to a real Translator/bus driver/chip over a
// simulated link, with a background goroutine standing in for the MCU's
// event loop (spec §4.4 tick).
type fixture struct {
	host *hostdrv.Host
	chip *busdriver.MemChip
	stop chan struct{}
	wg   sync.WaitGroup
}

func newFixture(t *testing.T, epSize, chipSize int) *fixture {
	t.Helper()
	link := simtransport.NewLink(epSize, epSize, 8)

	drv := busdriver.NewSPIDriver()
	chip := busdriver.NewMemChip(chipSize)
	drv.Attach(chip)

	tr := devtranslator.New(link.DeviceSide())
	require.NoError(t, tr.ChangeDevice(drv))

	link.SetControlHandler(func(bReq uint8, wValue, wIndex uint16, data []byte) ([]byte, error) {
		reply, status := tr.HandleControl(bReq, wValue, wIndex, data)
		if status != qierr.Success {
			return nil, statusErr(status)
		}
		return reply, nil
	})

	host, err := hostdrv.New(link.HostSide())
	require.NoError(t, err)

	f := &fixture{host: host, chip: chip, stop: make(chan struct{})}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-f.stop:
				return
			default:
				tr.Tick()
				time.Sleep(time.Microsecond)
			}
		}
	}()
	return f
}

func (f *fixture) Close() {
	close(f.stop)
	f.wg.Wait()
}

type statusErr qierr.Code

func (e statusErr) Error() string { return qierr.Code(e).String() }

func TestGetCapabilitiesReflectsActiveDriverMask(t *testing.T) {
	f := newFixture(t, 64, 4096)
	defer f.Close()

	caps, err := f.host.GetCapabilities()
	require.NoError(t, err)
	assert.Equal(t, wire.BusSPI, caps.BusMaster)
}

func TestSetBusZeroIsRejectedBeforeAnyTransportCall(t *testing.T) {
	f := newFixture(t, 64, 4096)
	defer f.Close()

	err := f.host.SetBus(0)
	require.ErrorIs(t, err, hostdrv.ErrArgument)
}

func TestReadWrite8RoundTrip(t *testing.T) {
	f := newFixture(t, 64, 4096)
	defer f.Close()

	require.NoError(t, f.host.Write8(0x10, 0x42))
	v, err := f.host.Read8(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), v)
}

func TestWriteBulkThenReadBulkRoundTripAcrossEndpointBoundary(t *testing.T) {
	// epSize 8 deliberately doesn't evenly divide the payload, exercising
	// both the fan-out range and the residual/tail paths (spec §4.3
	// steps 2 and 7).
	f := newFixture(t, 8, 4096)
	defer f.Close()

	src := make([]byte, 100)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, f.host.WriteBulk(0, src))

	dst := make([]byte, len(src))
	require.NoError(t, f.host.ReadBulk(0, dst))
	assert.Equal(t, src, dst)
}

func TestReadBulkPartialReadsServedFromResidualDoNotReissueTransport(t *testing.T) {
	f := newFixture(t, 16, 4096)
	defer f.Close()

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i * 3)
	}
	require.NoError(t, f.host.WriteBulk(0, src))

	// Read in small chunks smaller than the endpoint size so the residual
	// buffer from one ReadBulk call feeds the next.
	dst := make([]byte, len(src))
	chunk := 5
	for off := 0; off < len(src); off += chunk {
		n := chunk
		if off+n > len(src) {
			n = len(src) - off
		}
		require.NoError(t, f.host.ReadBulk(uint32(off), dst[off:off+n]))
	}
	assert.Equal(t, src, dst)
}

func TestEnsureWindowSkipsRedundantSetAddress(t *testing.T) {
	f := newFixture(t, 16, 4096)
	defer f.Close()

	require.NoError(t, f.host.ReadBulk(0, make([]byte, 16)))
	start, end, pread, _, valid := f.host.Cursor()
	require.True(t, valid)
	assert.Equal(t, uint32(0), start)
	assert.Equal(t, uint32(15), end)
	assert.Equal(t, uint32(16), pread)

	// A read starting at pread inside a wider window must not re-issue
	// SET_ADDRESS: the window end set here survives the read.
	require.NoError(t, f.host.SetAddress(0, 63))
	require.NoError(t, f.host.ReadBulk(0, make([]byte, 16)))
	_, end, pread, _, _ = f.host.Cursor()
	assert.Equal(t, uint32(63), end)
	assert.Equal(t, uint32(16), pread)
}

// TestSetEraseSizeBoundaries covers all four boundary cases named by the
// spec (num_sizes in {0, 1, 12, 13}): 0 and MaxVariadicArgs+1 (13) must be
// rejected as argument errors, while 1 and MaxVariadicArgs (12) - the
// valid edges - must succeed, so an off-by-one that rejects 12 or admits
// 13 shows up here.
func TestSetEraseSizeBoundaries(t *testing.T) {
	f := newFixture(t, 64, 4096)
	defer f.Close()

	err := f.host.SetEraseSize(0, nil)
	require.ErrorIs(t, err, hostdrv.ErrArgument)

	tooMany := make([]hostdrv.EraseSizeEntry, hostdrv.MaxVariadicArgs+1)
	err = f.host.SetEraseSize(0, tooMany)
	require.ErrorIs(t, err, hostdrv.ErrArgument)

	one := []hostdrv.EraseSizeEntry{{Type: 1, Size: 0x1000}}
	require.NoError(t, f.host.SetEraseSize(0, one))

	twelve := make([]hostdrv.EraseSizeEntry, hostdrv.MaxVariadicArgs)
	for i := range twelve {
		twelve[i] = hostdrv.EraseSizeEntry{Type: uint8(i + 1), Size: 0x1000 << uint(i%8)}
	}
	require.NoError(t, f.host.SetEraseSize(0, twelve))
}
