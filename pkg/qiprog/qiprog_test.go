package qiprog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qiprog/internal/busdriver"
	"qiprog/internal/devtranslator"
	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport/simtransport"
)

// deviceHarness wires a simtransport.Link between a public Device and a
// devtranslator.Translator driving an in-memory chip, for end-to-end
// exercise of the full host/device split without real USB hardware.
type deviceHarness struct {
	dev   *Device
	ctx   *Context
	chip  *busdriver.MemChip
	tr    *devtranslator.Translator
	link  *simtransport.Link
	stop  chan struct{}
}

func newHarness(t *testing.T) *deviceHarness {
	t.Helper()
	link := simtransport.NewLink(64, 64, 8)

	drv := busdriver.NewSPIDriver()
	chip := busdriver.NewMemChip(1 << 20)
	drv.Attach(chip)

	tr := devtranslator.New(link.DeviceSide())
	require.NoError(t, tr.ChangeDevice(drv))

	link.SetControlHandler(func(bReq uint8, wValue, wIndex uint16, data []byte) ([]byte, error) {
		reply, status := tr.HandleControl(bReq, wValue, wIndex, data)
		if status != qierr.Success {
			return nil, assertableStatusErr(status)
		}
		return reply, nil
	})

	h := &deviceHarness{link: link, chip: chip, tr: tr, stop: make(chan struct{})}

	fakeHostTransport := simtransport.NewFakeHostTransport(link)
	ctx, err := Init(fakeHostTransport)
	require.NoError(t, err)
	h.ctx = ctx

	cands, err := ctx.GetDeviceList(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)

	dev, err := ctx.OpenDevice(context.Background(), cands[0])
	require.NoError(t, err)
	h.dev = dev

	go func() {
		for {
			select {
			case <-h.stop:
				return
			default:
				tr.Tick()
			}
		}
	}()
	return h
}

func (h *deviceHarness) Close() {
	close(h.stop)
	h.dev.Close()
}

func assertableStatusErr(status qierr.Code) error {
	return &statusError{status}
}

type statusError struct{ status qierr.Code }

func (e *statusError) Error() string { return e.status.String() }

func TestDeviceWrite8ThenRead8(t *testing.T) {
	h := newHarness(t)
	defer h.Close()

	require.NoError(t, h.dev.Write8(0x10, 0x42))
	v, err := h.dev.Read8(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), v)
}

func TestDeviceSetBusZeroIsArgError(t *testing.T) {
	h := newHarness(t)
	defer h.Close()

	err := h.dev.SetBus(0)
	require.Error(t, err)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, qierr.Arg, qe.Code)
}

func TestNilDeviceReadIsArgError(t *testing.T) {
	var d *Device
	_, err := d.Read8(0)
	require.Error(t, err)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, qierr.Arg, qe.Code)
}

func TestInitRejectsNilTransport(t *testing.T) {
	_, err := Init(nil)
	require.Error(t, err)
}

func TestWriteBulkReadBulkRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.Close()

	src := make([]byte, 300)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, h.dev.WriteBulk(0x1000, src))

	dst := make([]byte, 300)
	require.NoError(t, h.dev.ReadBulk(0x1000, dst))
	assert.Equal(t, src, dst)
}

func TestWriteBulkNoOpForZeroLength(t *testing.T) {
	h := newHarness(t)
	defer h.Close()
	require.NoError(t, h.dev.WriteBulk(0, nil))
}

func TestReferenceHostdrvConstantsUsedForDiscovery(t *testing.T) {
	assert.Equal(t, uint16(0x1d50), hostdrv.ReferenceVendorID)
	assert.Equal(t, uint16(0x6076), hostdrv.ReferenceProductID)
}
