package hostdrv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qiprog/internal/transport"
	"qiprog/internal/wire"
)

// cursor is the per-device address window and read/write pointers (spec
// §3): start <= pread <= end+1 and start <= pwrite <= end+1.
type cursor struct {
	start, end     uint32
	pread, pwrite  uint32
	valid          bool
}

// Host is the host-side Device implementation (spec §4.3). It is not safe
// for concurrent use by multiple goroutines (spec §5); callers serialize.
type Host struct {
	handle  transport.Handle
	cursor  cursor
	timeout time.Duration

	epIn, epOut uint8

	// residual holds bytes received from the last bulk-in that the caller
	// did not ask for (spec §3). Invariant: len(residual) < epInSize.
	residual    []byte
	epInSize    int
	epOutSize   int

	mu sync.Mutex
}

// New wraps an opened transport.Handle as a Host driver instance.
func New(handle transport.Handle) (*Host, error) {
	h := &Host{
		handle:  handle,
		timeout: DefaultTimeout,
		epIn:    EndpointIn,
		epOut:   EndpointOut,
	}

	epInSize, err := handle.MaxPacketSize(h.epIn)
	if err != nil {
		return nil, fmt.Errorf("hostdrv: query IN endpoint size: %w", err)
	}
	epOutSize, err := handle.MaxPacketSize(h.epOut)
	if err != nil {
		return nil, fmt.Errorf("hostdrv: query OUT endpoint size: %w", err)
	}
	h.epInSize = int(epInSize)
	h.epOutSize = int(epOutSize)
	return h, nil
}

// GetCapabilities issues GET_CAPABILITIES (spec §4.3 protocol map).
func (h *Host) GetCapabilities() (wire.Capabilities, error) {
	var buf [wire.CapabilitiesSize]byte
	n, err := h.handle.ControlIn(ReqGetCapabilities, 0, 0, buf[:], h.timeout)
	if err != nil {
		return wire.Capabilities{}, fmt.Errorf("hostdrv: get_capabilities: %w", err)
	}
	if n < wire.CapabilitiesSize {
		return wire.Capabilities{}, fmt.Errorf("hostdrv: get_capabilities: %w", ErrPartialTransfer)
	}
	return wire.UnpackCapabilities(buf[:]), nil
}

// SetBus selects the active bus mask; set_bus(0) is rejected (spec §4.3).
func (h *Host) SetBus(mask uint32) error {
	if mask == 0 {
		return fmt.Errorf("hostdrv: set_bus(0): %w", ErrArgument)
	}
	wValue := uint16(mask >> 16)
	wIndex := uint16(mask & 0xFFFF)
	if err := h.handle.ControlOut(ReqSetBus, wValue, wIndex, nil, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_bus: %w", err)
	}
	return nil
}

// ReadChipID issues READ_DEVICE_ID and returns the chip-identity vector.
func (h *Host) ReadChipID() ([wire.MaxChipIDs]wire.ChipID, error) {
	var buf [wire.ChipIDsSize]byte
	n, err := h.handle.ControlIn(ReqReadDeviceID, 0, 0, buf[:], h.timeout)
	if err != nil {
		return [wire.MaxChipIDs]wire.ChipID{}, fmt.Errorf("hostdrv: read_chip_id: %w", err)
	}
	if n < wire.ChipIDsSize {
		return [wire.MaxChipIDs]wire.ChipID{}, fmt.Errorf("hostdrv: read_chip_id: %w", ErrPartialTransfer)
	}
	return wire.UnpackChipIDs(buf[:]), nil
}

// SetChipSize issues SET_CHIP_SIZE(idx, size).
func (h *Host) SetChipSize(idx uint16, size uint32) error {
	var buf [4]byte
	wire.PutU32(size, buf[:])
	if err := h.handle.ControlOut(ReqSetChipSize, 0, idx, buf[:], h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_chip_size: %w", err)
	}
	return nil
}

// SetAddress defines the address window subsequent bulk calls operate on
// (spec §3/§4.3). Cursors reset to start on every call.
func (h *Host) SetAddress(start, end uint32) error {
	var buf [wire.AddressSize]byte
	wire.EncodeAddress(start, end, buf[:])
	if err := h.handle.ControlOut(ReqSetAddress, 0, 0, buf[:], h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_address: %w", err)
	}
	h.cursor = cursor{start: start, end: end, pread: start, pwrite: start, valid: true}
	h.residual = nil
	return nil
}

// EraseSizeEntry is one {type, size} pair of a set_erase_size call.
type EraseSizeEntry struct {
	Type uint8
	Size uint32
}

// SetEraseSize issues SET_ERASE_SIZE(idx, sizes...). len(sizes) must be in
// [1, 12]; spec calls for an argument error at 0 and 13+ (tested boundary).
func (h *Host) SetEraseSize(idx uint16, sizes []EraseSizeEntry) error {
	if len(sizes) == 0 || len(sizes) > MaxVariadicArgs {
		return fmt.Errorf("hostdrv: set_erase_size: %d entries: %w", len(sizes), ErrArgument)
	}
	buf := make([]byte, 5*len(sizes))
	for i, s := range sizes {
		buf[5*i] = s.Type
		wire.PutU32(s.Size, buf[5*i+1:5*i+5])
	}
	if err := h.handle.ControlOut(ReqSetEraseSize, 0, idx, buf, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_erase_size: %w", err)
	}
	return nil
}

// SetEraseCommand issues SET_ERASE_COMMAND(idx, cmd, sub, flags).
func (h *Host) SetEraseCommand(idx uint16, cmd, sub uint8, flags uint16) error {
	buf := []byte{cmd, sub, byte(flags), byte(flags >> 8)}
	if err := h.handle.ControlOut(ReqSetEraseCommand, 0, idx, buf, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_erase_command: %w", err)
	}
	return nil
}

// CustomEraseStep is one {addr, data} pair of a custom erase sequence.
type CustomEraseStep struct {
	Addr uint32
	Data []byte
}

// SetCustomEraseCommand issues the variable-length custom erase command
// payload (4 + 5n bytes, spec §4.3): a 4-byte header followed by n 5-byte
// {type, size} style steps, matching set_erase_size's per-entry encoding.
func (h *Host) SetCustomEraseCommand(idx uint16, header uint32, steps []EraseSizeEntry) error {
	if len(steps) > MaxVariadicArgs {
		return fmt.Errorf("hostdrv: set_custom_erase_command: %d steps: %w", len(steps), ErrArgument)
	}
	buf := make([]byte, 4+5*len(steps))
	wire.PutU32(header, buf[0:4])
	for i, s := range steps {
		off := 4 + 5*i
		buf[off] = s.Type
		wire.PutU32(s.Size, buf[off+1:off+5])
	}
	if err := h.handle.ControlOut(ReqSetEraseCommand, 0, idx, buf, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_custom_erase_command: %w", err)
	}
	return nil
}

// SetWriteCommand issues SET_WRITE_COMMAND(idx, cmd).
func (h *Host) SetWriteCommand(idx uint16, cmd uint32) error {
	var buf [4]byte
	wire.PutU32(cmd, buf[:])
	if err := h.handle.ControlOut(ReqSetWriteCommand, 0, idx, buf[:], h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_write_command: %w", err)
	}
	return nil
}

// SetSPITiming issues SET_SPI_TIMING (device side may treat as pass-through
// or no-op per spec §9; the host side just forwards it).
func (h *Host) SetSPITiming(wValue, wIndex uint16) error {
	if err := h.handle.ControlOut(ReqSetSPITiming, wValue, wIndex, nil, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_spi_timing: %w", err)
	}
	return nil
}

// SetClock issues SET_CLOCK.
func (h *Host) SetClock(wValue, wIndex uint16) error {
	if err := h.handle.ControlOut(ReqSetClock, wValue, wIndex, nil, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_clock: %w", err)
	}
	return nil
}

// SetVDD issues SET_VDD(millivolts).
func (h *Host) SetVDD(millivolts uint16) error {
	if err := h.handle.ControlOut(ReqSetVDD, 0, millivolts, nil, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: set_vdd: %w", err)
	}
	return nil
}

func addrWValueWIndex(addr uint32) (uint16, uint16) {
	return uint16(addr >> 16), uint16(addr & 0xFFFF)
}

// Read8/Read16/Read32 issue direct reads at addr (spec §4.3).
func (h *Host) Read8(addr uint32) (uint8, error) {
	wValue, wIndex := addrWValueWIndex(addr)
	var buf [1]byte
	n, err := h.handle.ControlIn(ReqRead8, wValue, wIndex, buf[:], h.timeout)
	if err != nil {
		return 0, fmt.Errorf("hostdrv: read8: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("hostdrv: read8: %w", ErrPartialTransfer)
	}
	return buf[0], nil
}

func (h *Host) Read16(addr uint32) (uint16, error) {
	wValue, wIndex := addrWValueWIndex(addr)
	var buf [2]byte
	n, err := h.handle.ControlIn(ReqRead16, wValue, wIndex, buf[:], h.timeout)
	if err != nil {
		return 0, fmt.Errorf("hostdrv: read16: %w", err)
	}
	if n < 2 {
		return 0, fmt.Errorf("hostdrv: read16: %w", ErrPartialTransfer)
	}
	return wire.GetU16(buf[:]), nil
}

func (h *Host) Read32(addr uint32) (uint32, error) {
	wValue, wIndex := addrWValueWIndex(addr)
	var buf [4]byte
	n, err := h.handle.ControlIn(ReqRead32, wValue, wIndex, buf[:], h.timeout)
	if err != nil {
		return 0, fmt.Errorf("hostdrv: read32: %w", err)
	}
	if n < 4 {
		return 0, fmt.Errorf("hostdrv: read32: %w", ErrPartialTransfer)
	}
	return wire.GetU32(buf[:]), nil
}

// Write8/Write16/Write32 issue direct writes at addr.
func (h *Host) Write8(addr uint32, val uint8) error {
	wValue, wIndex := addrWValueWIndex(addr)
	if err := h.handle.ControlOut(ReqWrite8, wValue, wIndex, []byte{val}, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: write8: %w", err)
	}
	return nil
}

func (h *Host) Write16(addr uint32, val uint16) error {
	wValue, wIndex := addrWValueWIndex(addr)
	buf := make([]byte, 2)
	wire.PutU16(val, buf)
	if err := h.handle.ControlOut(ReqWrite16, wValue, wIndex, buf, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: write16: %w", err)
	}
	return nil
}

func (h *Host) Write32(addr uint32, val uint32) error {
	wValue, wIndex := addrWValueWIndex(addr)
	buf := make([]byte, 4)
	wire.PutU32(val, buf)
	if err := h.handle.ControlOut(ReqWrite32, wValue, wIndex, buf, h.timeout); err != nil {
		return fmt.Errorf("hostdrv: write32: %w", err)
	}
	return nil
}

// Close releases the underlying transport handle.
func (h *Host) Close() error {
	return h.handle.Close()
}

// ensureWindow issues set_address if the cursor doesn't already cover
// [where, where+n-1] starting exactly at where (spec §4.3 step 1).
func (h *Host) ensureWindow(where uint32, n uint32) error {
	if h.cursor.valid && h.cursor.pread == where && h.cursor.end >= where+n-1 {
		return nil
	}
	return h.SetAddress(where, where+n-1)
}

// ReadBulk implements the bulk read algorithm of spec §4.3.
func (h *Host) ReadBulk(where uint32, dst []byte) error {
	n := uint32(len(dst))
	if n == 0 {
		return nil
	}

	if err := h.ensureWindow(where, n); err != nil {
		return err
	}

	// Step 2: drain residual first.
	if len(h.residual) > 0 {
		take := len(h.residual)
		if uint32(take) > n {
			take = int(n)
		}
		copy(dst, h.residual[:take])
		dst = dst[take:]
		h.residual = h.residual[take:]
		n -= uint32(take)
		h.cursor.pread += uint32(take)
		if len(h.residual) > 0 {
			// Residual still non-empty: satisfied entirely from residual,
			// no transport work needed (spec §4.3 step 2).
			return nil
		}
		if n == 0 {
			return nil
		}
	}

	epIn := uint32(h.epInSize)
	rangeLen := (n / epIn) * epIn

	if rangeLen > 0 {
		if err := h.fanOutBulkIn(dst[:rangeLen], rangeLen); err != nil {
			return err
		}
		dst = dst[rangeLen:]
		h.cursor.pread += rangeLen
	}

	left := n - rangeLen
	if left == 0 {
		return nil
	}

	// Step 7: aligned tail read into the residual buffer. The packet may be
	// shorter than epIn when the address window ends inside it; it only has
	// to cover the left bytes the caller asked for. pread counts bytes handed
	// to the caller, so the residual is counted when it is drained above.
	buf := make([]byte, epIn)
	received, err := h.handle.BulkIn(h.epIn, buf, h.timeout)
	if err != nil {
		return fmt.Errorf("hostdrv: read_bulk tail: %w", err)
	}
	if uint32(received) < left {
		return fmt.Errorf("hostdrv: read_bulk tail: got %d want at least %d: %w", received, left, ErrPartialTransfer)
	}
	copy(dst, buf[:left])
	h.residual = append([]byte(nil), buf[left:received]...)
	h.cursor.pread += left
	return nil
}

// fanOutBulkIn queues min(rangeLen/epIn, MaxConcurrentTransfers) concurrent
// bulk-in transfers, each exactly epIn bytes, re-submitting the next
// transfer as slots free up until total_transfers initial transfers have
// been issued (spec §4.3 step 4). It does not return until every in-flight
// transfer has drained (step 4/5): callbacks write disjoint slices of dst
// so no lock is needed on the buffer itself.
func (h *Host) fanOutBulkIn(dst []byte, rangeLen uint32) error {
	epIn := uint32(h.epInSize)
	totalTransfers := int(rangeLen / epIn)
	queueDepth := totalTransfers
	if queueDepth > MaxConcurrentTransfers {
		queueDepth = MaxConcurrentTransfers
	}

	var (
		active   int64
		nextIdx  int64
		failedMu sync.Mutex
		failed   error
	)

	var wg sync.WaitGroup

	var submit func(idx int)
	submit = func(idx int) {
		atomic.AddInt64(&active, 1)
		wg.Add(1)
		off := uint32(idx) * epIn
		buf := dst[off : off+epIn]
		h.handle.SubmitBulkIn(h.epIn, buf, h.timeout, func(res transport.BulkResult) {
			defer wg.Done()
			defer atomic.AddInt64(&active, -1)

			if res.Err != nil || uint32(res.Actual) != epIn {
				failedMu.Lock()
				if failed == nil {
					if res.Err != nil {
						failed = fmt.Errorf("hostdrv: fan-out transfer %d: %w", idx, res.Err)
					} else {
						failed = fmt.Errorf("hostdrv: fan-out transfer %d: got %d want %d: %w", idx, res.Actual, epIn, ErrPartialTransfer)
					}
				}
				failedMu.Unlock()
				// Do not resubmit on failure; let outstanding transfers drain.
				return
			}

			next := int(atomic.AddInt64(&nextIdx, 1)) + queueDepth - 1
			if next < totalTransfers {
				submit(next)
			}
		})
	}

	for i := 0; i < queueDepth; i++ {
		submit(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout*time.Duration(totalTransfers/queueDepth+2))
	defer cancel()
	for atomic.LoadInt64(&active) > 0 {
		if err := h.handle.PollEvents(ctx); err != nil {
			break
		}
	}
	wg.Wait()

	failedMu.Lock()
	defer failedMu.Unlock()
	return failed
}

// WriteBulk implements the bulk write algorithm of spec §4.3: mirrors
// ReadBulk steps 1/3-5/7, except the leftover tail is sent as-is with its
// true length (no residual, no endpoint-alignment requirement).
func (h *Host) WriteBulk(where uint32, src []byte) error {
	n := uint32(len(src))
	if n == 0 {
		return nil
	}

	if err := h.ensureWindow(where, n); err != nil {
		return err
	}

	epOut := uint32(h.epOutSize)
	rangeLen := (n / epOut) * epOut

	if rangeLen > 0 {
		if err := h.fanOutBulkOut(src[:rangeLen], rangeLen); err != nil {
			return err
		}
		h.cursor.pwrite += rangeLen
	}

	left := n - rangeLen
	if left == 0 {
		return nil
	}

	tail := src[rangeLen:]
	sent, err := h.handle.BulkOut(h.epOut, tail, h.timeout)
	if err != nil {
		return fmt.Errorf("hostdrv: write_bulk tail: %w", err)
	}
	if uint32(sent) != left {
		return fmt.Errorf("hostdrv: write_bulk tail: sent %d want %d: %w", sent, left, ErrPartialTransfer)
	}
	h.cursor.pwrite += uint32(sent)
	return nil
}

func (h *Host) fanOutBulkOut(src []byte, rangeLen uint32) error {
	epOut := uint32(h.epOutSize)
	totalTransfers := int(rangeLen / epOut)
	queueDepth := totalTransfers
	if queueDepth > MaxConcurrentTransfers {
		queueDepth = MaxConcurrentTransfers
	}

	var (
		active   int64
		nextIdx  int64
		failedMu sync.Mutex
		failed   error
	)
	var wg sync.WaitGroup

	var submit func(idx int)
	submit = func(idx int) {
		atomic.AddInt64(&active, 1)
		wg.Add(1)
		off := uint32(idx) * epOut
		buf := src[off : off+epOut]
		h.handle.SubmitBulkOut(h.epOut, buf, h.timeout, func(res transport.BulkResult) {
			defer wg.Done()
			defer atomic.AddInt64(&active, -1)

			if res.Err != nil || uint32(res.Actual) != epOut {
				failedMu.Lock()
				if failed == nil {
					if res.Err != nil {
						failed = fmt.Errorf("hostdrv: fan-out transfer %d: %w", idx, res.Err)
					} else {
						failed = fmt.Errorf("hostdrv: fan-out transfer %d: sent %d want %d: %w", idx, res.Actual, epOut, ErrPartialTransfer)
					}
				}
				failedMu.Unlock()
				return
			}

			next := int(atomic.AddInt64(&nextIdx, 1)) + queueDepth - 1
			if next < totalTransfers {
				submit(next)
			}
		})
	}

	for i := 0; i < queueDepth; i++ {
		submit(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout*time.Duration(totalTransfers/queueDepth+2))
	defer cancel()
	for atomic.LoadInt64(&active) > 0 {
		if err := h.handle.PollEvents(ctx); err != nil {
			break
		}
	}
	wg.Wait()

	failedMu.Lock()
	defer failedMu.Unlock()
	return failed
}

// Cursor returns a snapshot of the current address cursor (for tests/§8
// invariant checks).
func (h *Host) Cursor() (start, end, pread, pwrite uint32, valid bool) {
	return h.cursor.start, h.cursor.end, h.cursor.pread, h.cursor.pwrite, h.cursor.valid
}
