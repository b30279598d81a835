//go:build linux

// Package rawusb implements transport.HostTransport directly over Linux's
// usbdevfs ioctls, bypassing libusb entirely. This is the fallback used on
// targets where cgo/libusb is unavailable, grounded in the teacher's MIPS
// direct-ioctl path (internal/driver/device/usb_device_mips.go) which talks
// to /dev/bus/usb the same way.
package rawusb

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"qiprog/internal/transport"
)

// usbdevfs ioctl numbers, 32-bit MIPS encoding (dir<<29 | size<<16 |
// type<<8 | nr), same constants the teacher's usb_device_mips.go derives.
const (
	usbdevfsControl           = 0xc0105500
	usbdevfsBulk              = 0xc0105502
	usbdevfsClaimInterface    = 0x4004550f
	usbdevfsReleaseInterface  = 0x40045510
	usbdevfsSetConfiguration  = 0x40045505
)

type ctrlTransfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	Data        unsafe.Pointer
}

type bulkTransfer struct {
	Ep      uint32
	Len     uint32
	Timeout uint32
	Data    unsafe.Pointer
}

// Transport is a transport.HostTransport backed by raw usbdevfs ioctls.
type Transport struct{}

// New returns a rawusb Transport.
func New() *Transport { return &Transport{} }

// Enumerate scans /dev/bus/usb for devices whose descriptor reports
// vendorID/productID.
func (t *Transport) Enumerate(ctx context.Context, vendorID, productID uint16) ([]transport.CandidateDevice, error) {
	const busRoot = "/dev/bus/usb"
	var found []transport.CandidateDevice

	busDirs, err := os.ReadDir(busRoot)
	if err != nil {
		return nil, fmt.Errorf("rawusb: read %s: %w", busRoot, err)
	}
	for _, bd := range busDirs {
		devDir := filepath.Join(busRoot, bd.Name())
		devFiles, err := os.ReadDir(devDir)
		if err != nil {
			continue
		}
		for _, df := range devFiles {
			path := filepath.Join(devDir, df.Name())
			vid, pid, ok := readDescriptorIDs(path)
			if !ok || vid != vendorID || pid != productID {
				continue
			}
			found = append(found, transport.CandidateDevice{
				VendorID:  vid,
				ProductID: pid,
				Locator:   path,
			})
		}
	}
	return found, nil
}

// readDescriptorIDs reads the 18-byte standard device descriptor at the
// front of a usbdevfs device file.
func readDescriptorIDs(path string) (vid, pid uint16, ok bool) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	buf := make([]byte, 18)
	n, err := f.Read(buf)
	if err != nil || n < 18 || buf[0] != 18 || buf[1] != 1 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint16(buf[8:10]), binary.LittleEndian.Uint16(buf[10:12]), true
}

// Open claims interface 0 of the device at cand.Locator.
func (t *Transport) Open(ctx context.Context, cand transport.CandidateDevice) (transport.Handle, error) {
	fd, err := unix.Open(cand.Locator, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("rawusb: open %s: %w", cand.Locator, err)
	}

	iface := uint32(0)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), usbdevfsClaimInterface, uintptr(unsafe.Pointer(&iface))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("rawusb: claim interface: %w", errno)
	}

	return &handle{fd: fd}, nil
}

type handle struct {
	fd int
	mu sync.Mutex
}

func (h *handle) Close() error {
	iface := uint32(0)
	unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsReleaseInterface, uintptr(unsafe.Pointer(&iface)))
	return unix.Close(h.fd)
}

func (h *handle) control(bmRequestType, bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dataPtr unsafe.Pointer
	if len(buf) > 0 {
		dataPtr = unsafe.Pointer(&buf[0])
	}
	xfer := ctrlTransfer{
		RequestType: bmRequestType,
		Request:     bRequest,
		Value:       wValue,
		Index:       wIndex,
		Length:      uint16(len(buf)),
		Timeout:     uint32(timeout.Milliseconds()),
		Data:        dataPtr,
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsControl, uintptr(unsafe.Pointer(&xfer)))
	if errno == unix.ETIMEDOUT {
		return 0, transport.ErrTimeout
	}
	if errno != 0 {
		return 0, fmt.Errorf("rawusb: control ioctl: %w", errno)
	}
	return int(ret), nil
}

func (h *handle) ControlIn(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) (int, error) {
	return h.control(0xC0, bRequest, wValue, wIndex, buf, timeout)
}

func (h *handle) ControlOut(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) error {
	_, err := h.control(0x40, bRequest, wValue, wIndex, buf, timeout)
	return err
}

func (h *handle) bulk(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dataPtr unsafe.Pointer
	if len(buf) > 0 {
		dataPtr = unsafe.Pointer(&buf[0])
	}
	xfer := bulkTransfer{
		Ep:      uint32(ep),
		Len:     uint32(len(buf)),
		Timeout: uint32(timeout.Milliseconds()),
		Data:    dataPtr,
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsBulk, uintptr(unsafe.Pointer(&xfer)))
	if errno == unix.ETIMEDOUT {
		return 0, transport.ErrTimeout
	}
	if errno != 0 {
		return 0, fmt.Errorf("rawusb: bulk ioctl: %w", errno)
	}
	return int(ret), nil
}

func (h *handle) BulkIn(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	return h.bulk(ep, buf, timeout)
}

func (h *handle) BulkOut(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	return h.bulk(ep, buf, timeout)
}

func (h *handle) SubmitBulkIn(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	go func() {
		n, err := h.BulkIn(ep, buf, timeout)
		cb(transport.BulkResult{Actual: n, Err: err})
	}()
}

func (h *handle) SubmitBulkOut(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	go func() {
		n, err := h.BulkOut(ep, buf, timeout)
		cb(transport.BulkResult{Actual: n, Err: err})
	}()
}

// PollEvents has nothing central to drive on this backend: each submit runs
// its own blocking ioctl on its own goroutine. Sleep briefly so callers
// looping on PollEvents don't busy-spin while those goroutines run.
func (h *handle) PollEvents(ctx context.Context) error {
	select {
	case <-time.After(time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) MaxPacketSize(ep uint8) (uint16, error) {
	// usbdevfs has no direct "get endpoint descriptor" ioctl without
	// parsing the config descriptor; the reference endpoint size (64) is
	// assumed when unknown, matching the spec's "typically 64" note (§6).
	return 64, nil
}
