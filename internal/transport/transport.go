// Package transport declares the capability both the host driver and the
// device translator consume from their respective environments (spec §4.2).
// Concrete backends live in the usbhost, rawusb, and simtransport
// subpackages.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a transport operation does not complete
// within its deadline.
var ErrTimeout = errors.New("transport: operation timed out")

// ErrNotFound is returned by Enumerate/Open when no matching device exists.
var ErrNotFound = errors.New("transport: device not found")

// CandidateDevice identifies a device discovered during enumeration, before
// it is opened.
type CandidateDevice struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string

	// Backend-private locator (e.g. bus/address path); opaque to callers.
	Locator string
}

// BulkResult is delivered to a bulk-in/out completion callback.
type BulkResult struct {
	// Actual is the number of bytes actually transferred.
	Actual int
	// Err is non-nil if the transfer failed (including timeout).
	Err error
}

// HostTransport is the synchronous-control + async-bulk capability the Host
// Driver drives (spec §4.2, host side).
type HostTransport interface {
	// Enumerate lists candidate devices matching vendorID/productID.
	Enumerate(ctx context.Context, vendorID, productID uint16) ([]CandidateDevice, error)

	// Open acquires a handle to cand. The returned Handle is not safe for
	// concurrent use by multiple goroutines (spec §5).
	Open(ctx context.Context, cand CandidateDevice) (Handle, error)
}

// Handle is an opened device handle on the host side.
type Handle interface {
	Close() error

	// ControlIn issues bmRequestType=0xC0 and reads up to len(buf) bytes
	// into buf, returning the number of bytes actually read.
	ControlIn(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) (int, error)

	// ControlOut issues bmRequestType=0x40 with buf as the data stage.
	ControlOut(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) error

	// BulkIn reads exactly one packet (up to len(buf) bytes) from ep.
	BulkIn(ep uint8, buf []byte, timeout time.Duration) (int, error)

	// BulkOut writes exactly one packet to ep.
	BulkOut(ep uint8, buf []byte, timeout time.Duration) (int, error)

	// SubmitBulkIn queues an asynchronous single-packet read of exactly
	// len(buf) bytes. cb is invoked on a goroutine owned by the transport
	// once the transfer completes (or fails).
	SubmitBulkIn(ep uint8, buf []byte, timeout time.Duration, cb func(BulkResult))

	// SubmitBulkOut queues an asynchronous single-packet write.
	SubmitBulkOut(ep uint8, buf []byte, timeout time.Duration, cb func(BulkResult))

	// PollEvents waits for progress on outstanding async transfers. Depending
	// on the backend it returns when a transfer completes or after a short
	// fixed wait, and returns ctx's error once ctx is done. It does not say
	// which transfers finished; callers keep their own completion count.
	PollEvents(ctx context.Context) error

	// MaxPacketSize returns the endpoint's advertised max packet size.
	MaxPacketSize(ep uint8) (uint16, error)
}

// DeviceTransport is the packet send/receive capability the Device
// Translator drives (spec §4.2, device side). Implementations must treat
// transfers as atomic packets: short-packet coalescing is forbidden.
type DeviceTransport interface {
	// SendPacket attempts to send buf[:len] as a single packet.
	// Returns 0 if the transport cannot accept data right now, len if the
	// full packet was queued, or an error for anything else.
	SendPacket(buf []byte, length int) (int, error)

	// RecvPacket attempts to read one packet into buf (up to maxLen bytes).
	// Returns 0 if no packet is currently available.
	RecvPacket(buf []byte, maxLen int) (int, error)

	MaxRxPacket() int
	MaxTxPacket() int
}
