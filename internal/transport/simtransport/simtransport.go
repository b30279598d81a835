// Package simtransport is an in-memory transport.HostTransport and
// transport.DeviceTransport pair used by tests and by the demo binaries.
// It stands in for "whatever firmware stack the MCU provides" on the device
// side (explicitly out of scope per spec §1), while still letting the
// Device Translator and Host Driver be exercised end-to-end against one
// another without real USB hardware.
package simtransport

import (
	"context"
	"sync"
	"time"

	"qiprog/internal/transport"
)

// Link is a bidirectional pair of fixed-size packet queues standing in for
// one bulk IN + one bulk OUT endpoint, plus a control-request mailbox.
type Link struct {
	mu sync.Mutex

	epInSize  int
	epOutSize int

	// toHost carries packets from device to host (bulk IN from the host's
	// perspective).
	toHost chan []byte
	// toDevice carries packets from host to device (bulk OUT).
	toDevice chan []byte

	// control is a synchronous request/response rendezvous for control
	// transfers; handleControl is installed by the device side.
	handleControl func(bRequest uint8, wValue, wIndex uint16, data []byte) (reply []byte, err error)

	// inGate/outGate preserve submission order across concurrently
	// submitted async transfers on the same endpoint: a real single bulk
	// endpoint is a FIFO pipe, so transfer i must observe the i-th packet
	// even though its completion callback may run on its own goroutine.
	inGate, outGate *ticketGate
}

// NewLink creates a Link with the given bulk endpoint sizes and queue depth.
func NewLink(epInSize, epOutSize, queueDepth int) *Link {
	return &Link{
		epInSize:  epInSize,
		epOutSize: epOutSize,
		toHost:    make(chan []byte, queueDepth),
		toDevice:  make(chan []byte, queueDepth),
		inGate:    newTicketGate(),
		outGate:   newTicketGate(),
	}
}

// ticketGate serializes a set of goroutines into the order their tickets
// were issued, regardless of scheduling order.
type ticketGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	current uint64
}

func newTicketGate() *ticketGate {
	g := &ticketGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// take returns the next ticket, to be called synchronously at submission
// time (before any goroutine is spawned) so ticket order matches call
// order.
func (g *ticketGate) take() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.next
	g.next++
	return t
}

// wait blocks until ticket is at the front of the line.
func (g *ticketGate) wait(ticket uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.current != ticket {
		g.cond.Wait()
	}
}

// done advances the line past ticket.
func (g *ticketGate) done() {
	g.mu.Lock()
	g.current++
	g.cond.Broadcast()
	g.mu.Unlock()
}

// SetControlHandler installs the device-side control-request callback.
func (l *Link) SetControlHandler(fn func(bRequest uint8, wValue, wIndex uint16, data []byte) (reply []byte, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handleControl = fn
}

// HostSide returns a transport.Handle usable by the host driver.
func (l *Link) HostSide() transport.Handle {
	return &hostHandle{link: l}
}

// DeviceSide returns a transport.DeviceTransport usable by the translator.
func (l *Link) DeviceSide() transport.DeviceTransport {
	return &deviceSide{link: l}
}

type hostHandle struct{ link *Link }

func (h *hostHandle) Close() error { return nil }

func (h *hostHandle) ControlIn(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) (int, error) {
	h.link.mu.Lock()
	fn := h.link.handleControl
	h.link.mu.Unlock()
	if fn == nil {
		return 0, transport.ErrNotFound
	}
	reply, err := fn(bRequest, wValue, wIndex, nil)
	if err != nil {
		return 0, err
	}
	n := copy(buf, reply)
	return n, nil
}

func (h *hostHandle) ControlOut(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) error {
	h.link.mu.Lock()
	fn := h.link.handleControl
	h.link.mu.Unlock()
	if fn == nil {
		return transport.ErrNotFound
	}
	_, err := fn(bRequest, wValue, wIndex, buf)
	return err
}

func (h *hostHandle) BulkIn(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	select {
	case pkt := <-h.link.toHost:
		return copy(buf, pkt), nil
	case <-time.After(timeout):
		return 0, transport.ErrTimeout
	}
}

func (h *hostHandle) BulkOut(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	pkt := append([]byte(nil), buf...)
	select {
	case h.link.toDevice <- pkt:
		return len(pkt), nil
	case <-time.After(timeout):
		return 0, transport.ErrTimeout
	}
}

func (h *hostHandle) SubmitBulkIn(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	ticket := h.link.inGate.take()
	go func() {
		h.link.inGate.wait(ticket)
		n, err := h.BulkIn(ep, buf, timeout)
		h.link.inGate.done()
		cb(transport.BulkResult{Actual: n, Err: err})
	}()
}

func (h *hostHandle) SubmitBulkOut(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	ticket := h.link.outGate.take()
	go func() {
		h.link.outGate.wait(ticket)
		n, err := h.BulkOut(ep, buf, timeout)
		h.link.outGate.done()
		cb(transport.BulkResult{Actual: n, Err: err})
	}()
}

func (h *hostHandle) PollEvents(ctx context.Context) error {
	select {
	case <-time.After(time.Microsecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *hostHandle) MaxPacketSize(ep uint8) (uint16, error) {
	if ep&0x80 != 0 {
		return uint16(h.link.epInSize), nil
	}
	return uint16(h.link.epOutSize), nil
}

type deviceSide struct{ link *Link }

func (d *deviceSide) SendPacket(buf []byte, length int) (int, error) {
	pkt := append([]byte(nil), buf[:length]...)
	select {
	case d.link.toHost <- pkt:
		return length, nil
	default:
		return 0, nil // queue full: "cannot send now" per spec §4.2
	}
}

func (d *deviceSide) RecvPacket(buf []byte, maxLen int) (int, error) {
	select {
	case pkt := <-d.link.toDevice:
		return copy(buf[:maxLen], pkt), nil
	default:
		return 0, nil // nothing available right now
	}
}

func (d *deviceSide) MaxRxPacket() int { return d.link.epOutSize }
func (d *deviceSide) MaxTxPacket() int { return d.link.epInSize }

// FakeHostTransport is a transport.HostTransport that "discovers" exactly
// one candidate device bound to a pre-wired Link when asked for the
// reference vendor/product pair (and none for any other pair), letting tests
// exercise the public API's discovery path without a real USB stack.
type FakeHostTransport struct {
	link *Link
	cand transport.CandidateDevice
}

// NewFakeHostTransport wraps link behind a transport.HostTransport whose
// Enumerate reports one candidate matching the reference vendor/product
// pair.
func NewFakeHostTransport(link *Link) *FakeHostTransport {
	return &FakeHostTransport{
		link: link,
		cand: transport.CandidateDevice{
			VendorID:  0x1d50,
			ProductID: 0x6076,
			Product:   "simulated QiProg programmer",
			Locator:   "sim:0",
		},
	}
}

func (f *FakeHostTransport) Enumerate(ctx context.Context, vendorID, productID uint16) ([]transport.CandidateDevice, error) {
	if vendorID != f.cand.VendorID || productID != f.cand.ProductID {
		return nil, nil
	}
	return []transport.CandidateDevice{f.cand}, nil
}

func (f *FakeHostTransport) Open(ctx context.Context, cand transport.CandidateDevice) (transport.Handle, error) {
	if cand.Locator != f.cand.Locator {
		return nil, transport.ErrNotFound
	}
	return f.link.HostSide(), nil
}
