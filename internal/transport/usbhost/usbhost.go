//go:build !mips && !mipsle
// +build !mips,!mipsle

// Package usbhost implements transport.HostTransport over
// github.com/google/gousb (libusb). This is the reference binding named in
// spec §1/§6. NOTE: excluded on MIPS builds, same as the teacher's direct
// USB path, because gousb needs cgo+libusb that embedded MIPS targets
// usually lack; rawusb is the fallback there.
package usbhost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"qiprog/internal/transport"
)

// Transport is a transport.HostTransport backed by a single shared
// gousb.Context.
type Transport struct {
	ctx *gousb.Context
}

// New opens a libusb context. Callers must call Close when finished.
func New() *Transport {
	return &Transport{ctx: gousb.NewContext()}
}

// Close releases the underlying libusb context.
func (t *Transport) Close() error {
	return t.ctx.Close()
}

// Enumerate lists attached devices matching vendorID/productID (spec §4.2).
func (t *Transport) Enumerate(ctx context.Context, vendorID, productID uint16) ([]transport.CandidateDevice, error) {
	var found []transport.CandidateDevice
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(vendorID) && desc.Product == gousb.ID(productID) {
			found = append(found, transport.CandidateDevice{
				VendorID:  vendorID,
				ProductID: productID,
				Locator:   fmt.Sprintf("%d-%d", desc.Bus, desc.Address),
			})
		}
		// Never keep devices open here; OpenDevices closes any we don't
		// claim by returning false.
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("usbhost: enumerate: %w", err)
	}
	return found, nil
}

// Open claims config 1 / interface 0 / altsetting 0 of cand, matching the
// teacher's OpenUSBDevice sequence.
func (t *Transport) Open(ctx context.Context, cand transport.CandidateDevice) (transport.Handle, error) {
	dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(cand.VendorID), gousb.ID(cand.ProductID))
	if err != nil {
		return nil, fmt.Errorf("usbhost: open: %w", err)
	}
	if dev == nil {
		return nil, transport.ErrNotFound
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("usbhost: set config: %w", err)
	}

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, fmt.Errorf("usbhost: claim interface: %w", err)
	}

	return &handle{dev: dev, cfg: cfg, intf: intf, notify: make(chan struct{}, 64)}, nil
}

type handle struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	// notify wakes PollEvents whenever a submitted transfer completes.
	notify chan struct{}
}

func (h *handle) Close() error {
	h.intf.Close()
	h.cfg.Close()
	return h.dev.Close()
}

func (h *handle) ControlIn(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) (int, error) {
	h.dev.ControlTimeout = timeout
	n, err := h.dev.Control(0xC0, bRequest, wValue, wIndex, buf)
	if err != nil {
		return 0, fmt.Errorf("usbhost: control in: %w", err)
	}
	return n, nil
}

func (h *handle) ControlOut(bRequest uint8, wValue, wIndex uint16, buf []byte, timeout time.Duration) error {
	h.dev.ControlTimeout = timeout
	_, err := h.dev.Control(0x40, bRequest, wValue, wIndex, buf)
	if err != nil {
		return fmt.Errorf("usbhost: control out: %w", err)
	}
	return nil
}

func (h *handle) endpointIn(ep uint8) (*gousb.InEndpoint, error) {
	return h.intf.InEndpoint(int(ep &^ 0x80))
}

func (h *handle) endpointOut(ep uint8) (*gousb.OutEndpoint, error) {
	return h.intf.OutEndpoint(int(ep))
}

func (h *handle) BulkIn(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	epIn, err := h.endpointIn(ep)
	if err != nil {
		return 0, fmt.Errorf("usbhost: open in endpoint: %w", err)
	}
	c, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := epIn.ReadContext(c, buf)
	if err != nil {
		return n, fmt.Errorf("usbhost: bulk in: %w", err)
	}
	return n, nil
}

func (h *handle) BulkOut(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	epOut, err := h.endpointOut(ep)
	if err != nil {
		return 0, fmt.Errorf("usbhost: open out endpoint: %w", err)
	}
	c, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := epOut.WriteContext(c, buf)
	if err != nil {
		return n, fmt.Errorf("usbhost: bulk out: %w", err)
	}
	return n, nil
}

// SubmitBulkIn runs the transfer on its own goroutine, invokes cb on
// completion, then wakes PollEvents through the notify channel.
func (h *handle) SubmitBulkIn(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	go func() {
		n, err := h.BulkIn(ep, buf, timeout)
		cb(transport.BulkResult{Actual: n, Err: err})
		select {
		case h.notify <- struct{}{}:
		default:
		}
	}()
}

func (h *handle) SubmitBulkOut(ep uint8, buf []byte, timeout time.Duration, cb func(transport.BulkResult)) {
	go func() {
		n, err := h.BulkOut(ep, buf, timeout)
		cb(transport.BulkResult{Actual: n, Err: err})
		select {
		case h.notify <- struct{}{}:
		default:
		}
	}()
}

// PollEvents blocks until at least one outstanding transfer completes (or
// ctx is done), mirroring libusb's event-handling loop: gousb dispatches
// completions on the goroutines SubmitBulkIn/SubmitBulkOut started, and
// PollEvents is the synchronization point the caller's fan-out loop uses to
// wait for the next one.
func (h *handle) PollEvents(ctx context.Context) error {
	select {
	case <-h.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) MaxPacketSize(ep uint8) (uint16, error) {
	if ep&0x80 != 0 {
		in, err := h.endpointIn(ep)
		if err != nil {
			return 0, err
		}
		return uint16(in.Desc.MaxPacketSize), nil
	}
	out, err := h.endpointOut(ep)
	if err != nil {
		return 0, err
	}
	return uint16(out.Desc.MaxPacketSize), nil
}
