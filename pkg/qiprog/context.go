// Package qiprog is the public API: a thin, validating façade in front of
// the Host Driver, exposing discovery and the Device operation set (spec
// §4.5). Argument validation (null handle, oversize variadic lists) fails
// fast with ERR_ARG before any transport call; everything else is
// delegated straight through.
package qiprog

import (
	"context"
	"fmt"
	"sync"

	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport"
)

// Context is process-wide state owning a transport handle (spec §3). Not
// safe for concurrent use from multiple goroutines.
type Context struct {
	transport transport.HostTransport

	mu      sync.Mutex
	devices map[*Device]struct{}
}

// Init creates a Context bound to a HostTransport backend (usbhost, rawusb,
// or simtransport, per deployment).
func Init(ht transport.HostTransport) (*Context, error) {
	if ht == nil {
		return nil, newError(qierr.Arg, fmt.Errorf("qiprog: init: nil transport"))
	}
	return &Context{transport: ht, devices: make(map[*Device]struct{})}, nil
}

// GetDeviceList enumerates candidate devices matching the reference
// vendor/product pair (spec §6); other identifiers can be scanned by
// calling the transport directly and wrapping the result with OpenDevice.
func (c *Context) GetDeviceList(ctx context.Context) ([]transport.CandidateDevice, error) {
	return c.GetDeviceListFor(ctx, hostdrv.ReferenceVendorID, hostdrv.ReferenceProductID)
}

// GetDeviceListFor enumerates candidate devices matching an explicit
// vendor/product pair, for callers that target a non-reference programmer
// (spec §6: "other identifiers can be added without protocol changes").
func (c *Context) GetDeviceListFor(ctx context.Context, vendorID, productID uint16) ([]transport.CandidateDevice, error) {
	cands, err := c.transport.Enumerate(ctx, vendorID, productID)
	if err != nil {
		return nil, classify(err)
	}
	return cands, nil
}

// OpenDevice opens cand and returns an owned Device handle. The caller is
// responsible for releasing it (directly, via Device.Close, or implicitly
// through Context.Exit).
func (c *Context) OpenDevice(ctx context.Context, cand transport.CandidateDevice) (*Device, error) {
	handle, err := c.transport.Open(ctx, cand)
	if err != nil {
		return nil, classify(err)
	}
	host, err := hostdrv.New(handle)
	if err != nil {
		handle.Close()
		return nil, classify(err)
	}

	d := &Device{ctx: c, host: host}
	c.mu.Lock()
	c.devices[d] = struct{}{}
	c.mu.Unlock()
	return d, nil
}

// Exit releases every device still owned by this Context (spec §3: "exit
// must release every dependent device").
func (c *Context) Exit() error {
	c.mu.Lock()
	devices := make([]*Device, 0, len(c.devices))
	for d := range c.devices {
		devices = append(devices, d)
	}
	c.devices = make(map[*Device]struct{})
	c.mu.Unlock()

	var firstErr error
	for _, d := range devices {
		if err := d.host.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return classify(firstErr)
	}
	return nil
}

// forget removes d from the owning Context's live set, called by
// Device.Close so a later Exit doesn't double-close it.
func (c *Context) forget(d *Device) {
	c.mu.Lock()
	delete(c.devices, d)
	c.mu.Unlock()
}
