// cmd/qiprog-device is a thin demo binary standing in for device-side
// firmware: it wires a Translator to a simulated transport and chip, runs
// the event loop, and exposes a read-only HTTP status endpoint reporting
// the tick count, the active bus mask and the bytes left in the address
// window — purely diagnostic, never on the handle_control/handle_events
// path itself.
package main

import (
	"flag"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"qiprog/internal/busdriver"
	"qiprog/internal/config"
	"qiprog/internal/devtranslator"
	"qiprog/internal/ebpftrace"
	"qiprog/internal/qierr"
	"qiprog/internal/transport/simtransport"
)

var (
	httpAddr   = flag.String("http", ":8088", "diagnostics HTTP listen address")
	chipSize   = flag.Int("chip-size", 1<<20, "simulated chip size in bytes")
	epSize     = flag.Int("ep-size", 64, "simulated bulk endpoint size")
	traceIface = flag.String("trace-iface", "", "USB gadget interface to attach the eBPF bus tracer to (optional, Linux only; falls back to QIPROG_TRACE_IFACE)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("qiprog-device: config: %v", err)
	}
	iface := *traceIface
	if iface == "" {
		iface = cfg.TraceIface
	}

	link := simtransport.NewLink(*epSize, *epSize, 8)
	chip := busdriver.NewMemChip(*chipSize)

	drv := busdriver.NewSPIDriver()
	drv.Attach(chip)

	tr := devtranslator.New(link.DeviceSide())
	if err := tr.ChangeDevice(drv); err != nil {
		log.Fatalf("qiprog-device: change_device: %v", err)
	}

	link.SetControlHandler(func(bReq uint8, wValue, wIndex uint16, data []byte) ([]byte, error) {
		reply, status := tr.HandleControl(bReq, wValue, wIndex, data)
		if status != qierr.Success {
			return nil, &controlError{status}
		}
		return reply, nil
	})

	if iface != "" {
		tracer, err := ebpftrace.Attach(iface)
		if err != nil {
			log.Printf("qiprog-device: bus tracer unavailable: %v", err)
		} else {
			defer tracer.Close()
			go func() {
				for {
					ev, err := tracer.Next()
					if err != nil {
						log.Printf("qiprog-device: bus tracer stopped: %v", err)
						return
					}
					log.Printf("qiprog-device: bus event kind=%d addr=0x%x", ev.Kind, ev.Addr)
				}
			}()
		}
	}

	var ticks uint64
	var mu sync.Mutex
	go func() {
		for {
			mu.Lock()
			tr.Tick()
			ticks++
			mu.Unlock()
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		mu.Lock()
		defer mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"ticks":      ticks,
			"bus_mask":   drv.Mask(),
			"chip_size":  *chipSize,
			"ep_size":    *epSize,
			"remaining":  drv.Remaining(),
			"vendor_id":  cfg.VendorID,
			"product_id": cfg.ProductID,
		})
	})

	log.Printf("qiprog-device: diagnostics listening on %s", *httpAddr)
	if err := r.Run(*httpAddr); err != nil {
		log.Fatalf("qiprog-device: http server: %v", err)
	}
}

type controlError struct{ status qierr.Code }

func (e *controlError) Error() string { return e.status.String() }
