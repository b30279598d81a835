// cmd/qiprog-host is a thin demo binary: it is not the CLI (argument
// parsing and chip-image file I/O are out of scope), just a wiring
// exercise that opens the first matching programmer and streams a dump
// while showing progress.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/shirou/gopsutil/v3/host"

	"qiprog/internal/config"
	"qiprog/internal/transport/usbhost"
	"qiprog/pkg/qiprog"
)

var (
	dumpAddr = flag.Uint("addr", 0, "start address to dump")
	dumpSize = flag.Uint("size", 1<<16, "bytes to dump")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("qiprog-host: config: %v", err)
	}

	hostInfo, err := host.Info()
	if err != nil {
		log.Printf("qiprog-host: host info unavailable: %v", err)
	} else {
		log.Printf("qiprog-host: running on %s/%s", hostInfo.Platform, hostInfo.KernelVersion)
	}

	ht := usbhost.New()
	ctx, err := qiprog.Init(ht)
	if err != nil {
		log.Fatalf("qiprog-host: init: %v", err)
	}
	defer ctx.Exit()

	log.Printf("qiprog-host: scanning for vendor=0x%04x product=0x%04x (timeout %s)", cfg.VendorID, cfg.ProductID, cfg.Timeout)
	scanCtx, cancelScan := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelScan()
	cands, err := ctx.GetDeviceListFor(scanCtx, cfg.VendorID, cfg.ProductID)
	if err != nil {
		log.Fatalf("qiprog-host: enumerate: %v", err)
	}
	if len(cands) == 0 {
		log.Fatal("qiprog-host: no programmer found")
	}

	dev, err := ctx.OpenDevice(context.Background(), cands[0])
	if err != nil {
		log.Fatalf("qiprog-host: open: %v", err)
	}
	defer dev.Close()

	caps, err := dev.GetCapabilities()
	if err != nil {
		log.Fatalf("qiprog-host: get_capabilities: %v", err)
	}
	log.Printf("qiprog-host: bus_master=0x%x max_direct_data=%d", caps.BusMaster, caps.MaxDirectData)

	m := newDumpModel(dev, uint32(*dumpAddr), int(*dumpSize))
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatalf("qiprog-host: progress UI: %v", err)
	}
}

type dumpModel struct {
	dev      *qiprog.Device
	addr     uint32
	total    int
	chunk    int
	done     int
	progress progress.Model
	err      error
}

type chunkDoneMsg struct {
	n   int
	err error
}

func newDumpModel(dev *qiprog.Device, addr uint32, total int) dumpModel {
	return dumpModel{
		dev:      dev,
		addr:     addr,
		total:    total,
		chunk:    4096,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m dumpModel) Init() tea.Cmd {
	return m.readNextChunk()
}

func (m dumpModel) readNextChunk() tea.Cmd {
	return func() tea.Msg {
		n := m.chunk
		if m.done+n > m.total {
			n = m.total - m.done
		}
		if n <= 0 {
			return chunkDoneMsg{n: 0}
		}
		buf := make([]byte, n)
		err := m.dev.ReadBulk(m.addr+uint32(m.done), buf)
		return chunkDoneMsg{n: n, err: err}
	}
}

func (m dumpModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case chunkDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.done += msg.n
		if m.done >= m.total || msg.n == 0 {
			return m, tea.Quit
		}
		return m, tea.Batch(m.progress.SetPercent(float64(m.done)/float64(m.total)), m.readNextChunk())
	case progress.FrameMsg:
		newModel, cmd := m.progress.Update(msg)
		if p, ok := newModel.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}
	return m, nil
}

func (m dumpModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("qiprog-host: dump failed: %v\n", m.err)
	}
	style := lipgloss.NewStyle().Bold(true)
	return fmt.Sprintf("%s\n%s  %d/%d bytes\n",
		style.Render(fmt.Sprintf("dumping from 0x%08x", m.addr)),
		m.progress.View(), m.done, m.total)
}
