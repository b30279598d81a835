package devtranslator

// Tick runs one iteration of the device-side event loop (spec §4.4
// "handle_events"), called continuously by firmware. It never blocks.
//
// The spec's event loop only describes the outbound task-ring side
// (read_bulk's device-side half); the symmetric inbound path for
// write_bulk is not detailed there. Draining recv_packet straight into the
// active driver's WriteStream each tick is the natural completion: bulk
// writes need somewhere to land, and recv_packet already returns 0 when
// nothing is pending, so this never blocks the tick.
func (t *Translator) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.drainIncoming()

	if head, ok := t.ring.headTask(); ok && head.state == taskReadySend {
		sent, err := t.dev.SendPacket(head.buf, head.len)
		if err != nil || sent == head.len {
			// Full packet sent (or a transport error we can't retry from
			// here): retire the slot either way so the ring doesn't wedge.
			t.ring.advanceHead()
		}
		// sent == 0 means "cannot send now" (spec §4.2): leave the task
		// for a later tick.
		return
	}

	if t.current == nil {
		return
	}

	remaining := t.current.Remaining()
	if remaining == 0 {
		return
	}

	slot := t.ring.peekFree()
	if slot == nil {
		return // ring full: backpressure
	}

	n := len(slot.buf)
	if uint32(n) > remaining {
		n = int(remaining)
	}
	maxTx := t.dev.MaxTxPacket()
	if n > maxTx {
		n = maxTx
	}

	if err := t.current.ReadStream(slot.buf[:n]); err != nil {
		// Chip read failed: leave the slot uncommitted so the ring's
		// count doesn't advance past a task that was never queued.
		return
	}
	slot.len = n
	slot.state = taskReadySend
	t.ring.commit()
}

// drainIncoming drains at most one pending bulk-out packet into the
// active driver at its current pwrite cursor.
func (t *Translator) drainIncoming() {
	if t.current == nil {
		return
	}
	maxRx := t.dev.MaxRxPacket()
	buf := make([]byte, maxRx)
	n, err := t.dev.RecvPacket(buf, maxRx)
	if err != nil || n == 0 {
		return
	}
	_ = t.current.WriteStream(buf[:n])
}
