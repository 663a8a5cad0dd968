package backend

import (
	"errors"
	"time"

	"pkt.systems/vimgrid/schema"
)

// CursorPainter is implemented by editors that can repaint the cell under the
// cursor. Cursor blink hides the cursor that way, so an editor without it
// never blinks.
type CursorPainter interface {
	RedrawCursorCell(row, col int) error
}

type blinkState int

const (
	blinkNone blinkState = iota
	blinkOn
	blinkOff
)

func (s blinkState) String() string {
	switch s {
	case blinkNone:
		return "none"
	case blinkOn:
		return "on"
	case blinkOff:
		return "off"
	default:
		return "unknown"
	}
}

type blinker struct {
	wait, on, off time.Duration
	state         blinkState
	timer         *time.Timer
	// gen invalidates ticks scheduled before the last start or stop.
	gen uint64
}

func (k *blinker) stopLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	k.gen++
	k.state = blinkNone
}

// SetBlinkWait sets the cursor blink timing: wait before the first blink,
// then on and off periods. A zero value disables blinking at the next
// StartBlink.
func (b *Backend) SetBlinkWait(wait, on, off time.Duration) {
	b.blinkMu.Lock()
	defer b.blinkMu.Unlock()
	b.blink.wait, b.blink.on, b.blink.off = wait, on, off
}

// StartBlink restarts the blink cycle with the cursor shown. Every phase
// change is flushed with force so it is not held back by an unacknowledged
// batch.
func (b *Backend) StartBlink() error {
	if _, _, err := b.conn(); err != nil {
		return err
	}
	b.blinkMu.Lock()
	defer b.blinkMu.Unlock()
	b.blink.stopLocked()
	if b.blink.wait <= 0 || b.blink.on <= 0 || b.blink.off <= 0 {
		return nil
	}
	if _, ok := b.editor.(CursorPainter); !ok {
		b.log.Debug("cursor blink disabled, editor cannot repaint the cursor cell")
		return nil
	}
	b.blink.state = blinkOn
	b.scheduleBlinkLocked(b.blink.wait)
	return nil
}

// StopBlink ends the blink cycle. With updateCursor set a cursor hidden by
// the off phase is drawn again.
func (b *Backend) StopBlink(updateCursor bool) error {
	b.blinkMu.Lock()
	defer b.blinkMu.Unlock()
	hidden := b.blink.state == blinkOff
	b.blink.stopLocked()
	if updateCursor && hidden {
		return b.showCursor()
	}
	return nil
}

// Blinking reports whether a blink cycle is running.
func (b *Backend) Blinking() bool {
	b.blinkMu.Lock()
	defer b.blinkMu.Unlock()
	return b.blink.state != blinkNone
}

func (b *Backend) scheduleBlinkLocked(d time.Duration) {
	gen := b.blink.gen
	b.blink.timer = time.AfterFunc(d, func() { b.blinkTick(gen) })
}

func (b *Backend) blinkTick(gen uint64) {
	b.blinkMu.Lock()
	defer b.blinkMu.Unlock()
	if gen != b.blink.gen || b.blink.state == blinkNone {
		return
	}
	var (
		err  error
		next time.Duration
	)
	switch b.blink.state {
	case blinkOn:
		b.blink.state = blinkOff
		next = b.blink.off
		err = b.hideCursor()
	case blinkOff:
		b.blink.state = blinkOn
		next = b.blink.on
		err = b.showCursor()
	}
	if errors.Is(err, schema.ErrNotConnected) {
		b.blink.stopLocked()
		return
	}
	if err != nil {
		b.log.Debug("cursor blink draw failed", "state", b.blink.state, "err", err)
	}
	b.scheduleBlinkLocked(next)
}

// showCursor redraws the last cursor the editor drew.
func (b *Backend) showCursor() error {
	_, out, err := b.conn()
	if err != nil {
		return err
	}
	b.mu.Lock()
	cursor, ok := b.cursor, b.hasCursor
	b.mu.Unlock()
	if !ok {
		return nil
	}
	out.Enqueue(cursor)
	_, err = out.Flush(true)
	return err
}

// hideCursor asks the editor to repaint the cursor cell.
func (b *Backend) hideCursor() error {
	_, out, err := b.conn()
	if err != nil {
		return err
	}
	painter, ok := b.editor.(CursorPainter)
	if !ok {
		return nil
	}
	b.mu.Lock()
	cursor, drawn := b.cursor, b.hasCursor
	b.mu.Unlock()
	if !drawn {
		return nil
	}
	if err := painter.RedrawCursorCell(int(cursor.Row), int(cursor.Col)); err != nil {
		return err
	}
	_, err = out.Flush(true)
	return err
}
