// Package batcher accumulates draw commands and control messages on the
// backend side and ships them as one Batch message per flush.
package batcher

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/wire"
)

// Sender delivers one transport message without blocking.
type Sender interface {
	Send(id wire.MessageID, payload []byte) error
}

// Options configures a Batcher.
type Options struct {
	// WaitForAck bounds unacknowledged batches to one.
	WaitForAck bool
	Logger     pslog.Logger
}

// FlushResult describes what a flush did.
type FlushResult struct {
	Sent     bool
	Deferred bool
	Messages int
	Commands int
	Bytes    int
}

// Batcher collects output in editor order. It is safe for concurrent use.
type Batcher struct {
	sender     Sender
	waitForAck bool
	log        pslog.Logger

	mu       sync.Mutex
	queue    []wire.Message
	draw     []drawcmd.Command
	commands int
	// outstanding counts sent batches awaiting BatchAck, forced ones included.
	outstanding int
	deferred    bool
}

// New constructs a Batcher that ships through sender.
func New(sender Sender, opts Options) *Batcher {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Batcher{sender: sender, waitForAck: opts.WaitForAck, log: logger}
}

// Enqueue appends a draw command. Only two merges happen: a ClearAll directly
// after a ClearAll is dropped, and a MoveCursor directly after a MoveCursor
// replaces it.
func (b *Batcher) Enqueue(cmd drawcmd.Command) {
	if cmd == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.draw); n > 0 {
		last := b.draw[n-1]
		switch cmd.(type) {
		case drawcmd.ClearAll:
			if _, ok := last.(drawcmd.ClearAll); ok {
				return
			}
		case drawcmd.MoveCursor:
			if _, ok := last.(drawcmd.MoveCursor); ok {
				b.draw[n-1] = cmd
				return
			}
		}
	}
	b.draw = append(b.draw, cmd)
}

// QueueMessage appends a control message after any draw commands queued so
// far.
func (b *Batcher) QueueMessage(id wire.MessageID, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealLocked()
	b.queue = append(b.queue, wire.Message{ID: id, Payload: payload})
}

// QueueRecord marshals r and queues it.
func (b *Batcher) QueueRecord(id wire.MessageID, r wire.Record) {
	b.QueueMessage(id, wire.Marshal(r))
}

// Flush ships queued output as one Batch message. A non-forced flush while a
// batch is unacknowledged is deferred until Ack.
func (b *Batcher) Flush(force bool) (FlushResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(force)
}

// Ack records the frontend's acknowledgement of the oldest batch in flight.
// Output a flush deferred meanwhile ships once no batch is outstanding.
func (b *Batcher) Ack() (FlushResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outstanding == 0 {
		b.log.Debug("batch ack without batch in flight")
	} else {
		b.outstanding--
	}
	if !b.deferred || b.outstanding > 0 {
		return FlushResult{}, nil
	}
	b.deferred = false
	return b.flushLocked(false)
}

// InFlight reports whether a batch awaits acknowledgement.
func (b *Batcher) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding > 0
}

// Outstanding reports how many sent batches await acknowledgement.
func (b *Batcher) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}

// Pending reports the number of queued messages and unsealed draw commands.
func (b *Batcher) Pending() (messages, commands int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue), len(b.draw)
}

// Reset drops queued output and the in-flight marker, for a new connection.
func (b *Batcher) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
	b.draw = nil
	b.commands = 0
	b.outstanding = 0
	b.deferred = false
}

func (b *Batcher) sealLocked() {
	if len(b.draw) == 0 {
		return
	}
	b.queue = append(b.queue, wire.Message{ID: wire.MsgBatchDraw, Payload: drawcmd.EncodeBuffer(b.draw)})
	b.commands += len(b.draw)
	b.draw = nil
}

func (b *Batcher) flushLocked(force bool) (FlushResult, error) {
	if b.sender == nil {
		return FlushResult{}, errors.New("batcher has no sender")
	}
	b.sealLocked()
	if len(b.queue) == 0 {
		return FlushResult{}, nil
	}
	if b.waitForAck && b.outstanding > 0 && !force {
		b.deferred = true
		b.log.Trace("batch flush deferred", "messages", len(b.queue))
		return FlushResult{Deferred: true, Messages: len(b.queue), Commands: b.commands}, nil
	}
	payload := wire.EncodeBatch(b.queue)
	res := FlushResult{Sent: true, Messages: len(b.queue), Commands: b.commands, Bytes: len(payload)}
	if err := b.sender.Send(wire.MsgBatch, payload); err != nil {
		b.log.Warn("batch send failed", "messages", res.Messages, "err", err)
		return FlushResult{}, err
	}
	b.queue = nil
	b.commands = 0
	b.deferred = false
	if b.waitForAck {
		b.outstanding++
	}
	b.log.Trace("batch flushed", "messages", res.Messages, "commands", res.Commands, "bytes", res.Bytes, "force", force)
	return res, nil
}
