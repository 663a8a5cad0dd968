package transport

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"pkt.systems/vimgrid/schema"
)

func TestPortsAllocateDoesNotReuseReleased(t *testing.T) {
	ports := NewPorts(nil)
	first, _ := ports.Allocate()
	second, _ := ports.Allocate()
	if first != 1 || second != 2 {
		t.Fatalf("expected ports 1 and 2, got %d and %d", first, second)
	}
	ports.Release(first)
	next, _ := ports.Allocate()
	if next != 3 {
		t.Fatalf("expected port 3 after releasing %d, got %d", first, next)
	}
}

func TestPortsAllocateWrapsSkippingPending(t *testing.T) {
	ports := NewPorts(nil)
	held, _ := ports.Allocate()
	ports.last = math.MaxInt32 - 1
	top, _ := ports.Allocate()
	if top != math.MaxInt32 {
		t.Fatalf("expected port %d, got %d", int32(math.MaxInt32), top)
	}
	wrapped, _ := ports.Allocate()
	if wrapped != held+1 {
		t.Fatalf("expected wrap to skip pending port %d, got %d", held, wrapped)
	}
}

func TestPortsResolveOnce(t *testing.T) {
	ports := NewPorts(nil)
	port, _ := ports.Allocate()
	if err := ports.Resolve(port, Reply{Value: "ok", OK: true}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := ports.Resolve(port, Reply{Value: "again", OK: true}); !errors.Is(err, schema.ErrProtocolViolation) {
		t.Fatalf("expected protocol violation for duplicate reply, got %v", err)
	}
	reply, err := ports.Wait(context.Background(), port, time.Second)
	if err != nil || reply.Value != "ok" {
		t.Fatalf("unexpected reply %+v err=%v", reply, err)
	}
	if ports.Pending() != 0 {
		t.Fatalf("expected port to be released")
	}
}

func TestPortsResolveUnknownPort(t *testing.T) {
	ports := NewPorts(nil)
	if err := ports.Resolve(42, Reply{}); !errors.Is(err, schema.ErrProtocolViolation) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestPortsWaitTimeoutReleasesPort(t *testing.T) {
	ports := NewPorts(nil)
	port, _ := ports.Allocate()
	start := time.Now()
	_, err := ports.Wait(context.Background(), port, 20*time.Millisecond)
	if !errors.Is(err, schema.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("wait returned before the timeout")
	}
	if err := ports.Resolve(port, Reply{OK: true}); !errors.Is(err, schema.ErrProtocolViolation) {
		t.Fatalf("late reply should be a violation, got %v", err)
	}
	next, _ := ports.Allocate()
	if next == port {
		t.Fatalf("timed out port %d handed out again", port)
	}
}

func TestPortsPeek(t *testing.T) {
	ports := NewPorts(nil)
	port, _ := ports.Allocate()
	if _, ready, err := ports.Peek(port); ready || err != nil {
		t.Fatalf("expected pending reply, ready=%v err=%v", ready, err)
	}
	_ = ports.Resolve(port, Reply{Value: "v", OK: true})
	reply, ready, err := ports.Peek(port)
	if !ready || err != nil || reply.Value != "v" {
		t.Fatalf("unexpected peek %+v ready=%v err=%v", reply, ready, err)
	}
	if _, _, err := ports.Peek(port); !errors.Is(err, schema.ErrProtocolViolation) {
		t.Fatalf("expected released port, got %v", err)
	}
}

func TestPortsFailAll(t *testing.T) {
	ports := NewPorts(nil)
	port, _ := ports.Allocate()
	errCh := make(chan error, 1)
	go func() {
		_, err := ports.Wait(context.Background(), port, time.Second)
		errCh <- err
	}()
	ports.FailAll(nil)
	select {
	case err := <-errCh:
		if !errors.Is(err, schema.ErrConnectionClosed) {
			t.Fatalf("expected connection closed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not return after FailAll")
	}
	if _, err := ports.Allocate(); !errors.Is(err, schema.ErrConnectionClosed) {
		t.Fatalf("expected allocate to fail after FailAll, got %v", err)
	}
}
