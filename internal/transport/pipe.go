package transport

import (
	"context"
	"io"
	"sync"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Pipe returns two connected in-process endpoints. Closing either side closes
// both. It serves tests and single-process embedding.
func Pipe(a, b Options) (*Endpoint, *Endpoint) {
	shared := &pipeState{closed: make(chan struct{})}
	ab := &frameQueue{wake: make(chan struct{}, 1)}
	ba := &frameQueue{wake: make(chan struct{}, 1)}
	left := &pipeStream{state: shared, out: ab, in: ba}
	right := &pipeStream{state: shared, out: ba, in: ab}
	return newEndpoint(left, shared.close, a), newEndpoint(right, shared.close, b)
}

type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

func (s *pipeState) close() {
	s.once.Do(func() { close(s.closed) })
}

type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	wake   chan struct{}
}

func (q *frameQueue) push(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

type pipeStream struct {
	state *pipeState
	out   *frameQueue
	in    *frameQueue
}

func (p *pipeStream) Context() context.Context {
	return context.Background()
}

func (p *pipeStream) Send(frame *wrapperspb.BytesValue) error {
	select {
	case <-p.state.closed:
		return io.ErrClosedPipe
	default:
	}
	buf := make([]byte, len(frame.GetValue()))
	copy(buf, frame.GetValue())
	p.out.push(buf)
	return nil
}

// Recv prefers buffered frames so messages written before a close are still
// delivered.
func (p *pipeStream) Recv() (*wrapperspb.BytesValue, error) {
	for {
		if frame, ok := p.in.pop(); ok {
			return wrapperspb.Bytes(frame), nil
		}
		select {
		case <-p.in.wake:
		case <-p.state.closed:
			if frame, ok := p.in.pop(); ok {
				return wrapperspb.Bytes(frame), nil
			}
			return nil, io.EOF
		}
	}
}
