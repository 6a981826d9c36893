package channel

import "sync"

const pipeQueueSize = 1024

// pipe is the shared state of two connected ends. Closing either end
// closes the connection for both.
type pipe struct {
	once sync.Once
	done chan struct{}
	a, b *PipeEnd
}

// PipeEnd is one side of an in-memory channel pair. It honors the full
// Channel contract, including drain-then-hooks teardown ordering.
type PipeEnd struct {
	p   *pipe
	in  chan []byte
	out chan []byte

	mu         sync.Mutex
	serving    bool
	hooks      []func()
	hooksFired bool

	hookOnce sync.Once
}

var _ Channel = (*PipeEnd)(nil)

// Pipe returns two connected channels: frames sent on one arrive on the
// other in order.
func Pipe() (*PipeEnd, *PipeEnd) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, pipeQueueSize)
	ba := make(chan []byte, pipeQueueSize)
	p.a = &PipeEnd{p: p, in: ba, out: ab}
	p.b = &PipeEnd{p: p, in: ab, out: ba}
	return p.a, p.b
}

func (e *PipeEnd) Send(data []byte) error {
	select {
	case <-e.p.done:
		return ErrClosed
	default:
	}
	select {
	case e.out <- data:
		return nil
	case <-e.p.done:
		return ErrClosed
	}
}

func (e *PipeEnd) Serve(onMessage MessageFunc) {
	e.mu.Lock()
	if e.serving {
		e.mu.Unlock()
		return
	}
	e.serving = true
	e.mu.Unlock()

	go func() {
		for {
			select {
			case data := <-e.in:
				onMessage(data)
			case <-e.p.done:
				// Flush frames that beat the close, then wind down.
				for {
					select {
					case data := <-e.in:
						onMessage(data)
					default:
						e.fireHooks()
						return
					}
				}
			}
		}
	}()
}

func (e *PipeEnd) OnClose(fn func()) {
	e.mu.Lock()
	fired := e.hooksFired
	if !fired {
		e.hooks = append(e.hooks, fn)
	}
	e.mu.Unlock()
	if fired {
		fn()
	}
}

func (e *PipeEnd) Close() error {
	e.p.once.Do(func() {
		close(e.p.done)
		// Ends without a dispatch loop fire their hooks here; serving
		// ends fire from the loop after the flush.
		for _, end := range []*PipeEnd{e.p.a, e.p.b} {
			end.mu.Lock()
			serving := end.serving
			end.mu.Unlock()
			if !serving {
				end.fireHooks()
			}
		}
	})
	return nil
}

func (e *PipeEnd) fireHooks() {
	e.hookOnce.Do(func() {
		e.mu.Lock()
		e.hooksFired = true
		hooks := make([]func(), len(e.hooks))
		copy(hooks, e.hooks)
		e.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}
