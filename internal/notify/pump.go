package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// waker interrupts a blocked readiness wait from another goroutine.
type waker interface {
	fd() int
	signal() error
	close() error
}

// Pump reads a Channel on a dedicated goroutine and fans each decoded event
// out to every subscriber. Delivery never blocks the reader: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted.
//
// Once Start has been called the Channel belongs to the Pump until Stop
// returns. Subscribers receive fanotify events with the filename already
// resolved and Fd set to -1; the Pump closes the descriptor after fan-out.
type Pump struct {
	ch      *Channel
	logger  *slog.Logger
	bufSize int
	wake    waker

	mu     sync.Mutex
	subs   map[<-chan Event]chan Event
	closed bool
	err    error

	dropped   atomic.Int64
	delivered atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewPump wraps ch. bufSize is the per-subscriber buffer depth; 0 selects
// the default of 64.
func NewPump(ch *Channel, logger *slog.Logger, bufSize int) (*Pump, error) {
	if bufSize <= 0 {
		bufSize = 64
	}
	w, err := newWaker()
	if err != nil {
		return nil, fmt.Errorf("notify pump: %w", err)
	}
	return &Pump{
		ch:      ch,
		logger:  logger,
		bufSize: bufSize,
		wake:    w,
		subs:    make(map[<-chan Event]chan Event),
		done:    make(chan struct{}),
	}, nil
}

// Subscribe returns a channel on which events are delivered. It is closed
// when ctx is cancelled, on Unsubscribe, or when the Pump stops.
func (p *Pump) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, p.bufSize)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch
	}
	p.subs[ch] = ch
	p.mu.Unlock()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.Unsubscribe(ch)
			case <-p.done:
			}
		}()
	}
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (p *Pump) Unsubscribe(ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.subs[ch]; ok {
		delete(p.subs, ch)
		close(c)
	}
}

// Start launches the reader goroutine. Calls after the first are no-ops.
func (p *Pump) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run()
	})
}

// Stop wakes the reader, waits for it to exit and closes every subscriber
// channel. The Channel itself is left open. Stop is idempotent.
func (p *Pump) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.started.Load() {
			if serr := p.wake.signal(); serr != nil {
				p.logger.Warn("notify pump: wake failed", slog.Any("error", serr))
			}
			<-p.done
		} else {
			close(p.done)
		}

		p.mu.Lock()
		p.closed = true
		for k, c := range p.subs {
			delete(p.subs, k)
			close(c)
		}
		p.mu.Unlock()

		err = p.wake.close()
	})
	return err
}

// Done is closed when the reader goroutine exits, either through Stop or
// after a fatal read error.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Err returns the error that stopped the reader, if any.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (p *Pump) Dropped() int64 { return p.dropped.Load() }

// Delivered returns how many deliveries succeeded.
func (p *Pump) Delivered() int64 { return p.delivered.Load() }

func (p *Pump) run() {
	defer close(p.done)

	for {
		woken, err := p.ch.wait(p.wake.fd())
		if err != nil {
			p.fail(err)
			return
		}
		if woken {
			return
		}

		evs, err := p.ch.Drain()
		if err != nil {
			if KindOf(err) == KindStructural {
				p.logger.Warn("notify pump: discarding malformed batch",
					slog.String("channel", p.ch.String()),
					slog.Any("error", err))
				continue
			}
			p.fail(err)
			return
		}

		for _, ev := range evs {
			p.dispatch(ev)
		}
	}
}

func (p *Pump) dispatch(ev Event) {
	if ev.Overflow() {
		p.logger.Warn("notify pump: kernel event queue overflowed; some events were lost",
			slog.String("mechanism", ev.Mechanism().String()))
	}

	fe, ok := ev.(*FanotifyEvent)
	if !ok {
		p.publish(ev)
		return
	}

	fe.Filename()
	out := *fe
	out.Fd = fanNoFd
	p.publish(&out)

	if err := fe.Close(); err != nil {
		p.logger.Debug("notify pump: closing event descriptor", slog.Any("error", err))
	}
}

func (p *Pump) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.subs {
		select {
		case c <- ev:
			p.delivered.Add(1)
		default:
			p.dropped.Add(1)
			p.logger.Warn("notify pump: subscriber buffer full, dropping event",
				slog.String("mask", ev.EventMask().Format(ev.Mechanism())),
				slog.String("filename", ev.Filename()))
		}
	}
}

func (p *Pump) fail(err error) {
	p.logger.Error("notify pump: reader stopped", slog.Any("error", err))
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
