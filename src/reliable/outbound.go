package reliable

import (
	"sync"
	"time"

	"trading-gateway/src/logger"
	"trading-gateway/src/protocol"
)

// -----------------------------------------------------------------------------
// Outbound is the per-session at-least-once send queue. It assigns sequence
// numbers, buffers frames until acked and retransmits with linear backoff.
// A detached queue (no transport bound) keeps buffering and suspends retries
// until the session rebinds or is destroyed.
// -----------------------------------------------------------------------------

// Sink is the transport write side the queue delivers into.
type Sink interface {
	WriteFrame(data []byte) error
}

// -----------------------------------------------------------------------------

type Options struct {
	BaseRetry  time.Duration
	MaxBackoff time.Duration
	MaxRetry   int
}

// DefaultOptions mirrors the gateway QoS defaults.
func DefaultOptions() Options {
	return Options{
		BaseRetry:  100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		MaxRetry:   5,
	}
}

// -----------------------------------------------------------------------------

type pendingFrame struct {
	seq      uint64
	data     []byte
	attempts int
	nextDue  time.Time
}

type Outbound struct {
	mu        sync.Mutex
	opts      Options
	log       *logger.Logger
	sessionID string

	nextSeq uint64
	pending []*pendingFrame // ascending by seq
	sink    Sink

	// onDrop is invoked (outside the lock) when a frame exhausts its retries.
	onDrop func(seq uint64)

	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// -----------------------------------------------------------------------------

func NewOutbound(sessionID string, opts Options, log *logger.Logger) *Outbound {
	o := &Outbound{
		opts:      opts,
		log:       log,
		sessionID: sessionID,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go o.retryLoop()
	return o
}

// -----------------------------------------------------------------------------

// SetDropHandler installs the retry-exhaustion callback.
func (o *Outbound) SetDropHandler(fn func(seq uint64)) {
	o.mu.Lock()
	o.onDrop = fn
	o.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Send enqueues an at-least-once frame: assigns the next sequence number,
// buffers it until acknowledged and transmits immediately when a transport is
// bound. Returns the assigned sequence and the encoded frame.
func (o *Outbound) Send(method string, body []byte) (uint64, []byte, error) {
	o.mu.Lock()
	o.nextSeq++
	seq := o.nextSeq

	data, err := protocol.EncodeFrame(method, seq, body)
	if err != nil {
		o.nextSeq--
		o.mu.Unlock()
		return 0, nil, err
	}

	o.pending = append(o.pending, &pendingFrame{
		seq:     seq,
		data:    data,
		nextDue: time.Now().Add(o.backoff(1)),
	})
	sink := o.sink
	o.mu.Unlock()

	if sink != nil {
		if err := sink.WriteFrame(data); err != nil {
			o.log.Debug("session %s: initial transmit of seq %d failed: %v", o.sessionID, seq, err)
		}
	}
	o.signal()
	return seq, data, nil
}

// -----------------------------------------------------------------------------

// FireAndForget transmits an unsequenced frame with no buffering or retry.
// Frames sent while detached are dropped.
func (o *Outbound) FireAndForget(method string, body []byte) error {
	data, err := protocol.EncodeFrame(method, 0, body)
	if err != nil {
		return err
	}

	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()

	if sink == nil {
		return nil
	}
	return sink.WriteFrame(data)
}

// -----------------------------------------------------------------------------

// Replay rewrites an already-encoded frame straight to the transport. Used
// when a duplicate inbound request asks for its cached response again; the
// peer deduplicates by sequence number.
func (o *Outbound) Replay(data []byte) {
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.WriteFrame(data); err != nil {
		o.log.Debug("session %s: replay write failed: %v", o.sessionID, err)
	}
}

// -----------------------------------------------------------------------------

// Ack acknowledges seq and, implicitly, every lower sequence.
func (o *Outbound) Ack(seq uint64) {
	o.mu.Lock()
	idx := 0
	for idx < len(o.pending) && o.pending[idx].seq <= seq {
		idx++
	}
	if idx > 0 {
		o.pending = o.pending[idx:]
	}
	o.mu.Unlock()
	o.signal()
}

// -----------------------------------------------------------------------------

// Attach binds a transport and retransmits every buffered frame in original
// sequence order before any new outbound traffic.
func (o *Outbound) Attach(sink Sink) {
	o.mu.Lock()
	o.sink = sink
	now := time.Now()
	frames := make([][]byte, 0, len(o.pending))
	for _, p := range o.pending {
		frames = append(frames, p.data)
		p.nextDue = now.Add(o.backoff(p.attempts + 1))
	}
	o.mu.Unlock()

	for _, data := range frames {
		if err := sink.WriteFrame(data); err != nil {
			o.log.Debug("session %s: rebind retransmit failed: %v", o.sessionID, err)
			break
		}
	}
	o.signal()
}

// -----------------------------------------------------------------------------

// Detach unbinds the transport. Buffered frames are kept and retries are
// suspended until the next Attach.
func (o *Outbound) Detach() {
	o.mu.Lock()
	o.sink = nil
	o.mu.Unlock()
}

// -----------------------------------------------------------------------------

// PendingSeqs returns the sequence numbers still awaiting acknowledgement.
func (o *Outbound) PendingSeqs() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	seqs := make([]uint64, 0, len(o.pending))
	for _, p := range o.pending {
		seqs = append(seqs, p.seq)
	}
	return seqs
}

// -----------------------------------------------------------------------------

// Close stops the retry loop and discards buffered frames.
func (o *Outbound) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.pending = nil
	o.sink = nil
	o.mu.Unlock()
	close(o.done)
}

// -----------------------------------------------------------------------------

func (o *Outbound) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

// backoff returns the linear retry delay for the given attempt count.
func (o *Outbound) backoff(attempt int) time.Duration {
	d := o.opts.BaseRetry * time.Duration(attempt)
	if d > o.opts.MaxBackoff {
		d = o.opts.MaxBackoff
	}
	return d
}

// -----------------------------------------------------------------------------

func (o *Outbound) retryLoop() {
	timer := time.NewTimer(o.opts.BaseRetry)
	defer timer.Stop()

	for {
		wait := o.processDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-o.done:
			return
		case <-o.wake:
		case <-timer.C:
		}
	}
}

// -----------------------------------------------------------------------------

// processDue retransmits every due frame and returns how long the loop may
// sleep until the next deadline.
func (o *Outbound) processDue() time.Duration {
	now := time.Now()

	o.mu.Lock()
	if o.closed || o.sink == nil || len(o.pending) == 0 {
		o.mu.Unlock()
		return o.opts.MaxBackoff
	}

	sink := o.sink
	var resend [][]byte
	var dropped []uint64
	kept := o.pending[:0]

	for _, p := range o.pending {
		if p.nextDue.After(now) {
			kept = append(kept, p)
			continue
		}
		p.attempts++
		if p.attempts > o.opts.MaxRetry {
			dropped = append(dropped, p.seq)
			continue
		}
		p.nextDue = now.Add(o.backoff(p.attempts + 1))
		resend = append(resend, p.data)
		kept = append(kept, p)
	}
	o.pending = kept

	wait := o.opts.MaxBackoff
	for _, p := range o.pending {
		if d := time.Until(p.nextDue); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	onDrop := o.onDrop
	o.mu.Unlock()

	for _, data := range resend {
		if err := sink.WriteFrame(data); err != nil {
			o.log.Debug("session %s: retransmit failed: %v", o.sessionID, err)
			break
		}
	}
	for _, seq := range dropped {
		o.log.Error("session %s: frame seq %d dropped after %d retries", o.sessionID, seq, o.opts.MaxRetry)
		if onDrop != nil {
			onDrop(seq)
		}
	}

	return wait
}
