package agent

import "context"

// ChanSequence adapts a goroutine that sends Outputs on a channel into a
// Sequence. This is the in-process equivalent of the teacher's
// engine/inmem goroutine-driven workflow: no deterministic-replay engine
// is involved, just a driver goroutine and a channel the Agent Runtime
// reads from at each suspension point.
type ChanSequence struct {
	ch   chan Output
	done chan struct{}
}

// NewChanSequence returns a Sequence plus the channel the driver goroutine
// should send Outputs on. The driver must close ch when finished (normally
// after sending a KindDone or KindFailed output).
func NewChanSequence() (*ChanSequence, chan<- Output) {
	ch := make(chan Output)
	return &ChanSequence{ch: ch}, ch
}

// Next implements Sequence.
func (s *ChanSequence) Next() (Output, bool) {
	out, ok := <-s.ch
	return out, ok
}

// RunDriver starts fn in a goroutine, closing ch when fn returns, and
// returns the Sequence fn should send its outputs on. fn is handed ctx so
// it can observe cancellation without the caller needing a separate signal
// plumbed through.
func RunDriver(ctx context.Context, fn func(ctx context.Context, emit func(Output))) Sequence {
	seq, ch := NewChanSequence()
	go func() {
		defer close(ch)
		fn(ctx, func(o Output) {
			select {
			case ch <- o:
			case <-ctx.Done():
			}
		})
	}()
	return seq
}
