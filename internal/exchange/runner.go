package exchange

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// defaultStallTimeout bounds the gap between two received frames.
	defaultStallTimeout = 30 * time.Second
	// defaultApplyTimeout bounds the wait for a delivery outcome once
	// building starts.
	defaultApplyTimeout = 45 * time.Second
)

// errFinalized stops the frame reader once the exchange has a terminal state.
var errFinalized = errors.New("exchange finalized")

// Runner consumes one exchange stream and reports the finalized result.
// OnDelta and OnState, when set, are called from the consuming goroutine only.
type Runner struct {
	StallTimeout time.Duration
	ApplyTimeout time.Duration
	OnDelta      func(text string)
	OnState      func(s State)
}

// Run decodes frames from stream until the exchange finalizes, the stream
// ends, a timeout fires, or ctx is canceled. Canceling ctx is a user abort:
// text received so far is kept and the exchange finalizes cleanly. Run always
// returns a terminal Result; the error return is reserved for stream I/O
// failures that occurred after finalization was already decided.
func (r *Runner) Run(ctx context.Context, stream io.Reader) (Result, error) {
	stallTimeout := r.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = defaultStallTimeout
	}
	applyTimeout := r.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = defaultApplyTimeout
	}

	m := NewMachine()
	frames := make(chan Frame)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		return ReadFrames(stream, func(f Frame) error {
			select {
			case frames <- f:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		// Closing the stream on exit unblocks a reader stuck mid-read, which
		// otherwise outlives a stall or abort decision.
		defer func() {
			if c, ok := stream.(io.Closer); ok {
				c.Close()
			}
		}()

		stall := time.NewTimer(stallTimeout)
		defer stall.Stop()

		var apply *time.Timer
		var applyC <-chan time.Time
		defer func() {
			if apply != nil {
				apply.Stop()
			}
		}()

		last := m.State()
		notify := func() {
			if r.OnState != nil && m.State() != last {
				last = m.State()
				r.OnState(last)
			}
		}

		for {
			select {
			case f, ok := <-frames:
				if !ok {
					// Stream ended without a terminal frame.
					m.StreamError("Connection lost")
					notify()
					return errFinalized
				}
				if !stall.Stop() {
					<-stall.C
				}
				stall.Reset(stallTimeout)

				switch {
				case f.Delta != "":
					m.Delta(f.Delta)
					if r.OnDelta != nil {
						r.OnDelta(f.Delta)
					}
				case f.Building != nil && *f.Building:
					m.Building()
					if apply == nil {
						apply = time.NewTimer(applyTimeout)
						applyC = apply.C
					}
				case f.CodePushed != nil:
					m.Outcome(*f.CodePushed)
				case f.Error != "":
					m.StreamError(f.Error)
				case f.Done != nil && *f.Done:
					m.Done()
				}
				notify()
				if m.Finalized() {
					return errFinalized
				}

			case <-stall.C:
				m.Stall()
				notify()
				return errFinalized

			case <-applyC:
				m.ApplyTimeout()
				notify()
				return errFinalized

			case <-gctx.Done():
				if errors.Is(context.Cause(ctx), context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
					m.Abort()
				} else {
					m.Stall()
				}
				notify()
				return errFinalized
			}
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, errFinalized) && !errors.Is(err, context.Canceled) {
		return m.Result(), err
	}
	return m.Result(), nil
}
