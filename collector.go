package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// CollectRequest describes one collection window. Window numbers are
// assigned by the session in order and identify the window in the action log.
type CollectRequest struct {
	Window   int
	Phase    Phase
	Round    int
	Seats    []string
	Requests map[string]ActionRequest
	Timeout  time.Duration
}

// Submission is one seat's result for a window; OK is false when absent.
type Submission struct {
	Seat   string
	Action Action
	OK     bool
}

// Collector gathers at most one submission per seat of a window. onSubmit is
// called on the caller's goroutine, once per seat, in finalization order.
type Collector interface {
	Collect(ctx context.Context, req CollectRequest, onSubmit func(Submission)) error
}

// windowCollector asks every seat's participant concurrently and joins the
// answers under a shared deadline.
type windowCollector struct {
	participants map[string]Participant
}

func newWindowCollector(participants map[string]Participant) *windowCollector {
	return &windowCollector{participants: participants}
}

func (c *windowCollector) Collect(ctx context.Context, req CollectRequest, onSubmit func(Submission)) error {
	wctx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	results := make(chan Submission, len(req.Seats))
	g, gctx := errgroup.WithContext(wctx)
	for _, seat := range req.Seats {
		p, ok := c.participants[seat]
		if !ok {
			results <- Submission{Seat: seat}
			continue
		}
		ar := req.Requests[seat]
		g.Go(func() error {
			a, ok := p.Submit(gctx, ar)
			if ok {
				a.Actor = seat
			}
			results <- Submission{Seat: seat, Action: a, OK: ok}
			return nil
		})
	}
	go func() { _ = g.Wait() }()

	// a seat that ignores ctx cannot hold the window open: once it expires,
	// answers already queued count and every other seat is absent
	want := make(map[string]bool, len(req.Seats))
	for _, seat := range req.Seats {
		want[seat] = true
	}
	seen := make(map[string]bool, len(want))
	accept := func(sub Submission) {
		if !seen[sub.Seat] {
			seen[sub.Seat] = true
			onSubmit(sub)
		}
	}
	for len(seen) < len(want) {
		select {
		case sub := <-results:
			accept(sub)
		case <-wctx.Done():
			for drained := false; !drained; {
				select {
				case sub := <-results:
					accept(sub)
				default:
					drained = true
				}
			}
			for _, seat := range req.Seats {
				accept(Submission{Seat: seat})
			}
		}
	}
	return ctx.Err()
}

// scriptCollector replays logged submissions window by window.
type scriptCollector struct {
	byWindow map[int][]ResolvedAction
}

func newScriptCollector(log []ResolvedAction) *scriptCollector {
	sc := &scriptCollector{byWindow: make(map[int][]ResolvedAction)}
	for _, ra := range log {
		if ra.Window == 0 {
			continue
		}
		sc.byWindow[ra.Window] = append(sc.byWindow[ra.Window], ra)
	}
	return sc
}

func (c *scriptCollector) Collect(ctx context.Context, req CollectRequest, onSubmit func(Submission)) error {
	seen := make(map[string]bool, len(req.Seats))
	for _, ra := range c.byWindow[req.Window] {
		if seen[ra.Seat] {
			continue
		}
		seen[ra.Seat] = true
		sub := Submission{Seat: ra.Seat}
		if ra.Input != nil {
			sub.Action, sub.OK = *ra.Input, true
		}
		onSubmit(sub)
	}
	for _, seat := range req.Seats {
		if !seen[seat] {
			onSubmit(Submission{Seat: seat})
		}
	}
	return ctx.Err()
}
