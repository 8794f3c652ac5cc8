// Package dispatch gates outbound sends. Dry-run is the default and
// performs no transport I/O; only an explicit confirmation crosses into
// the adapter's send path, exactly once, with a bounded timeout.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// State tracks a send request through its short life:
// Pending -> (DryRun | Confirmed) -> {Sent, Failed}.
type State string

const (
	StatePending   State = "pending"
	StateDryRun    State = "dry_run"
	StateConfirmed State = "confirmed"
	StateSent      State = "sent"
	StateFailed    State = "failed"
)

// Request is one resolved send: exactly one target, one body.
type Request struct {
	Target platform.Candidate
	Body   string
}

// Result reports what happened. For a dry run, Sent is false and Err nil:
// informing the user is the terminal state.
type Result struct {
	State    State
	Platform platform.ID
	To       platform.Address
	Body     string
	Err      error
}

// Dispatcher routes confirmed sends to the owning adapter.
type Dispatcher struct {
	adapters map[platform.ID]platform.Adapter
	timeout  time.Duration
}

// New builds a dispatcher over the given adapters. timeout bounds the
// transport call of a confirmed send; zero means no bound.
func New(timeout time.Duration, adapters ...platform.Adapter) *Dispatcher {
	byID := make(map[platform.ID]platform.Adapter, len(adapters))
	for _, a := range adapters {
		byID[a.Platform()] = a
	}
	return &Dispatcher{adapters: byID, timeout: timeout}
}

// Dispatch executes the request. With confirm false the transport is never
// touched; with confirm true the adapter's send capability is invoked
// exactly once and the outcome reported without retry.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, confirm bool) Result {
	res := Result{
		State:    StatePending,
		Platform: req.Target.Platform,
		To:       req.Target.Address,
		Body:     req.Body,
	}

	if !confirm {
		res.State = StateDryRun
		return res
	}
	res.State = StateConfirmed

	adapter, ok := d.adapters[req.Target.Platform]
	if !ok {
		res.State = StateFailed
		res.Err = fmt.Errorf("no adapter for platform %q", req.Target.Platform)
		return res
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := adapter.Send(sendCtx, req.Target.Address, req.Body); err != nil {
		res.State = StateFailed
		res.Err = err
		return res
	}
	res.State = StateSent
	return res
}
