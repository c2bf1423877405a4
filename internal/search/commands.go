package search

import (
	"fmt"

	"github.com/dvlop/opendiamond/internal/ceval"
)

// commandKind enumerates the transport-facing calls that carry a payload
// and so must flow through bg_ops rather than transition the state machine
// directly. Start/Stop/Term carry no payload and call transition() inline;
// SetSearchlet and SetList both replace shared state (the filter chain, the
// generation counter) that evaluator goroutines read concurrently, so they
// go through the same single entry point bg_ops is meant to serialize.
type commandKind int

const (
	cmdSetSearchlet commandKind = iota
	cmdSetList
)

type command struct {
	kind   commandKind
	gen    uint64
	chain  *ceval.FilterChain
	result chan error
}

// SetSearchlet compiles a new filter chain into the context, computing each
// filter's signature and warming the relevant caches by virtue of the first
// WaitLookup each filter issues. Rejected chains (cycle, unknown dep) leave
// the context in IDLE, per spec.md's configuration-error handling.
func (c *Context) SetSearchlet(specs []ceval.FilterSpec) error {
	chain, err := ceval.BuildChain(specs)
	if err != nil {
		return fmt.Errorf("search: set_searchlet: %w", err)
	}
	return c.enqueueCommand(command{kind: cmdSetSearchlet, chain: chain})
}

// SetList bumps the context's generation number; objects already in flight
// under an older generation are dropped at the proc-ring boundary rather
// than delivered to the client.
func (c *Context) SetList() error {
	return c.enqueueCommand(command{kind: cmdSetList})
}

func (c *Context) enqueueCommand(cmd command) error {
	cmd.result = make(chan error, 1)
	if err := c.BgOpsRing.Enq(&cmd); err != nil {
		return fmt.Errorf("search: bg_ops full: %w", err)
	}
	if v, err := c.BgOpsRing.Deq(); err == nil {
		c.applyCommand(v.(*command))
	}
	return <-cmd.result
}

// applyCommand executes one command. In this single-process implementation
// each enqueuing goroutine dequeues and applies one bg_ops entry itself
// rather than leaving them to a separate drain loop, but every mutation still goes through this single
// entry point so a future multi-writer transport only has to change how
// commands are dispatched, not how they are applied.
func (c *Context) applyCommand(cmd *command) {
	switch cmd.kind {
	case cmdSetSearchlet:
		c.mu.Lock()
		if c.status != Idle {
			c.mu.Unlock()
			cmd.result <- fmt.Errorf("search: set_searchlet requires IDLE, context is %s", c.status)
			return
		}
		c.Eval.Chain = cmd.chain
		c.mu.Unlock()
		cmd.result <- nil
	case cmdSetList:
		c.mu.Lock()
		c.generation++
		c.mu.Unlock()
		cmd.result <- nil
	default:
		cmd.result <- fmt.Errorf("search: unhandled command kind %d", cmd.kind)
	}
}
