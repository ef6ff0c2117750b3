package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
)

// ConsoleName is the channel name of the console.
const ConsoleName = "console"

// Console is a local channel: prompts come from the caller and replies are
// written as lines to an io.Writer.
type Console struct {
	out       io.Writer
	requester string

	mu       sync.Mutex
	dispatch DispatchFunc
}

// NewConsole creates a console channel writing replies to out.
func NewConsole(out io.Writer, requester string) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{out: out, requester: requester}
}

// Name returns the channel name.
func (c *Console) Name() string {
	return ConsoleName
}

// Start records the dispatch function.
func (c *Console) Start(_ context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return errors.New("dispatch function is required")
	}
	c.mu.Lock()
	c.dispatch = dispatch
	c.mu.Unlock()
	return nil
}

// Stop detaches the console; later Ask calls fail.
func (c *Console) Stop(_ context.Context) error {
	c.mu.Lock()
	c.dispatch = nil
	c.mu.Unlock()
	return nil
}

// Ask dispatches prompt as a console request.
func (c *Console) Ask(ctx context.Context, prompt string) (*pool.Handle, error) {
	c.mu.Lock()
	dispatch := c.dispatch
	c.mu.Unlock()
	if dispatch == nil {
		return nil, errors.New("console channel is not started")
	}

	req := dispatcher.Request{
		Channel:     ConsoleName,
		RequesterID: c.requester,
		Text:        prompt,
	}
	return dispatch(ctx, req, c), nil
}

// Reply writes text as one line.
func (c *Console) Reply(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, text)
	return err
}
