// Package channels defines event sources that feed requests to the
// dispatcher and the registry that starts and stops them.
package channels

import (
	"context"

	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
)

// DispatchFunc hands one inbound request and its reply path to the dispatcher.
// It returns the task handle, or nil when nothing was submitted.
type DispatchFunc func(ctx context.Context, req dispatcher.Request, origin dispatcher.Origin) *pool.Handle

// Channel is an event source (telegram, gateway, console, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
}
