package channels

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
	"github.com/harun/umile/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChannel struct {
	name     string
	startErr error

	mu         sync.Mutex
	startCalls int
	stopCalls  int
}

func (c *testChannel) Name() string {
	return c.name
}

func (c *testChannel) Start(_ context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return assert.AnError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.startCalls++
	return nil
}

func (c *testChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	return nil
}

func noopDispatch(_ context.Context, req dispatcher.Request, origin dispatcher.Origin) *pool.Handle {
	return nil
}

func TestRegistry_RegisterStartDispatchStop(t *testing.T) {
	var got dispatcher.Request
	reg := NewRegistry(func(_ context.Context, req dispatcher.Request, origin dispatcher.Origin) *pool.Handle {
		got = req
		return nil
	})

	ch := &testChannel{name: "gateway"}
	require.NoError(t, reg.Register(ch))
	assert.True(t, reg.IsRegistered("gateway"))
	assert.Equal(t, []string{"gateway"}, reg.Names())

	require.NoError(t, reg.StartAll(context.Background()))
	assert.Equal(t, 1, ch.startCalls)
	assert.True(t, reg.IsStarted("gateway"))

	_, err := reg.Dispatch(context.Background(), dispatcher.Request{Channel: " gateway ", Text: "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gateway", got.Channel)
	assert.Equal(t, "hello", got.Text)

	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, 1, ch.stopCalls)
	assert.False(t, reg.IsStarted("gateway"))

	// Stopping twice is a no-op.
	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, 1, ch.stopCalls)
}

func TestRegistry_DispatchUnknownChannel(t *testing.T) {
	reg := NewRegistry(noopDispatch)

	_, err := reg.Dispatch(context.Background(), dispatcher.Request{Channel: "telegram", Text: "ping"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegistry_RejectsDuplicateChannel(t *testing.T) {
	reg := NewRegistry(noopDispatch)

	require.NoError(t, reg.Register(&testChannel{name: "gateway"}))
	err := reg.Register(&testChannel{name: "gateway"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_StartAllRollsBackOnFailure(t *testing.T) {
	reg := NewRegistry(noopDispatch)
	good := &testChannel{name: "a"}
	bad := &testChannel{name: "b", startErr: errors.New("no token")}
	require.NoError(t, reg.Register(good))
	require.NoError(t, reg.Register(bad))

	err := reg.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
	assert.False(t, reg.IsStarted("a"))
	assert.False(t, reg.IsStarted("b"))
}

func TestConsole_AskAndReply(t *testing.T) {
	exec := pool.ExecutorFunc(func(ctx context.Context, tk task.Task) task.Result {
		return task.Ok("answer: " + tk.Prompt)
	})
	p := pool.New(pool.Config{Capacity: 1, Executor: exec})
	defer p.Close()

	d, err := dispatcher.New(dispatcher.Config{Submitter: p, Templates: dispatcher.Templates{Success: "{result}"}})
	require.NoError(t, err)

	var out bytes.Buffer
	console := NewConsole(&out, "local")

	_, err = console.Ask(context.Background(), "hi")
	require.Error(t, err, "console must be started first")

	reg := NewRegistry(d.OnRequest)
	require.NoError(t, reg.Register(console))
	require.NoError(t, reg.StartAll(context.Background()))

	h, err := console.Ask(context.Background(), "hi")
	require.NoError(t, err)
	require.NotNil(t, h)

	require.True(t, d.Wait(5*time.Second))
	assert.Equal(t, "answer: hi\n", out.String())
}
