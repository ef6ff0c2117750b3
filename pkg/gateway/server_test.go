package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/umile/pkg/channels"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
	"github.com/harun/umile/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config, dispatch channels.DispatchFunc) *Server {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), dispatch))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func newPoolDispatcher(t *testing.T, exec pool.Executor) (*dispatcher.Dispatcher, *pool.Pool) {
	t.Helper()
	p := pool.New(pool.Config{Capacity: 2, Executor: exec})
	t.Cleanup(func() { p.Close() })
	d, err := dispatcher.New(dispatcher.Config{
		Submitter: p,
		Templates: dispatcher.Templates{Success: "ok: {result}", Failure: "err: {error}"},
	})
	require.NoError(t, err)
	return d, p
}

func dial(t *testing.T, s *Server, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestNewServer_InvalidPort(t *testing.T) {
	_, err := NewServer(Config{Port: -1})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 70000})
	assert.Error(t, err)
}

func TestServer_RequestReply(t *testing.T) {
	exec := pool.ExecutorFunc(func(ctx context.Context, tk task.Task) task.Result {
		return task.Ok(strings.ToUpper(tk.Prompt))
	})
	d, _ := newPoolDispatcher(t, exec)
	s := newTestServer(t, Config{}, d.OnRequest)

	conn := dial(t, s, nil)
	require.NoError(t, conn.WriteJSON(InboundRequest{EventID: "e1", Text: "hello"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeReply, msg.Type)
	assert.Equal(t, "e1", msg.EventID)
	assert.Equal(t, "ok: HELLO", msg.Text)
	assert.NotEmpty(t, msg.TaskID)

	require.True(t, d.Wait(5*time.Second))
}

func TestServer_FillsThreadAndRequester(t *testing.T) {
	got := make(chan dispatcher.Request, 1)
	s := newTestServer(t, Config{}, func(_ context.Context, req dispatcher.Request, _ dispatcher.Origin) *pool.Handle {
		got <- req
		return nil
	})

	conn := dial(t, s, nil)
	require.NoError(t, conn.WriteJSON(InboundRequest{Text: "hi"}))

	select {
	case req := <-got:
		assert.Equal(t, Name, req.Channel)
		assert.NotEmpty(t, req.Thread)
		assert.Equal(t, req.Thread, req.RequesterID)
	case <-time.After(5 * time.Second):
		t.Fatal("request was not dispatched")
	}
}

func TestServer_InvalidRequest(t *testing.T) {
	s := newTestServer(t, Config{}, func(context.Context, dispatcher.Request, dispatcher.Origin) *pool.Handle {
		t.Error("invalid request must not be dispatched")
		return nil
	})
	conn := dial(t, s, nil)

	tests := []string{
		`{"prompt":"missing text"}`,
		`{"text":42}`,
		`not json`,
	}
	for _, raw := range tests {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		msg := readMessage(t, conn)
		assert.Equal(t, TypeError, msg.Type, raw)
		assert.Equal(t, CodeInvalidRequest, msg.Code, raw)
	}
}

func TestServer_SharedSecret(t *testing.T) {
	s := newTestServer(t, Config{SharedSecret: "s3cret"}, func(context.Context, dispatcher.Request, dispatcher.Origin) *pool.Handle {
		return nil
	})

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set(SecretHeader, "s3cret")
	dial(t, s, header)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws?secret=s3cret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_TooManyInFlight(t *testing.T) {
	release := make(chan struct{})
	exec := pool.ExecutorFunc(func(ctx context.Context, tk task.Task) task.Result {
		<-release
		return task.Ok("done")
	})
	d, _ := newPoolDispatcher(t, exec)
	s := newTestServer(t, Config{MaxInFlight: 1}, d.OnRequest)
	conn := dial(t, s, nil)

	require.NoError(t, conn.WriteJSON(InboundRequest{EventID: "a", Text: "first"}))
	require.NoError(t, conn.WriteJSON(InboundRequest{EventID: "b", Text: "second"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "b", msg.EventID)
	assert.Equal(t, CodeTooManyConcurrent, msg.Code)

	close(release)
	msg = readMessage(t, conn)
	assert.Equal(t, TypeReply, msg.Type)
	assert.Equal(t, "a", msg.EventID)

	require.True(t, d.Wait(5*time.Second))
}

func TestServer_HealthStatsMetrics(t *testing.T) {
	s := newTestServer(t, Config{
		Stats: func() pool.Stats { return pool.Stats{Capacity: 3, Queued: 1} },
	}, func(context.Context, dispatcher.Request, dispatcher.Origin) *pool.Handle { return nil })
	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Pool    pool.Stats   `json:"pool"`
		Clients []ClientInfo `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Pool.Capacity)
	assert.Equal(t, 1, body.Pool.Queued)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StopBroadcastsShutdown(t *testing.T) {
	s, err := NewServer(Config{Host: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), func(context.Context, dispatcher.Request, dispatcher.Origin) *pool.Handle {
		return nil
	}))
	conn := dial(t, s, nil)

	require.Eventually(t, func() bool { return len(s.Clients()) == 1 }, 5*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	var shutdownMsg OutboundMessage
	go func() {
		defer wg.Done()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_ = conn.ReadJSON(&shutdownMsg)
	}()

	require.NoError(t, s.Stop(context.Background()))
	wg.Wait()

	assert.Equal(t, TypeEvent, shutdownMsg.Type)
	assert.Equal(t, "server.shutdown", shutdownMsg.Event)
	assert.Empty(t, s.Addr())
	assert.Empty(t, s.Clients())

	// Stopping twice is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_RegistryIntegration(t *testing.T) {
	exec := pool.ExecutorFunc(func(ctx context.Context, tk task.Task) task.Result {
		return task.Failed(task.KindGeneric, "boom")
	})
	d, _ := newPoolDispatcher(t, exec)

	s, err := NewServer(Config{Host: "127.0.0.1"})
	require.NoError(t, err)

	reg := channels.NewRegistry(d.OnRequest)
	require.NoError(t, reg.Register(s))
	require.NoError(t, reg.StartAll(context.Background()))
	t.Cleanup(func() { _ = reg.StopAll(context.Background()) })

	conn := dial(t, s, nil)
	require.NoError(t, conn.WriteJSON(InboundRequest{Text: "go"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeReply, msg.Type)
	assert.Equal(t, "err: boom", msg.Text)
	require.True(t, d.Wait(5*time.Second))
}
