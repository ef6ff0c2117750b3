package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/pool"
	"github.com/harun/umile/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchRecorder struct {
	mu       sync.Mutex
	requests []dispatcher.Request
	origins  []dispatcher.Origin
}

func (r *dispatchRecorder) dispatch(_ context.Context, req dispatcher.Request, origin dispatcher.Origin) *pool.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.origins = append(r.origins, origin)
	return nil
}

func (r *dispatchRecorder) Requests() []dispatcher.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatcher.Request(nil), r.requests...)
}

func TestChannel_MentionGating(t *testing.T) {
	tests := []struct {
		name           string
		requireMention bool
		update         tgbotapi.Update
		wantText       string
		wantDispatch   bool
	}{
		{
			name:           "private chat always dispatches",
			requireMention: true,
			update:         textUpdate("private", "summarize the news"),
			wantText:       "summarize the news",
			wantDispatch:   true,
		},
		{
			name:           "group without mention is ignored",
			requireMention: true,
			update:         textUpdate("group", "talking among ourselves"),
			wantDispatch:   false,
		},
		{
			name:           "group with mention is dispatched without the mention",
			requireMention: true,
			update:         textUpdate("group", "@testbot summarize", tgbotapi.MessageEntity{Type: "mention", Offset: 0, Length: 8}),
			wantText:       "summarize",
			wantDispatch:   true,
		},
		{
			name:           "group without gating dispatches everything",
			requireMention: false,
			update:         textUpdate("group", "anything"),
			wantText:       "anything",
			wantDispatch:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, _ := createTestBot(t)
			ch := NewChannel(bot, tt.requireMention)
			rec := &dispatchRecorder{}

			require.NoError(t, ch.Start(context.Background(), rec.dispatch))
			defer ch.Stop(context.Background())

			require.NoError(t, bot.handleUpdate(tt.update))

			reqs := rec.Requests()
			if !tt.wantDispatch {
				assert.Empty(t, reqs)
				return
			}
			require.Len(t, reqs, 1)
			assert.Equal(t, Name, reqs[0].Channel)
			assert.Equal(t, tt.wantText, reqs[0].Text)
			assert.Equal(t, "67890:1", reqs[0].EventID)
			assert.Equal(t, "67890", reqs[0].Thread)
			assert.Equal(t, "@testuser", reqs[0].RequesterID)
		})
	}
}

func TestChannel_AskAndHelp(t *testing.T) {
	bot, api := createTestBot(t)
	ch := NewChannel(bot, true)
	rec := &dispatchRecorder{}

	require.NoError(t, ch.Start(context.Background(), rec.dispatch))
	defer ch.Stop(context.Background())
	assert.Equal(t, 1, api.requests, "command list is published")

	require.NoError(t, bot.handleUpdate(commandUpdate("/ask tell me a joke", 4)))
	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tell me a joke", reqs[0].Text)
	assert.Equal(t, "67890:5", reqs[0].EventID)

	require.NoError(t, bot.handleUpdate(commandUpdate("/help", 5)))
	sent := api.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, helpText, sent[0].Text)
}

func TestChannel_RepliesInThread(t *testing.T) {
	bot, api := createTestBot(t)
	ch := NewChannel(bot, false)
	rec := &dispatchRecorder{}

	require.NoError(t, ch.Start(context.Background(), rec.dispatch))
	defer ch.Stop(context.Background())

	update := textUpdate("private", "hi")
	update.Message.MessageID = 77
	require.NoError(t, bot.handleUpdate(update))

	require.Len(t, rec.origins, 1)
	require.NoError(t, rec.origins[0].Reply(context.Background(), "done"))

	sent := api.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMessage{ChatID: 67890, Text: "done", ReplyTo: 77}, sent[0])
}

func TestChannel_StopDropsLateMessages(t *testing.T) {
	bot, _ := createTestBot(t)
	ch := NewChannel(bot, false)
	rec := &dispatchRecorder{}

	require.NoError(t, ch.Start(context.Background(), rec.dispatch))
	require.NoError(t, ch.Stop(context.Background()))
	require.NoError(t, ch.Stop(context.Background()), "stop is idempotent")

	require.NoError(t, ch.onMessage(MessageContext{ChatID: 1, MessageID: 1, Text: "late"}))
	assert.Empty(t, rec.Requests())
}

func TestChannel_EndToEndWithDispatcher(t *testing.T) {
	bot, api := createTestBot(t)
	ch := NewChannel(bot, true)

	p := pool.New(pool.Config{Capacity: 1, Executor: pool.ExecutorFunc(func(ctx context.Context, tk task.Task) task.Result {
		return task.Ok("echo " + tk.Prompt)
	})})
	defer p.Close()
	d, err := dispatcher.New(dispatcher.Config{
		Submitter: p,
		Templates: dispatcher.Templates{Ack: "{user} working on your request...", Success: "{result}"},
	})
	require.NoError(t, err)

	require.NoError(t, ch.Start(context.Background(), d.OnRequest))
	defer ch.Stop(context.Background())

	update := textUpdate("group", "@testbot ping", tgbotapi.MessageEntity{Type: "mention", Offset: 0, Length: 8})
	require.NoError(t, bot.handleUpdate(update))
	// Redelivered update is suppressed.
	require.NoError(t, bot.handleUpdate(update))

	require.True(t, d.Wait(5*time.Second))

	sent := api.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "@testuser working on your request...", sent[0].Text)
	assert.Equal(t, "echo ping", sent[1].Text)
	assert.Equal(t, 1, sent[1].ReplyTo)
}

func TestStripMention(t *testing.T) {
	bot, _ := createTestBot(t)
	ch := NewChannel(bot, true)
	require.NotNil(t, ch.mention)

	tests := []struct {
		in   string
		want string
	}{
		{"@testbot summarize", "summarize"},
		{"hey @TestBot what's up", "hey  what's up"},
		{"@testbotx keep me", "@testbotx keep me"},
		{"@types/node latest version?", "@types/node latest version?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripMention(tt.in, ch.mention), "input %q", tt.in)
	}

	assert.Nil(t, mentionPattern(""))
	assert.Equal(t, "@someone hi", stripMention("  @someone hi ", nil))
}
