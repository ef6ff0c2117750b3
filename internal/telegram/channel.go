package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/umile/pkg/channels"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/rs/zerolog"
)

// Name is the channel name of the Telegram event source.
const Name = "telegram"

const helpText = "Send me a prompt and I will run it for you.\n\n" +
	"/ask <prompt> - run a prompt\n" +
	"/help - show this message\n\n" +
	"In groups, mention me or reply to one of my messages."

var _ channels.Channel = (*Channel)(nil)

// Channel turns Telegram messages and /ask commands into dispatcher
// requests and replies in the originating chat.
type Channel struct {
	bot            *Bot
	requireMention bool
	mention        *regexp.Regexp
	logger         zerolog.Logger

	mu       sync.RWMutex
	dispatch channels.DispatchFunc
	baseCtx  context.Context
}

// NewChannel wraps bot. When requireMention is set, group messages are
// ignored unless they address the bot.
func NewChannel(bot *Bot, requireMention bool) *Channel {
	return &Channel{
		bot:            bot,
		requireMention: requireMention,
		mention:        mentionPattern(bot.Username()),
		logger:         bot.logger.With().Str("module", "channel").Logger(),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return Name
}

// Start installs the handlers and begins polling.
func (c *Channel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if dispatch == nil {
		return errors.New("dispatch function is required")
	}

	c.mu.Lock()
	c.dispatch = dispatch
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	handler := NewHandler(c.bot)
	handler.SetOnMessage(c.onMessage)

	commands := NewCommands(c.bot)
	commands.Register("ask", c.onAsk)
	commands.Register("help", c.onHelp)
	commands.Register("start", c.onHelp)

	c.bot.SetMessageHandler(handler)
	c.bot.SetCommandHandler(commands)

	if err := commands.SetCommands([]tgbotapi.BotCommand{
		{Command: "ask", Description: "Run a prompt"},
		{Command: "help", Description: "Show usage"},
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}

	return c.bot.Start()
}

// Stop stops polling for updates.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	c.dispatch = nil
	c.mu.Unlock()

	if !c.bot.IsRunning() {
		return nil
	}
	return c.bot.Stop()
}

func (c *Channel) onMessage(m MessageContext) error {
	if m.IsGroup && c.requireMention && !m.IsMention {
		return nil
	}

	text := stripMention(m.Text, c.mention)
	c.submit(dispatcher.Request{
		EventID:     eventID(m.ChatID, m.MessageID),
		Channel:     Name,
		Thread:      formatID(m.ChatID),
		RequesterID: m.Requester(),
		Text:        text,
	}, m.ChatID, m.MessageID)
	return nil
}

func (c *Channel) onAsk(cc CommandContext) error {
	c.submit(dispatcher.Request{
		EventID:     eventID(cc.ChatID, cc.MessageID),
		Channel:     Name,
		Thread:      formatID(cc.ChatID),
		RequesterID: cc.Requester(),
		Text:        cc.RawArgs,
	}, cc.ChatID, cc.MessageID)
	return nil
}

func (c *Channel) onHelp(cc CommandContext) error {
	return c.bot.SendMessageWithReply(cc.ChatID, helpText, cc.MessageID)
}

func (c *Channel) submit(req dispatcher.Request, chatID int64, messageID int) {
	c.mu.RLock()
	dispatch := c.dispatch
	ctx := c.baseCtx
	c.mu.RUnlock()

	if dispatch == nil {
		c.logger.Debug().Str("event_id", req.EventID).Msg("Channel stopped, dropping message")
		return
	}

	dispatch(ctx, req, &replyOrigin{bot: c.bot, chatID: chatID, messageID: messageID})
}

// replyOrigin answers in the originating chat, threaded under the request.
type replyOrigin struct {
	bot       *Bot
	chatID    int64
	messageID int
}

func (o *replyOrigin) Reply(_ context.Context, text string) error {
	return o.bot.SendMessageWithReply(o.chatID, text, o.messageID)
}

// mentionPattern matches @username case-insensitively; nil when the bot has
// no username.
func mentionPattern(username string) *regexp.Regexp {
	if username == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(username) + `\b`)
}

func stripMention(text string, mention *regexp.Regexp) string {
	if mention == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(mention.ReplaceAllString(text, ""))
}

func eventID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
