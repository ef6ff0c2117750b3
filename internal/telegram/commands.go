package telegram

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Commands routes bot commands to registered handlers.
type Commands struct {
	bot      *Bot
	logger   zerolog.Logger
	handlers map[string]CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Command   string
	Args      []string
	RawArgs   string
}

// Requester returns @username, or the numeric user id.
func (c CommandContext) Requester() string {
	if c.Username != "" {
		return "@" + c.Username
	}
	return formatID(c.UserID)
}

// NewCommands creates a new command handler
func NewCommands(bot *Bot) *Commands {
	return &Commands{
		bot:      bot,
		logger:   bot.logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]CommandFunc),
	}
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(update tgbotapi.Update) error {
	if update.Message == nil || update.Message.Chat == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	command := strings.ToLower(msg.Command())
	raw := strings.TrimSpace(msg.CommandArguments())

	ctx := CommandContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Command:   command,
		Args:      strings.Fields(raw),
		RawArgs:   raw,
	}
	if msg.From != nil {
		ctx.UserID = msg.From.ID
		ctx.Username = msg.From.UserName
	}

	c.logger.Debug().
		Int64("chat_id", ctx.ChatID).
		Str("command", command).
		Int("args", len(ctx.Args)).
		Msg("Command received")

	handler, exists := c.handlers[command]
	if !exists {
		return c.sendUnknownCommand(ctx)
	}

	return handler(ctx)
}

// Register registers a command handler
func (c *Commands) Register(command string, handler CommandFunc) {
	c.handlers[strings.ToLower(command)] = handler
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// SetCommands publishes the bot's command list to Telegram.
func (c *Commands) SetCommands(commands []tgbotapi.BotCommand) error {
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := c.bot.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	c.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

func (c *Commands) sendUnknownCommand(ctx CommandContext) error {
	text := fmt.Sprintf("Unknown command: /%s", ctx.Command)
	return c.bot.SendMessageWithReply(ctx.ChatID, text, ctx.MessageID)
}

// SendResponse sends a response to a command
func (c *Commands) SendResponse(ctx CommandContext, text string) error {
	return c.bot.SendMessageWithReply(ctx.ChatID, text, ctx.MessageID)
}

// GetRegisteredCommands returns the sorted registered commands.
func (c *Commands) GetRegisteredCommands() []string {
	commands := make([]string, 0, len(c.handlers))
	for cmd := range c.handlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
