package telegram

import (
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const defaultPollTimeout = 60

// API is the subset of the Telegram Bot API used by the bot.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot represents a Telegram bot instance
type Bot struct {
	api         API
	self        tgbotapi.User
	pollTimeout int
	logger      zerolog.Logger

	// Handlers
	messageHandler MessageHandler
	commandHandler CommandHandler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// MessageHandler handles incoming messages
type MessageHandler interface {
	HandleMessage(update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(update tgbotapi.Update) error
}

// New authenticates token against Telegram and returns a bot.
func New(token string, pollTimeout int, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, api.Self, pollTimeout, logger)
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// NewWithAPI builds a bot around an existing API client.
func NewWithAPI(api API, self tgbotapi.User, pollTimeout int, logger zerolog.Logger) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Bot{
		api:         api,
		self:        self,
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "telegram").Logger(),
	}
}

// Username returns the bot's username without the leading @.
func (b *Bot) Username() string {
	return b.self.UserName
}

// Start starts the bot and begins processing updates
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true

	go b.processUpdates(updates, b.stopCh, b.done)

	return nil
}

// Stop stops receiving updates. Updates already being handled finish first.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return errors.New("bot is not running")
	}
	b.running = false
	close(b.stopCh)
	done := b.done
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	<-done
	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// processUpdates processes incoming updates
func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}

	if update.Message.IsCommand() && b.commandHandler != nil {
		return b.commandHandler.HandleCommand(update)
	}

	if b.messageHandler != nil {
		return b.messageHandler.HandleMessage(update)
	}

	return nil
}

// SendMessage sends a text message
func (b *Bot) SendMessage(chatID int64, text string) error {
	return b.SendMessageWithReply(chatID, text, 0)
}

// SendMessageWithReply sends a text message as a reply. A zero
// replyToMessageID sends a plain message.
func (b *Bot) SendMessageWithReply(chatID int64, text string, replyToMessageID int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMessageID

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("reply_to", replyToMessageID).
		Msg("Message sent")

	return nil
}

// SetMessageHandler sets the message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
