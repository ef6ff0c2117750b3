package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Handler implements message handling for Telegram
type Handler struct {
	bot    *Bot
	logger zerolog.Logger

	// Callback for processing messages
	onMessage func(MessageContext) error
}

// MessageContext contains message metadata
type MessageContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
	IsGroup   bool
	IsMention bool
	ReplyToID int
}

// Requester returns @username, or the numeric user id when the sender has
// no username.
func (m MessageContext) Requester() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	return formatID(m.UserID)
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// HandleMessage processes incoming messages
func (h *Handler) HandleMessage(update tgbotapi.Update) error {
	if update.Message == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	ctx := MessageContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      ParseCaption(msg),
		Timestamp: time.Unix(int64(msg.Date), 0),
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	}
	if msg.From != nil {
		ctx.UserID = msg.From.ID
		ctx.Username = msg.From.UserName
	}

	if ctx.IsGroup {
		ctx.IsMention = h.isMentioned(msg)
	}
	if msg.ReplyToMessage != nil {
		ctx.ReplyToID = msg.ReplyToMessage.MessageID
		// Replying to the bot counts as addressing it.
		if from := msg.ReplyToMessage.From; from != nil && from.ID == h.bot.self.ID {
			ctx.IsMention = true
		}
	}

	h.logger.Debug().
		Int64("chat_id", ctx.ChatID).
		Int64("user_id", ctx.UserID).
		Str("username", ctx.Username).
		Bool("is_group", ctx.IsGroup).
		Bool("is_mention", ctx.IsMention).
		Msg("Message received")

	if h.onMessage != nil {
		return h.onMessage(ctx)
	}

	return nil
}

// isMentioned checks if the bot is mentioned in a message
func (h *Handler) isMentioned(msg *tgbotapi.Message) bool {
	if h.bot.self.UserName == "" {
		return false
	}
	text := []rune(ParseCaption(msg))
	entities := msg.Entities
	if msg.Text == "" {
		entities = msg.CaptionEntities
	}

	for _, entity := range entities {
		switch entity.Type {
		case "mention":
			// Offsets are in UTF-16 units; rune offsets match for the
			// ASCII usernames Telegram allows.
			end := entity.Offset + entity.Length
			if entity.Offset < 0 || end > len(text) {
				continue
			}
			if strings.EqualFold(string(text[entity.Offset:end]), "@"+h.bot.self.UserName) {
				return true
			}
		case "text_mention":
			if entity.User != nil && entity.User.ID == h.bot.self.ID {
				return true
			}
		}
	}

	return false
}

// SetOnMessage sets the message callback
func (h *Handler) SetOnMessage(callback func(MessageContext) error) {
	h.onMessage = callback
}

// SendResponse sends a response to a message
func (h *Handler) SendResponse(ctx MessageContext, text string) error {
	return h.bot.SendMessageWithReply(ctx.ChatID, text, ctx.MessageID)
}

// ParseCaption extracts caption from a message
func ParseCaption(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}
