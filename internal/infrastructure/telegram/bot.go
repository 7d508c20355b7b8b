package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"NewsDesk/internal/ports"
	"NewsDesk/internal/review"
)

// Client sends channel posts and review previews through the Bot API.
type Client struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

var (
	_ ports.ChatTransport   = (*Client)(nil)
	_ ports.ReviewTransport = (*Client)(nil)
)

// NewClient authenticates the bot token. endpoint may be empty for the
// public API; tests point it at a local server.
func NewClient(token, endpoint string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", classify(err))
	}
	logger = logger.With("component", "telegram")
	logger.Info("bot authorized", "username", api.Self.UserName)
	return &Client{api: api, logger: logger}, nil
}

// API exposes the underlying bot for the update poller.
func (c *Client) API() *tgbotapi.BotAPI { return c.api }

// SendMessage posts text to channel ("@name" or a numeric id).
func (c *Client) SendMessage(ctx context.Context, channel, text, parseMode string) (int64, error) {
	id, username, err := chatTarget(channel)
	if err != nil {
		return 0, err
	}
	var msg tgbotapi.MessageConfig
	if username != "" {
		msg = tgbotapi.NewMessageToChannel(username, text)
	} else {
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = false

	sent, err := c.send(ctx, msg)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}

// SendReview posts a preview with approve, reject and edit buttons.
func (c *Client) SendReview(ctx context.Context, chatID, text, digestID string) (int64, error) {
	id, username, err := chatTarget(chatID)
	if err != nil {
		return 0, err
	}
	var msg tgbotapi.MessageConfig
	if username != "" {
		msg = tgbotapi.NewMessageToChannel(username, text)
	} else {
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyMarkup = ReviewKeyboard(digestID)

	sent, err := c.send(ctx, msg)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}

// EditMessage replaces the text of a message and drops its keyboard.
func (c *Client) EditMessage(ctx context.Context, chatID string, messageID int64, text string) error {
	id, username, err := chatTarget(chatID)
	if err != nil {
		return err
	}
	edit := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:          id,
			ChannelUsername: username,
			MessageID:       int(messageID),
		},
		Text: text,
	}
	return c.request(ctx, edit)
}

// AnswerCallback acknowledges an inline button press.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

// ReviewKeyboard renders the inline controls for one digest.
func ReviewKeyboard(digestID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", review.CallbackData(review.ActionApprove, digestID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", review.CallbackData(review.ActionReject, digestID)),
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", review.CallbackData(review.ActionEdit, digestID)),
		),
	)
}

type result struct {
	msg tgbotapi.Message
	err error
}

// send runs the blocking Bot API call so ctx can bound it.
func (c *Client) send(ctx context.Context, chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	done := make(chan result, 1)
	go func() {
		msg, err := c.api.Send(chattable)
		done <- result{msg: msg, err: err}
	}()
	select {
	case <-ctx.Done():
		return tgbotapi.Message{}, &ports.TransportError{Temporary: true, Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return tgbotapi.Message{}, classify(r.err)
		}
		return r.msg, nil
	}
}

func (c *Client) request(ctx context.Context, chattable tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.api.Request(chattable)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return &ports.TransportError{Temporary: true, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return classify(err)
		}
		return nil
	}
}

// classify maps Bot API failures onto the transport retry policy: 429 and
// 5xx are temporary, other API errors are final, network errors are retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		te := &ports.TransportError{Code: apiErr.Code, Err: err}
		if apiErr.RetryAfter > 0 {
			te.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
		}
		te.Temporary = apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
		return te
	}
	return &ports.TransportError{Temporary: true, Err: err}
}

func chatTarget(chat string) (int64, string, error) {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return 0, "", errors.New("telegram: empty chat id")
	}
	if strings.HasPrefix(chat, "@") {
		return 0, chat, nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("telegram: bad chat id %q: %w", chat, err)
	}
	return id, "", nil
}
