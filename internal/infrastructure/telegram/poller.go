package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"NewsDesk/internal/review"
)

// CallbackHandler applies `action:digestID` button data.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, data string) error
}

// ReactionRecorder stores anonymous reaction counts for a channel post.
type ReactionRecorder interface {
	RecordReactions(ctx context.Context, channel string, messageID int64, counts map[string]int) error
}

// Update carries the update kinds the poller consumes. The library's own
// type predates reaction counts, so updates are decoded here.
type Update struct {
	UpdateID             int                     `json:"update_id"`
	CallbackQuery        *tgbotapi.CallbackQuery `json:"callback_query,omitempty"`
	MessageReactionCount *MessageReactionCount   `json:"message_reaction_count,omitempty"`
}

// MessageReactionCount is the anonymous per-emoji tally of a channel post.
type MessageReactionCount struct {
	Chat      tgbotapi.Chat   `json:"chat"`
	MessageID int             `json:"message_id"`
	Date      int             `json:"date"`
	Reactions []ReactionCount `json:"reactions"`
}

// ReactionCount is one emoji (or custom emoji) with its total.
type ReactionCount struct {
	Type struct {
		Type          string `json:"type"`
		Emoji         string `json:"emoji"`
		CustomEmojiID string `json:"custom_emoji_id"`
	} `json:"type"`
	TotalCount int `json:"total_count"`
}

// Poller long-polls getUpdates and dispatches review callbacks and
// reaction counts.
type Poller struct {
	client    *Client
	adminChat string
	channel   string
	callbacks CallbackHandler
	reactions ReactionRecorder
	logger    *slog.Logger
	timeout   int
	backoff   time.Duration
}

// NewPoller wires handlers; either may be nil.
func NewPoller(client *Client, adminChat, channel string, callbacks CallbackHandler, reactions ReactionRecorder, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:    client,
		adminChat: adminChat,
		channel:   channel,
		callbacks: callbacks,
		reactions: reactions,
		logger:    logger.With("component", "telegram_poller"),
		timeout:   30,
		backoff:   2 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	offset := 0
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := p.getUpdates(ctx, offset)
		if err != nil {
			p.logger.Warn("poll updates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.Dispatch(ctx, u)
		}
	}
}

// Dispatch routes one update.
func (p *Poller) Dispatch(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		p.handleCallback(ctx, u.CallbackQuery)
	case u.MessageReactionCount != nil:
		p.handleReactions(ctx, u.MessageReactionCount)
	}
}

func (p *Poller) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if p.callbacks == nil {
		return
	}
	if !p.fromAdmin(cq) {
		p.logger.Warn("callback from unexpected chat ignored", "from", cq.From)
		p.answer(ctx, cq.ID, "Not allowed")
		return
	}
	err := p.callbacks.HandleCallback(ctx, cq.Data)
	switch {
	case err == nil:
		p.answer(ctx, cq.ID, "Done")
	case errors.Is(err, review.ErrNoPendingRequest):
		p.answer(ctx, cq.ID, "Already handled")
	default:
		p.logger.Error("review callback failed", "data", cq.Data, "error", err)
		p.answer(ctx, cq.ID, "Failed")
	}
}

func (p *Poller) fromAdmin(cq *tgbotapi.CallbackQuery) bool {
	if p.adminChat == "" {
		return false
	}
	if cq.Message != nil && cq.Message.Chat != nil && ChatMatches(p.adminChat, *cq.Message.Chat) {
		return true
	}
	return cq.From != nil && strconv.FormatInt(cq.From.ID, 10) == p.adminChat
}

func (p *Poller) answer(ctx context.Context, id, text string) {
	if p.client == nil {
		return
	}
	if err := p.client.AnswerCallback(ctx, id, text); err != nil {
		p.logger.Debug("answer callback failed", "error", err)
	}
}

func (p *Poller) handleReactions(ctx context.Context, rc *MessageReactionCount) {
	if p.reactions == nil {
		return
	}
	channel := strconv.FormatInt(rc.Chat.ID, 10)
	if p.channel != "" && ChatMatches(p.channel, rc.Chat) {
		channel = p.channel
	}
	counts := CountReactions(rc.Reactions)
	if err := p.reactions.RecordReactions(ctx, channel, int64(rc.MessageID), counts); err != nil {
		p.logger.Error("record reactions failed", "message_id", rc.MessageID, "error", err)
		return
	}
	p.logger.Debug("reactions recorded", "message_id", rc.MessageID, "classes", len(counts))
}

// CountReactions folds reaction entries into counts keyed by emoji; custom
// emoji are keyed "custom:<id>".
func CountReactions(in []ReactionCount) map[string]int {
	counts := make(map[string]int, len(in))
	for _, r := range in {
		key := r.Type.Emoji
		if r.Type.Type == "custom_emoji" {
			key = "custom:" + r.Type.CustomEmojiID
		}
		if key == "" {
			continue
		}
		counts[key] += r.TotalCount
	}
	return counts
}

// ChatMatches reports whether configured ("@name" or numeric id) names chat.
func ChatMatches(configured string, chat tgbotapi.Chat) bool {
	if configured == "" {
		return false
	}
	if configured[0] == '@' {
		return chat.UserName != "" && configured[1:] == chat.UserName
	}
	return configured == strconv.FormatInt(chat.ID, 10)
}

func (p *Poller) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	params := tgbotapi.Params{
		"offset":          strconv.Itoa(offset),
		"timeout":         strconv.Itoa(p.timeout),
		"allowed_updates": `["callback_query","message_reaction_count"]`,
	}
	type reply struct {
		resp *tgbotapi.APIResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := p.client.api.MakeRequest("getUpdates", params)
		done <- reply{resp: resp, err: err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, classify(r.err)
	}
	if !r.resp.Ok {
		return nil, fmt.Errorf("telegram response not ok: %s", r.resp.Description)
	}
	var updates []Update
	if err := json.Unmarshal(r.resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}
